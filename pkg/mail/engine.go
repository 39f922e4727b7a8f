// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/telekom/mail-sms-gateway/pkg/events"
	"github.com/telekom/mail-sms-gateway/pkg/metrics"
	"github.com/telekom/mail-sms-gateway/pkg/smtppool"
	"github.com/telekom/mail-sms-gateway/pkg/store"
)

// maxAttempts bounds delivery to the first try plus one retry on a fresh session.
const maxAttempts = 2

var (
	// ErrUnknownSender is returned when the sender has no stored credentials.
	ErrUnknownSender = errors.New("unknown sender")
	// ErrDeliveryFailed wraps the cause of a send that failed on both attempts.
	ErrDeliveryFailed = errors.New("delivery failed")
)

var tracer = otel.Tracer("github.com/telekom/mail-sms-gateway/pkg/mail")

// Pool is the subset of the connection pool the engine uses.
type Pool interface {
	Get(address string) (*smtppool.Entry, bool)
	Connect(ctx context.Context, sender store.Sender) (*smtppool.Entry, error)
	Replace(ctx context.Context, address string) (*smtppool.Entry, error)
	InitializeAll(ctx context.Context) (smtppool.InitReport, error)
	Addresses() []string
	Len() int
}

// Outcome reports the result of a send.
type Outcome struct {
	Success   bool     `json:"success"`
	Message   string   `json:"msg"`
	Addresses []string `json:"addresses"`
	Attempts  int      `json:"attempts,omitempty"`
}

// Engine sends mail through a Pool.
type Engine struct {
	pool      Pool
	creds     store.CredentialStore
	logger    *zap.SugaredLogger
	events    *events.Publisher
	maxRepeat int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMaxRepeat caps Message.Count. Zero or less disables the cap.
func WithMaxRepeat(n int) EngineOption {
	return func(e *Engine) { e.maxRepeat = n }
}

// WithEvents publishes sent and failed events.
func WithEvents(pub *events.Publisher) EngineOption {
	return func(e *Engine) { e.events = pub }
}

// NewEngine creates a delivery engine.
func NewEngine(pool Pool, creds store.CredentialStore, logger *zap.SugaredLogger, opts ...EngineOption) *Engine {
	e := &Engine{
		pool:   pool,
		creds:  creds,
		logger: logger.Named("mail"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send delivers msg.Count copies of msg from msg.From over a single session.
// If any copy fails, the session is replaced and the whole batch is sent
// once more; a second failure is returned as ErrDeliveryFailed. Unknown
// senders and invalid messages fail without a retry.
func (e *Engine) Send(ctx context.Context, msg Message) (Outcome, error) {
	msg, err := msg.normalize(e.maxRepeat)
	if err != nil {
		return Outcome{Message: err.Error()}, err
	}
	raw, err := Compose(msg)
	if err != nil {
		return Outcome{Message: err.Error()}, err
	}

	ctx, span := tracer.Start(ctx, "mail.Send")
	span.SetAttributes(attribute.String("sender", msg.From), attribute.Int("count", msg.Count))
	defer span.End()

	var (
		lastErr  error
		attempts int
		host     = "unknown"
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		var entry *smtppool.Entry
		if attempt == 1 {
			entry, err = e.resolve(ctx, msg.From)
		} else {
			metrics.MailSendRetries.WithLabelValues(host).Inc()
			entry, err = e.pool.Replace(ctx, msg.From)
		}
		if entry != nil {
			host = entry.Host()
		}
		if errors.Is(err, store.ErrNotFound) {
			err = fmt.Errorf("%w: %s", ErrUnknownSender, msg.From)
			span.SetStatus(codes.Error, err.Error())
			return Outcome{Message: err.Error(), Attempts: attempt}, err
		}
		if err == nil {
			err = submit(ctx, entry, msg, raw)
		}
		if err == nil {
			metrics.MailSendSuccess.WithLabelValues(host).Inc()
			metrics.MailMessagesSubmitted.Add(float64(msg.Count))
			e.logger.Infow("Mail sent", "sender", msg.From, "to", msg.To, "count", msg.Count, "attempt", attempt)
			ev := events.New(events.MessageSent, msg.From)
			ev.To, ev.Attempts, ev.Count = []string{msg.To}, attempt, msg.Count
			e.events.Publish(ctx, ev)
			return Outcome{
				Success:   true,
				Message:   "Email sent successfully",
				Addresses: []string{msg.To},
				Attempts:  attempt,
			}, nil
		}

		lastErr = err
		e.logger.Warnw("Send attempt failed", "sender", msg.From, "to", msg.To, "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			break
		}
	}

	metrics.MailSendFailure.WithLabelValues(host).Inc()
	span.SetStatus(codes.Error, lastErr.Error())
	ev := events.New(events.MessageFailed, msg.From).WithError(lastErr)
	ev.To, ev.Attempts, ev.Count = []string{msg.To}, attempts, msg.Count
	e.events.Publish(ctx, ev)

	err = fmt.Errorf("%w: %w", ErrDeliveryFailed, lastErr)
	return Outcome{Message: err.Error(), Attempts: attempts}, err
}

// resolve returns the pooled entry for address, connecting it if needed.
func (e *Engine) resolve(ctx context.Context, address string) (*smtppool.Entry, error) {
	if entry, ok := e.pool.Get(address); ok {
		return entry, nil
	}
	sender, err := e.creds.GetSender(ctx, address)
	if err != nil {
		return nil, err
	}
	return e.pool.Connect(ctx, sender)
}

func submit(ctx context.Context, entry *smtppool.Entry, msg Message, raw []byte) error {
	return entry.Do(ctx, func(s smtppool.Session) error {
		for i := 0; i < msg.Count; i++ {
			if err := s.SendMail(msg.From, []string{msg.rcpt}, bytes.NewReader(raw)); err != nil {
				return fmt.Errorf("copy %d of %d: %w", i+1, msg.Count, err)
			}
		}
		return nil
	})
}

// SendFromAll sends one copy of the message from every pooled sender,
// warming the pool first if it is empty. Failing senders are logged and
// left out of Outcome.Addresses; the outcome is successful regardless.
func (e *Engine) SendFromAll(ctx context.Context, to, subject, body string) (Outcome, error) {
	if _, err := recipientAddress(to); err != nil {
		return Outcome{Message: err.Error()}, err
	}
	if err := e.EnsurePool(ctx); err != nil {
		return Outcome{Message: err.Error()}, err
	}

	ctx, span := tracer.Start(ctx, "mail.SendFromAll")
	defer span.End()

	senders := e.pool.Addresses()
	succeeded := make([]string, 0, len(senders))
	for _, from := range senders {
		if ctx.Err() != nil {
			break
		}
		_, err := e.Send(ctx, Message{From: from, To: to, Subject: subject, Body: body, Count: 1})
		metrics.FanoutSenders.WithLabelValues("email", metrics.Result(err)).Inc()
		if err != nil {
			e.logger.Warnw("Sender excluded from fan-out", "sender", from, "to", to, "error", err)
			continue
		}
		succeeded = append(succeeded, from)
	}
	span.SetAttributes(attribute.Int("senders", len(senders)), attribute.Int("succeeded", len(succeeded)))

	ev := events.New(events.FanoutCompleted, "")
	ev.To, ev.Count = []string{to}, len(succeeded)
	e.events.Publish(ctx, ev)

	out := Outcome{
		Success:   true,
		Message:   fmt.Sprintf("Email sent from %d of %d senders", len(succeeded), len(senders)),
		Addresses: succeeded,
	}
	return out, ctx.Err()
}

// EnsurePool populates the pool from the credential store when it is empty.
func (e *Engine) EnsurePool(ctx context.Context) error {
	if e.pool.Len() > 0 {
		return nil
	}
	_, err := e.pool.InitializeAll(ctx)
	return err
}

// Pool returns the pool the engine sends through.
func (e *Engine) Pool() Pool { return e.pool }
