// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package sms

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/telekom/mail-sms-gateway/pkg/mail"
	"github.com/telekom/mail-sms-gateway/pkg/metrics"
	"github.com/telekom/mail-sms-gateway/pkg/rewrite"
	"github.com/telekom/mail-sms-gateway/pkg/store"
)

// DefaultInstruction prefixes the body sent to the rewrite hook.
const DefaultInstruction = "Reword this: "

var (
	// ErrNoCarrierConfigured is returned when no carrier matches the multimedia flag.
	ErrNoCarrierConfigured = errors.New("no carrier configured")
	// ErrInvalidPhone is returned for an empty or malformed phone number.
	ErrInvalidPhone = errors.New("invalid phone number")
)

var tracer = otel.Tracer("github.com/telekom/mail-sms-gateway/pkg/sms")

// Sender is the part of the delivery engine the translator uses.
type Sender interface {
	Send(ctx context.Context, msg mail.Message) (mail.Outcome, error)
	EnsurePool(ctx context.Context) error
	Pool() mail.Pool
}

// PhoneMessage is a send from one sender to one phone.
type PhoneMessage struct {
	From       string
	Phone      string
	Subject    string
	Body       string
	Multimedia bool
	Count      int
}

// BroadcastMessage is a send from every pooled sender to one phone.
type BroadcastMessage struct {
	Phone      string
	Subject    string
	Body       string
	Multimedia bool
	Reword     bool
	Count      int
}

// Translator maps phone numbers to carrier gateway addresses.
type Translator struct {
	sender      Sender
	carriers    store.CarrierDirectory
	rewriter    rewrite.Rewriter
	instruction string
	logger      *zap.SugaredLogger
}

// Option configures a Translator.
type Option func(*Translator)

// WithRewriter enables BroadcastMessage.Reword.
func WithRewriter(r rewrite.Rewriter) Option {
	return func(t *Translator) { t.rewriter = r }
}

// WithInstruction overrides the prompt prefix used for rewrites.
func WithInstruction(s string) Option {
	return func(t *Translator) {
		if s != "" {
			t.instruction = s
		}
	}
}

// NewTranslator returns a Translator sending through sender.
func NewTranslator(sender Sender, carriers store.CarrierDirectory, logger *zap.SugaredLogger, opts ...Option) *Translator {
	t := &Translator{
		sender:      sender,
		carriers:    carriers,
		instruction: DefaultInstruction,
		logger:      logger.Named("sms"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// normalizePhone strips common separators. The number is otherwise passed
// through as the local part of the gateway address.
func normalizePhone(phone string) (string, error) {
	phone = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
	phone = strings.TrimPrefix(phone, "+")
	if phone == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPhone)
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
		}
	}
	return phone, nil
}

// destinations returns phone@domain for every carrier matching multimedia.
func (t *Translator) destinations(ctx context.Context, phone string, multimedia bool) ([]string, error) {
	carriers, err := t.carriers.ListCarriersByMultimedia(ctx, multimedia)
	if err != nil {
		return nil, fmt.Errorf("listing carriers: %w", err)
	}
	if len(carriers) == 0 {
		return nil, fmt.Errorf("%w for multimedia=%t", ErrNoCarrierConfigured, multimedia)
	}
	out := make([]string, 0, len(carriers))
	for _, c := range carriers {
		out = append(out, phone+store.NormalizeCarrierDomain(c.Domain))
	}
	return out, nil
}

// SendToPhone sends the message from msg.From to every carrier gateway
// matching msg.Multimedia, since the recipient's carrier is unknown.
// Outcome.Addresses lists the gateway addresses that accepted the message.
// The outcome fails, wrapping mail.ErrDeliveryFailed, when none did.
func (t *Translator) SendToPhone(ctx context.Context, msg PhoneMessage) (mail.Outcome, error) {
	phone, err := normalizePhone(msg.Phone)
	if err != nil {
		return mail.Outcome{Message: err.Error()}, err
	}
	dests, err := t.destinations(ctx, phone, msg.Multimedia)
	if err != nil {
		return mail.Outcome{Message: err.Error()}, err
	}
	return t.sendToDestinations(ctx, msg, dests)
}

func (t *Translator) sendToDestinations(ctx context.Context, msg PhoneMessage, dests []string) (mail.Outcome, error) {
	ctx, span := tracer.Start(ctx, "sms.SendToPhone")
	span.SetAttributes(attribute.String("sender", msg.From), attribute.Int("destinations", len(dests)))
	defer span.End()

	mms := strconv.FormatBool(msg.Multimedia)
	succeeded := make([]string, 0, len(dests))
	var lastErr error
	for _, to := range dests {
		_, err := t.sender.Send(ctx, mail.Message{
			From:    msg.From,
			To:      to,
			Subject: msg.Subject,
			Body:    msg.Body,
			Count:   msg.Count,
		})
		metrics.SMSDestinations.WithLabelValues(mms, metrics.Result(err)).Inc()
		if errors.Is(err, mail.ErrUnknownSender) || errors.Is(err, mail.ErrInvalidMessage) {
			return mail.Outcome{Message: err.Error(), Addresses: succeeded}, err
		}
		if err != nil {
			t.logger.Warnw("Carrier gateway send failed", "sender", msg.From, "to", to, "error", err)
			if ctx.Err() != nil {
				return mail.Outcome{Message: err.Error(), Addresses: succeeded}, ctx.Err()
			}
			lastErr = err
			continue
		}
		succeeded = append(succeeded, to)
	}
	span.SetAttributes(attribute.Int("succeeded", len(succeeded)))
	if len(succeeded) == 0 {
		err := fmt.Errorf("no carrier gateway accepted the message: %w", lastErr)
		return mail.Outcome{Message: err.Error(), Addresses: succeeded}, err
	}
	return mail.Outcome{
		Success:   true,
		Message:   fmt.Sprintf("Message sent to %d of %d carrier gateways", len(succeeded), len(dests)),
		Addresses: succeeded,
	}, nil
}

// SendFromAllToPhone repeats SendToPhone for every pooled sender, warming
// the pool first if it is empty. With Reword set, the original body is
// rewritten separately for each sender; a failed rewrite falls back to the
// original body. Outcome.Addresses lists the senders that reached at least
// one carrier gateway.
func (t *Translator) SendFromAllToPhone(ctx context.Context, msg BroadcastMessage) (mail.Outcome, error) {
	phone, err := normalizePhone(msg.Phone)
	if err != nil {
		return mail.Outcome{Message: err.Error()}, err
	}
	if msg.Reword && t.rewriter == nil {
		err := fmt.Errorf("%w: rewording is not enabled", mail.ErrInvalidMessage)
		return mail.Outcome{Message: err.Error()}, err
	}
	dests, err := t.destinations(ctx, phone, msg.Multimedia)
	if err != nil {
		return mail.Outcome{Message: err.Error()}, err
	}
	if err := t.sender.EnsurePool(ctx); err != nil {
		return mail.Outcome{Message: err.Error()}, err
	}

	ctx, span := tracer.Start(ctx, "sms.SendFromAllToPhone")
	defer span.End()

	senders := t.sender.Pool().Addresses()
	succeeded := make([]string, 0, len(senders))
	for _, from := range senders {
		if ctx.Err() != nil {
			break
		}
		body := msg.Body
		if msg.Reword {
			body = t.reword(ctx, from, msg.Body)
		}
		out, err := t.sendToDestinations(ctx, PhoneMessage{
			From:       from,
			Phone:      phone,
			Subject:    msg.Subject,
			Body:       body,
			Multimedia: msg.Multimedia,
			Count:      msg.Count,
		}, dests)
		if errors.Is(err, mail.ErrInvalidMessage) {
			return mail.Outcome{Message: err.Error(), Addresses: succeeded}, err
		}
		if err != nil || len(out.Addresses) == 0 {
			metrics.FanoutSenders.WithLabelValues("sms", metrics.ResultFailure).Inc()
			t.logger.Warnw("Sender reached no carrier gateway", "sender", from, "phone", phone, "error", err)
			continue
		}
		metrics.FanoutSenders.WithLabelValues("sms", metrics.ResultSuccess).Inc()
		succeeded = append(succeeded, from)
	}
	span.SetAttributes(attribute.Int("senders", len(senders)), attribute.Int("succeeded", len(succeeded)))

	return mail.Outcome{
		Success:   true,
		Message:   fmt.Sprintf("Message sent from %d of %d senders", len(succeeded), len(senders)),
		Addresses: succeeded,
	}, ctx.Err()
}

func (t *Translator) reword(ctx context.Context, sender, body string) string {
	out, err := t.rewriter.Rewrite(ctx, t.instruction+body)
	metrics.RewriteRequests.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		t.logger.Warnw("Rewrite failed, sending original text", "sender", sender, "error", err)
		return body
	}
	return out
}
