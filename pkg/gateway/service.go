// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/mail-sms-gateway/pkg/mail"
	"github.com/telekom/mail-sms-gateway/pkg/sms"
	"github.com/telekom/mail-sms-gateway/pkg/smtppool"
	"github.com/telekom/mail-sms-gateway/pkg/store"
)

const (
	// DefaultPort is used for senders registered without a port.
	DefaultPort = 587
	// DefaultVerifyTimeout bounds the credential check of a new sender.
	DefaultVerifyTimeout = time.Minute
)

// Pool is the connection pool as seen by the service.
type Pool interface {
	mail.Pool
	Snapshot() []smtppool.EntryInfo
}

// CreateSenderRequest registers a new outbound mail account.
type CreateSenderRequest struct {
	Address string
	Secret  string
	Host    string
	Port    int
}

// Service is the single entry point used by the HTTP layer and the CLI.
type Service struct {
	store         store.Store
	pool          Pool
	dialer        smtppool.Dialer
	engine        *mail.Engine
	translator    *sms.Translator
	defaultPort   int
	verifyTimeout time.Duration
	logger        *zap.SugaredLogger
}

// Option configures a Service.
type Option func(*Service)

// WithDefaultPort sets the port used when CreateSenderRequest.Port is zero.
func WithDefaultPort(port int) Option {
	return func(s *Service) {
		if port > 0 {
			s.defaultPort = port
		}
	}
}

// WithVerifyTimeout bounds the session opened by CreateSender.
func WithVerifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.verifyTimeout = d
		}
	}
}

// NewService wires the service. dialer is used to verify new senders and
// should be the one the pool dials with.
func NewService(st store.Store, pool Pool, dialer smtppool.Dialer, engine *mail.Engine, translator *sms.Translator, logger *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		store:         st,
		pool:          pool,
		dialer:        dialer,
		engine:        engine,
		translator:    translator,
		defaultPort:   DefaultPort,
		verifyTimeout: DefaultVerifyTimeout,
		logger:        logger.Named("gateway"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitializeConnections connects every stored sender that is not pooled yet.
func (s *Service) InitializeConnections(ctx context.Context) (smtppool.InitReport, error) {
	report, err := s.pool.InitializeAll(ctx)
	if err != nil {
		return report, fmt.Errorf("initializing connections: %w", err)
	}
	s.logger.Infow("Initialized email connections",
		"connected", len(report.Connected),
		"existing", len(report.Existing),
		"failed", len(report.Failed))
	return report, nil
}

// VerifySender opens and closes a session with the given credentials.
func (s *Service) VerifySender(ctx context.Context, sender store.Sender) error {
	ctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()

	if err := smtppool.Verify(ctx, s.dialer, sender); err != nil {
		return fmt.Errorf("%w: %w", ErrSenderVerification, err)
	}
	return nil
}

// CreateSender verifies the credentials against the SMTP host and stores
// them. The secret is never returned.
func (s *Service) CreateSender(ctx context.Context, req CreateSenderRequest) (store.Sender, error) {
	sender := store.Sender{
		Address: strings.TrimSpace(req.Address),
		Secret:  req.Secret,
		Host:    strings.TrimSpace(req.Host),
		Port:    req.Port,
	}
	if sender.Port == 0 {
		sender.Port = s.defaultPort
	}
	if _, err := netmail.ParseAddress(sender.Address); err != nil {
		return store.Sender{}, fmt.Errorf("%w: sender address %q: %v", ErrInvalidRequest, sender.Address, err)
	}
	if sender.Secret == "" || sender.Host == "" {
		return store.Sender{}, fmt.Errorf("%w: secret and host are required", ErrInvalidRequest)
	}
	if sender.Port < 0 || sender.Port > 65535 {
		return store.Sender{}, fmt.Errorf("%w: port %d out of range", ErrInvalidRequest, sender.Port)
	}

	if _, err := s.store.GetSender(ctx, sender.Address); err == nil {
		return store.Sender{}, fmt.Errorf("sender %q: %w", sender.Address, store.ErrDuplicate)
	}

	if err := s.VerifySender(ctx, sender); err != nil {
		s.logger.Warnw("Sender verification failed", "sender", sender.Address, "host", sender.Host, "port", sender.Port, "error", err)
		return store.Sender{}, err
	}
	if err := s.store.CreateSender(ctx, sender); err != nil {
		return store.Sender{}, err
	}
	s.logger.Infow("Registered sender", "sender", sender.Address, "host", sender.Host, "port", sender.Port)

	created, err := s.store.GetSender(ctx, sender.Address)
	if err != nil {
		return store.Sender{}, err
	}
	created.Secret = ""
	return created, nil
}

// Send delivers msg from a single sender.
func (s *Service) Send(ctx context.Context, msg mail.Message) (mail.Outcome, error) {
	return s.engine.Send(ctx, msg)
}

// SendFromAll sends one copy from every pooled sender.
func (s *Service) SendFromAll(ctx context.Context, to, subject, body string) (mail.Outcome, error) {
	return s.engine.SendFromAll(ctx, to, subject, body)
}

// SendSMS sends to every carrier gateway for msg.Phone.
func (s *Service) SendSMS(ctx context.Context, msg sms.PhoneMessage) (mail.Outcome, error) {
	return s.translator.SendToPhone(ctx, msg)
}

// SendSMSFromAll sends to msg.Phone from every pooled sender.
func (s *Service) SendSMSFromAll(ctx context.Context, msg sms.BroadcastMessage) (mail.Outcome, error) {
	return s.translator.SendFromAllToPhone(ctx, msg)
}

// ListSenders returns every stored sender without secrets.
func (s *Service) ListSenders(ctx context.Context) ([]store.Sender, error) {
	senders, err := s.store.ListSenders(ctx)
	if err != nil {
		return nil, err
	}
	for i := range senders {
		senders[i].Secret = ""
	}
	return senders, nil
}

func (s *Service) ListCarriers(ctx context.Context) ([]store.Carrier, error) {
	return s.store.ListCarriers(ctx)
}

func (s *Service) CreateCarrier(ctx context.Context, name, domain string, multimedia bool) (store.Carrier, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(domain) == "" {
		return store.Carrier{}, fmt.Errorf("%w: carrier name and domain are required", ErrInvalidRequest)
	}
	c, err := s.store.CreateCarrier(ctx, name, domain, multimedia)
	if err != nil {
		return store.Carrier{}, err
	}
	s.logger.Infow("Created carrier", "id", c.ID, "carrier", c.Name, "domain", c.Domain, "multimedia", c.AllowsMultimedia)
	return c, nil
}

func (s *Service) DeleteCarrier(ctx context.Context, id int64) error {
	if err := s.store.DeleteCarrier(ctx, id); err != nil {
		return err
	}
	s.logger.Infow("Deleted carrier", "id", id)
	return nil
}

// Connections describes the sessions currently pooled.
func (s *Service) Connections() []smtppool.EntryInfo {
	return s.pool.Snapshot()
}
