// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package smtppool

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/telekom/mail-sms-gateway/pkg/store"
)

// Steps of session establishment, used in SessionError.Op.
const (
	opDial     = "dial"
	opHello    = "ehlo"
	opStartTLS = "starttls"
	opAuth     = "auth"
	opSend     = "send"
	opNoop     = "noop"
)

// Session is a live, authenticated SMTP session. Implementations need not be
// safe for concurrent use; the pool serialises access per entry.
type Session interface {
	Noop() error
	SendMail(from string, to []string, r io.Reader) error
	Close() error
}

// Dialer opens authenticated sessions for a sender.
type Dialer interface {
	Dial(ctx context.Context, sender store.Sender) (Session, error)
}

// TLS modes for SMTPDialer.
const (
	TLSModeStartTLS = "starttls"
	TLSModeImplicit = "implicit"
	TLSModeNone     = "none"
)

const implicitTLSPort = 465

// SMTPDialer establishes sessions with github.com/emersion/go-smtp and
// authenticates with SASL PLAIN.
type SMTPDialer struct {
	// LocalName is sent in EHLO once the connection is encrypted. The EHLO
	// preceding STARTTLS always announces "localhost". Default: "localhost".
	LocalName string
	// DialTimeout bounds TCP connect, TLS negotiation and the greeting. Default: 30s.
	DialTimeout time.Duration
	// CommandTimeout bounds each SMTP command. Default: 1m.
	CommandTimeout time.Duration
	// SubmissionTimeout bounds the DATA phase. Default: 5m.
	SubmissionTimeout time.Duration
	// TLSMode is "starttls" (default), "implicit" or "none". Port 465 always uses implicit TLS.
	TLSMode string
	// RequireTLS fails the session with ErrProtocol when STARTTLS is not offered.
	// Otherwise the dialer reconnects in plaintext.
	RequireTLS bool
	// InsecureSkipVerify disables certificate verification.
	InsecureSkipVerify bool
}

// errNoStartTLS marks a server that did not advertise STARTTLS.
var errNoStartTLS = errors.New("server does not offer STARTTLS")

// noStartTLSReply is the text of the unexported error go-smtp returns from
// NewClientStartTLS when the extension is missing.
const noStartTLSReply = "doesn't support STARTTLS"

func (d *SMTPDialer) dialTimeout() time.Duration {
	if d.DialTimeout > 0 {
		return d.DialTimeout
	}
	return 30 * time.Second
}

func (d *SMTPDialer) applyTimeouts(c *smtp.Client) {
	c.CommandTimeout = time.Minute
	if d.CommandTimeout > 0 {
		c.CommandTimeout = d.CommandTimeout
	}
	c.SubmissionTimeout = 5 * time.Minute
	if d.SubmissionTimeout > 0 {
		c.SubmissionTimeout = d.SubmissionTimeout
	}
}

// Dial connects to sender.Host:sender.Port, negotiates TLS and authenticates.
func (d *SMTPDialer) Dial(ctx context.Context, sender store.Sender) (Session, error) {
	implicit := d.TLSMode == TLSModeImplicit || sender.Port == implicitTLSPort
	upgrade := !implicit && d.TLSMode != TLSModeNone

	s, err := d.dial(ctx, sender, implicit, upgrade)
	if errors.Is(err, errNoStartTLS) {
		if d.RequireTLS {
			return nil, classify(opStartTLS, sender.Address, err)
		}
		s, err = d.dial(ctx, sender, false, false)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (d *SMTPDialer) dial(ctx context.Context, sender store.Sender, implicit, upgrade bool) (*smtpSession, error) {
	addr := net.JoinHostPort(sender.Host, strconv.Itoa(sender.Port))
	tlsConfig := &tls.Config{
		ServerName:         sender.Host,
		InsecureSkipVerify: d.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed relays
		MinVersion:         tls.VersionTLS12,
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.dialTimeout())
	defer cancel()

	nd := &net.Dialer{}
	conn, err := nd.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, classify(opDial, sender.Address, err)
	}

	// go-smtp sets its own per-command deadlines; closing the connection
	// aborts the exchange once dialCtx ends.
	stopNegotiation := context.AfterFunc(dialCtx, func() { _ = conn.Close() })
	defer stopNegotiation()

	var c *smtp.Client
	switch {
	case implicit:
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			_ = conn.Close()
			return nil, classify(opStartTLS, sender.Address, err)
		}
		c = smtp.NewClient(tlsConn)
	case upgrade:
		c, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			if strings.Contains(err.Error(), noStartTLSReply) {
				return nil, errNoStartTLS
			}
			return nil, classify(opStartTLS, sender.Address, contextCause(dialCtx, err))
		}
	default:
		c = smtp.NewClient(conn)
	}
	d.applyTimeouts(c)

	fail := func(ctx context.Context, op string, err error) (*smtpSession, error) {
		_ = c.Close()
		return nil, classify(op, sender.Address, contextCause(ctx, err))
	}

	localName := d.LocalName
	if localName == "" {
		localName = "localhost"
	}
	// after STARTTLS this is the second EHLO
	if err := c.Hello(localName); err != nil {
		return fail(dialCtx, opHello, err)
	}
	if !stopNegotiation() {
		return fail(dialCtx, opHello, net.ErrClosed)
	}

	stopAuth := context.AfterFunc(ctx, func() { _ = c.Close() })
	err = c.Auth(sasl.NewPlainClient("", sender.Address, sender.Secret))
	if !stopAuth() && err == nil {
		err = net.ErrClosed
	}
	if err != nil {
		return fail(ctx, opAuth, err)
	}

	return &smtpSession{client: c, address: sender.Address}, nil
}

// contextCause prefixes err with ctx's error once ctx has ended.
func contextCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

type smtpSession struct {
	client  *smtp.Client
	address string
}

func (s *smtpSession) Noop() error {
	return classify(opNoop, s.address, s.client.Noop())
}

func (s *smtpSession) SendMail(from string, to []string, r io.Reader) error {
	return classify(opSend, s.address, s.client.SendMail(from, to, r))
}

// Close sends QUIT and closes the connection.
func (s *smtpSession) Close() error {
	if err := s.client.Quit(); err != nil {
		_ = s.client.Close()
		return err
	}
	return nil
}

// Verify opens a session for sender and closes it again. The session is
// never pooled. A failing QUIT is ignored once authentication succeeded.
func Verify(ctx context.Context, dialer Dialer, sender store.Sender) error {
	session, err := dialer.Dial(ctx, sender)
	if err != nil {
		return err
	}
	_ = session.Close()
	return nil
}
