// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package smtppool

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/emersion/go-smtp"
)

var (
	// ErrAuth is returned when the server rejects the sender's credentials.
	ErrAuth = errors.New("smtp authentication failed")
	// ErrNetwork is returned when the server cannot be reached or the connection drops.
	ErrNetwork = errors.New("smtp network failure")
	// ErrProtocol is returned for unexpected server replies or TLS negotiation problems.
	ErrProtocol = errors.New("smtp protocol failure")

	// ErrPoolClosed is returned by operations on a closed pool.
	ErrPoolClosed = errors.New("connection pool is closed")
	// ErrEntryClosed is returned when a session was retired while waiting for it.
	ErrEntryClosed = errors.New("pool entry is closed")
)

// SessionError describes a failed session operation. errors.Is matches both
// its Kind (ErrAuth, ErrNetwork, ErrProtocol) and the underlying cause.
type SessionError struct {
	Kind    error
	Op      string
	Address string
	Err     error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s for %s: %v: %v", e.Op, e.Address, e.Kind, e.Err)
}

func (e *SessionError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// authReplyCodes are SMTP replies that mean the credentials were refused.
var authReplyCodes = map[int]bool{454: true, 530: true, 534: true, 535: true, 538: true}

// classify wraps err in a SessionError whose kind depends on the failing
// step and the error shape.
func classify(op, address string, err error) error {
	if err == nil {
		return nil
	}
	var se *SessionError
	if errors.As(err, &se) {
		return err
	}
	return &SessionError{Kind: kindOf(op, err), Op: op, Address: address, Err: err}
}

func kindOf(op string, err error) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		if op == opAuth && authReplyCodes[smtpErr.Code] {
			return ErrAuth
		}
		return ErrProtocol
	}
	var (
		certErr    *tls.CertificateVerificationError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		recHdrErr  tls.RecordHeaderError
		alertError tls.AlertError
	)
	switch {
	case errors.As(err, &certErr), errors.As(err, &unknownCA), errors.As(err, &hostErr),
		errors.As(err, &recHdrErr), errors.As(err, &alertError):
		return ErrProtocol
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return ErrNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrNetwork
	}
	if op == opDial {
		return ErrNetwork
	}
	return ErrProtocol
}
