// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package smtppool

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		op   string
		err  error
		want error
	}{
		{name: "auth rejected", op: opAuth, err: &smtp.SMTPError{Code: 535, Message: "bad credentials"}, want: ErrAuth},
		{name: "auth temp failure", op: opAuth, err: &smtp.SMTPError{Code: 454}, want: ErrAuth},
		{name: "send rejected", op: opSend, err: &smtp.SMTPError{Code: 550}, want: ErrProtocol},
		{name: "connection refused", op: opDial, err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}, want: ErrNetwork},
		{name: "dial timeout", op: opDial, err: context.DeadlineExceeded, want: ErrNetwork},
		{name: "dropped connection", op: opNoop, err: io.EOF, want: ErrNetwork},
		{name: "unknown dial failure", op: opDial, err: errors.New("weird"), want: ErrNetwork},
		{name: "unknown later failure", op: opHello, err: errors.New("weird"), want: ErrProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.op, "a@example.com", tt.err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)

			var se *SessionError
			assert.ErrorAs(t, err, &se)
			assert.Equal(t, tt.op, se.Op)
			assert.Equal(t, "a@example.com", se.Address)
		})
	}
}

func TestClassifyKeepsExistingSessionError(t *testing.T) {
	assert.NoError(t, classify(opSend, "a", nil))
	inner := classify(opAuth, "a@example.com", &smtp.SMTPError{Code: 535})
	assert.Same(t, inner, classify(opSend, "a@example.com", inner))
}
