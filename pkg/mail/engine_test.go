// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/mail-sms-gateway/pkg/metrics"
	"github.com/telekom/mail-sms-gateway/pkg/smtppool"
	"github.com/telekom/mail-sms-gateway/pkg/smtppool/pooltest"
	"github.com/telekom/mail-sms-gateway/pkg/store"
)

type harness struct {
	engine *Engine
	pool   *smtppool.Pool
	dialer *pooltest.Dialer
	creds  *store.Memory
}

func newHarness(t *testing.T, senders ...string) *harness {
	t.Helper()
	creds := store.NewMemory()
	for _, a := range senders {
		require.NoError(t, creds.CreateSender(context.Background(), store.Sender{
			Address: a, Secret: "secret", Host: "smtp." + store.DomainOf(a), Port: 587,
		}))
	}
	log := zaptest.NewLogger(t).Sugar()
	d := pooltest.NewDialer()
	p := smtppool.New(d, creds, smtppool.WithLogger(log), smtppool.WithRetireTimeout(time.Second))
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return &harness{
		engine: NewEngine(p, creds, log, WithMaxRepeat(10)),
		pool:   p,
		dialer: d,
		creds:  creds,
	}
}

func totalSendCalls(d *pooltest.Dialer, address string) int {
	n := 0
	for _, s := range d.Sessions(address) {
		n += s.SendCalls()
	}
	return n
}

func TestSendConnectsLazily(t *testing.T) {
	h := newHarness(t, "a@example.com")

	out, err := h.engine.Send(context.Background(), Message{
		From: "a@example.com", To: "dest@example.org", Subject: "hi", Body: "hello",
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, []string{"dest@example.org"}, out.Addresses)

	assert.Equal(t, 1, h.dialer.Dials("a@example.com"))
	assert.Equal(t, 1, h.pool.Len())
	deliveries := h.dialer.Last("a@example.com").Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "a@example.com", deliveries[0].From)
	assert.Equal(t, []string{"dest@example.org"}, deliveries[0].To)
	assert.Contains(t, string(deliveries[0].Data), "Subject: hi")
	assert.Contains(t, string(deliveries[0].Data), "text/plain")

	t.Run("second send reuses the session", func(t *testing.T) {
		_, err := h.engine.Send(context.Background(), Message{From: "a@example.com", To: "dest@example.org"})
		require.NoError(t, err)
		assert.Equal(t, 1, h.dialer.Dials("a@example.com"))
		assert.Len(t, h.dialer.Last("a@example.com").Deliveries(), 2)
	})
}

func TestSendRepeatsIdenticalContent(t *testing.T) {
	h := newHarness(t, "a@example.com")

	_, err := h.engine.Send(context.Background(), Message{
		From: "a@example.com", To: "dest@example.org", Subject: "x", Body: "same", Count: 3,
	})
	require.NoError(t, err)

	deliveries := h.dialer.Last("a@example.com").Deliveries()
	require.Len(t, deliveries, 3)
	for _, d := range deliveries[1:] {
		assert.Equal(t, deliveries[0].Data, d.Data)
	}
}

func TestSendRetriesOnceOnFreshSession(t *testing.T) {
	h := newHarness(t, "a@example.com")
	h.dialer.Setup("a@example.com", func(dial int, s *pooltest.Session) {
		if dial == 0 {
			s.SendErr = smtppool.ErrNetwork
		}
	})

	out, err := h.engine.Send(context.Background(), Message{From: "a@example.com", To: "dest@example.org"})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 2, h.dialer.Dials("a@example.com"))

	sessions := h.dialer.Sessions("a@example.com")
	assert.Len(t, sessions[1].Deliveries(), 1)
	assert.Eventually(t, sessions[0].Closed, time.Second, 5*time.Millisecond)

	entry, ok := h.pool.Get("a@example.com")
	require.True(t, ok)
	assert.Equal(t, 1, h.pool.Len())
	assert.NotNil(t, entry)
}

func TestSendGivesUpAfterSecondFailure(t *testing.T) {
	h := newHarness(t, "a@example.com")
	h.dialer.Setup("a@example.com", func(_ int, s *pooltest.Session) {
		s.SendErr = errors.New("550 mailbox unavailable")
	})

	out, err := h.engine.Send(context.Background(), Message{From: "a@example.com", To: "dest@example.org"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Contains(t, err.Error(), "550 mailbox unavailable")
	assert.False(t, out.Success)
	assert.Equal(t, 2, out.Attempts)

	assert.Equal(t, 2, h.dialer.Dials("a@example.com"), "one connect plus one reconnect")
	assert.Equal(t, 2, totalSendCalls(h.dialer, "a@example.com"), "no third attempt")
}

func TestSendRetriesWholeBatch(t *testing.T) {
	h := newHarness(t, "a@example.com")
	h.dialer.Setup("a@example.com", func(dial int, s *pooltest.Session) {
		if dial == 0 {
			s.FailSendsAfter = 1
		}
	})

	out, err := h.engine.Send(context.Background(), Message{From: "a@example.com", To: "dest@example.org", Count: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Attempts)

	sessions := h.dialer.Sessions("a@example.com")
	assert.Len(t, sessions[0].Deliveries(), 1)
	assert.Len(t, sessions[1].Deliveries(), 3)
}

func TestSendUnknownSender(t *testing.T) {
	h := newHarness(t)

	out, err := h.engine.Send(context.Background(), Message{From: "ghost@example.com", To: "dest@example.org"})
	assert.ErrorIs(t, err, ErrUnknownSender)
	assert.False(t, out.Success)
	assert.Zero(t, h.dialer.TotalDials())
	assert.Zero(t, h.pool.Len())
}

func TestSendConnectFailureCountsAsFirstAttempt(t *testing.T) {
	h := newHarness(t, "a@example.com")
	h.dialer.FailDial("a@example.com", smtppool.ErrAuth)

	out, err := h.engine.Send(context.Background(), Message{From: "a@example.com", To: "dest@example.org"})
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.ErrorIs(t, err, smtppool.ErrAuth)
	assert.Equal(t, 2, out.Attempts)
	assert.Zero(t, h.pool.Len())
}

func TestSendValidation(t *testing.T) {
	h := newHarness(t, "a@example.com")
	tests := []struct {
		name string
		msg  Message
	}{
		{name: "missing sender", msg: Message{To: "dest@example.org"}},
		{name: "bad recipient", msg: Message{From: "a@example.com", To: "not an address"}},
		{name: "count above limit", msg: Message{From: "a@example.com", To: "dest@example.org", Count: 11}},
		{name: "unknown body kind", msg: Message{From: "a@example.com", To: "dest@example.org", Kind: "rtf"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Send(context.Background(), tt.msg)
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
	assert.Zero(t, h.dialer.TotalDials())
}

func TestSendHTMLBody(t *testing.T) {
	h := newHarness(t, "a@example.com")
	_, err := h.engine.Send(context.Background(), Message{
		From: "a@example.com", To: "dest@example.org", Body: "<b>hi</b>", Kind: BodyHTML,
	})
	require.NoError(t, err)
	data := string(h.dialer.Last("a@example.com").Deliveries()[0].Data)
	assert.Contains(t, data, "text/html")
}

func TestSendRecipientWithDisplayName(t *testing.T) {
	h := newHarness(t, "a@example.com")

	out, err := h.engine.Send(context.Background(), Message{
		From: "a@example.com", To: "Jane Doe <5551234567@vtext.com>", Subject: "hi", Body: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 1, h.dialer.Dials("a@example.com"), "no session replacement")

	deliveries := h.dialer.Last("a@example.com").Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, []string{"5551234567@vtext.com"}, deliveries[0].To)
	assert.Contains(t, string(deliveries[0].Data), "Jane Doe")
}

func TestSendFromAll(t *testing.T) {
	h := newHarness(t, "a@example.com", "b@example.com", "c@example.com")
	h.dialer.Setup("b@example.com", func(_ int, s *pooltest.Session) {
		s.SendErr = smtppool.ErrNetwork
	})

	out, err := h.engine.SendFromAll(context.Background(), "dest@example.org", "hi", "hello")
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, []string{"a@example.com", "c@example.com"}, out.Addresses)
	assert.Equal(t, 3, h.pool.Len(), "empty pool is warmed from the store")
	assert.Equal(t, 2, h.dialer.Dials("b@example.com"), "failing sender still gets its retry")
}

func TestSendFromAllWithUnreachableSender(t *testing.T) {
	h := newHarness(t, "a@example.com", "b@example.com")
	h.dialer.FailDial("b@example.com", smtppool.ErrNetwork)

	out, err := h.engine.SendFromAll(context.Background(), "dest@example.org", "hi", "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com"}, out.Addresses)
	assert.True(t, strings.HasPrefix(out.Message, "Email sent from 1 of 1"))
}

func TestSendFromAllRejectsBadRecipient(t *testing.T) {
	h := newHarness(t, "a@example.com")
	_, err := h.engine.SendFromAll(context.Background(), "", "hi", "hello")
	assert.ErrorIs(t, err, ErrInvalidMessage)
	assert.Zero(t, h.pool.Len())
}

func TestSendMetrics(t *testing.T) {
	h := newHarness(t, "a@metrics-ok.test", "b@metrics-fail.test")
	h.dialer.Setup("b@metrics-fail.test", func(_ int, s *pooltest.Session) { s.SendErr = smtppool.ErrProtocol })

	_, err := h.engine.Send(context.Background(), Message{From: "a@metrics-ok.test", To: "dest@example.org"})
	require.NoError(t, err)
	_, err = h.engine.Send(context.Background(), Message{From: "b@metrics-fail.test", To: "dest@example.org"})
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MailSendSuccess.WithLabelValues("smtp.metrics-ok.test")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MailSendFailure.WithLabelValues("smtp.metrics-fail.test")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MailSendRetries.WithLabelValues("smtp.metrics-fail.test")))
}
