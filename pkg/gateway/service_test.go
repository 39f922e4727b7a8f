// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/mail-sms-gateway/pkg/mail"
	"github.com/telekom/mail-sms-gateway/pkg/sms"
	"github.com/telekom/mail-sms-gateway/pkg/smtppool"
	"github.com/telekom/mail-sms-gateway/pkg/smtppool/pooltest"
	"github.com/telekom/mail-sms-gateway/pkg/store"
)

type harness struct {
	service *Service
	store   *store.Memory
	pool    *smtppool.Pool
	dialer  *pooltest.Dialer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemory()
	log := zaptest.NewLogger(t).Sugar()
	d := pooltest.NewDialer()
	p := smtppool.New(d, st, smtppool.WithLogger(log), smtppool.WithRetireTimeout(time.Second))
	t.Cleanup(func() { _ = p.Close(context.Background()) })

	engine := mail.NewEngine(p, st, log)
	translator := sms.NewTranslator(engine, st, log)
	return &harness{
		service: NewService(st, p, d, engine, translator, log),
		store:   st,
		pool:    p,
		dialer:  d,
	}
}

func (h *harness) addSender(t *testing.T, address string) {
	t.Helper()
	require.NoError(t, h.store.CreateSender(context.Background(), store.Sender{
		Address: address, Secret: "secret", Host: "smtp.example.com", Port: 587,
	}))
}

func TestCreateSenderVerifiesAndStores(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sender, err := h.service.CreateSender(ctx, CreateSenderRequest{
		Address: " new@example.com ", Secret: "pw", Host: "smtp.example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", sender.Address)
	assert.Equal(t, DefaultPort, sender.Port)
	assert.Equal(t, "example.com", sender.Domain)
	assert.Equal(t, store.DefaultCreatedBy, sender.CreatedBy)
	assert.Empty(t, sender.Secret)

	require.Equal(t, 1, h.dialer.Dials("new@example.com"))
	assert.True(t, h.dialer.Last("new@example.com").Closed(), "verification session must be closed")
	assert.Zero(t, h.pool.Len(), "verification does not pool the session")

	stored, err := h.store.GetSender(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, "pw", stored.Secret)
}

func TestCreateSenderKeepsExplicitPort(t *testing.T) {
	h := newHarness(t)

	sender, err := h.service.CreateSender(context.Background(), CreateSenderRequest{
		Address: "tls@example.com", Secret: "pw", Host: "smtp.example.com", Port: 465,
	})
	require.NoError(t, err)
	assert.Equal(t, 465, sender.Port)
}

func TestCreateSenderVerificationFailure(t *testing.T) {
	h := newHarness(t)
	h.dialer.FailDial("bad@example.com", fmt.Errorf("%w: 535 authentication failed", smtppool.ErrAuth))

	_, err := h.service.CreateSender(context.Background(), CreateSenderRequest{
		Address: "bad@example.com", Secret: "wrong", Host: "smtp.example.com",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSenderVerification)
	assert.ErrorIs(t, err, smtppool.ErrAuth)
	assert.Equal(t, KindInvalid, Classify(err))

	_, err = h.store.GetSender(context.Background(), "bad@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateSenderRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  CreateSenderRequest
	}{
		{name: "malformed address", req: CreateSenderRequest{Address: "not-an-address", Secret: "pw", Host: "h"}},
		{name: "missing secret", req: CreateSenderRequest{Address: "a@example.com", Host: "h"}},
		{name: "missing host", req: CreateSenderRequest{Address: "a@example.com", Secret: "pw"}},
		{name: "port out of range", req: CreateSenderRequest{Address: "a@example.com", Secret: "pw", Host: "h", Port: 70000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.service.CreateSender(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Zero(t, h.dialer.TotalDials())
		})
	}
}

func TestCreateSenderDuplicate(t *testing.T) {
	h := newHarness(t)
	h.addSender(t, "dup@example.com")

	_, err := h.service.CreateSender(context.Background(), CreateSenderRequest{
		Address: "dup@example.com", Secret: "pw", Host: "smtp.example.com",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.Equal(t, KindConflict, Classify(err))
	assert.Zero(t, h.dialer.Dials("dup@example.com"), "existing sender is not re-verified")
}

func TestInitializeConnections(t *testing.T) {
	h := newHarness(t)
	h.addSender(t, "a@example.com")
	h.addSender(t, "b@example.com")
	h.dialer.FailDial("b@example.com", errors.New("connection refused"))

	report, err := h.service.InitializeConnections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com"}, report.Connected)
	assert.Equal(t, []string{"b@example.com"}, report.Failed)

	conns := h.service.Connections()
	require.Len(t, conns, 1)
	assert.Equal(t, "a@example.com", conns[0].Address)
}

func TestListSendersOmitsSecrets(t *testing.T) {
	h := newHarness(t)
	h.addSender(t, "a@example.com")

	senders, err := h.service.ListSenders(context.Background())
	require.NoError(t, err)
	require.Len(t, senders, 1)
	assert.Empty(t, senders[0].Secret)
}

func TestCarrierLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := h.service.CreateCarrier(ctx, "Verizon", "vtext.com", false)
	require.NoError(t, err)
	assert.Equal(t, "@vtext.com", c.Domain)

	_, err = h.service.CreateCarrier(ctx, "Verizon", "@vtext.com", false)
	assert.Equal(t, KindConflict, Classify(err))

	_, err = h.service.CreateCarrier(ctx, " ", "vtext.com", false)
	assert.Equal(t, KindInvalid, Classify(err))

	carriers, err := h.service.ListCarriers(ctx)
	require.NoError(t, err)
	require.Len(t, carriers, 1)

	require.NoError(t, h.service.DeleteCarrier(ctx, c.ID))
	err = h.service.DeleteCarrier(ctx, c.ID)
	assert.Equal(t, KindNotFound, Classify(err))
}

func TestServiceDelegatesSends(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addSender(t, "a@example.com")
	h.addSender(t, "b@example.com")
	_, err := h.store.CreateCarrier(ctx, "A", "a.com", true)
	require.NoError(t, err)

	out, err := h.service.Send(ctx, mail.Message{From: "a@example.com", To: "x@example.org", Body: "hi"})
	require.NoError(t, err)
	assert.True(t, out.Success)

	// the pool is not empty, so fan-out uses the connected sender only
	out, err = h.service.SendFromAll(ctx, "x@example.org", "s", "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com"}, out.Addresses)

	report, err := h.service.InitializeConnections(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Failed)

	out, err = h.service.SendFromAll(ctx, "x@example.org", "s", "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, out.Addresses)

	out, err = h.service.SendSMS(ctx, sms.PhoneMessage{From: "a@example.com", Phone: "555", Body: "hi", Multimedia: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"555@a.com"}, out.Addresses)

	out, err = h.service.SendSMSFromAll(ctx, sms.BroadcastMessage{Phone: "555", Body: "hi", Multimedia: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, out.Addresses)

	_, err = h.service.SendSMS(ctx, sms.PhoneMessage{From: "a@example.com", Phone: "555", Body: "hi", Multimedia: false})
	assert.ErrorIs(t, err, sms.ErrNoCarrierConfigured)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindOK},
		{name: "invalid request", err: fmt.Errorf("x: %w", ErrInvalidRequest), want: KindInvalid},
		{name: "verification", err: fmt.Errorf("%w: boom", ErrSenderVerification), want: KindInvalid},
		{name: "invalid message", err: fmt.Errorf("%w: no recipient", mail.ErrInvalidMessage), want: KindInvalid},
		{name: "invalid phone", err: sms.ErrInvalidPhone, want: KindInvalid},
		{name: "unknown sender", err: fmt.Errorf("a: %w", mail.ErrUnknownSender), want: KindNotFound},
		{name: "no carrier", err: sms.ErrNoCarrierConfigured, want: KindNotFound},
		{name: "store not found", err: fmt.Errorf("carrier 1: %w", store.ErrNotFound), want: KindNotFound},
		{name: "duplicate", err: store.ErrDuplicate, want: KindConflict},
		{name: "delivery failed", err: fmt.Errorf("%w: %w", mail.ErrDeliveryFailed, smtppool.ErrNetwork), want: KindInternal},
		{name: "unclassified", err: errors.New("boom"), want: KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestKindHTTPStatus(t *testing.T) {
	assert.Equal(t, 200, KindOK.HTTPStatus())
	assert.Equal(t, 400, KindInvalid.HTTPStatus())
	assert.Equal(t, 404, KindNotFound.HTTPStatus())
	assert.Equal(t, 409, KindConflict.HTTPStatus())
	assert.Equal(t, 500, KindInternal.HTTPStatus())
	assert.Equal(t, "not_found", KindNotFound.String())
}
