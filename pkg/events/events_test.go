// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/telekom/mail-sms-gateway/pkg/metrics"
)

type recordingSink struct {
	name   string
	err    error
	mu     sync.Mutex
	events []*Event
	closed bool
}

func (r *recordingSink) Write(_ context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func (r *recordingSink) Name() string { return r.name }

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNewEvent(t *testing.T) {
	e := New(MessageSent, "a@example.com").WithError(nil)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, MessageSent, e.Type)
	assert.Equal(t, "a@example.com", e.Sender)
	assert.False(t, e.Timestamp.IsZero())
	assert.Empty(t, e.Error)

	e.WithError(errors.New("boom"))
	assert.Equal(t, "boom", e.Error)
	assert.NotEqual(t, e.ID, New(MessageSent, "a@example.com").ID)
}

func TestLogSinkWritesFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	e := New(MessageFailed, "a@example.com")
	e.To = []string{"b@example.com"}
	e.Attempts = 2
	e.WithError(errors.New("550 rejected"))
	require.NoError(t, sink.Write(context.Background(), e))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "delivery_event", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "a@example.com", fields["sender"])
	assert.Equal(t, "550 rejected", fields["error"])
	assert.EqualValues(t, 2, fields["attempts"])
}

func TestPublisherIsolatesSinkFailures(t *testing.T) {
	bad := &recordingSink{name: "publisher-test-bad", err: errors.New("unavailable")}
	good := &recordingSink{name: "publisher-test-good"}
	p := NewPublisher(zap.NewNop().Sugar(), bad, good)

	p.Publish(context.Background(), New(SessionConnected, "a@example.com"))

	assert.Len(t, good.events, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.EventsFailed.WithLabelValues("publisher-test-bad")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.EventsWritten.WithLabelValues("publisher-test-good")))

	require.NoError(t, p.Close())
	assert.True(t, bad.closed)
	assert.True(t, good.closed)
}

func TestNilPublisherDiscards(t *testing.T) {
	var p *Publisher
	assert.NotPanics(t, func() {
		p.Publish(context.Background(), New(MessageSent, "x"))
		_ = p.Close()
	})
}

func TestKafkaSinkWrite(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, zap.NewNop())

	e := New(MessageSent, "a@example.com")
	e.To = []string{"555@vtext.com"}
	require.NoError(t, sink.Write(context.Background(), e))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "a@example.com", string(msg.Key))
	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, []string{"555@vtext.com"}, decoded.To)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, string(MessageSent), headers["event-type"])
	assert.Equal(t, e.ID, headers["event-id"])

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
	assert.Error(t, sink.Write(context.Background(), e), "writes after close fail")
}

func TestKafkaSinkWriteError(t *testing.T) {
	sink := newKafkaSink(&fakeWriter{err: errors.New("dial tcp: connection refused")}, zap.NewNop())
	err := sink.Write(context.Background(), New(MessageSent, "a@example.com"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(network)")
}

func TestNewKafkaSinkValidation(t *testing.T) {
	_, err := NewKafkaSink(KafkaSinkConfig{Topic: "t"}, zap.NewNop())
	assert.Error(t, err)
	_, err = NewKafkaSink(KafkaSinkConfig{Brokers: []string{"localhost:9092"}}, zap.NewNop())
	assert.Error(t, err)

	sink, err := NewKafkaSink(KafkaSinkConfig{Brokers: []string{"localhost:9092"}, Topic: "gateway-events"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "kafka", sink.Name())
	require.NoError(t, sink.Close())
}

func TestClassifyKafkaError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.DeadlineExceeded, "timeout"},
		{context.Canceled, "cancelled"},
		{errors.New("SASL handshake failed"), "auth"},
		{errors.New("unknown topic or partition"), "topic"},
		{errors.New("weird"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyKafkaError(tt.err))
	}
}
