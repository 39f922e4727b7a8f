// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/telekom/mail-sms-gateway/pkg/metrics"
)

// Sink defines the interface for event destinations.
type Sink interface {
	// Write sends an event to the sink.
	Write(ctx context.Context, event *Event) error

	// Close releases any resources held by the sink.
	Close() error

	// Name returns the sink's identifier.
	Name() string
}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Write(_ context.Context, event *Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.Sender != "" {
		fields = append(fields, zap.String("sender", event.Sender))
	}
	if len(event.To) > 0 {
		fields = append(fields, zap.Strings("to", event.To))
	}
	if event.Attempts > 0 {
		fields = append(fields, zap.Int("attempts", event.Attempts))
	}
	if event.Count > 0 {
		fields = append(fields, zap.Int("count", event.Count))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	s.logger.Info("delivery_event", fields...)
	return nil
}

// Close is a no-op for LogSink.
func (s *LogSink) Close() error { return nil }

// Name returns the sink identifier.
func (s *LogSink) Name() string { return "log" }

// Publisher fans events out to every configured sink. Sink failures are
// logged and counted, never returned to the caller. A nil *Publisher
// discards events.
type Publisher struct {
	sinks  []Sink
	logger *zap.SugaredLogger
}

// NewPublisher returns a Publisher writing to sinks.
func NewPublisher(logger *zap.SugaredLogger, sinks ...Sink) *Publisher {
	return &Publisher{sinks: sinks, logger: logger.Named("events")}
}

// Publish writes event to each sink in order.
func (p *Publisher) Publish(ctx context.Context, event *Event) {
	if p == nil || event == nil {
		return
	}
	for _, s := range p.sinks {
		if err := s.Write(ctx, event); err != nil {
			metrics.EventsFailed.WithLabelValues(s.Name()).Inc()
			p.logger.Warnw("Failed to write event", "sink", s.Name(), "event_type", event.Type, "error", err)
			continue
		}
		metrics.EventsWritten.WithLabelValues(s.Name()).Inc()
	}
}

// Close closes every sink.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, s := range p.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
