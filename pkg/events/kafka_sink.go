/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSinkConfig configures a KafkaSink.
type KafkaSinkConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string

	// Topic receives one message per event, keyed by sender address.
	Topic string

	// BatchTimeout is the maximum time to wait before flushing a batch.
	// Default: 1 second
	BatchTimeout time.Duration

	// WriteTimeout is the timeout for writing messages.
	// Default: 10 seconds
	WriteTimeout time.Duration

	// Async enables fire-and-forget writes.
	Async bool
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes events to a Kafka topic.
type KafkaSink struct {
	writer messageWriter
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

// NewKafkaSink creates a new KafkaSink.
func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireAll,
		Async:        cfg.Async,
		Compression:  kafka.Snappy,
	}

	logger.Info("Kafka event sink created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.Bool("async", cfg.Async))

	return newKafkaSink(writer, logger), nil
}

func newKafkaSink(w messageWriter, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{writer: w, logger: logger.Named("kafka-events")}
}

// classifyKafkaError categorizes Kafka errors for logging.
func classifyKafkaError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "network"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "SASL") || strings.Contains(msg, "authentication"):
		return "auth"
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return "network"
	case strings.Contains(msg, "topic"):
		return "topic"
	default:
		return "other"
	}
}

// Write sends the event to Kafka.
func (s *KafkaSink) Write(ctx context.Context, event *Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("kafka sink is closed")
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.Sender),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(event.ID)},
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		errorType := classifyKafkaError(err)
		s.logger.Warn("failed to write event to Kafka",
			zap.Error(err),
			zap.String("error_type", errorType),
			zap.String("event_id", event.ID))
		return fmt.Errorf("failed to write to Kafka (%s): %w", errorType, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}

// Name returns the sink identifier.
func (s *KafkaSink) Name() string { return "kafka" }
