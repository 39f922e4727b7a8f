// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened.
type Type string

const (
	SessionConnected     Type = "session.connected"
	SessionConnectFailed Type = "session.connect_failed"
	SessionReplaced      Type = "session.replaced"
	MessageSent          Type = "message.sent"
	MessageFailed        Type = "message.failed"
	FanoutCompleted      Type = "fanout.completed"
)

// Event is a single delivery fact.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender,omitempty"`
	To        []string  `json:"to,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	Count     int       `json:"count,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// New returns an event with a fresh id and the current time.
func New(t Type, sender string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Sender:    sender,
	}
}

// WithError records err on the event and returns it.
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
