// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package smtppool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is a pooled session for one sender address. All use of the session
// goes through Do, which admits one caller at a time.
type Entry struct {
	address   string
	host      string
	session   Session
	createdAt time.Time

	// lock is a one-slot semaphore so waiting can honour a context.
	lock   chan struct{}
	closed atomic.Bool

	stopKeepAlive context.CancelFunc

	mu            sync.Mutex
	lastKeepAlive time.Time
	lastErr       error
}

// EntryInfo is a point-in-time view of an entry.
type EntryInfo struct {
	Address        string    `json:"email"`
	Host           string    `json:"host"`
	ConnectedAt    time.Time `json:"connected_at"`
	LastKeepAlive  time.Time `json:"last_keepalive,omitempty"`
	KeepAliveError string    `json:"keepalive_error,omitempty"`
}

func newEntry(address, host string, s Session, now time.Time) *Entry {
	return &Entry{
		address:       address,
		host:          host,
		session:       s,
		createdAt:     now,
		lock:          make(chan struct{}, 1),
		stopKeepAlive: func() {},
	}
}

// Address returns the sender address the entry belongs to.
func (e *Entry) Address() string { return e.address }

// Host returns the SMTP host of the session.
func (e *Entry) Host() string { return e.host }

// CreatedAt returns when the session was established.
func (e *Entry) CreatedAt() time.Time { return e.createdAt }

// Do runs fn with exclusive access to the session. It returns ctx.Err() if
// the session stays busy until ctx is done and ErrEntryClosed if the entry
// was retired.
func (e *Entry) Do(ctx context.Context, fn func(Session) error) error {
	if e.closed.Load() {
		return ErrEntryClosed
	}
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()
	if e.closed.Load() {
		return ErrEntryClosed
	}
	return fn(e.session)
}

func (e *Entry) acquire(ctx context.Context) error {
	select {
	case e.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Entry) release() { <-e.lock }

// Info returns a snapshot of the entry.
func (e *Entry) Info() EntryInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	info := EntryInfo{
		Address:       e.address,
		Host:          e.host,
		ConnectedAt:   e.createdAt,
		LastKeepAlive: e.lastKeepAlive,
	}
	if e.lastErr != nil {
		info.KeepAliveError = e.lastErr.Error()
	}
	return info
}

func (e *Entry) recordKeepAlive(at time.Time, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastKeepAlive = at
	e.lastErr = err
}

// shutdown stops the keep-alive loop and closes the session once in-flight
// work finishes or the timeout passes. It is safe to call more than once.
func (e *Entry) shutdown(timeout time.Duration) error {
	e.stopKeepAlive()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if e.acquire(ctx) == nil {
		defer e.release()
	}
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.session.Close()
}
