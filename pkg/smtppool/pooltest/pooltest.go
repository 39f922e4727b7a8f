// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package pooltest provides an in-memory Dialer and Session for tests of
// code built on the SMTP pool.
package pooltest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/telekom/mail-sms-gateway/pkg/smtppool"
	"github.com/telekom/mail-sms-gateway/pkg/store"
)

// Delivery is one message accepted by a Session.
type Delivery struct {
	From string
	To   []string
	Data []byte
}

// Session records NOOPs and deliveries. Fields may be set from a Setup hook
// before the session is handed to the pool.
type Session struct {
	// SendErr fails every SendMail when set.
	SendErr error
	// NoopErr fails every Noop when set.
	NoopErr error
	// FailSendsAfter makes SendMail fail with SendErr (or a default error)
	// after that many successful deliveries. Zero disables it.
	FailSendsAfter int

	mu         sync.Mutex
	deliveries []Delivery
	sendCalls  int
	noops      int
	closed     bool
}

var errInjected = errors.New("injected send failure")

func (s *Session) Noop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noops++
	return s.NoopErr
}

func (s *Session) SendMail(from string, to []string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendCalls++
	if s.SendErr != nil && s.FailSendsAfter == 0 {
		return s.SendErr
	}
	if s.FailSendsAfter > 0 && len(s.deliveries) >= s.FailSendsAfter {
		if s.SendErr != nil {
			return s.SendErr
		}
		return errInjected
	}
	s.deliveries = append(s.deliveries, Delivery{From: from, To: append([]string(nil), to...), Data: data})
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Deliveries returns the accepted messages.
func (s *Session) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.deliveries...)
}

// SendCalls counts SendMail invocations, failed ones included.
func (s *Session) SendCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCalls
}

// Noops counts Noop invocations.
func (s *Session) Noops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noops
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Dialer hands out Sessions and records every dial.
type Dialer struct {
	mu       sync.Mutex
	sessions map[string][]*Session
	failures map[string]error
	setups   map[string]func(dial int, s *Session)
	gate     chan struct{}
	held     int
}

var _ smtppool.Dialer = (*Dialer)(nil)

// NewDialer returns a Dialer that succeeds for every sender.
func NewDialer() *Dialer {
	return &Dialer{
		sessions: make(map[string][]*Session),
		failures: make(map[string]error),
		setups:   make(map[string]func(int, *Session)),
	}
}

// FailDial makes dials for address return err. A nil err clears it.
func (d *Dialer) FailDial(address string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, address)
		return
	}
	d.failures[address] = err
}

// Setup registers a hook run on each new session for address. dial counts
// from zero.
func (d *Dialer) Setup(address string, fn func(dial int, s *Session)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setups[address] = fn
}

// Hold blocks every Dial until the returned release func is called.
func (d *Dialer) Hold() (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			d.gate = nil
			d.mu.Unlock()
			close(gate)
		})
	}
}

func (d *Dialer) Dial(ctx context.Context, sender store.Sender) (smtppool.Session, error) {
	d.mu.Lock()
	gate := d.gate
	if gate != nil {
		d.held++
	}
	d.mu.Unlock()
	if gate != nil {
		defer func() {
			d.mu.Lock()
			d.held--
			d.mu.Unlock()
		}()
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failures[sender.Address]; err != nil {
		return nil, err
	}
	s := &Session{}
	if fn := d.setups[sender.Address]; fn != nil {
		fn(len(d.sessions[sender.Address]), s)
	}
	d.sessions[sender.Address] = append(d.sessions[sender.Address], s)
	return s, nil
}

// Held returns the number of dials blocked by Hold.
func (d *Dialer) Held() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

// Dials returns how many sessions were opened for address.
func (d *Dialer) Dials(address string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions[address])
}

// TotalDials returns the number of sessions opened for all senders.
func (d *Dialer) TotalDials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, ss := range d.sessions {
		n += len(ss)
	}
	return n
}

// Sessions returns the sessions opened for address in dial order.
func (d *Dialer) Sessions(address string) []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Session(nil), d.sessions[address]...)
}

// Last returns the most recent session for address, or nil.
func (d *Dialer) Last(address string) *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	ss := d.sessions[address]
	if len(ss) == 0 {
		return nil
	}
	return ss[len(ss)-1]
}
