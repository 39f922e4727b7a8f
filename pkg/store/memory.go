// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

type carrierKey struct {
	name       string
	domain     string
	multimedia bool
}

// Memory is a process-local Store.
type Memory struct {
	mu       sync.RWMutex
	senders  map[string]Sender
	carriers map[int64]Carrier
	nextID   int64
	now      func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		senders:  make(map[string]Sender),
		carriers: make(map[int64]Carrier),
		now:      time.Now,
	}
}

func (m *Memory) ListSenders(_ context.Context) ([]Sender, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Sender, 0, len(m.senders))
	for _, s := range m.senders {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Sender) int { return strings.Compare(a.Address, b.Address) })
	return out, nil
}

func (m *Memory) GetSender(_ context.Context, address string) (Sender, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.senders[address]
	if !ok {
		return Sender{}, fmt.Errorf("sender %q: %w", address, ErrNotFound)
	}
	return s, nil
}

func (m *Memory) CreateSender(_ context.Context, s Sender) error {
	s, err := prepareSender(s, m.now())
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.senders[s.Address]; exists {
		return fmt.Errorf("sender %q: %w", s.Address, ErrDuplicate)
	}
	m.senders[s.Address] = s
	return nil
}

func (m *Memory) ListCarriers(_ context.Context) ([]Carrier, error) {
	return m.filterCarriers(func(Carrier) bool { return true }), nil
}

func (m *Memory) ListCarriersByMultimedia(_ context.Context, multimedia bool) ([]Carrier, error) {
	return m.filterCarriers(func(c Carrier) bool { return c.AllowsMultimedia == multimedia }), nil
}

func (m *Memory) filterCarriers(keep func(Carrier) bool) []Carrier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Carrier, 0, len(m.carriers))
	for _, c := range m.carriers {
		if keep(c) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b Carrier) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (m *Memory) CreateCarrier(_ context.Context, name, domain string, multimedia bool) (Carrier, error) {
	name = strings.TrimSpace(name)
	domain = NormalizeCarrierDomain(domain)
	if name == "" || domain == "" {
		return Carrier{}, errors.New("carrier name and domain are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := carrierKey{name: name, domain: domain, multimedia: multimedia}
	for _, c := range m.carriers {
		if (carrierKey{c.Name, c.Domain, c.AllowsMultimedia}) == key {
			return Carrier{}, fmt.Errorf("carrier %s%s: %w", name, domain, ErrDuplicate)
		}
	}
	m.nextID++
	c := Carrier{
		ID:               m.nextID,
		Name:             name,
		Domain:           domain,
		AllowsMultimedia: multimedia,
		CreatedAt:        m.now().UTC(),
	}
	m.carriers[c.ID] = c
	return c, nil
}

func (m *Memory) DeleteCarrier(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carriers[id]; !ok {
		return fmt.Errorf("carrier %d: %w", id, ErrNotFound)
	}
	delete(m.carriers, id)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
