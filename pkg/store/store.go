// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultCreatedBy is recorded on senders registered without an explicit creator.
const DefaultCreatedBy = "EMAIL_SERVICE"

var (
	// ErrNotFound is returned when a sender or carrier does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a record with the same key already exists.
	ErrDuplicate = errors.New("record already exists")
)

// Sender is a registered outbound mail account.
type Sender struct {
	Address   string    `json:"email"`
	Secret    string    `json:"-"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
}

// Carrier maps a wireless carrier to its email-to-SMS gateway domain.
type Carrier struct {
	ID               int64     `json:"id"`
	Name             string    `json:"wireless_carrier"`
	Domain           string    `json:"domain"`
	AllowsMultimedia bool      `json:"allow_multimedia"`
	CreatedAt        time.Time `json:"created_at"`
}

// CredentialStore persists sender identities keyed by address.
type CredentialStore interface {
	ListSenders(ctx context.Context) ([]Sender, error)
	GetSender(ctx context.Context, address string) (Sender, error)
	CreateSender(ctx context.Context, s Sender) error
}

// CarrierDirectory persists carrier gateway domains. Rows are unique on
// (name, domain, multimedia flag).
type CarrierDirectory interface {
	ListCarriers(ctx context.Context) ([]Carrier, error)
	ListCarriersByMultimedia(ctx context.Context, multimedia bool) ([]Carrier, error)
	CreateCarrier(ctx context.Context, name, domain string, multimedia bool) (Carrier, error)
	DeleteCarrier(ctx context.Context, id int64) error
}

// Store is implemented by every backend.
type Store interface {
	CredentialStore
	CarrierDirectory
	Close() error
}

// DomainOf returns the part of address after the last "@". An address
// without "@" is returned unchanged.
func DomainOf(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 {
		return address[i+1:]
	}
	return address
}

// NormalizeCarrierDomain trims whitespace and makes sure the domain starts with "@".
func NormalizeCarrierDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" || strings.HasPrefix(domain, "@") {
		return domain
	}
	return "@" + domain
}

// prepareSender fills derived fields before a sender is persisted.
func prepareSender(s Sender, now time.Time) (Sender, error) {
	s.Address = strings.TrimSpace(s.Address)
	if s.Address == "" {
		return s, errors.New("sender address is required")
	}
	if s.Domain == "" {
		s.Domain = DomainOf(s.Address)
	}
	if s.CreatedBy == "" {
		s.CreatedBy = DefaultCreatedBy
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now.UTC()
	}
	return s, nil
}
