// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"net/http"

	"github.com/telekom/mail-sms-gateway/pkg/mail"
	"github.com/telekom/mail-sms-gateway/pkg/sms"
	"github.com/telekom/mail-sms-gateway/pkg/store"
)

var (
	// ErrInvalidRequest is returned for input the service rejects before doing any work.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSenderVerification is returned when new sender credentials cannot open a session.
	ErrSenderVerification = errors.New("sender verification failed")
)

// Kind is the transport-independent class of an operation result.
type Kind int

const (
	KindOK Kind = iota
	KindInvalid
	KindNotFound
	KindConflict
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// HTTPStatus maps k to the response status used by the API.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindOK:
		return http.StatusOK
	case KindInvalid:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Classify maps an error returned by Service to a Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrSenderVerification),
		errors.Is(err, mail.ErrInvalidMessage),
		errors.Is(err, sms.ErrInvalidPhone):
		return KindInvalid
	case errors.Is(err, mail.ErrUnknownSender),
		errors.Is(err, sms.ErrNoCarrierConfigured),
		errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, store.ErrDuplicate):
		return KindConflict
	default:
		return KindInternal
	}
}
