package mail

import (
	"bytes"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"gopkg.in/gomail.v2"
)

// BodyKind selects the MIME type of the body.
type BodyKind string

const (
	BodyPlain BodyKind = "plain"
	BodyHTML  BodyKind = "html"
)

// ErrInvalidMessage is returned for messages that cannot be sent as given.
var ErrInvalidMessage = errors.New("invalid message")

// Message is a single outbound email. Count copies are submitted back to back.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
	Kind    BodyKind
	Count   int

	// rcpt is the bare address of To used in RCPT TO.
	rcpt string
}

func (m Message) contentType() string {
	if m.Kind == BodyHTML {
		return "text/html"
	}
	return "text/plain"
}

// normalize validates m and fills defaults. maxRepeat <= 0 means unlimited.
func (m Message) normalize(maxRepeat int) (Message, error) {
	m.From = strings.TrimSpace(m.From)
	m.To = strings.TrimSpace(m.To)
	if m.From == "" {
		return m, fmt.Errorf("%w: sender is required", ErrInvalidMessage)
	}
	rcpt, err := recipientAddress(m.To)
	if err != nil {
		return m, err
	}
	m.rcpt = rcpt
	switch m.Kind {
	case "":
		m.Kind = BodyPlain
	case BodyPlain, BodyHTML:
	default:
		return m, fmt.Errorf("%w: unknown body kind %q", ErrInvalidMessage, m.Kind)
	}
	if m.Count <= 0 {
		m.Count = 1
	}
	if maxRepeat > 0 && m.Count > maxRepeat {
		return m, fmt.Errorf("%w: count %d exceeds the limit of %d", ErrInvalidMessage, m.Count, maxRepeat)
	}
	return m, nil
}

// recipientAddress parses to, which may carry a display name, and returns
// the bare address for the SMTP envelope.
func recipientAddress(to string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(to))
	if err != nil {
		return "", fmt.Errorf("%w: recipient %q: %v", ErrInvalidMessage, to, err)
	}
	return addr.Address, nil
}

// Compose renders m as an RFC 5322 message.
func Compose(m Message) ([]byte, error) {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", m.Subject)
	msg.SetBody(m.contentType(), m.Body)

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("rendering message: %w", err)
	}
	return buf.Bytes(), nil
}
