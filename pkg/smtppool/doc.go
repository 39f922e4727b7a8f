// Package smtppool keeps one authenticated SMTP session per sender address.
// It creates sessions on demand or in bulk, serialises access to each
// session, keeps idle sessions alive with periodic NOOPs and replaces a
// session when the delivery path reports it broken.
package smtppool
