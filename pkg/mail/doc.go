// Package mail delivers email through pooled SMTP sessions. It renders
// messages with gomail, submits repeated copies over one session, retries
// once on a fresh session after a failure and broadcasts a message from
// every pooled sender.
package mail
