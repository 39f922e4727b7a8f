// Package ratelimit provides token-bucket rate limiting middleware for the
// gateway API, keyed by client IP for anonymous requests and by token subject
// for authenticated ones.
package ratelimit
