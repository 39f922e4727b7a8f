// Package gateway is the service facade over the connection pool, delivery
// engine and SMS translator, together with the gin controller that exposes it
// over HTTP and the mapping from domain errors to response classes.
package gateway
