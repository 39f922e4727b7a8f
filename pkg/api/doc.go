// Package api implements the HTTP server (Gin-based) of the gateway: request
// logging, CORS, health and metrics endpoints, per-client rate limiting and
// optional HS256 bearer authentication in front of the registered controllers.
package api
