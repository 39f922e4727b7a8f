// Package apiresponses renders the JSON bodies shared by the API server,
// the rate limiter and the gateway controller.
package apiresponses
