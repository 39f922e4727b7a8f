// Package cli implements the cobra command tree of the gateway binary: the
// HTTP server, an offline sender credential check and build information.
package cli
