// Package server bundles the dependencies a Connection needs from its
// owning listener: logging, safe-mode policy, handler resolution, and
// metrics. spec.md §6 calls this collaborator the "server context"; here it
// is a plain struct rather than an interface, since (unlike parser.Parser
// or handler.Inbound) the core never needs more than one implementation of
// it.
package server

import (
	"log/slog"

	"github.com/loomhttp/loom/handler"
)

// Context is handed to every Connection a listener accepts.
type Context struct {
	Logger   *slog.Logger
	SafeMode bool
	Lookup   handler.Lookup
	Metrics  *Metrics

	// MaxBodyBytes carries the configured body size limit. The connection
	// core does not read it: request bodies, fixed-length or chunked, are
	// not size-limited by internal/conn.
	MaxBodyBytes int64

	// ReadBufferSize sizes each Connection's reusable read buffer.
	ReadBufferSize int
}

// Default returns a Context with the conservative defaults
// indigo-web-indigo ships for an unconfigured server: safe mode on, a
// 4 MiB MaxBodyBytes, logging to slog's default handler.
func Default() *Context {
	return &Context{
		Logger:         slog.Default(),
		SafeMode:       true,
		MaxBodyBytes:   4 << 20,
		ReadBufferSize: 4096,
	}
}
