// Package accesslog emits the one structured log line per request that
// spec.md §4.6 requires, modeled on indigo-web-indigo's use of log/slog for
// its own request-scoped logging.
package accesslog

import (
	"context"
	"log/slog"
	"time"

	"github.com/loomhttp/loom/http/status"
)

// Entry accumulates the fields of one request's access-log line as the
// connection core observes them, and is reset between pipelined requests on
// the same connection.
type Entry struct {
	ConnID    string
	RemoteIP  string
	Method    string
	Path      string
	Proto     string
	Code      status.Code
	BytesIn   int64
	BytesOut  int64
	StartedAt time.Time
}

// Reset clears an Entry for reuse on the next request, keeping the
// connection-scoped fields (ConnID, RemoteIP) that don't change across
// requests on a keep-alive connection.
func (e *Entry) Reset() {
	e.Method = ""
	e.Path = ""
	e.Proto = ""
	e.Code = 0
	e.BytesIn = 0
	e.BytesOut = 0
	e.StartedAt = time.Time{}
}

// Emit writes one structured log line for the completed request. Internal
// status codes (499/597/598/599) are logged at Warn; everything else at
// Info, matching the severity split indigo-web-indigo uses between client
// and server-side outcomes.
func (e *Entry) Emit(logger *slog.Logger) {
	level := slog.LevelInfo
	switch e.Code {
	case status.StatusPeerAbort, status.StatusHandlerLeaked,
		status.StatusHandlerPanicked, status.StatusLocalIOError:
		level = slog.LevelWarn
	}

	logger.Log(context.Background(), level, "request",
		slog.String("conn_id", e.ConnID),
		slog.String("remote_ip", e.RemoteIP),
		slog.String("method", e.Method),
		slog.String("path", e.Path),
		slog.String("proto", e.Proto),
		slog.Int("status", int(e.Code)),
		slog.Int64("bytes_in", e.BytesIn),
		slog.Int64("bytes_out", e.BytesOut),
		slog.Duration("duration", time.Since(e.StartedAt)),
	)
}
