// Package handler defines the two interfaces the connection core exchanges
// with application code: Inbound (calls the core makes into the handler)
// and Reply (calls the handler makes back into the core). Both are exactly
// spec.md §4.4's handler contract, translated into Go method sets.
package handler

import "github.com/loomhttp/loom/message"

// Reply is the outbound surface a Connection presents to its handler. A
// handler may call these from the goroutine that invoked one of its Inbound
// methods, or later from any other goroutine (e.g. after an asynchronous
// upstream fetch completes) — Reply implementations must be safe for that.
type Reply interface {
	// SendHeaders emits the response status line and headers, with an
	// optional initial body chunk. done is called once those bytes have
	// been accepted by the socket (or failed).
	SendHeaders(resp *message.Response, body []byte, done func(error))

	// SendData appends more body bytes to the outbound queue.
	SendData(body []byte, done func(error))

	// Close signals the handler is done with this request. err is nil for
	// normal completion, or non-nil to report a handler-side failure that
	// should terminate the connection.
	Close(err error)

	// WantMore resumes body delivery after the handler returned a partial
	// consume count from OnData, declaring it is ready for more.
	WantMore()
}

// Inbound is the surface the connection core calls into. Its four methods
// fire in the order Initialize -> OnHeaders -> OnData* -> OnClose, each at
// most once except OnData, and are never invoked concurrently with each
// other for the same Connection (spec.md §4.4).
type Inbound interface {
	// Initialize is called exactly once, before any other method, handing
	// the handler its Reply.
	Initialize(reply Reply)

	// OnHeaders is called exactly once, after Initialize, with the fully
	// parsed request line and headers.
	OnHeaders(req *message.Request)

	// OnData is called zero or more times with successive body chunks.
	// The return value must be <= len(chunk); returning less declares
	// backpressure, and the handler must later call Reply.WantMore to
	// resume.
	OnData(chunk []byte) (consumed int)

	// OnClose is called at most once, after which no further calls are
	// made. err is non-nil if the connection ended abnormally (peer abort,
	// write error). If one of the handler's own callbacks panics under safe
	// mode, the handler is dropped and OnClose is not called.
	OnClose(err error)
}

// Factory produces one Inbound per request. It is deliberately a bare
// function type, not an interface with a Create method: spec.md keeps the
// handler-factory registry out of the core's scope entirely, so the core
// only ever needs "a function that makes a handler".
type Factory func() Inbound

// Lookup resolves a request to a Factory, mirroring spec.md §6's
// "factory(request) -> optional handler factory" server-context method.
type Lookup func(req *message.Request) (Factory, bool)
