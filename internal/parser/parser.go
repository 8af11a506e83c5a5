// Package parser defines the contract the connection core uses to talk to
// an incremental HTTP request-line-and-headers parser. Per spec.md §6, the
// parser itself is a black box to the core: the core only depends on this
// interface, never on a concrete implementation.
package parser

import "github.com/loomhttp/loom/message"

// Result is the tri-state outcome of a single Parse call, matching
// spec.md's boost::tribool contract: Complete ("true"), Invalid ("false")
// and Pending ("indeterminate").
type Result uint8

const (
	// Pending means more bytes are needed before headers are complete.
	Pending Result = iota
	// Complete means req has been fully populated from the request line and
	// headers.
	Complete
	// Invalid means the bytes seen so far cannot be a valid request.
	Invalid
)

// Parser incrementally parses one request's status line and headers out of
// successive byte slices. A single Parser instance is reused for every
// request in a keep-alive connection; Reset prepares it for the next one.
type Parser interface {
	// Parse consumes as much of data as forms a well-formed prefix of a
	// request line and headers, populating req as it goes. It returns how
	// many bytes of data were consumed (n <= len(data)) and the outcome.
	// Bytes beyond n are unconsumed and must be re-offered (as the head of
	// the next data slice, e.g. the leftover body bytes of a pipelined
	// buffer) once Complete/Invalid is returned.
	Parse(req *message.Request, data []byte) (n int, result Result, err error)

	// Reset prepares the parser to parse a new request, discarding any
	// partial state from the previous one.
	Reset()
}
