package message

// Request is the parsed request line and headers. Everything below the
// headers (the body) is not buffered here — the connection core streams
// body bytes straight to the handler, per spec.md's Non-goals.
type Request struct {
	Method  string
	Path    string
	Query   string
	Proto   Proto
	Headers *Headers

	// ContentLength is the parsed value of the Content-Length header, or 0
	// if absent. Chunked bodies are represented by ContentLength == -1 (an
	// unknown length known only to end with a terminating chunk).
	ContentLength int64

	// KeepAlive is derived from the Connection header and the protocol
	// version's default.
	KeepAlive bool

	// LocalAddr/RemoteAddr are filled in by the connection core from the
	// socket, not by the parser.
	LocalAddr, RemoteAddr string
}

// NewRequest returns a Request ready to be reused across a keep-alive
// connection's requests via Reset.
func NewRequest() *Request {
	return &Request{Headers: NewHeaders(16)}
}

// Reset clears a Request for reuse by the connection core when a
// connection is kept alive, without discarding the Headers' backing storage.
func (r *Request) Reset() {
	r.Method = ""
	r.Path = ""
	r.Query = ""
	r.Proto = Proto{}
	r.Headers.Clear()
	r.ContentLength = 0
	r.KeepAlive = false
}

const ChunkedContentLength int64 = -1
