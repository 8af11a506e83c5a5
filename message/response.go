package message

import "github.com/loomhttp/loom/http/status"

// Response is the status line plus headers a handler (or a stock reply)
// wants written. Body bytes are carried alongside a Response, never inside
// it — spec.md's send_headers takes the response and an optional body
// buffer as separate arguments, and this mirrors that split.
type Response struct {
	Code    status.Code
	Headers *Headers
}

// NewResponse returns a 200 OK response with room for a handful of headers,
// matching the size a typical handler sets.
func NewResponse() *Response {
	return &Response{
		Code:    status.OK,
		Headers: NewHeaders(8),
	}
}

// WithCode sets the status code and returns the response for chaining.
func (r *Response) WithCode(code status.Code) *Response {
	r.Code = code
	return r
}

// WithHeader sets a single header and returns the response for chaining.
func (r *Response) WithHeader(key, value string) *Response {
	r.Headers.Set(key, value)
	return r
}
