// Package stockreply provides the two pure functions spec.md §6 names as
// external collaborators: For (renders a canned response for a status
// code) and ToBuffers (formats a response and body into wire-ready byte
// ranges for the outbound writer). Neither touches a socket or any
// connection state — both are safe to call from any goroutine and produce
// no side effects, which is exactly what lets the connection core treat
// them as a black box.
package stockreply

import (
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/loomhttp/loom/http/status"
	"github.com/loomhttp/loom/message"
)

// For renders the default, plain-text canned response for a status code:
// "<reason phrase>\n" as the body, Content-Type: text/plain.
func For(code status.Code) (*message.Response, []byte) {
	body := []byte(status.Text(code) + "\n")

	resp := message.NewResponse().WithCode(code)
	resp.Headers.Set("Content-Type", "text/plain; charset=utf-8")
	resp.Headers.Set("Content-Length", strconv.Itoa(len(body)))

	return resp, body
}

// jsonError is the wire shape of the JSON stock reply body.
type jsonError struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// ForJSON renders the same canned response as For, but with a JSON body,
// using json-iterator/go for the encode (a kept teacher dependency,
// exercised here rather than left unwired).
func ForJSON(code status.Code) (*message.Response, []byte) {
	body, err := jsoniter.Marshal(jsonError{Error: status.Text(code), Code: int(code)})
	if err != nil {
		// jsoniter only fails to marshal our own fixed struct if something
		// is fundamentally broken; fall back to the always-correct plain
		// form rather than propagate.
		return For(code)
	}
	body = append(body, '\n')

	resp := message.NewResponse().WithCode(code)
	resp.Headers.Set("Content-Type", "application/json; charset=utf-8")
	resp.Headers.Set("Content-Length", strconv.Itoa(len(body)))

	return resp, body
}

// Negotiate picks between For and ForJSON based on the request's Accept
// header, so a client that asked for application/json gets a
// machine-readable error body instead of the human-oriented default —
// content-negotiated in place of thevoid's single fixed canned body per
// status (see SPEC_FULL.md §9).
func Negotiate(req *message.Request, code status.Code) (*message.Response, []byte) {
	if req != nil {
		if accept, ok := req.Headers.Get("Accept"); ok && strings.Contains(strings.ToLower(accept), "application/json") {
			return ForJSON(code)
		}
	}

	return For(code)
}

// ToBuffers formats resp's status line and headers into one buffer,
// followed by body as a second buffer, ready to be handed to the outbound
// writer as an ordered list of byte ranges. It never mutates resp or body.
func ToBuffers(proto message.Proto, resp *message.Response, body []byte) [][]byte {
	var head strings.Builder
	head.Grow(128)

	head.WriteString(proto.String())
	head.WriteByte(' ')
	head.WriteString(strconv.Itoa(int(resp.Code)))
	head.WriteByte(' ')
	head.WriteString(status.Text(resp.Code))
	head.WriteString("\r\n")

	it := resp.Headers.Iter()
	for {
		pair, ok := it.Next()
		if !ok {
			break
		}
		head.WriteString(pair.Key)
		head.WriteString(": ")
		head.WriteString(pair.Value)
		head.WriteString("\r\n")
	}
	head.WriteString("\r\n")

	headBytes := []byte(head.String())
	if len(body) == 0 {
		return [][]byte{headBytes}
	}

	return [][]byte{headBytes, body}
}
