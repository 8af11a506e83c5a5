// Package http1 implements the incremental HTTP/1.1 request-line-and-headers
// parser consumed by the connection core through the parser.Parser
// interface. It is a from-scratch, byte-at-a-time state machine, modeled on
// the state naming and resumability of
// indigo-web-indigo/internal/parser/http1/requestsparser.go, but kept
// deliberately small since spec.md treats the parser as an external,
// black-box collaborator: the core only needs *a* correct implementation of
// the interface, not this one specifically.
package http1

import (
	"strconv"
	"strings"

	"github.com/loomhttp/loom/http/status"
	"github.com/loomhttp/loom/internal/parser"
	"github.com/loomhttp/loom/message"
)

// Limits bounds the resources a single request line and header section may
// consume, guarding against a peer trickling an unbounded line.
type Limits struct {
	MaxLineLength   int
	MaxHeaderLines  int
	MaxHeadersBytes int
}

// DefaultLimits mirrors the sort of conservative defaults
// indigo-web-indigo/config ships for its own header buffers.
func DefaultLimits() Limits {
	return Limits{
		MaxLineLength:   8 * 1024,
		MaxHeaderLines:  128,
		MaxHeadersBytes: 64 * 1024,
	}
}

type httpParser struct {
	limits Limits
	state  state

	method, path, query, proto []byte
	key, val                   []byte

	headersBytes int
	headersLines int
}

// New returns a Parser ready to parse the first request of a connection.
func New(limits Limits) parser.Parser {
	p := &httpParser{limits: limits}
	p.Reset()
	return p
}

func (p *httpParser) Reset() {
	p.state = sMethod
	p.method = p.method[:0]
	p.path = p.path[:0]
	p.query = p.query[:0]
	p.proto = p.proto[:0]
	p.key = p.key[:0]
	p.val = p.val[:0]
	p.headersBytes = 0
	p.headersLines = 0
}

// Parse feeds data into the state machine byte by byte, returning how many
// bytes were consumed and the outcome. It never blocks and never looks
// beyond len(data); on Pending, the caller is expected to supply more bytes
// in a later call, continuing exactly where this one left off.
func (p *httpParser) Parse(req *message.Request, data []byte) (int, parser.Result, error) {
	i := 0

	for i < len(data) {
		c := data[i]

		switch p.state {
		case sMethod:
			if c == ' ' {
				if len(p.method) == 0 {
					return i + 1, parser.Invalid, status.ErrBadRequest
				}
				req.Method = string(p.method)
				p.state = sPath
				i++
				continue
			}
			if err := p.appendLine(&p.method, c); err != nil {
				return i + 1, parser.Invalid, err
			}

		case sPath:
			switch c {
			case ' ':
				req.Path = string(p.path)
				p.state = sProto
			case '?':
				req.Path = string(p.path)
				p.state = sQuery
			default:
				if err := p.appendLine(&p.path, c); err != nil {
					return i + 1, parser.Invalid, err
				}
			}
			i++
			continue

		case sQuery:
			if c == ' ' {
				req.Query = string(p.query)
				p.state = sProto
				i++
				continue
			}
			if err := p.appendLine(&p.query, c); err != nil {
				return i + 1, parser.Invalid, err
			}

		case sProto:
			if c == '\r' {
				proto, err := parseProto(p.proto)
				if err != nil {
					return i + 1, parser.Invalid, err
				}
				req.Proto = proto
				p.state = sProtoLF
				i++
				continue
			}
			if err := p.appendLine(&p.proto, c); err != nil {
				return i + 1, parser.Invalid, err
			}

		case sProtoLF:
			if c != '\n' {
				return i + 1, parser.Invalid, status.ErrBadRequest
			}
			p.state = sHeaderKey
			i++
			continue

		case sHeaderKey:
			if c == '\r' {
				p.state = sHeadersEndLF
				i++
				continue
			}
			if c == ':' {
				if len(p.key) == 0 {
					return i + 1, parser.Invalid, status.ErrBadRequest
				}
				p.state = sHeaderColon
				i++
				continue
			}
			if err := p.appendHeader(&p.key, c); err != nil {
				return i + 1, parser.Invalid, err
			}

		case sHeaderColon:
			if c == ' ' || c == '\t' {
				i++
				continue
			}
			p.state = sHeaderValueLeading
			continue

		case sHeaderValueLeading:
			p.state = sHeaderValue
			continue

		case sHeaderValue:
			if c == '\r' {
				p.finalizeHeader(req)
				p.state = sHeaderValueLF
				i++
				continue
			}
			if err := p.appendHeader(&p.val, c); err != nil {
				return i + 1, parser.Invalid, err
			}

		case sHeaderValueLF:
			if c != '\n' {
				return i + 1, parser.Invalid, status.ErrBadRequest
			}
			p.headersLines++
			if p.headersLines > p.limits.MaxHeaderLines {
				return i + 1, parser.Invalid, status.ErrBadRequest
			}
			p.state = sHeaderKey
			i++
			continue

		case sHeadersEndLF:
			if c != '\n' {
				return i + 1, parser.Invalid, status.ErrBadRequest
			}
			finalizeRequest(req)
			return i + 1, parser.Complete, nil
		}

		i++
	}

	return i, parser.Pending, nil
}

func (p *httpParser) appendLine(dst *[]byte, c byte) error {
	if len(*dst) >= p.limits.MaxLineLength {
		return status.ErrBadRequest
	}
	*dst = append(*dst, c)
	return nil
}

func (p *httpParser) appendHeader(dst *[]byte, c byte) error {
	if len(*dst) >= p.limits.MaxLineLength {
		return status.ErrBadRequest
	}
	p.headersBytes++
	if p.headersBytes > p.limits.MaxHeadersBytes {
		return status.ErrBadRequest
	}
	*dst = append(*dst, c)
	return nil
}

func (p *httpParser) finalizeHeader(req *message.Request) {
	req.Headers.Add(string(p.key), strings.TrimRight(string(p.val), " \t"))
	p.key = p.key[:0]
	p.val = p.val[:0]
}

func parseProto(b []byte) (message.Proto, error) {
	s := string(b)
	switch s {
	case "HTTP/1.1":
		return message.HTTP11, nil
	case "HTTP/1.0":
		return message.HTTP10, nil
	default:
		if strings.HasPrefix(s, "HTTP/") {
			return message.Proto{}, status.ErrUnsupportedProtocol
		}
		return message.Proto{}, status.ErrBadRequest
	}
}

// finalizeRequest derives ContentLength and KeepAlive from the now-complete
// header set, exactly the fields spec.md §4.1 says are extracted once
// headers are complete.
func finalizeRequest(req *message.Request) {
	req.ContentLength = 0

	if te, ok := req.Headers.Get("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(te), "chunked") {
		req.ContentLength = message.ChunkedContentLength
	} else if cl, ok := req.Headers.Get("Content-Length"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64); err == nil && n >= 0 {
			req.ContentLength = n
		}
	}

	req.KeepAlive = req.Proto.IsKeepAliveDefault()
	if conn, ok := req.Headers.Get("Connection"); ok {
		switch strings.ToLower(strings.TrimSpace(conn)) {
		case "close":
			req.KeepAlive = false
		case "keep-alive":
			req.KeepAlive = true
		}
	}
}
