package http1

import (
	"io"

	"github.com/indigo-web/chunkedbody"
)

// ChunkedDecoder turns raw wire bytes for a chunked-transfer-encoded body
// into plain body bytes, delegating the actual chunk framing to
// github.com/indigo-web/chunkedbody (a teacher dependency). It is used by
// the connection core in place of the fixed-length countdown when a
// request's Content-Length is message.ChunkedContentLength.
type ChunkedDecoder struct {
	parser *chunkedbody.Parser
	done   bool
}

// NewChunkedDecoder returns a decoder bounded by maxChunkSize.
func NewChunkedDecoder(maxChunkSize uint) *ChunkedDecoder {
	settings := chunkedbody.DefaultSettings()
	settings.MaxChunkSize = maxChunkSize

	return &ChunkedDecoder{parser: chunkedbody.NewParser(settings)}
}

// Reset prepares the decoder for a new chunked body on the same connection.
func (d *ChunkedDecoder) Reset() {
	d.done = false
}

// Decode consumes raw as far as a complete chunk boundary allows, returning
// the dechunked body bytes ready for the handler, any raw bytes left over
// (belonging to a trailer or the next pipelined request), and whether the
// terminating chunk has been seen.
func (d *ChunkedDecoder) Decode(raw []byte) (body, extra []byte, done bool, err error) {
	if d.done {
		return nil, raw, true, nil
	}

	chunk, extra, err := d.parser.Parse(raw, false)
	switch err {
	case nil:
		return chunk, extra, false, nil
	case io.EOF:
		d.done = true
		return chunk, extra, true, nil
	default:
		return nil, nil, false, err
	}
}
