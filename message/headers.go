package message

import "github.com/indigo-web/iter"

// Pair is a single header key/value, kept in insertion order.
type Pair struct {
	Key, Value string
}

// Headers is an ordered multi-map of header fields. Order is preserved
// because HTTP allows repeated headers and some callers (access logging,
// response serialization) care about the order they were set in.
type Headers struct {
	pairs []Pair
}

// NewHeaders returns an empty Headers with room for n pairs.
func NewHeaders(n int) *Headers {
	return &Headers{pairs: make([]Pair, 0, n)}
}

// Add appends a new key/value pair, keeping any existing values for the
// same key.
func (h *Headers) Add(key, value string) {
	h.pairs = append(h.pairs, Pair{Key: key, Value: value})
}

// Set removes any existing values for key and sets a single new one.
func (h *Headers) Set(key, value string) {
	h.Del(key)
	h.Add(key, value)
}

// Get returns the first value for key, and whether it was present.
func (h *Headers) Get(key string) (string, bool) {
	for _, p := range h.pairs {
		if equalFold(p.Key, key) {
			return p.Value, true
		}
	}

	return "", false
}

// Values returns all values for key, in insertion order.
func (h *Headers) Values(key string) []string {
	var values []string
	for _, p := range h.pairs {
		if equalFold(p.Key, key) {
			values = append(values, p.Value)
		}
	}

	return values
}

// Has reports whether key is present at all.
func (h *Headers) Has(key string) bool {
	_, ok := h.Get(key)
	return ok
}

// Del removes every pair whose key matches.
func (h *Headers) Del(key string) {
	out := h.pairs[:0]
	for _, p := range h.pairs {
		if !equalFold(p.Key, key) {
			out = append(out, p)
		}
	}
	h.pairs = out
}

// Len returns the number of stored pairs (not unique keys).
func (h *Headers) Len() int {
	return len(h.pairs)
}

// Clear empties the headers while keeping the underlying storage, so the
// request/response can be reused across a keep-alive connection without
// reallocating.
func (h *Headers) Clear() {
	h.pairs = h.pairs[:0]
}

// Iter returns an ordered iterator over the stored pairs, used by the
// serializer when writing headers to the wire and by callers that want to
// walk headers without an allocation per call.
func (h *Headers) Iter() iter.Iterator[Pair] {
	return iter.Slice(h.pairs)
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}

	return true
}
