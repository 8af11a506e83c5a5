// Package router is a minimal method+path registry implementing
// handler.Lookup. spec.md deliberately keeps handler resolution out of the
// connection core's scope, so this package is intentionally small: one
// exact-match table plus one trailing-wildcard segment per route, not a
// general-purpose router.
package router

import (
	"strings"
	"sync"

	"github.com/loomhttp/loom/handler"
	"github.com/loomhttp/loom/message"
)

type route struct {
	method  string
	prefix  string // path up to and including a trailing "*", or the exact path
	factory handler.Factory
}

// Table is a handler.Lookup implementation safe for concurrent registration
// and lookup.
type Table struct {
	mu     sync.RWMutex
	routes []route
}

// New returns an empty Table.
func New() *Table {
	return &Table{}
}

// Handle registers factory for method and path. A path ending in "/*"
// matches any sub-path with that prefix; anything else must match exactly.
func (t *Table) Handle(method, path string, factory handler.Factory) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = append(t.routes, route{method: method, prefix: path, factory: factory})
}

// Lookup implements handler.Lookup.
func (t *Table) Lookup(req *message.Request) (handler.Factory, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, r := range t.routes {
		if r.method != "" && r.method != req.Method {
			continue
		}
		if matches(r.prefix, req.Path) {
			return r.factory, true
		}
	}
	return nil, false
}

func matches(pattern, path string) bool {
	wildcard := strings.HasSuffix(pattern, "/*")
	if !wildcard {
		return pattern == path
	}
	prefix := pattern[:len(pattern)-1] // keep the trailing "/"
	return strings.HasPrefix(path, prefix)
}
