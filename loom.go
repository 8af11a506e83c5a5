// Package loom is the top-level application builder, adapted from
// indigo-web-indigo's App (indi.go): a fluent Listen/TLS/Serve surface over
// one or more transport/tcp.Server instances, each dispatching accepted
// connections into internal/conn.Connection.
package loom

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/loomhttp/loom/handler"
	"github.com/loomhttp/loom/internal/conn"
	"github.com/loomhttp/loom/server"
	"github.com/loomhttp/loom/transport/tcp"
)

// ListenerConstructor builds a net.Listener for a given network/address,
// the seam indigo-web-indigo uses to slot in tls.Listen or an autocert
// listener without complicating the plain-TCP path.
type ListenerConstructor func(network, addr string) (net.Listener, error)

type listenerSpec struct {
	addr        string
	constructor ListenerConstructor
}

// App wires together a handler.Lookup, a server.Context, and any number of
// listeners into a single Serve call.
type App struct {
	ctx       *server.Context
	listeners []listenerSpec
	servers   []*tcp.Server

	onStart func()
	onStop  func()
}

// New returns an App using ctx for every connection it accepts. Pass
// server.Default() to start from the conservative defaults.
func New(ctx *server.Context) *App {
	if ctx.Logger == nil {
		ctx.Logger = slog.Default()
	}
	return &App{ctx: ctx}
}

// Tune replaces the app's Lookup, the handler-resolution seam spec.md keeps
// outside the core.
func (a *App) Tune(lookup handler.Lookup) *App {
	a.ctx.Lookup = lookup
	return a
}

// NotifyOnStart registers a callback fired once every listener is
// accepting connections.
func (a *App) NotifyOnStart(cb func()) *App {
	a.onStart = cb
	return a
}

// NotifyOnStop registers a callback fired once every listener has stopped
// and every connection has finished.
func (a *App) NotifyOnStop(cb func()) *App {
	a.onStop = cb
	return a
}

// Listen adds a plain TCP listener at addr.
func (a *App) Listen(addr string) *App {
	a.listeners = append(a.listeners, listenerSpec{addr: addr, constructor: net.Listen})
	return a
}

// TLS adds a listener at addr built by constructor, the generic seam for
// any encrypted transport.
func (a *App) TLS(addr string, constructor ListenerConstructor) *App {
	a.listeners = append(a.listeners, listenerSpec{addr: addr, constructor: constructor})
	return a
}

// HTTPS adds a TLS listener using a certificate and key loaded from disk.
func (a *App) HTTPS(addr, certFile, keyFile string) *App {
	return a.TLS(addr, func(network, laddr string) (net.Listener, error) {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, err
		}
		return tls.Listen(network, laddr, &tls.Config{Certificates: []tls.Certificate{cert}})
	})
}

// AutoHTTPS adds a TLS listener that provisions certificates automatically
// via ACME for the given domains, or a self-signed certificate when addr
// resolves to localhost.
func (a *App) AutoHTTPS(addr string, domains ...string) *App {
	if isLocalhost(addr) {
		certFile, keyFile, err := generateSelfSignedCert()
		if err != nil {
			a.ctx.Logger.Warn("AutoHTTPS: could not generate self-signed certificate, disabling TLS", "error", err)
			return a
		}
		return a.HTTPS(addr, certFile, keyFile)
	}
	return a.TLS(addr, autoTLSListener(domains...))
}

// Serve starts every registered listener and blocks until all of them stop,
// either from an error or from a Shutdown/Close call.
func (a *App) Serve() error {
	if len(a.listeners) == 0 {
		a.Listen(":8080")
	}

	a.servers = make([]*tcp.Server, len(a.listeners))
	for i, spec := range a.listeners {
		ln, err := spec.constructor("tcp", spec.addr)
		if err != nil {
			return err
		}
		a.servers[i] = tcp.New(ln, a.onAccept)
	}

	var g errgroup.Group
	for _, s := range a.servers {
		s := s
		g.Go(s.Serve)
	}

	if a.onStart != nil {
		a.onStart()
	}

	err := g.Wait()
	if a.onStop != nil {
		a.onStop()
	}
	return err
}

// GracefulStop stops every listener from accepting new connections and
// waits for in-flight connections to finish, bounded by ctx.
func (a *App) GracefulStop(ctx context.Context) error {
	var g errgroup.Group
	for _, s := range a.servers {
		s := s
		g.Go(func() error { return s.Shutdown(ctx) })
	}
	return g.Wait()
}

// Stop closes every listener and every open connection immediately.
func (a *App) Stop() error {
	var g errgroup.Group
	for _, s := range a.servers {
		s := s
		g.Go(s.Close)
	}
	return g.Wait()
}

func (a *App) onAccept(sc net.Conn) {
	c := conn.New(sc, a.ctx)
	c.Serve()
}

func isLocalhost(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return host == "" || host == "localhost" || host == "127.0.0.1" || host == "::1"
}
