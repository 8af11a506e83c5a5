// Package tcp is the accept loop, adapted from
// indigo-web-indigo/internal/server/tcp.Server: it tracks every accepted
// net.Conn so it can offer both a hard Close (drop everything now) and a
// graceful Shutdown (stop accepting, let in-flight connections finish on
// their own), the pause-then-stop split SPEC_FULL.md adds on top of the
// teacher's single GracefulShutdown/Stop pair.
package tcp

import (
	"context"
	"net"
	"sync"
)

// OnAccept is invoked once per accepted connection, on its own goroutine.
type OnAccept func(net.Conn)

// Server owns a net.Listener and every connection it has handed to OnAccept
// that hasn't finished yet.
type Server struct {
	ln       net.Listener
	onAccept OnAccept

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	shutdown bool
}

// New wraps ln, dispatching each accepted connection to onAccept.
func New(ln net.Listener, onAccept OnAccept) *Server {
	return &Server{
		ln:       ln,
		onAccept: onAccept,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until the listener is closed, returning nil if
// that closure came from Shutdown or Close and the underlying error
// otherwise.
func (s *Server) Serve() error {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				return nil
			}
			return err
		}

		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(c)
	}
}

func (s *Server) handle(c net.Conn) {
	defer s.wg.Done()
	s.onAccept(c)

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Close stops accepting and immediately closes every tracked connection,
// the teacher's Stop behavior.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	err := s.ln.Close()
	for _, c := range conns {
		_ = c.Close()
	}
	s.wg.Wait()
	return err
}

// Shutdown stops accepting new connections and waits for the currently
// open ones to finish on their own, up to ctx's deadline. If ctx is
// canceled or times out first, the remaining connections are force-closed,
// matching the teacher's GracefulShutdown but bounded rather than
// unbounded, since spec.md's backpressure design means a stalled handler
// could otherwise hang shutdown forever.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if err := s.ln.Close(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return s.Close()
	}
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// ListenTCP is a convenience constructor mirroring
// indigo-web-indigo's own net.Listen("tcp", addr) call sites.
func ListenTCP(addr string, onAccept OnAccept) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return New(ln, onAccept), nil
}
