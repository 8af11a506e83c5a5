package conn

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomhttp/loom/handler"
	"github.com/loomhttp/loom/http/status"
	"github.com/loomhttp/loom/message"
	"github.com/loomhttp/loom/router"
	"github.com/loomhttp/loom/server"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// okHandler replies 200 with a fixed body as soon as headers arrive,
// regardless of any body bytes that follow.
type okHandler struct {
	reply handler.Reply
	body  string
}

func (h *okHandler) Initialize(reply handler.Reply) { h.reply = reply }

func (h *okHandler) OnHeaders(req *message.Request) {
	resp := message.NewResponse().WithCode(status.OK)
	resp.Headers.Set("Content-Length", itoa(len(h.body)))
	h.reply.SendHeaders(resp, []byte(h.body), nil)
}

func (h *okHandler) OnData(chunk []byte) int { return len(chunk) }
func (h *okHandler) OnClose(error)           {}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func newTestContext(t *testing.T, lookup handler.Lookup) *server.Context {
	t.Helper()
	return &server.Context{
		Logger:         testLogger(),
		SafeMode:       true,
		Lookup:         lookup,
		ReadBufferSize: 4096,
	}
}

func runConnection(t *testing.T, ctx *server.Context) (client net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	c := New(serverSide, ctx)
	go c.Serve()
	t.Cleanup(func() { _ = clientSide.Close() })
	return clientSide
}

func TestConnectionRespondsToSimpleGET(t *testing.T) {
	table := router.New()
	table.Handle("GET", "/", func() handler.Inbound { return &okHandler{body: "hi"} })

	client := runConnection(t, newTestContext(t, table.Lookup))

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	// The status line and the body are separate writes on a net.Pipe, so
	// read until the server closes the connection (Connection: close).
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := io.ReadAll(client)
	require.NoError(t, err)
	require.Contains(t, string(resp), "200")
	require.Contains(t, string(resp), "hi")
}

func TestConnectionReturns404ForUnknownRoute(t *testing.T) {
	table := router.New()
	client := runConnection(t, newTestContext(t, table.Lookup))

	_, err := client.Write([]byte("GET /missing HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "404")
}

func TestConnectionRejectsMalformedRequestLine(t *testing.T) {
	table := router.New()
	client := runConnection(t, newTestContext(t, table.Lookup))

	_, err := client.Write([]byte("GET / BADPROTO\r\n\r\n"))
	require.NoError(t, err)

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "400")
}

// backpressureHandler consumes one byte less than it is offered on its
// first OnData call, forcing the core to park the remainder until WantMore
// is called explicitly.
type backpressureHandler struct {
	reply      handler.Reply
	firstChunk chan struct{}

	mu    sync.Mutex
	calls [][]byte
}

func (h *backpressureHandler) Initialize(reply handler.Reply) { h.reply = reply }
func (h *backpressureHandler) OnHeaders(*message.Request)     {}

func (h *backpressureHandler) OnData(chunk []byte) int {
	h.mu.Lock()
	h.calls = append(h.calls, append([]byte(nil), chunk...))
	n := len(h.calls)
	h.mu.Unlock()

	if n == 1 {
		close(h.firstChunk)
		if len(chunk) > 1 {
			return len(chunk) - 1
		}
	}
	return len(chunk)
}

func (h *backpressureHandler) OnClose(error) {
	resp := message.NewResponse().WithCode(status.OK)
	resp.Headers.Set("Content-Length", "0")
	h.reply.SendHeaders(resp, nil, nil)
}

func (h *backpressureHandler) snapshot() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.calls...)
}

func TestConnectionBackpressureResumesOnWantMore(t *testing.T) {
	h := &backpressureHandler{firstChunk: make(chan struct{})}
	table := router.New()
	table.Handle("POST", "/echo", func() handler.Inbound { return h })

	client := runConnection(t, newTestContext(t, table.Lookup))

	_, err := client.Write([]byte("POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nConnection: close\r\n\r\nhello"))
	require.NoError(t, err)

	select {
	case <-h.firstChunk:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the first chunk")
	}

	calls := h.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, "hello", string(calls[0]))

	// Nothing should reach the wire until WantMore is called: the body
	// hasn't finished being handed off yet.
	_ = client.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 16)
	_, err = client.Read(buf)
	require.Error(t, err)

	h.reply.WantMore()

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "200")

	calls = h.snapshot()
	require.Len(t, calls, 2)
	require.Equal(t, "o", string(calls[1]))
}

// blockingHandler waits on proceed before sending its response, which lets
// a test close the peer out from under it and force the eventual write to
// fail instead of complete.
type blockingHandler struct {
	reply    handler.Reply
	proceed  chan struct{}
	doneErr  chan error
	closeErr chan error
}

func (h *blockingHandler) Initialize(reply handler.Reply) { h.reply = reply }

func (h *blockingHandler) OnHeaders(*message.Request) {
	<-h.proceed
	resp := message.NewResponse().WithCode(status.OK)
	resp.Headers.Set("Content-Length", "2")
	h.reply.SendHeaders(resp, []byte("hi"), func(err error) { h.doneErr <- err })
}

func (h *blockingHandler) OnData([]byte) int { return 0 }
func (h *blockingHandler) OnClose(err error) { h.closeErr <- err }

func TestConnectionWriteErrorMidResponseReportsPeerAbort(t *testing.T) {
	h := &blockingHandler{
		proceed:  make(chan struct{}),
		doneErr:  make(chan error, 1),
		closeErr: make(chan error, 1),
	}
	table := router.New()
	table.Handle("GET", "/", func() handler.Inbound { return h })

	client := runConnection(t, newTestContext(t, table.Lookup))

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	// Close the peer before letting the handler send its response, so the
	// write that follows fails instead of completing.
	require.NoError(t, client.Close())
	close(h.proceed)

	select {
	case err := <-h.doneErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("SendHeaders's done callback never fired")
	}

	select {
	case err := <-h.closeErr:
		require.Error(t, err)
		var se status.Error
		require.ErrorAs(t, err, &se)
		require.Equal(t, status.StatusPeerAbort, se.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose never fired after the write error")
	}
}

// panicHandler always panics in OnHeaders, exercising the safe-mode
// recovery path.
type panicHandler struct{}

func (panicHandler) Initialize(handler.Reply)   {}
func (panicHandler) OnHeaders(*message.Request) { panic("boom") }
func (panicHandler) OnData([]byte) int          { return 0 }
func (panicHandler) OnClose(error)              {}

// syncBuffer is a bytes.Buffer safe to write from one goroutine and read
// from another, for asserting on slog output without a race.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestConnectionHandlerPanicInSafeModeShutsDownWithoutReply(t *testing.T) {
	var logs syncBuffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	table := router.New()
	table.Handle("GET", "/", func() handler.Inbound { return panicHandler{} })

	ctx := &server.Context{
		Logger:         logger,
		SafeMode:       true,
		Lookup:         table.Lookup,
		ReadBufferSize: 4096,
	}
	client := runConnection(t, ctx)

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := client.Read(buf)
	require.Equal(t, 0, n, "no reply bytes should reach the client after a handler panic")
	require.Error(t, err)

	require.Contains(t, logs.String(), "598")
}

func TestStateFlagsComposeIndependently(t *testing.T) {
	var s stateFlags
	s.set(readHeaders)
	s.set(waitingForFirstData)
	require.True(t, s.has(readHeaders))
	require.True(t, s.has(waitingForFirstData))
	require.False(t, s.processingRequest())

	s.clear(readHeaders)
	s.clear(waitingForFirstData)
	require.True(t, s.processingRequest())
}
