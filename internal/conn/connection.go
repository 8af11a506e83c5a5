// Package conn implements the per-connection server core: the state
// machine, read and write paths, handler invocation contract, and safe-mode
// containment described by spec.md. A Connection owns exactly one net.Conn
// and is driven by a single control-loop goroutine; every other goroutine
// it spawns (one per outstanding read, one per outstanding write) only
// ever talks back to that loop by posting a closure to its mailbox, which
// is this package's translation of the original's io_service::post.
package conn

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/dchest/uniuri"

	"github.com/loomhttp/loom/accesslog"
	"github.com/loomhttp/loom/handler"
	"github.com/loomhttp/loom/http/status"
	"github.com/loomhttp/loom/internal/parser"
	"github.com/loomhttp/loom/internal/parser/http1"
	"github.com/loomhttp/loom/message"
	"github.com/loomhttp/loom/server"
	"github.com/loomhttp/loom/stockreply"
)

// ReadTimeout bounds how long a connection may sit idle mid-request before
// it is dropped as abandoned. Between requests on a keep-alive connection a
// longer idle allowance applies (see idleTimeout).
const ReadTimeout = 30 * time.Second

// idleTimeout is how long a keep-alive connection may wait for the next
// request's first byte before the core closes it.
const idleTimeout = 90 * time.Second

// Connection is one accepted socket, carried through as many pipelined
// keep-alive requests as the peer and handler allow.
type Connection struct {
	id  string
	sc  net.Conn
	ctx *server.Context

	safeMode bool

	buf               []byte
	unprocessedBegin  int
	unprocessedEnd    int

	state  stateFlags
	prs    parser.Parser
	req    *message.Request
	chunks *http1.ChunkedDecoder

	hdl       handler.Inbound
	remaining int64 // bytes of body still owed to the handler; -1 while chunked and not yet done
	isChunked bool
	pendingChunkedRest []byte

	out outbound

	keepAlive bool
	atRead    bool
	closing   bool
	closed    bool
	closeErr  error

	mailbox chan func()
	inLoop  atomic.Bool

	access accesslog.Entry
}

// New constructs a Connection ready to Serve sc. The caller must call Serve
// on its own goroutine; New does no I/O.
func New(sc net.Conn, ctx *server.Context) *Connection {
	bufSize := ctx.ReadBufferSize
	if bufSize <= 0 {
		bufSize = 4096
	}

	c := &Connection{
		id:       uniuri.New(),
		sc:       sc,
		ctx:      ctx,
		safeMode: ctx.SafeMode,
		buf:      make([]byte, bufSize),
		state:    initialState(),
		prs:      http1.New(http1.DefaultLimits()),
		req:      message.NewRequest(),
		mailbox:  make(chan func(), 8),
	}
	c.access.ConnID = c.id
	c.access.RemoteIP = sc.RemoteAddr().String()

	return c
}

// Serve runs the connection's control loop until it closes, either because
// the peer went away, a non-recoverable I/O error occurred, or the
// listener asked it to stop. It blocks until then.
func (c *Connection) Serve() {
	defer c.teardown()

	if c.ctx.Metrics != nil {
		c.ctx.Metrics.ConnectionOpened()
	}

	c.scheduleRead()

	for fn := range c.mailbox {
		c.inLoop.Store(true)
		fn()
		c.inLoop.Store(false)
		if c.closed {
			return
		}
	}
}

// dispatch runs fn immediately if the caller is already on the control
// loop (the common case: a handler calling Reply synchronously from inside
// one of its own Inbound methods), or posts it to the mailbox otherwise (a
// handler resuming from some other goroutine after an asynchronous
// operation finished). This is what lets Reply be safe to call from either
// place without every call paying the round-trip through the mailbox.
func (c *Connection) dispatch(fn func()) {
	if c.inLoop.Load() {
		fn()
		return
	}
	c.post(fn)
}

// Stop asks the connection to close as soon as it is safe to — posted
// through the mailbox like everything else, so it never races the control
// loop's own state transitions.
func (c *Connection) Stop() {
	c.post(func() {
		c.fail(nil)
	})
}

func (c *Connection) post(fn func()) {
	defer func() {
		// The mailbox is closed once the control loop has already torn
		// down; a late post (e.g. a write-completion racing Stop) is
		// simply dropped rather than panicking the caller's goroutine.
		recover()
	}()
	c.mailbox <- fn
}

// scheduleRead issues at most one outstanding read, per spec.md §4.2's
// invariant. It is always called from the control loop.
func (c *Connection) scheduleRead() {
	if c.atRead || c.closing {
		return
	}
	c.atRead = true

	deadline := ReadTimeout
	if c.state.has(waitingForFirstData) {
		deadline = idleTimeout
	}
	_ = c.sc.SetReadDeadline(time.Now().Add(deadline))

	if c.unprocessedBegin == c.unprocessedEnd {
		// Nothing buffered is still owed to the parser or handler; reclaim
		// the whole buffer instead of leaving the read window shrinking.
		c.unprocessedBegin = 0
		c.unprocessedEnd = 0
	} else if c.unprocessedEnd == len(c.buf) {
		// Buffer's tail is full but a partial line/chunk remains at the
		// front; slide it down to make room for more.
		c.compactBuffer()
	}

	readInto := c.buf[c.unprocessedEnd:]
	go func() {
		n, err := c.sc.Read(readInto)
		c.post(func() { c.onReadComplete(n, err) })
	}()
}

func (c *Connection) compactBuffer() {
	n := copy(c.buf, c.buf[c.unprocessedBegin:c.unprocessedEnd])
	c.unprocessedBegin = 0
	c.unprocessedEnd = n
}

func (c *Connection) onReadComplete(n int, err error) {
	c.atRead = false
	c.unprocessedEnd += n

	if n > 0 {
		c.state.clear(waitingForFirstData)
		c.access.BytesIn += int64(n)
	}

	if err != nil {
		c.onReadError(err)
		return
	}
	if n == 0 {
		c.fail(io.ErrUnexpectedEOF)
		return
	}

	c.process()
}

func (c *Connection) onReadError(err error) {
	if errors.Is(err, io.EOF) {
		// Peer closed cleanly. If we were between requests, that is
		// ordinary keep-alive teardown, not a failure worth reporting.
		if c.state.has(waitingForFirstData) {
			c.close(nil)
			return
		}
		c.fail(status.ErrCloseConnection)
		return
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		// A timeout is treated exactly like any other peer read error, not
		// as a request-timeout response: there is no request to respond to
		// by the time the read deadline fires.
		c.fail(status.NewError(status.StatusPeerAbort, "read timeout"))
		return
	}

	c.fail(status.NewError(status.StatusPeerAbort, err.Error()))
}

// process drains as much of the unprocessed buffer as the current state
// allows, feeding the parser while in readHeaders and the handler while in
// readData, looping until either the buffer is exhausted or the connection
// needs to wait on the handler (backpressure) or the network (more bytes).
// Draining one request's body is iterative; starting the next request after
// a keep-alive reset re-enters process once per request (resetForNextRequest).
func (c *Connection) process() {
	for {
		if c.closing {
			return
		}

		if c.state.has(readHeaders) {
			if !c.processHeaders() {
				return
			}
			continue
		}

		if c.state.has(readData) {
			progressed, done := c.processBody()
			if done {
				continue
			}
			if !progressed {
				return
			}
			continue
		}

		if c.state.processingRequest() {
			// Handler closed early; drain and discard whatever of the
			// body is still outstanding before the connection can be
			// reused, per requestProcessed's documented purpose.
			if !c.drainProcessed() {
				return
			}
			continue
		}

		return
	}
}

func (c *Connection) unprocessed() []byte {
	return c.buf[c.unprocessedBegin:c.unprocessedEnd]
}

// processHeaders feeds the unprocessed buffer to the parser. It returns
// true if it made progress and the caller should loop again.
func (c *Connection) processHeaders() bool {
	data := c.unprocessed()
	if len(data) == 0 {
		c.scheduleRead()
		return false
	}
	if c.access.StartedAt.IsZero() {
		// First byte of this request reaches the parser: start its timing.
		c.access.StartedAt = time.Now()
	}

	n, result, err := c.prs.Parse(c.req, data)
	c.unprocessedBegin += n

	switch result {
	case parser.Invalid:
		c.respondError(err)
		return false
	case parser.Pending:
		c.scheduleRead()
		return false
	case parser.Complete:
		c.beginRequest()
		return true
	}
	return false
}

// beginRequest transitions from headers to body (or straight to
// processingRequest for a bodyless request), and fires the handler's
// Initialize/OnHeaders pair.
func (c *Connection) beginRequest() {
	c.req.LocalAddr = c.sc.LocalAddr().String()
	c.req.RemoteAddr = c.sc.RemoteAddr().String()

	c.access.Method = c.req.Method
	c.access.Path = c.req.Path
	c.access.Proto = c.req.Proto.String()

	c.state.clear(readHeaders)

	factory, ok := c.resolveHandler()
	if !ok {
		c.respondError(status.ErrNotFound)
		return
	}

	c.hdl = factory()
	c.keepAlive = c.req.KeepAlive

	c.isChunked = c.req.ContentLength == message.ChunkedContentLength
	if c.isChunked {
		if c.chunks == nil {
			c.chunks = http1.NewChunkedDecoder(1 << 20)
		} else {
			c.chunks.Reset()
		}
		c.remaining = -1
	} else {
		c.remaining = c.req.ContentLength
	}

	if err := c.guard(func() { c.hdl.Initialize((*reply)(c)) }); err != nil {
		c.respondPanic(err)
		return
	}
	if c.closing {
		return
	}
	if err := c.guard(func() { c.hdl.OnHeaders(c.req) }); err != nil {
		c.respondPanic(err)
		return
	}
	if c.closing {
		return
	}

	if c.remaining == 0 {
		c.finishHandlerData()
		return
	}
	c.state.set(readData)
}

func (c *Connection) resolveHandler() (handler.Factory, bool) {
	if c.ctx.Lookup == nil {
		return nil, false
	}
	return c.ctx.Lookup(c.req)
}

// processBody delivers as much buffered body as the handler will take.
// progressed reports whether the caller should keep looping: it is false
// when the connection must wait for more bytes from the network or for the
// handler's WantMore after a partial consume; done reports the body (chunked or fixed-length) has been fully handed
// off to the handler, in which case the caller should loop back into
// process() to let the readData->processingRequest transition happen.
func (c *Connection) processBody() (progressed, done bool) {
	data := c.unprocessed()

	var chunk []byte
	var bodyComplete bool

	if c.isChunked {
		if len(data) == 0 {
			c.scheduleRead()
			return false, false
		}
		body, extra, complete, err := c.chunks.Decode(data)
		if err != nil {
			c.respondError(status.ErrBadRequest)
			return false, false
		}
		consumedRaw := len(data) - len(extra)
		c.unprocessedBegin += consumedRaw
		chunk = body
		bodyComplete = complete
	} else {
		want := c.remaining
		if int64(len(data)) < want {
			want = int64(len(data))
		}
		if want == 0 && c.remaining > 0 {
			c.scheduleRead()
			return false, false
		}
		chunk = data[:want]
		c.unprocessedBegin += int(want)
		c.remaining -= want
		bodyComplete = c.remaining == 0
	}

	if len(chunk) > 0 {
		consumed := 0
		if err := c.guard(func() { consumed = c.hdl.OnData(chunk) }); err != nil {
			c.respondPanic(err)
			return false, false
		}
		if c.closing {
			return false, false
		}
		if consumed < len(chunk) {
			// Backpressure: park the unconsumed remainder by rewinding
			// unprocessedBegin so it is re-delivered once WantMore fires.
			// For chunked bodies the parked remainder is already-dechunked
			// data, not raw wire bytes, so it cannot simply be rewound
			// into the read buffer; it is held in pendingChunkedRest and
			// no further OnData call or decoding happens until WantMore.
			if !c.isChunked {
				left := len(chunk) - consumed
				c.unprocessedBegin -= left
				c.remaining += int64(left)
			} else {
				c.pendBody(chunk[consumed:])
			}
			return false, false
		}
	}

	if bodyComplete {
		c.finishHandlerData()
		return true, true
	}

	return true, false
}

// pendBody holds back dechunked bytes the handler didn't consume, to be
// redelivered before any further decoding happens.
func (c *Connection) pendBody(rest []byte) {
	c.pendingChunkedRest = append(c.pendingChunkedRest[:0], rest...)
}

func (c *Connection) finishHandlerData() {
	c.state.clear(readData)
	hdl := c.hdl
	c.hdl = nil
	if err := c.guard(func() { hdl.OnClose(nil) }); err != nil {
		c.respondPanic(err)
		return
	}
	code := c.access.Code
	if code == 0 {
		code = status.OK
	}
	c.endRequest(code)
}

// drainProcessed discards body bytes still arriving for a request the
// handler already closed early, without handing anything more to it.
func (c *Connection) drainProcessed() bool {
	data := c.unprocessed()
	if c.isChunked {
		if len(data) == 0 {
			c.scheduleRead()
			return false
		}
		_, extra, complete, err := c.chunks.Decode(data)
		if err != nil {
			c.state.clear(requestProcessed)
			c.resetForNextRequest()
			return true
		}
		c.unprocessedBegin += len(data) - len(extra)
		if complete {
			c.state.clear(requestProcessed)
			c.resetForNextRequest()
		}
		return true
	}

	if c.remaining == 0 {
		c.state.clear(requestProcessed)
		c.resetForNextRequest()
		return true
	}
	n := int64(len(data))
	if n > c.remaining {
		n = c.remaining
	}
	if n == 0 {
		c.scheduleRead()
		return false
	}
	c.unprocessedBegin += int(n)
	c.remaining -= n
	return true
}

// WantMore is the handler-facing resume call, invoked via reply.go;
// defined here because it mutates core connection state and must run on
// the control loop.
func (c *Connection) resumeFromBackpressure() {
	if c.isChunked && len(c.pendingChunkedRest) > 0 {
		rest := c.pendingChunkedRest
		c.pendingChunkedRest = nil

		consumed := 0
		if err := c.guard(func() { consumed = c.hdl.OnData(rest) }); err != nil {
			c.respondPanic(err)
			return
		}
		if c.closing {
			return
		}
		if consumed < len(rest) {
			c.pendBody(rest[consumed:])
			return
		}
	}
	c.process()
}

func (c *Connection) endRequest(code status.Code) {
	c.access.Code = code
	c.access.Emit(c.ctx.Logger)
	if c.ctx.Metrics != nil {
		c.ctx.Metrics.RequestServed(int(code))
	}

	if !c.keepAlive {
		c.close(nil)
		return
	}
	if c.state.has(requestProcessed) {
		// The handler closed before the body was fully read: let process
		// drain the rest; drainProcessed resets for the next request.
		c.process()
		return
	}
	c.resetForNextRequest()
}

func (c *Connection) resetForNextRequest() {
	c.req.Reset()
	c.prs.Reset()
	c.hdl = nil
	c.state = initialState()
	c.access.Reset()
	c.access.ConnID = c.id
	c.access.RemoteIP = c.sc.RemoteAddr().String()
	c.process()
}

// respondError sends a stock error reply and ends the request; the
// connection is always closed once the reply has been written.
func (c *Connection) respondError(err error) {
	code := status.InternalServerError
	var se status.Error
	if errors.As(err, &se) {
		code = se.Code
	}

	resp, body := stockreply.Negotiate(c.req, code)
	c.keepAlive = false
	c.sendStock(resp, body, code)
}

// respondPanic handles a handler panic recovered by guard at one of the
// three non-terminal safe-mode boundaries (Initialize/OnHeaders, OnData,
// OnClose). Mirrors the original's SAFE_SEND_ERROR: no reply is sent, the
// handler is dropped, and the socket is shut down immediately rather than
// drained, since a handler that panicked mid-request cannot be trusted to
// have left the response framing in a consistent state.
func (c *Connection) respondPanic(err error) {
	var pe *panicError
	if !errors.As(err, &pe) {
		// Not a recovered panic: safe mode is off and fn's own panic already
		// propagated past guard, so this path is unreachable in practice; kept
		// only so respondPanic has a total fallback.
		c.fail(err)
		return
	}

	c.hdl = nil
	c.keepAlive = false
	c.access.Code = guardedCode
	c.access.Emit(c.ctx.Logger)
	if c.ctx.Metrics != nil {
		c.ctx.Metrics.RequestServed(int(guardedCode))
	}
	c.shutdown(pe)
}

// shutdown hard-closes the connection without waiting for any queued
// outbound writes to drain, abandoning them in place.
func (c *Connection) shutdown(err error) {
	if c.closing {
		return
	}
	c.closing = true
	c.closeErr = err
	c.finalizeClose()
}

func (c *Connection) sendStock(resp *message.Response, body []byte, code status.Code) {
	buffers := stockreply.ToBuffers(c.req.Proto, resp, body)
	c.out.enqueue(sendItem{buffers: buffers, done: func(error) {}})
	c.asyncWrite()
	c.access.Code = code
	c.access.BytesOut += int64(len(body))
	c.access.Emit(c.ctx.Logger)
	if c.ctx.Metrics != nil {
		c.ctx.Metrics.RequestServed(int(code))
	}
	c.close(nil)
}

// fail tears the connection down immediately, recording err (nil for a
// clean, requested close) against the in-flight request if there is one.
func (c *Connection) fail(err error) {
	if c.hdl != nil {
		code := status.StatusPeerAbort
		if err != nil {
			var se status.Error
			if errors.As(err, &se) {
				code = se.Code
			}
		}
		hdl := c.hdl
		c.hdl = nil
		if guardErr := c.guard(func() { hdl.OnClose(err) }); guardErr != nil {
			code = guardedCode
		}
		c.access.Code = code
		c.access.Emit(c.ctx.Logger)
	}
	c.close(err)
}

func (c *Connection) close(err error) {
	if c.closing {
		return
	}
	c.closing = true
	c.closeErr = err

	c.out.mu.Lock()
	idle := !c.out.sending
	c.out.mu.Unlock()

	if idle {
		c.finalizeClose()
	}
	// otherwise onWriteComplete will notice c.closing and finalize once the
	// outstanding write settles.
}

func (c *Connection) finalizeClose() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.mailbox)
}

// teardown is the last thing Serve does before returning. A handler still
// attached here means some code path dropped the connection without ever
// notifying it via OnClose — a leak, not an ordinary close — so one is
// synthesized here with no error, logged at StatusHandlerLeaked. A panic
// from that synthesized call escalates the logged status to guardedCode
// but otherwise changes nothing further: the socket is already on its way
// down regardless.
func (c *Connection) teardown() {
	if c.hdl != nil {
		hdl := c.hdl
		c.hdl = nil
		code := status.StatusHandlerLeaked
		if err := c.guard(func() { hdl.OnClose(nil) }); err != nil {
			code = guardedCode
		}
		c.access.Code = code
		c.access.Emit(c.ctx.Logger)
		if c.ctx.Metrics != nil {
			c.ctx.Metrics.RequestServed(int(code))
		}
	}

	_ = c.sc.Close()
	if c.ctx.Metrics != nil {
		c.ctx.Metrics.ConnectionClosed()
	}
}
