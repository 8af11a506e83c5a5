package conn

import (
	"strconv"

	"github.com/loomhttp/loom/http/status"
	"github.com/loomhttp/loom/message"
	"github.com/loomhttp/loom/stockreply"
)

// reply is a Connection viewed through the handler.Reply interface: the
// same memory as the Connection, converted rather than wrapped, so there is
// exactly one copy of connection state no matter which face a caller holds.
type reply Connection

// Every Reply method may be called either synchronously, from inside one
// of the handler's own Inbound methods, or later from a goroutine other
// than the control loop (spec.md §4.4: a handler may resume
// asynchronously). dispatch picks the right path for each case.

func (r *reply) SendHeaders(resp *message.Response, body []byte, done func(error)) {
	c := (*Connection)(r)
	c.dispatch(func() {
		c.access.Code = resp.Code
		if c.keepAlive {
			resp.Headers.Set("Keep-Alive", "timeout="+strconv.Itoa(int(idleTimeout.Seconds())))
		}
		buffers := stockreply.ToBuffers(c.req.Proto, resp, body)
		c.enqueueWrite(sendItem{buffers: buffers, done: wrapDone(done)})
	})
}

func (r *reply) SendData(body []byte, done func(error)) {
	c := (*Connection)(r)
	if len(body) == 0 {
		if done != nil {
			done(nil)
		}
		return
	}
	c.dispatch(func() {
		c.enqueueWrite(sendItem{buffers: [][]byte{body}, done: wrapDone(done)})
	})
}

func (r *reply) Close(err error) {
	c := (*Connection)(r)
	c.dispatch(func() {
		if err != nil {
			c.fail(err)
			return
		}

		if c.state.has(readData) {
			// Body bytes may still be in flight from the peer; keep
			// draining and discarding them until the wire catches up with
			// the handler's early close.
			c.state.clear(readData)
			c.state.set(requestProcessed)
		}

		code := c.access.Code
		if code == 0 {
			code = status.OK
		}

		if c.hdl != nil {
			hdl := c.hdl
			c.hdl = nil
			if guardErr := c.guard(func() { hdl.OnClose(nil) }); guardErr != nil {
				code = guardedCode
			}
		}

		c.endRequest(code)
	})
}

func (r *reply) WantMore() {
	c := (*Connection)(r)
	c.dispatch(c.resumeFromBackpressure)
}

func wrapDone(done func(error)) func(error) {
	if done == nil {
		return func(error) {}
	}
	return done
}
