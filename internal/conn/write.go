package conn

import "github.com/loomhttp/loom/http/status"

// enqueueWrite appends item to the outbound queue and starts a write if the
// queue was idle. Safe to call from any goroutine (outbound has its own
// lock); starting the actual write is deferred onto the control loop so the
// rest of asyncWrite's bookkeeping never races process().
func (c *Connection) enqueueWrite(item sendItem) {
	start := c.out.enqueue(item)
	if start {
		c.dispatch(c.asyncWrite)
	}
}

// asyncWrite gathers up to maxGatherRanges byte ranges from the front of
// the queue and writes them with a single net.Buffers.WriteTo, which uses
// writev when the underlying conn supports it. Must run on the control
// loop; the write itself runs on its own goroutine, completion posted back.
func (c *Connection) asyncWrite() {
	batch := c.out.snapshot()
	if len(batch) == 0 {
		return
	}

	go func() {
		n, err := batch.WriteTo(c.sc)
		c.post(func() { c.onWriteComplete(n, err) })
	}()
}

func (c *Connection) onWriteComplete(n int64, err error) {
	c.access.BytesOut += n

	more, failed := c.out.settle(n, err)

	if err != nil {
		for _, it := range failed {
			if it.done != nil {
				it.done(err)
			}
		}
		c.fail(status.NewError(status.StatusPeerAbort, err.Error()))
		// fail's close is a no-op if the connection was already closing
		// while this write was in flight; finish the close here.
		c.finalizeClose()
		return
	}

	if more {
		c.asyncWrite()
		return
	}

	if c.closing {
		c.finalizeClose()
	}
}
