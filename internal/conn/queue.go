package conn

import (
	"net"
	"sync"
)

// sendItem is one queued outbound write: an ordered list of byte ranges
// (status line, headers, body, ...) that must reach the socket as a unit,
// plus the completion callback the caller is waiting on.
type sendItem struct {
	buffers [][]byte
	done    func(error)
}

func (it *sendItem) totalLen() int {
	n := 0
	for _, b := range it.buffers {
		n += len(b)
	}
	return n
}

// maxGatherRanges bounds how many byte ranges a single writev-style call
// gathers across the front of the queue, mirroring the original's
// deliberate iovec-count ceiling (spec.md §4.3).
const maxGatherRanges = 32

// outbound is the per-connection write queue and the single mutex spec.md
// §5 keeps: everything else about a Connection's state is only ever touched
// from its own control-loop goroutine, but items can be enqueued by a
// handler running on an arbitrary goroutine, so the queue itself needs its
// own lock.
type outbound struct {
	mu      sync.Mutex
	items   []sendItem
	sending bool
}

// enqueue appends item to the queue and reports whether the caller must
// kick off a new write (true only when the queue was idle).
func (o *outbound) enqueue(item sendItem) (startWrite bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.items = append(o.items, item)
	if o.sending {
		return false
	}
	o.sending = true
	return true
}

// snapshot gathers up to maxGatherRanges byte ranges from the front of the
// queue into a net.Buffers ready for a single writev, without touching the
// queue's own bookkeeping (that happens in settle, once the write
// completes). The returned net.Buffers is a private copy: net.Buffers'
// WriteTo trims consumed ranges off its front in place, and that must never
// be allowed to mutate our queue.
func (o *outbound) snapshot() net.Buffers {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out net.Buffers
	for _, it := range o.items {
		for _, b := range it.buffers {
			out = append(out, b)
			if len(out) == maxGatherRanges {
				return out
			}
		}
	}
	return out
}

// settle accounts for a write of n bytes (out of the batch snapshot
// produced just before), popping every sendItem that is now fully flushed
// and invoking its completion callback, and trimming the one that was only
// partially written. It returns whether the queue has more work (so the
// caller should start another write) and, if err != nil, the set of items
// still outstanding so the caller can fail them too.
func (o *outbound) settle(n int64, writeErr error) (more bool, failed []sendItem) {
	o.mu.Lock()

	var completed []sendItem
	remaining := n

	for len(o.items) > 0 {
		it := &o.items[0]
		total := int64(it.totalLen())

		if remaining >= total {
			completed = append(completed, *it)
			o.items = o.items[1:]
			remaining -= total
			continue
		}

		if remaining > 0 {
			trimBuffers(it, remaining)
		}
		break
	}

	if writeErr != nil {
		failed = o.items
		o.items = nil
		o.sending = false
		o.mu.Unlock()

		for _, it := range completed {
			if it.done != nil {
				it.done(nil)
			}
		}
		return false, failed
	}

	more = len(o.items) > 0
	o.sending = more
	o.mu.Unlock()

	for _, it := range completed {
		if it.done != nil {
			it.done(nil)
		}
	}
	return more, nil
}

// trimBuffers removes the first n already-written bytes from it's buffer
// list in place.
func trimBuffers(it *sendItem, n int64) {
	for n > 0 && len(it.buffers) > 0 {
		b := it.buffers[0]
		if int64(len(b)) <= n {
			n -= int64(len(b))
			it.buffers = it.buffers[1:]
			continue
		}
		it.buffers[0] = b[n:]
		n = 0
	}
}
