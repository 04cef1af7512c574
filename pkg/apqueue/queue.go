// Package apqueue implements the per-actor event FIFO described in spec
// §4.1: post at front or back, flush (drop queued Buffer events, keep
// control events), and a blocking pop with an optional predicate used by
// the output stage to implement pausing/draining without consuming the
// events it must not yet act on.
package apqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/gogglesmm/gap-core/pkg/apevent"
)

// ErrClosed is returned by Pop/PopIf once the queue has been closed.
var ErrClosed = errors.New("apqueue: closed")

// isPacketEvent reports whether e is a Buffer/packet event, so Flush can
// recognize and drop it while keeping control events. apevent.Type is enough to decide this without an import
// of appacket, keeping the queue package dependency-free of the packet
// pool.
func isPacketEvent(e apevent.Event) bool {
	return e.Type() == apevent.TypeBuffer
}

// Queue is a thread-safe, slice-backed FIFO with a wait channel, the
// "event FIFO" of spec §4.1.
type Queue struct {
	mu     sync.Mutex
	items  []apevent.Event
	notify chan struct{}
	closed bool
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Wake returns a channel that receives a value after each Post, Flush or
// Close (signals coalesce to at most one pending value, and PopIf consumes
// it while waiting, so a non-empty queue does not guarantee a pending
// value) -- the "OS wait handle" a producer also selects on
// while blocked acquiring a packet (spec §4.1 back-pressure contract).
func (q *Queue) Wake() <-chan struct{} {
	return q.notify
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Post appends (back=true) or prepends (back=false) an event.
func (q *Queue) Post(e apevent.Event, back bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if back {
		q.items = append(q.items, e)
	} else {
		q.items = append([]apevent.Event{e}, q.items...)
	}
	q.mu.Unlock()
	q.signal()
}

// Flush discards every queued Buffer event, keeping control/pipeline events
// in order, then appends e as a barrier (spec: "flush discards all events
// currently queued that are of type Packet ... and then appends").
func (q *Queue) Flush(e apevent.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	kept := q.items[:0:0]
	for _, item := range q.items {
		if !isPacketEvent(item) {
			kept = append(kept, item)
		}
	}
	if e != nil {
		kept = append(kept, e)
	}
	q.items = kept
	q.mu.Unlock()
	q.signal()
}

// Pop returns the oldest event, blocking until one is available or ctx is
// canceled.
func (q *Queue) Pop(ctx context.Context) (apevent.Event, error) {
	return q.PopIf(ctx, nil, nil)
}

// PopIf returns the oldest event satisfying accept (or accept==nil for
// "anything"), dequeuing every earlier event that does not satisfy it along
// the way -- onSkip, if non-nil, is called for each dequeued-but-rejected
// event so the caller can decide what becomes of it: release a packet it
// carries, capture it to replay later, or re-post it elsewhere (PopIf never
// re-queues it itself). This is the output stage's pop_if_not(Buffer,
// Configure) during Pausing (onSkip defers Buffer/Configure by re-posting
// them once an acceptable event is found, rather than discarding them) and
// the selective drain during Draining (onSkip captures a seek-originated
// Flush to replay once the drain completes).
func (q *Queue) PopIf(ctx context.Context, accept func(apevent.Event) bool, onSkip func(apevent.Event)) (apevent.Event, error) {
	for {
		q.mu.Lock()
		for len(q.items) > 0 {
			head := q.items[0]
			if accept == nil || accept(head) {
				q.items = q.items[1:]
				q.mu.Unlock()
				return head, nil
			}
			q.items = q.items[1:]
			q.mu.Unlock()
			if onSkip != nil {
				onSkip(head)
			}
			q.mu.Lock()
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len reports the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed; blocked and future Pop/PopIf calls return
// ErrClosed once drained.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}
