// Package appacket implements the engine's single shared resource besides
// the FIFOs: a bounded free-list of fixed-capacity packets, and the packet
// type itself. Every producer in the pipeline must acquire a packet from
// the pool before it can emit PCM or coded data; this is the sole
// back-pressure mechanism in the engine (spec §4.1).
package appacket

import (
	"context"
	"errors"

	"github.com/gogglesmm/gap-core/pkg/apformat"
)

// Flag marks codec/EOS state carried alongside a packet's bytes.
type Flag uint8

const (
	FlagNone Flag = 0
	FlagEOS  Flag = 1 << iota
	FlagDiscontinuity
)

// Packet is a unit of bytes (coded or PCM) moving through the pipeline. The
// invariant read_cursor <= write_cursor <= len(Buffer) always holds; the
// pool clears a packet before it is handed out again.
type Packet struct {
	Buffer        []byte
	readCursor    int
	writeCursor   int
	Format        apformat.AudioFormat
	Flags         Flag
	StreamPosition int64 // frame index into the logical stream
	StreamLength   int64 // frame count, or -1 if unknown

	pool *Pool
}

// NumFrames returns the number of whole frames currently written, given the
// packet's own format.
func (p *Packet) NumFrames() int {
	fs := p.Format.FrameSize()
	if fs == 0 {
		return 0
	}
	return (p.writeCursor - p.readCursor) / fs
}

// Readable returns the unread portion of the buffer.
func (p *Packet) Readable() []byte {
	return p.Buffer[p.readCursor:p.writeCursor]
}

// Writable returns the remaining free capacity of the buffer.
func (p *Packet) Writable() []byte {
	return p.Buffer[p.writeCursor:]
}

// Advance moves the write cursor forward by n bytes after the caller has
// written into Writable().
func (p *Packet) Advance(n int) {
	p.writeCursor += n
	if p.writeCursor > len(p.Buffer) {
		p.writeCursor = len(p.Buffer)
	}
}

// Consume moves the read cursor forward by n bytes.
func (p *Packet) Consume(n int) {
	p.readCursor += n
	if p.readCursor > p.writeCursor {
		p.readCursor = p.writeCursor
	}
}

// Len is the number of unread bytes.
func (p *Packet) Len() int { return p.writeCursor - p.readCursor }

// Cap is the packet's fixed capacity.
func (p *Packet) Cap() int { return len(p.Buffer) }

// HasEOS reports whether the packet carries the end-of-stream flag.
func (p *Packet) HasEOS() bool { return p.Flags&FlagEOS != 0 }

func (p *Packet) reset() {
	p.readCursor = 0
	p.writeCursor = 0
	p.Format = apformat.AudioFormat{}
	p.Flags = FlagNone
	p.StreamPosition = 0
	p.StreamLength = -1
	for i := range p.Buffer {
		p.Buffer[i] = 0
	}
}

// Release returns the packet to the pool it was acquired from. Safe to call
// once per Acquire; it is the producer/consumer's responsibility to never
// hold a released packet afterward (ownership transfer, not refcounting --
// see SPEC_FULL.md §3).
func (p *Packet) Release() {
	if p.pool != nil {
		p.pool.Release(p)
	}
}

// ErrClosed is returned by Acquire once the pool has been shut down.
var ErrClosed = errors.New("appacket: pool closed")

// ErrInterrupted is returned by Acquire when the supplied wake channel
// fires before a packet becomes free -- the back-pressure contract's
// "observe a flush/quit" branch (spec §4.1).
var ErrInterrupted = errors.New("appacket: acquire interrupted")

// Pool is the bounded free-list of spec §4.1: N packets of fixed capacity,
// handed out on Acquire and recycled on Release. It is backed by a buffered
// channel of free packets rather than the
// teacher's byte ring-buffer, because what is pooled here are whole Packet
// objects, not a byte stream; the notification discipline (wake exactly one
// waiter per Release) mirrors ringbuffer.RingBuffer's single-writer /
// single-reader handshake.
type Pool struct {
	free    chan *Packet
	closed  chan struct{}
	cap     int
}

// New creates a pool of n packets, each with the given byte capacity.
func New(n, capacity int) *Pool {
	p := &Pool{
		free:   make(chan *Packet, n),
		closed: make(chan struct{}),
		cap:    n,
	}
	for i := 0; i < n; i++ {
		pkt := &Packet{Buffer: make([]byte, capacity), pool: p}
		p.free <- pkt
	}
	return p
}

// Capacity returns the pool's total packet count.
func (p *Pool) Capacity() int { return p.cap }

// Available returns the number of packets currently free.
func (p *Pool) Available() int { return len(p.free) }

// Acquire blocks until a packet is free, the wake channel fires, or ctx is
// canceled. wake models "its own inbound FIFO handle" from spec §4.1's
// back-pressure contract: a producer waiting for a packet must also notice
// a flush/quit arriving on its queue.
func (p *Pool) Acquire(ctx context.Context, wake <-chan struct{}) (*Packet, error) {
	select {
	case pkt := <-p.free:
		pkt.reset()
		return pkt, nil
	default:
	}
	select {
	case pkt := <-p.free:
		pkt.reset()
		return pkt, nil
	case <-wake:
		return nil, ErrInterrupted
	case <-p.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release clears pkt and returns it to the free-list, waking one waiter.
func (p *Pool) Release(pkt *Packet) {
	pkt.reset()
	select {
	case p.free <- pkt:
	case <-p.closed:
	}
}

// Close shuts the pool down; pending and future Acquire calls return
// ErrClosed.
func (p *Pool) Close() {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
}
