// Package input implements the input-stage actor of spec §4.2: resolve a
// byte-source, probe its container format, drive a reader plugin, and feed
// coded-data packets onto the decoder stage's queue.
package input

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gogglesmm/gap-core/pkg/apevent"
	"github.com/gogglesmm/gap-core/pkg/apqueue"
	"github.com/gogglesmm/gap-core/pkg/appacket"
	"github.com/gogglesmm/gap-core/pkg/apreader"
	"github.com/gogglesmm/gap-core/pkg/apsource"
)

// Stage is the input-stage actor. It owns exactly one inbound FIFO (In),
// posts onto the decoder stage's inbound FIFO (Out), and posts
// notifications (ErrorMessage) onto the application-facing Notify queue.
type Stage struct {
	In     *apqueue.Queue
	Out    *apqueue.Queue
	Notify *apqueue.Queue
	Pool   *appacket.Pool
	Log    *slog.Logger

	streamSeq atomic.Uint64

	streamID      apevent.StreamID
	src           apsource.Source
	reader        apreader.Reader
	processing    bool
	preserveOnRedirect bool
}

// New builds an input stage wired to the given queues and pool.
func New(in, out, notify *apqueue.Queue, pool *appacket.Pool, log *slog.Logger) *Stage {
	if log == nil {
		log = slog.Default()
	}
	return &Stage{In: in, Out: out, Notify: notify, Pool: pool, Log: log}
}

func (s *Stage) nextStreamID() apevent.StreamID {
	return apevent.StreamID(s.streamSeq.Add(1))
}

// Run drives the stage until Quit is processed or ctx is canceled.
func (s *Stage) Run(ctx context.Context) {
	defer s.teardown()
	for {
		if s.processing {
			if fatal := s.stepProcessing(ctx); fatal {
				return
			}
			if s.processing && s.In.Len() == 0 {
				continue
			}
		}

		ev, err := s.In.Pop(ctx)
		if err != nil {
			return
		}
		if quit := s.handleEvent(ctx, ev); quit {
			return
		}
	}
}

// stepProcessing performs one iteration of the Processing loop from spec
// §4.2: acquire a packet, hand it to the reader, react to the result. It
// returns true only on an unrecoverable condition (pool closed, ctx done).
func (s *Stage) stepProcessing(ctx context.Context) (fatal bool) {
	if s.In.Len() > 0 {
		// A control event is waiting; let Run's Pop handle it before we
		// acquire another packet.
		return false
	}
	pkt, err := s.Pool.Acquire(ctx, s.In.Wake())
	if errors.Is(err, appacket.ErrInterrupted) {
		return false
	}
	if err != nil {
		return true
	}
	s.processPacket(ctx, pkt)
	return false
}

func (s *Stage) processPacket(ctx context.Context, pkt *appacket.Packet) {
	result, err := s.reader.Process(pkt)
	switch result {
	case apreader.ReadOk:
		s.Out.Post(apevent.NewBuffer(s.streamID, pkt), true)

	case apreader.ReadDone:
		pkt.Release()
		s.Out.Post(apevent.NewEnd(s.streamID), true)
		s.processing = false
		s.closeCurrent()

	case apreader.ReadError:
		pkt.Release()
		msg := "read error"
		if err != nil {
			msg = err.Error()
		}
		s.Notify.Post(apevent.NewErrorMessage(s.streamID, msg), true)
		s.processing = false
		s.closeCurrent()

	case apreader.ReadRedirect:
		pkt.Release()
		s.followRedirect(ctx, s.reader.Redirect())

	default:
		pkt.Release()
	}
}

// followRedirect re-opens the playlist's first entry atomically, per spec
// §4.2. The stream-id is preserved across the hop only if the chain was
// originally triggered by OpenFlush (see DESIGN.md's "Open question
// resolved" entry for this asymmetry).
func (s *Stage) followRedirect(ctx context.Context, entries []string) {
	if len(entries) == 0 {
		s.Notify.Post(apevent.NewErrorMessage(s.streamID, "apinput: empty playlist"), true)
		s.processing = false
		s.closeCurrent()
		return
	}
	next := entries[0]
	s.closeReaderAndSource()
	if !s.preserveOnRedirect {
		s.streamID = s.nextStreamID()
	}
	s.openURL(ctx, next)
}

func (s *Stage) handleEvent(ctx context.Context, ev apevent.Event) (quit bool) {
	switch e := ev.(type) {
	case *apevent.Open:
		s.preserveOnRedirect = false
		s.streamID = s.nextStreamID()
		s.closeReaderAndSource()
		s.openURL(ctx, e.URL)

	case *apevent.OpenFlush:
		oldID := s.streamID
		s.Out.Post(apevent.NewFlush(oldID, false), true)
		s.preserveOnRedirect = true
		s.streamID = s.nextStreamID()
		s.closeReaderAndSource()
		s.openURL(ctx, e.URL)

	case *apevent.Close:
		s.closeCurrent()

	case *apevent.Seek:
		s.handleSeek(e)

	case *apevent.Quit:
		s.Out.Post(apevent.NewQuit(s.streamID), true)
		return true

	default:
		// Volume, replay-gain and output-config control events are not
		// acted on by the input stage itself; pkg/engine posts these
		// control events to the input stage's FIFO, so they are
		// forwarded downstream untouched for the decoder stage to pass
		// through to the output stage, which is the only actor that acts
		// on them.
		s.Out.Post(ev, true)
	}
	return false
}

func (s *Stage) handleSeek(e *apevent.Seek) {
	if s.reader == nil || !s.reader.CanSeek() {
		return
	}
	length := s.src.Size()
	if length <= 0 {
		return
	}
	framePos := int64(e.Position * float64(length))
	if err := s.reader.Seek(framePos); err != nil {
		s.Notify.Post(apevent.NewErrorMessage(s.streamID, fmt.Sprintf("seek: %v", err)), true)
		return
	}
	f := apevent.NewFlush(s.streamID, false)
	f.OffsetFrames = framePos
	f.FromSeek = true
	s.Out.Post(f, true)
}

// openURL resolves a byte-source, probes its container format, and
// transitions to Processing. Failures surface as ErrorMessage and leave the
// stage Idle.
func (s *Stage) openURL(ctx context.Context, url string) {
	src, err := apsource.Resolve(url)
	if err != nil {
		s.Notify.Post(apevent.NewErrorMessage(s.streamID, err.Error()), true)
		return
	}
	reader, err := apreader.Probe(url, src)
	if err != nil {
		src.Close()
		s.Notify.Post(apevent.NewErrorMessage(s.streamID, err.Error()), true)
		return
	}

	s.src = src
	s.reader = reader
	s.processing = true

	cfg := apevent.NewConfigure(s.streamID)
	cfg.URL = url
	cfg.Codec = reader.Format()
	cfg.StreamLength = -1
	s.Out.Post(cfg, true)
}

func (s *Stage) closeCurrent() {
	s.processing = false
	s.closeReaderAndSource()
}

func (s *Stage) closeReaderAndSource() {
	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			s.Log.Warn("input: close reader", "error", err)
		}
		s.reader = nil
	}
	if s.src != nil {
		if err := s.src.Close(); err != nil {
			s.Log.Warn("input: close source", "error", err)
		}
		s.src = nil
	}
}

func (s *Stage) teardown() {
	s.closeReaderAndSource()
}
