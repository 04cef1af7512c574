// Package decoder implements the decoder-stage actor of spec §4.3: turn
// coded-data packets into PCM packets with stream-position timestamps,
// instantiate/rebind a codec plugin per Configure, and forward config,
// metadata and end-of-stream markers downstream unchanged.
package decoder

import (
	"context"
	"log/slog"

	"github.com/gogglesmm/gap-core/pkg/apcodec"
	"github.com/gogglesmm/gap-core/pkg/apevent"
	"github.com/gogglesmm/gap-core/pkg/apqueue"
	"github.com/gogglesmm/gap-core/pkg/appacket"
)

// Stage is the decoder-stage actor.
type Stage struct {
	In       *apqueue.Queue // own inbound FIFO (decoder's queue)
	Out      *apqueue.Queue // output stage's inbound FIFO
	Upstream *apqueue.Queue // input stage's inbound FIFO, for posting Close on a fatal codec error
	Notify   *apqueue.Queue // application-facing upward notifications
	Pool     *appacket.Pool
	Log      *slog.Logger

	plugin   apcodec.Plugin
	streamID apevent.StreamID
}

// New builds a decoder stage wired to the given queues and pool.
func New(in, out, upstream, notify *apqueue.Queue, pool *appacket.Pool, log *slog.Logger) *Stage {
	if log == nil {
		log = slog.Default()
	}
	return &Stage{In: in, Out: out, Upstream: upstream, Notify: notify, Pool: pool, Log: log}
}

// Run drives the stage until Quit is processed or ctx is canceled.
func (s *Stage) Run(ctx context.Context) {
	defer s.closePlugin()
	for {
		ev, err := s.In.Pop(ctx)
		if err != nil {
			return
		}
		switch e := ev.(type) {
		case *apevent.Configure:
			s.handleConfigure(e)
		case *apevent.Flush:
			s.handleFlush(e)
		case *apevent.Buffer:
			s.handleBuffer(ctx, e)
		case *apevent.Meta, *apevent.End:
			s.Out.Post(ev, true)
		case *apevent.Quit:
			s.closePlugin()
			s.Out.Post(ev, true)
			return
		default:
			// Volume/pause/replay-gain/output-config control events are not
			// acted on here; pass them through to the output stage.
			s.Out.Post(ev, true)
		}
	}
}

// handleConfigure implements spec §4.3: rebind the loaded plugin if its
// codec matches, otherwise discard and re-instantiate via the codec
// registry, then forward a Configure downstream carrying the plugin's own
// reported format/length (only once that format is known).
func (s *Stage) handleConfigure(e *apevent.Configure) {
	s.streamID = e.Stream()

	if s.plugin != nil && s.plugin.Codec() != e.Codec {
		s.plugin.Close()
		s.plugin = nil
	}

	if s.plugin == nil {
		p, err := apcodec.New(e.Codec)
		if err != nil {
			s.failConfigure(e.Stream(), err)
			return
		}
		if err := p.Init(apcodec.InitContext{URL: e.URL, Codec: e.Codec, PreRollFrames: e.StreamOffsetStart}); err != nil {
			s.failConfigure(e.Stream(), err)
			return
		}
		s.plugin = p
	} else if err := s.plugin.Flush(e.StreamOffsetStart); err != nil {
		s.failConfigure(e.Stream(), err)
		return
	}

	format := s.plugin.Format()
	if format.IsZero() {
		return
	}

	cfg := apevent.NewConfigure(e.Stream())
	cfg.URL = e.URL
	cfg.Codec = e.Codec
	cfg.Format = format
	cfg.StreamLength = s.plugin.Length()
	cfg.ReplayGain = e.ReplayGain
	cfg.StreamOffsetStart = e.StreamOffsetStart
	s.Out.Post(cfg, true)
}

// failConfigure implements the §7 error-taxonomy row "Unsupported/
// unavailable codec: post Close upstream, emit ErrorMessage."
func (s *Stage) failConfigure(stream apevent.StreamID, err error) {
	s.Log.Warn("decoder: configure failed", "error", err)
	s.Upstream.Post(apevent.NewClose(stream), true)
	s.Notify.Post(apevent.NewErrorMessage(stream, err.Error()), true)
}

func (s *Stage) handleFlush(e *apevent.Flush) {
	if s.plugin != nil {
		if err := s.plugin.Flush(e.OffsetFrames); err != nil {
			s.Log.Warn("decoder: plugin flush", "error", err)
		}
	}
	s.Out.Flush(e)
}

// handleBuffer implements process(Packet) of spec §4.3: the incoming coded
// packet is consumed purely as a back-pressure pacing token (every wired
// codec plugin whole-file-decodes by reopening its own handle -- see
// DESIGN.md's pkg/apcodec entry), and get_output_packet() is realized as
// the out closure passed to Plugin.Process.
func (s *Stage) handleBuffer(ctx context.Context, e *apevent.Buffer) {
	in := e.Packet
	defer in.Release()

	if s.plugin == nil {
		return
	}

	out := func(fill func(pkt *appacket.Packet)) error {
		pkt, err := s.Pool.Acquire(ctx, s.In.Wake())
		if err != nil {
			return err
		}
		fill(pkt)
		if pkt.Len() == 0 && !pkt.HasEOS() {
			pkt.Release()
			return nil
		}
		s.Out.Post(apevent.NewBuffer(s.streamID, pkt), true)
		return nil
	}

	result, err := s.plugin.Process(in, out)
	switch result {
	case apcodec.Ok, apcodec.Interrupted:
		// Interrupted: a control event preempted the pool wait; the plugin
		// emitted nothing and Run's next Pop will observe that event.
	case apcodec.Err:
		s.failDecode(s.streamID, err)
	}
}

// failDecode implements the §7 error-taxonomy row "Decoder frame error:
// drop the plugin, Close, ErrorMessage."
func (s *Stage) failDecode(stream apevent.StreamID, err error) {
	s.Log.Warn("decoder: frame decode failed", "error", err)
	s.closePlugin()
	s.Upstream.Post(apevent.NewClose(stream), true)
	if err != nil {
		s.Notify.Post(apevent.NewErrorMessage(stream, err.Error()), true)
	}
}

func (s *Stage) closePlugin() {
	if s.plugin != nil {
		if err := s.plugin.Close(); err != nil {
			s.Log.Warn("decoder: close plugin", "error", err)
		}
		s.plugin = nil
	}
}
