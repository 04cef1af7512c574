// Package engine assembles the input, decoder and output stages behind a
// single control API, owning the packet pool, the three stage FIFOs, the
// notification queue and the goroutines that drive them -- spec §4's
// top-level picture of the pipeline.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogglesmm/gap-core/pkg/apevent"
	"github.com/gogglesmm/gap-core/pkg/apqueue"
	"github.com/gogglesmm/gap-core/pkg/appacket"
	"github.com/gogglesmm/gap-core/pkg/decoder"
	"github.com/gogglesmm/gap-core/pkg/input"
	"github.com/gogglesmm/gap-core/pkg/output"
	"github.com/gogglesmm/gap-core/pkg/outplugin"
	"github.com/gogglesmm/gap-core/pkg/reactor"
)

// poolCapacity and packetBytes are the default packet-pool sizing of spec
// §4.1 ("N ~= 40 packets, ~8 KiB each").
const (
	poolCapacity = 40
	packetBytes  = 8 * 1024
)

// Config selects the output device and logging for a new Engine.
type Config struct {
	DeviceKind   outplugin.Kind
	DeviceConfig any
	Log          *slog.Logger

	// Resample enables internal/resample as a fallback for stream/device
	// rate mismatches at the output stage, instead of treating them as
	// fatal (spec §4.4 step 4 "where compiled in").
	Resample bool
}

// Engine owns the pipeline's three actor goroutines plus the output
// stage's reactor, and exposes the control API the application drives
// (spec §1/§9: the embedding application only ever talks to this surface).
type Engine struct {
	log *slog.Logger

	pool *appacket.Pool

	inputIn   *apqueue.Queue
	decoderIn *apqueue.Queue
	outputIn  *apqueue.Queue
	notify    *apqueue.Queue

	streamSeq uint64
	seqMu     sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs and starts an Engine: device resolution, stage wiring, and
// the three actor goroutines all happen here, mirroring the teacher's
// `NewPlayer`+immediate background-goroutine-start shape in
// pkg/audioplayer/player.go.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	device, err := outplugin.New(cfg.DeviceKind)
	if err != nil {
		log.Warn("engine: falling back to null device", "requested", cfg.DeviceKind, "error", err)
		device, err = outplugin.New(outplugin.KindNone)
		if err != nil {
			return nil, fmt.Errorf("engine: no device available, not even null: %w", err)
		}
	}
	if cfg.DeviceConfig != nil {
		if err := device.SetConfig(cfg.DeviceConfig); err != nil {
			return nil, fmt.Errorf("engine: configure device: %w", err)
		}
	}

	e := &Engine{
		log:       log,
		pool:      appacket.New(poolCapacity, packetBytes),
		inputIn:   apqueue.New(),
		decoderIn: apqueue.New(),
		outputIn:  apqueue.New(),
		notify:    apqueue.New(),
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	in := input.New(e.inputIn, e.decoderIn, e.notify, e.pool, log.With("stage", "input"))
	dec := decoder.New(e.decoderIn, e.outputIn, e.inputIn, e.notify, e.pool, log.With("stage", "decoder"))
	rx := reactor.New()
	rx.AddInput(&reactor.Input{Name: "output-fifo", Ready: e.outputIn.Wake(), OnSignal: func() error { return nil }})
	out := output.New(e.outputIn, e.notify, e.pool, device, rx, log.With("stage", "output"))
	out.Resample = cfg.Resample

	e.wg.Add(3)
	go func() { defer e.wg.Done(); in.Run(runCtx) }()
	go func() { defer e.wg.Done(); dec.Run(runCtx) }()
	go func() { defer e.wg.Done(); out.Run(runCtx) }()

	return e, nil
}

func (e *Engine) nextStream() apevent.StreamID {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	e.streamSeq++
	return apevent.StreamID(e.streamSeq)
}

// Open starts playback of url from Idle, with no implicit flush.
func (e *Engine) Open(url string) apevent.StreamID {
	stream := e.nextStream()
	e.inputIn.Post(apevent.NewOpen(stream, url), true)
	return stream
}

// OpenFlush interrupts whatever is currently playing and starts url.
func (e *Engine) OpenFlush(url string) apevent.StreamID {
	stream := e.nextStream()
	e.inputIn.Post(apevent.NewOpenFlush(stream, url), true)
	return stream
}

// Close tears the current stream down without starting a new one.
func (e *Engine) Close(stream apevent.StreamID) {
	e.inputIn.Post(apevent.NewClose(stream), true)
}

// Pause toggles Running/Pausing for stream at the output stage.
func (e *Engine) Pause(stream apevent.StreamID) {
	e.outputIn.Post(apevent.NewPause(stream), true)
}

// Seek requests a seek to position (a [0,1] fraction of stream length).
func (e *Engine) Seek(stream apevent.StreamID, position float64) {
	e.inputIn.Post(apevent.NewSeek(stream, position), true)
}

// Volume is a control op posted to the input stage's FIFO so it is
// serialized against Open/Close/Seek the same way every control event is
// (spec §4.2: "the application posts every control event to the input
// stage's FIFO").
func (e *Engine) Volume(stream apevent.StreamID, value float64) {
	e.inputIn.Post(apevent.NewVolume(stream, value), true)
}

func (e *Engine) SetReplayGainMode(stream apevent.StreamID, mode apevent.ReplayGainMode) {
	e.inputIn.Post(apevent.NewSetReplayGain(stream, mode), true)
}

// GetReplayGainMode is a synchronous round trip through the output stage.
func (e *Engine) GetReplayGainMode(ctx context.Context, stream apevent.StreamID) (apevent.ReplayGainMode, error) {
	req := apevent.NewGetReplayGain(stream)
	e.inputIn.Post(req, true)
	select {
	case mode := <-req.Reply:
		return mode, nil
	case <-ctx.Done():
		return apevent.ReplayGainOff, ctx.Err()
	}
}

func (e *Engine) SetOutputConfig(stream apevent.StreamID, cfg any) {
	e.inputIn.Post(apevent.NewSetOutputConfig(stream, cfg), true)
}

// Notifications returns the application-facing queue the caller should pop
// from in a loop to receive BOS/EOS/StateReady/Playing/Pausing/TimeUpdate/
// MetaInfo/ErrorMessage/VolumeNotify events.
func (e *Engine) Notifications() *apqueue.Queue { return e.notify }

// Shutdown posts Quit to the input stage (which forwards it down the
// pipeline, per each stage's own Quit handling) and waits for all three
// actor goroutines to exit.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.inputIn.Post(apevent.NewQuit(0), false)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		e.pool.Close()
		e.inputIn.Close()
		e.decoderIn.Close()
		e.outputIn.Close()
		e.notify.Close()
		return nil
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	}
}
