// Package output implements the output-stage actor of spec §4.4: the
// timing/frame-timer state machine, device format negotiation, per-packet
// replay-gain/conversion, and the Running/Pausing/Draining mode loop.
package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gogglesmm/gap-core/internal/resample"
	"github.com/gogglesmm/gap-core/pkg/apevent"
	"github.com/gogglesmm/gap-core/pkg/apformat"
	"github.com/gogglesmm/gap-core/pkg/apqueue"
	"github.com/gogglesmm/gap-core/pkg/appacket"
	"github.com/gogglesmm/gap-core/pkg/outplugin"
	"github.com/gogglesmm/gap-core/pkg/reactor"
)

// eosLeadSeconds is how far ahead of the device actually emptying the
// EOSTimer fires, per spec §4.4.
const eosLeadSeconds = 1.0

// drainPollThreshold is the §4.4 "≈¼ second" delay-falls-below threshold
// at which Draining calls device.Drain() and issues EOS.
const drainPollThreshold = 250 * time.Millisecond

type mode uint8

const (
	modeRunning mode = iota
	modePausing
	modeDraining
)

// Stage is the output-stage actor.
type Stage struct {
	In      *apqueue.Queue
	Notify  *apqueue.Queue
	Pool    *appacket.Pool
	Device  outplugin.Device
	Reactor *reactor.Reactor
	Log     *slog.Logger

	// Resample enables internal/resample as a fallback when a stream's rate
	// differs from the device's negotiated rate (spec §4.4 step 4 "where
	// compiled in"), instead of treating the mismatch as fatal. Only wired
	// for signed 16-bit PCM, the format every codec adapter that doesn't
	// natively emit float already produces.
	Resample bool

	resampler       *resample.Writer
	resampleBuf     *bytes.Buffer
	resampleInRate  int
	resampleOutRate int

	mode mode

	currentStream apevent.StreamID
	streamFormat  apformat.AudioFormat
	deviceFormat  apformat.AudioFormat
	replayGain    apformat.ReplayGain
	replayGainMode apevent.ReplayGainMode
	volume        float64

	streamPosition       int64 // frames
	streamLength         int64 // frames, -1 if unknown
	remaining            int64 // crossover: frames of the prior stream still queued in the device
	writtenSinceBoundary int64
	lastTimeUpdateSecond int64
	bosEmitted           bool
	eosEmitted           bool

	timers []*frameTimer

	// pendingFlush implements the REDESIGN FLAG "Seek during Draining defers
	// until drain completes; the in-flight EOS is suppressed if the new
	// stream-id differs." A Seek never reaches this stage directly (the
	// input stage handles it and posts a Flush carrying the new decode
	// offset instead); only a Flush with FromSeek set and the currently-
	// draining stream-id is what this defers -- an OpenFlush-style Flush
	// (FromSeek false) still interrupts the drain immediately, since that
	// one is meant to discard the old stream outright.
	pendingFlush *apevent.Flush

	convScratch []byte
}

type timerKind uint8

const (
	timerMeta timerKind = iota
	timerEOS
)

// frameTimer is the frame-timer-list entry of spec §4.4: a target delay
// (frames still to play), counted down by the absolute change in observed
// device delay on every packet update.
type frameTimer struct {
	kind      timerKind
	remaining int64
	event     apevent.Event
}

// New builds an output stage. device and rx may be nil initially; Configure
// supplies the first real device via outplugin.New at the engine layer
// before Run starts.
func New(in, notify *apqueue.Queue, pool *appacket.Pool, device outplugin.Device, rx *reactor.Reactor, log *slog.Logger) *Stage {
	if log == nil {
		log = slog.Default()
	}
	return &Stage{
		In: in, Notify: notify, Pool: pool, Device: device, Reactor: rx, Log: log,
		streamLength: -1,
		volume:       1,
	}
}

// Run drives the stage until Quit is processed or ctx is canceled.
func (s *Stage) Run(ctx context.Context) {
	defer s.teardown()
	for {
		switch s.mode {
		case modeDraining:
			if quit := s.stepDraining(ctx); quit {
				return
			}
		default:
			ev, err := s.popNext(ctx)
			if err != nil {
				return
			}
			if quit := s.handleEvent(ctx, ev); quit {
				return
			}
		}
	}
}

// popNext implements Running's plain pop and Pausing's pop_if_not(Buffer,
// Configure): per _examples/original_source/src/gap/ap_output_thread.cpp's
// wait_pause(), "we don't handle any Buffer or Configure events until we
// receive some other command first" -- the events are deferred, not
// dropped, so a skipped Buffer's packet stays owned by this stage rather
// than being released back to the pool. The skipped events are restored to
// the front of the queue, in their original order, once an acceptable event
// is found (or the wait ends in error), so resuming plays them exactly as
// if Pausing had never interrupted the queue.
func (s *Stage) popNext(ctx context.Context) (apevent.Event, error) {
	if s.mode != modePausing {
		return s.In.Pop(ctx)
	}
	var deferred []apevent.Event
	accept := func(e apevent.Event) bool {
		return e.Type() != apevent.TypeBuffer && e.Type() != apevent.TypeConfigure
	}
	onSkip := func(e apevent.Event) {
		deferred = append(deferred, e)
	}
	ev, err := s.In.PopIf(ctx, accept, onSkip)
	for i := len(deferred) - 1; i >= 0; i-- {
		s.In.Post(deferred[i], false)
	}
	return ev, err
}

func (s *Stage) handleEvent(ctx context.Context, ev apevent.Event) (quit bool) {
	switch e := ev.(type) {
	case *apevent.Configure:
		s.handleConfigure(e)
	case *apevent.Buffer:
		s.handleBuffer(e)
	case *apevent.End:
		s.enterDraining()
	case *apevent.Flush:
		s.handleFlush(e)
	case *apevent.Meta:
		s.scheduleMetaTimer(e)
	case *apevent.Pause:
		s.handlePause()
	case *apevent.Volume:
		s.handleVolume(e)
	case *apevent.SetReplayGain:
		s.replayGainMode = e.Mode
	case *apevent.GetReplayGain:
		select {
		case e.Reply <- s.replayGainMode:
		default:
		}
	case *apevent.SetOutputConfig:
		s.handleSetOutputConfig(e)
	case *apevent.GetOutputConfig:
		select {
		case e.Reply <- nil:
		default:
		}
	case *apevent.Quit:
		return true
	default:
	}
	return false
}

// handleConfigure implements spec §4.4's device format negotiation: drain
// first if the new format differs from both the current stream and device
// format, then (re)configure the device.
func (s *Stage) handleConfigure(e *apevent.Configure) {
	needsReconfig := !e.Format.Equal(s.streamFormat) && !e.Format.Equal(s.deviceFormat)
	if needsReconfig {
		if !s.deviceFormat.IsZero() {
			if err := s.Device.Drain(); err != nil {
				s.Log.Warn("output: drain before reconfigure", "error", err)
			}
		}
		accepted, err := s.Device.Configure(e.Format)
		if err != nil {
			s.failDevice(e.Stream(), fmt.Errorf("configure device: %w", err))
			return
		}
		s.deviceFormat = accepted
	}

	s.streamFormat = e.Format
	s.replayGain = e.ReplayGain
	s.streamLength = e.StreamLength
	if s.streamLength <= 0 {
		s.streamLength = -1
	}

	if e.Stream() != s.currentStream {
		s.beginCrossover(e.Stream(), e.StreamOffsetStart)
	} else {
		s.streamPosition = e.StreamOffsetStart
	}
}

func (s *Stage) handleBuffer(e *apevent.Buffer) {
	pkt := e.Packet
	defer pkt.Release()

	if e.Stream() != s.currentStream {
		s.beginCrossover(e.Stream(), pkt.StreamPosition)
	}

	data := pkt.Readable()
	nframes := pkt.NumFrames()
	if nframes == 0 {
		return
	}

	if scale, apply := apformat.Scale(s.replayGain, apformat.ReplayGainModeLike(s.replayGainMode)); apply {
		switch {
		case s.streamFormat.DataType == apformat.Float:
			apformat.ApplyGainFloat32(data, nframes*s.streamFormat.Channels, scale)
		case s.streamFormat.DataType == apformat.Signed && s.streamFormat.BitsPerSample == 16:
			apformat.ApplyGainS16(data, nframes*s.streamFormat.Channels, scale)
		}
	}

	out, outFrames, err := s.convert(data, nframes)
	if err != nil {
		s.failDevice(e.Stream(), err)
		return
	}

	s.updateTiming(pkt, outFrames)

	if err := s.Device.Write(out, outFrames); err != nil {
		s.failDevice(e.Stream(), fmt.Errorf("write: %w", err))
		return
	}
}

// convert applies spec §4.4 steps 2-4: rate conversion through tryResample
// when the stream and device rates differ (the mismatch is rejected when
// resampling is not applicable), sample-format conversion via the fixed
// matrix, and mono->stereo duplication.
func (s *Stage) convert(data []byte, nframes int) ([]byte, int, error) {
	if s.streamFormat.SampleRate != s.deviceFormat.SampleRate {
		resampled, ok, err := s.tryResample(data)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			return nil, 0, fmt.Errorf("apformat: rate mismatch stream=%d device=%d: %w",
				s.streamFormat.SampleRate, s.deviceFormat.SampleRate, apformat.ErrUnsupportedConversion)
		}
		data = resampled
		if fs := s.streamFormat.FrameSize(); fs > 0 {
			nframes = len(data) / fs
		}
	}

	needsFormatConv := s.streamFormat.DataType != s.deviceFormat.DataType ||
		s.streamFormat.BitsPerSample != s.deviceFormat.BitsPerSample ||
		s.streamFormat.Packing != s.deviceFormat.Packing
	needsChannelConv := s.streamFormat.Channels != s.deviceFormat.Channels

	if needsChannelConv && !(s.streamFormat.Channels == 1 && s.deviceFormat.Channels == 2) {
		return nil, 0, fmt.Errorf("apformat: unsupported channel conversion %d->%d: %w",
			s.streamFormat.Channels, s.deviceFormat.Channels, apformat.ErrUnsupportedConversion)
	}

	if !needsFormatConv && !needsChannelConv {
		return data, nframes, nil
	}

	// Convert sample format first (still at source channel count), then
	// expand mono->stereo if needed.
	midFmt := s.deviceFormat
	midFmt.Channels = s.streamFormat.Channels
	midFmt.ChannelMap = apformat.StandardChannelMap(s.streamFormat.Channels)

	convertedSize := nframes * midFmt.FrameSize()
	s.ensureScratch(convertedSize)
	mid := s.convScratch[:convertedSize]
	if needsFormatConv {
		if _, err := apformat.ConvertSamples(mid, midFmt, data, s.streamFormat, nframes); err != nil {
			return nil, 0, err
		}
	} else {
		copy(mid, data)
	}

	if !needsChannelConv {
		return mid, nframes, nil
	}

	finalSize := nframes * s.deviceFormat.FrameSize()
	final := make([]byte, finalSize)
	apformat.DuplicateMonoToStereo(final, mid, nframes, midFmt.Packing)
	return final, nframes, nil
}

// tryResample converts data from the stream rate to the device rate using
// internal/resample, reporting ok=false (not an error) when resampling
// isn't applicable so the caller falls back to rejecting the mismatch.
func (s *Stage) tryResample(data []byte) (out []byte, ok bool, err error) {
	if !s.Resample || s.streamFormat.DataType != apformat.Signed || s.streamFormat.BitsPerSample != 16 {
		return nil, false, nil
	}

	if s.resampler == nil || s.resampleInRate != s.streamFormat.SampleRate || s.resampleOutRate != s.deviceFormat.SampleRate {
		if s.resampleBuf == nil {
			s.resampleBuf = &bytes.Buffer{}
		}
		s.resampleBuf.Reset()
		w, err := resample.NewWriter(s.resampleBuf, s.streamFormat.SampleRate, s.deviceFormat.SampleRate, s.streamFormat.Channels)
		if err != nil {
			return nil, false, fmt.Errorf("output: build resampler: %w", err)
		}
		s.resampler = w
		s.resampleInRate = s.streamFormat.SampleRate
		s.resampleOutRate = s.deviceFormat.SampleRate
	} else {
		s.resampleBuf.Reset()
	}

	if _, err := s.resampler.Write(data); err != nil {
		return nil, false, fmt.Errorf("output: resample: %w", err)
	}
	converted := make([]byte, s.resampleBuf.Len())
	copy(converted, s.resampleBuf.Bytes())
	return converted, true, nil
}

func (s *Stage) ensureScratch(n int) {
	if cap(s.convScratch) < n {
		s.convScratch = make([]byte, n)
	} else {
		s.convScratch = s.convScratch[:n]
	}
}

// beginCrossover implements spec §4.4's stream-id-change branch: either an
// immediate drain (the prior stream had nothing left queued) or a deferred
// BOS keyed to the device's current delay.
func (s *Stage) beginCrossover(newStream apevent.StreamID, newPosition int64) {
	delay, _ := s.Device.Delay()
	s.currentStream = newStream
	s.streamPosition = newPosition
	s.writtenSinceBoundary = 0
	s.lastTimeUpdateSecond = -1
	s.eosEmitted = false
	s.timers = nil

	if delay <= 0 {
		s.remaining = 0
		s.emitBOS(newStream)
		return
	}
	s.remaining = delay
	s.bosEmitted = false
	// BOS is deferred until `remaining` drains away; see updateTiming.
}

func (s *Stage) emitBOS(stream apevent.StreamID) {
	s.bosEmitted = true
	s.Notify.Post(apevent.NewStateReady(stream), true)
	s.Notify.Post(apevent.NewBOS(stream), true)
	s.Notify.Post(apevent.NewStatePlaying(stream), true)
}

// updateTiming implements spec §4.4's timing/frame-timer state machine.
func (s *Stage) updateTiming(pkt *appacket.Packet, framesWritten int) {
	delay, _ := s.Device.Delay()
	s.writtenSinceBoundary += int64(framesWritten)

	if s.remaining > 0 {
		played := s.writtenSinceBoundary - delay
		if played >= s.writtenSinceBoundary-s.remaining {
			// Conservative estimate: once the just-written samples account
			// for more than the remaining prior-stream frames, the
			// crossover is done.
		}
		estimateRemaining := s.remaining - (s.writtenSinceBoundary - delay)
		if estimateRemaining <= 0 {
			s.remaining = 0
			if !s.bosEmitted {
				s.emitBOS(s.currentStream)
			}
		} else {
			s.remaining = estimateRemaining
		}
	}

	if s.remaining <= 0 {
		pos := pkt.StreamPosition - delay
		if pos < 0 {
			pos = 0
		}
		s.streamPosition = pos
	}

	s.driveFrameTimers(delay)

	if s.streamFormat.SampleRate > 0 {
		second := s.streamPosition / int64(s.streamFormat.SampleRate)
		if second != s.lastTimeUpdateSecond {
			s.lastTimeUpdateSecond = second
			lengthSeconds := uint32(0)
			if s.streamLength > 0 {
				lengthSeconds = uint32(s.streamLength / int64(s.streamFormat.SampleRate))
			}
			s.Notify.Post(apevent.NewTimeUpdate(s.currentStream, uint32(second), lengthSeconds), true)
		}
	}
}

// driveFrameTimers subtracts the absolute change in observed delay from
// every timer's remaining countdown and fires any that reach zero.
func (s *Stage) driveFrameTimers(delay int64) {
	if len(s.timers) == 0 {
		return
	}
	var remain []*frameTimer
	for _, t := range s.timers {
		t.remaining -= delay
		if t.remaining <= 0 {
			s.fireTimer(t)
		} else {
			remain = append(remain, t)
		}
	}
	s.timers = remain
}

func (s *Stage) fireTimer(t *frameTimer) {
	switch t.kind {
	case timerMeta:
		s.Notify.Post(t.event, true)
	case timerEOS:
		if !s.eosEmitted {
			s.eosEmitted = true
			s.Notify.Post(apevent.NewEOS(s.currentStream), true)
		}
	}
}

func (s *Stage) scheduleMetaTimer(e *apevent.Meta) {
	delay, _ := s.Device.Delay()
	s.timers = append(s.timers, &frameTimer{
		kind:      timerMeta,
		remaining: delay,
		event:     apevent.NewMetaInfo(e.Stream(), e.Title, e.Artist, e.Album),
	})
}

// enterDraining handles the End event: the decoder has no more data for
// the current stream, but the device may still have frames queued.
func (s *Stage) enterDraining() {
	s.mode = modeDraining
	if delay, _ := s.Device.Delay(); delay <= 0 {
		s.finishDraining()
		return
	}
	// Schedule the EOSTimer eosLeadSeconds early per spec §4.4.
	leadFrames := int64(0)
	if s.streamFormat.SampleRate > 0 {
		leadFrames = int64(eosLeadSeconds * float64(s.streamFormat.SampleRate))
	}
	delay, _ := s.Device.Delay()
	remaining := delay - leadFrames
	if remaining < 0 {
		remaining = 0
	}
	s.timers = append(s.timers, &frameTimer{kind: timerEOS, remaining: remaining})
}

// stepDraining implements spec §4.4 mode 3: periodically poll delay, fire
// due timers, update position, and once delay falls below
// drainPollThreshold call device.Drain() and issue EOS. It also honors the
// REDESIGN FLAG: a seek-originated Flush arriving mid-drain is deferred
// until the drain completes, and any pending Buffer/Configure for a
// different stream-id ends the drain immediately (crossover takes over)
// with EOS suppressed.
func (s *Stage) stepDraining(ctx context.Context) (quit bool) {
	isDeferredSeekFlush := func(e apevent.Event) bool {
		f, ok := e.(*apevent.Flush)
		return ok && f.FromSeek && f.Stream() == s.currentStream
	}
	accept := func(e apevent.Event) bool {
		return !isDeferredSeekFlush(e) // deferred; captured via onSkip below
	}
	onSkip := func(e apevent.Event) {
		if f, ok := e.(*apevent.Flush); ok {
			s.pendingFlush = f
		}
	}

	pollCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	ev, err := s.In.PopIf(pollCtx, accept, onSkip)
	cancel()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		// No new event within the poll window; fall through to the
		// periodic delay check below.
	case errors.Is(err, apqueue.ErrClosed), errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return true
	case err != nil:
		// ctx canceled by the caller (not our poll timeout).
		return ctx.Err() != nil
	default:
		if b, ok := ev.(*apevent.Buffer); ok && b.Stream() != s.currentStream {
			// A new stream's data arrived before the drain finished: the
			// in-flight EOS is suppressed and the crossover path in
			// handleBuffer takes over.
			s.eosEmitted = true
		}
		s.mode = modeRunning
		return s.handleEvent(ctx, ev)
	}

	delay, _ := s.Device.Delay()
	s.driveFrameTimers(delay)

	if time.Duration(delay) * time.Second / time.Duration(maxInt(s.streamFormat.SampleRate, 1)) <= drainPollThreshold {
		s.finishDraining()
	}
	return false
}

func (s *Stage) finishDraining() {
	if err := s.Device.Drain(); err != nil {
		s.Log.Warn("output: drain", "error", err)
	}
	if !s.eosEmitted {
		s.eosEmitted = true
		s.Notify.Post(apevent.NewEOS(s.currentStream), true)
	}
	s.mode = modeRunning
	s.timers = nil

	if s.pendingFlush != nil {
		flush := s.pendingFlush
		s.pendingFlush = nil
		s.In.Post(flush, false)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// handleFlush implements spec §4.4's Flush semantics: drop pending device
// audio, optionally close it, and reset all timing state.
func (s *Stage) handleFlush(e *apevent.Flush) {
	if err := s.Device.Drop(); err != nil {
		s.Log.Warn("output: drop", "error", err)
	}
	if e.Close {
		if err := s.Device.Close(); err != nil {
			s.Log.Warn("output: close device", "error", err)
		}
		s.deviceFormat = apformat.AudioFormat{}
	}
	s.timers = nil
	s.remaining = 0
	s.writtenSinceBoundary = 0
	s.streamPosition = 0
	s.lastTimeUpdateSecond = -1
	s.eosEmitted = false
	s.bosEmitted = false
	s.mode = modeRunning
}

// handlePause implements spec §4.4's Pause semantics: device.Pause(true)
// if supported, otherwise device.Drain() as a fallback since the hardware
// then simply plays silence until resumed.
func (s *Stage) handlePause() {
	if s.mode == modePausing {
		s.mode = modeRunning
		if s.Device.CanPause() {
			if err := s.Device.Pause(false); err != nil {
				s.Log.Warn("output: resume", "error", err)
			}
		}
		s.Notify.Post(apevent.NewStatePlaying(s.currentStream), true)
		return
	}

	s.mode = modePausing
	if s.Device.CanPause() {
		if err := s.Device.Pause(true); err != nil {
			s.Log.Warn("output: pause", "error", err)
		}
	} else {
		if err := s.Device.Drain(); err != nil {
			s.Log.Warn("output: drain on pause", "error", err)
		}
	}
	s.Notify.Post(apevent.NewStatePausing(s.currentStream), true)
}

func (s *Stage) handleVolume(e *apevent.Volume) {
	s.volume = e.Value
	if err := s.Device.SetVolume(e.Value); err != nil {
		s.Log.Warn("output: set volume", "error", err)
		s.Notify.Post(apevent.NewVolumeNotify(s.currentStream, s.Device.Volume(), false), true)
		return
	}
	s.Notify.Post(apevent.NewVolumeNotify(s.currentStream, s.Device.Volume(), true), true)
}

func (s *Stage) handleSetOutputConfig(e *apevent.SetOutputConfig) {
	if err := s.Device.SetConfig(e.Config); err != nil {
		s.Log.Warn("output: set output config", "error", err)
	}
}

// failDevice handles the §7 error-taxonomy rows for device failures: it
// emits ErrorMessage and clears the negotiated device format. The stage
// holds no upstream queue, so no Close is posted upstream.
func (s *Stage) failDevice(stream apevent.StreamID, err error) {
	s.Log.Warn("output: device error", "error", err)
	s.Notify.Post(apevent.NewErrorMessage(stream, err.Error()), true)
	s.deviceFormat = apformat.AudioFormat{}
	s.mode = modeRunning
}

func (s *Stage) teardown() {
	if s.resampler != nil {
		s.resampler.Close()
	}
	if s.Device != nil {
		s.Device.Close()
	}
}
