package output

import (
	"context"
	"testing"
	"time"

	"github.com/gogglesmm/gap-core/pkg/apevent"
	"github.com/gogglesmm/gap-core/pkg/apformat"
	"github.com/gogglesmm/gap-core/pkg/apqueue"
	"github.com/gogglesmm/gap-core/pkg/appacket"
	"github.com/gogglesmm/gap-core/pkg/outplugin"
	"github.com/gogglesmm/gap-core/pkg/reactor"
)

// fakeDevice is a deterministic outplugin.Device double: delay is whatever
// the test sets it to directly, rather than modeling real buffering.
type fakeDevice struct {
	kind        outplugin.Kind
	format      apformat.AudioFormat
	delayFrames int64
	canPause    bool
	paused      bool
	volume      float64
	written     []byte
	writeCalls  int
	dropCalls   int
	drainCalls  int
	closeCalls  int
	configErr   error
}

func (d *fakeDevice) Kind() outplugin.Kind { return d.kind }
func (d *fakeDevice) SetConfig(cfg any) error { return nil }
func (d *fakeDevice) Configure(af apformat.AudioFormat) (apformat.AudioFormat, error) {
	if d.configErr != nil {
		return apformat.AudioFormat{}, d.configErr
	}
	if d.format.IsZero() {
		d.format = af
	}
	return d.format, nil
}
func (d *fakeDevice) Write(buf []byte, nframes int) error {
	d.writeCalls++
	d.written = append(d.written, buf...)
	return nil
}
func (d *fakeDevice) Delay() (int64, error)   { return d.delayFrames, nil }
func (d *fakeDevice) Drop() error             { d.dropCalls++; return nil }
func (d *fakeDevice) Drain() error            { d.drainCalls++; return nil }
func (d *fakeDevice) CanPause() bool          { return d.canPause }
func (d *fakeDevice) Pause(p bool) error      { d.paused = p; return nil }
func (d *fakeDevice) Volume() float64         { return d.volume }
func (d *fakeDevice) SetVolume(v float64) error { d.volume = v; return nil }
func (d *fakeDevice) Close() error            { d.closeCalls++; return nil }

func newTestStage(dev *fakeDevice) (*Stage, *apqueue.Queue, *apqueue.Queue, *appacket.Pool) {
	in := apqueue.New()
	notify := apqueue.New()
	pool := appacket.New(4, 256)
	s := New(in, notify, pool, dev, reactor.New(), nil)
	return s, in, notify, pool
}

func popNotify(t *testing.T, q *apqueue.Queue) apevent.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("expected a notification, got error: %v", err)
	}
	return ev
}

func TestHandleConfigureZeroDelayEmitsBOSImmediately(t *testing.T) {
	dev := &fakeDevice{delayFrames: 0}
	s, _, notify, _ := newTestStage(dev)

	cfg := apevent.NewConfigure(1)
	cfg.Format = apformat.S16(44100, 2)
	cfg.StreamLength = -1
	s.handleConfigure(cfg)

	if ev := popNotify(t, notify); ev.Type() != apevent.TypeStateReady {
		t.Fatalf("expected StateReady first, got %T", ev)
	}
	if ev := popNotify(t, notify); ev.Type() != apevent.TypeBOS {
		t.Fatalf("expected BOS second, got %T", ev)
	}
	if ev := popNotify(t, notify); ev.Type() != apevent.TypeStatePlaying {
		t.Fatalf("expected StatePlaying third, got %T", ev)
	}
	if !s.bosEmitted {
		t.Fatal("bosEmitted should be true")
	}
}

func TestHandleConfigureNonZeroDelayDefersBOS(t *testing.T) {
	dev := &fakeDevice{delayFrames: 4410} // 100ms of prior-stream audio queued
	s, _, notify, _ := newTestStage(dev)

	cfg := apevent.NewConfigure(1)
	cfg.Format = apformat.S16(44100, 2)
	s.handleConfigure(cfg)

	if s.bosEmitted {
		t.Fatal("BOS should be deferred while the device still has prior-stream frames queued")
	}
	if notify.Len() != 0 {
		t.Fatalf("no notification expected yet, len=%d", notify.Len())
	}
	if s.remaining != 4410 {
		t.Fatalf("remaining = %d, want 4410", s.remaining)
	}
}

func TestUpdateTimingEmitsDeferredBOSOnceCrossoverClears(t *testing.T) {
	dev := &fakeDevice{delayFrames: 1000}
	s, _, notify, pool := newTestStage(dev)

	cfg := apevent.NewConfigure(1)
	cfg.Format = apformat.S16(44100, 2)
	s.handleConfigure(cfg)
	if s.bosEmitted {
		t.Fatal("precondition: BOS should not be emitted yet")
	}

	// The device delay has fully drained to 0 by the time this packet's
	// worth of frames is accounted for, so the prior stream must be done.
	dev.delayFrames = 0
	pkt, _ := pool.Acquire(context.Background(), nil)
	pkt.Format = cfg.Format
	s.updateTiming(pkt, 2000)

	if !s.bosEmitted {
		t.Fatal("BOS should fire once the crossover estimate clears")
	}
	if ev := popNotify(t, notify); ev.Type() != apevent.TypeStateReady {
		t.Fatalf("expected StateReady, got %T", ev)
	}
}

func TestHandleBufferAppliesTrackReplayGain(t *testing.T) {
	dev := &fakeDevice{delayFrames: 0}
	s, _, notify, pool := newTestStage(dev)

	fmtS16 := apformat.S16(44100, 1)
	cfg := apevent.NewConfigure(1)
	cfg.Format = fmtS16
	cfg.ReplayGain = apformat.ReplayGain{TrackGain: -6, TrackPeak: 0.9}
	s.handleConfigure(cfg)
	drainNotifications(notify) // BOS triplet

	s.replayGainMode = apevent.ReplayGainTrack

	pkt, _ := pool.Acquire(context.Background(), nil)
	pkt.Format = fmtS16
	pkt.StreamPosition = 0
	n := copy(pkt.Writable(), []byte{0x00, 0x40}) // 16384 as int16 LE
	pkt.Advance(n)

	s.handleBuffer(apevent.NewBuffer(1, pkt))

	if dev.writeCalls != 1 {
		t.Fatalf("expected one device write, got %d", dev.writeCalls)
	}
	if len(dev.written) != 2 {
		t.Fatalf("written length = %d, want 2", len(dev.written))
	}
	// -6dB scale (~0.501) applied to 16384 should shrink the sample, not
	// leave it untouched or clamp it.
	got := int16(uint16(dev.written[0]) | uint16(dev.written[1])<<8)
	if got == 16384 || got == 0 {
		t.Fatalf("gain-scaled sample = %d, expected a reduced nonzero value", got)
	}
}

func TestHandleBufferRejectsUnsupportedRateMismatch(t *testing.T) {
	dev := &fakeDevice{delayFrames: 0}
	s, _, notify, pool := newTestStage(dev)

	cfg := apevent.NewConfigure(1)
	cfg.Format = apformat.S16(44100, 2)
	s.handleConfigure(cfg)
	drainNotifications(notify)

	// Force a stream/device rate mismatch without resampling enabled.
	s.streamFormat.SampleRate = 48000

	pkt, _ := pool.Acquire(context.Background(), nil)
	pkt.Format = s.streamFormat
	pkt.Advance(4)

	s.handleBuffer(apevent.NewBuffer(1, pkt))

	ev := popNotify(t, notify)
	msg, ok := ev.(*apevent.ErrorMessage)
	if !ok {
		t.Fatalf("expected ErrorMessage for rate mismatch, got %T", ev)
	}
	if msg.Text == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestHandleFlushResetsTimingState(t *testing.T) {
	dev := &fakeDevice{delayFrames: 0}
	s, _, _, _ := newTestStage(dev)
	s.streamPosition = 500
	s.writtenSinceBoundary = 1000
	s.bosEmitted = true
	s.eosEmitted = true
	s.mode = modePausing

	s.handleFlush(apevent.NewFlush(1, true))

	if dev.dropCalls != 1 {
		t.Fatalf("Drop should be called once, got %d", dev.dropCalls)
	}
	if dev.closeCalls != 1 {
		t.Fatalf("Close should be called once for Flush{Close:true}, got %d", dev.closeCalls)
	}
	if s.streamPosition != 0 || s.writtenSinceBoundary != 0 {
		t.Fatal("flush should reset position/boundary counters")
	}
	if s.bosEmitted || s.eosEmitted {
		t.Fatal("flush should clear BOS/EOS flags for the next stream")
	}
	if s.mode != modeRunning {
		t.Fatal("flush should return the stage to Running mode")
	}
}

func TestHandlePauseTogglesModeAndUsesDevicePauseWhenSupported(t *testing.T) {
	dev := &fakeDevice{canPause: true}
	s, _, notify, _ := newTestStage(dev)

	s.handlePause()
	if s.mode != modePausing {
		t.Fatal("expected Pausing mode")
	}
	if !dev.paused {
		t.Fatal("expected device.Pause(true) to be called")
	}
	if ev := popNotify(t, notify); ev.Type() != apevent.TypeStatePausing {
		t.Fatalf("expected StatePausing, got %T", ev)
	}

	s.handlePause() // resume
	if s.mode != modeRunning {
		t.Fatal("expected Running mode after second Pause")
	}
	if dev.paused {
		t.Fatal("expected device.Pause(false) to be called on resume")
	}
	if ev := popNotify(t, notify); ev.Type() != apevent.TypeStatePlaying {
		t.Fatalf("expected StatePlaying, got %T", ev)
	}
}

func TestHandlePauseFallsBackToDrainWhenUnsupported(t *testing.T) {
	dev := &fakeDevice{canPause: false}
	s, _, _, _ := newTestStage(dev)

	s.handlePause()
	if dev.drainCalls != 1 {
		t.Fatalf("expected Drain fallback, got %d calls", dev.drainCalls)
	}
}

func TestPopNextDefersBufferAndConfigureWhilePausing(t *testing.T) {
	dev := &fakeDevice{}
	s, in, _, pool := newTestStage(dev)
	s.mode = modePausing

	pkt, _ := pool.Acquire(context.Background(), nil)
	buf := apevent.NewBuffer(1, pkt)
	cfg := apevent.NewConfigure(1)
	in.Post(buf, true)
	in.Post(cfg, true)
	in.Post(apevent.NewVolume(1, 0.5), true)

	ev, err := s.popNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := ev.(*apevent.Volume); !ok {
		t.Fatalf("expected Volume to be the first accepted event, got %T", ev)
	}
	if pool.Available() != pool.Capacity()-1 {
		t.Fatalf("the deferred Buffer's packet must stay owned by this stage, not released, available=%d", pool.Available())
	}
	if in.Len() != 2 {
		t.Fatalf("deferred Buffer/Configure should be restored to the queue, len=%d", in.Len())
	}
	first, _ := in.Pop(context.Background())
	if first != apevent.Event(buf) {
		t.Fatal("restored events must keep their original relative order: Buffer first")
	}
	second, _ := in.Pop(context.Background())
	if second != apevent.Event(cfg) {
		t.Fatal("restored events must keep their original relative order: Configure second")
	}
}

func TestEnterDrainingZeroDelayFinishesImmediately(t *testing.T) {
	dev := &fakeDevice{delayFrames: 0}
	s, _, notify, _ := newTestStage(dev)
	s.currentStream = 1

	s.enterDraining()

	if s.mode != modeRunning {
		t.Fatal("zero delay should finish draining immediately, returning to Running")
	}
	if dev.drainCalls != 1 {
		t.Fatalf("expected Drain to be called, got %d", dev.drainCalls)
	}
	ev := popNotify(t, notify)
	if _, ok := ev.(*apevent.EOS); !ok {
		t.Fatalf("expected EOS, got %T", ev)
	}
}

// TestSeekDuringDrainingIsDeferredUntilFinish drives the REDESIGN FLAG
// through the actual wired path: a Seek never reaches this stage directly
// (pkg/input.Stage.handleSeek handles it and posts a Flush carrying the new
// decode offset instead), so this posts the same kind of event the real
// pipeline would -- a Flush with FromSeek set for the currently-draining
// stream -- rather than an apevent.Seek in isolation.
func TestSeekDuringDrainingIsDeferredUntilFinish(t *testing.T) {
	dev := &fakeDevice{delayFrames: 1_000_000} // large so the drain doesn't finish on the first poll
	s, in, _, _ := newTestStage(dev)
	s.currentStream = 1
	s.streamFormat = apformat.S16(44100, 2)
	s.enterDraining()

	seekFlush := apevent.NewFlush(1, false)
	seekFlush.OffsetFrames = 22050
	seekFlush.FromSeek = true
	in.Post(seekFlush, true)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	quit := s.stepDraining(ctx)
	if quit {
		t.Fatal("stepDraining should not request quit")
	}
	if s.pendingFlush != seekFlush {
		t.Fatal("the seek-originated Flush should be captured as pendingFlush rather than acted on mid-drain")
	}
	if s.mode != modeDraining {
		t.Fatal("stage should remain in Draining while the seek is deferred")
	}

	dev.delayFrames = 0 // let the drain finish on the next step
	s.stepDraining(context.Background())

	if s.mode != modeRunning {
		t.Fatal("drain should complete once delay falls below the poll threshold")
	}
	if in.Len() != 1 {
		t.Fatalf("the deferred Flush should be re-posted to the front of the queue, len=%d", in.Len())
	}
	ev, _ := in.Pop(context.Background())
	if ev != apevent.Event(seekFlush) {
		t.Fatal("re-posted event should be the original seek-originated Flush")
	}
}

// TestOpenFlushDuringDrainingIsNotDeferred ensures only a seek-originated
// Flush is subject to the REDESIGN FLAG; an OpenFlush-style Flush (no
// FromSeek) must still interrupt an in-progress drain immediately, since
// its whole point is to discard the old stream outright.
func TestOpenFlushDuringDrainingIsNotDeferred(t *testing.T) {
	dev := &fakeDevice{delayFrames: 1_000_000}
	s, in, _, _ := newTestStage(dev)
	s.currentStream = 1
	s.streamFormat = apformat.S16(44100, 2)
	s.enterDraining()

	in.Post(apevent.NewFlush(1, false), true)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s.stepDraining(ctx)

	if s.pendingFlush != nil {
		t.Fatal("a non-seek Flush should not be deferred as pendingFlush")
	}
	if s.mode != modeRunning {
		t.Fatal("a non-seek Flush should interrupt the drain immediately")
	}
}

func drainNotifications(q *apqueue.Queue) {
	for q.Len() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		q.Pop(ctx)
		cancel()
	}
}
