// Package portaudiodev implements outplugin.Device on top of
// github.com/drgolem/go-portaudio, the teacher's own output backend
// (pkg/audioplayer/player.go). It stands in for every native ALSA/OSS/
// Pulse/JACK/RSound device-kind named in spec §6 (see SPEC_FULL.md §2):
// PortAudio's own host-API and device-index selection plays the role each
// of those backends would otherwise need its own Go binding for.
package portaudiodev

import (
	"fmt"
	"sync"
	"time"

	"github.com/drgolem/go-portaudio/portaudio"

	"github.com/gogglesmm/gap-core/pkg/apformat"
	"github.com/gogglesmm/gap-core/pkg/outplugin"
)

func init() {
	outplugin.Register(outplugin.KindPortAudio, func() outplugin.Device { return New() })
}

// Config selects the PortAudio device index and callback buffer size,
// mirroring cmd/player.go's --device/--frames-per-buffer flags in the
// teacher.
type Config struct {
	DeviceIndex     int
	FramesPerBuffer int
}

// Device wraps a blocking-mode PortAudio stream, grounded on
// pkg/audioplayer/player.go's initStream/Write/Stop sequence (NewStream ->
// Open -> StartStream -> Write, StopStream -> Close on teardown).
type Device struct {
	mu sync.Mutex

	cfg    Config
	stream *portaudio.PaStream
	format apformat.AudioFormat
	volume float64

	// PortAudio's blocking API exposes no delay/xrun query, so Delay is
	// estimated from the wall-clock elapsed since the last Write versus
	// the frames just written -- an approximation documented in
	// DESIGN.md, not a hardware-accurate figure.
	lastWriteAt     time.Time
	lastWriteFrames int64
	paused          bool
}

// New returns a ready-to-configure PortAudio device. Devices are expected
// to be constructed after portaudio.Initialize() has been called once at
// process start (by cmd/gapplay) and before portaudio.Terminate() at exit.
func New() *Device {
	return &Device{cfg: Config{DeviceIndex: -1, FramesPerBuffer: 1024}, volume: 1}
}

func (d *Device) Kind() outplugin.Kind { return outplugin.KindPortAudio }

func (d *Device) SetConfig(cfg any) error {
	c, ok := cfg.(Config)
	if !ok {
		return fmt.Errorf("portaudiodev: unexpected config type %T", cfg)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.FramesPerBuffer <= 0 {
		c.FramesPerBuffer = d.cfg.FramesPerBuffer
	}
	d.cfg = c
	return nil
}

func sampleFormatFor(bits int) (portaudio.PaSampleFormat, error) {
	switch bits {
	case 16:
		return portaudio.SampleFmtInt16, nil
	case 24:
		return portaudio.SampleFmtInt24, nil
	case 32:
		return portaudio.SampleFmtInt32, nil
	default:
		return 0, fmt.Errorf("portaudiodev: unsupported bit depth %d", bits)
	}
}

// Configure opens a fresh PortAudio stream for af. The stream/device
// format negotiation of spec §4.4 is a closed set here (PortAudio accepts
// exactly what it's asked, or errors) so the returned format always equals
// af on success.
func (d *Device) Configure(af apformat.AudioFormat) (apformat.AudioFormat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream != nil {
		d.stream.StopStream()
		d.stream.Close()
		d.stream = nil
	}

	sampleFormat, err := sampleFormatFor(af.BitsPerSample)
	if err != nil {
		return apformat.AudioFormat{}, err
	}

	stream, err := portaudio.NewStream(portaudio.PaStreamParameters{
		DeviceIndex:  d.cfg.DeviceIndex,
		ChannelCount: af.Channels,
		SampleFormat: sampleFormat,
	}, float64(af.SampleRate))
	if err != nil {
		return apformat.AudioFormat{}, fmt.Errorf("portaudiodev: new stream: %w", err)
	}
	if err := stream.Open(d.cfg.FramesPerBuffer); err != nil {
		return apformat.AudioFormat{}, fmt.Errorf("portaudiodev: open stream: %w", err)
	}
	if err := stream.StartStream(); err != nil {
		stream.Close()
		return apformat.AudioFormat{}, fmt.Errorf("portaudiodev: start stream: %w", err)
	}

	d.stream = stream
	d.format = af
	d.lastWriteAt = time.Time{}
	d.lastWriteFrames = 0
	return af, nil
}

func (d *Device) Write(buf []byte, nframes int) error {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()
	if stream == nil {
		return fmt.Errorf("portaudiodev: not configured")
	}
	if err := stream.Write(nframes, buf); err != nil {
		return fmt.Errorf("portaudiodev: write: %w", err)
	}
	d.mu.Lock()
	d.lastWriteAt = time.Now()
	d.lastWriteFrames = int64(nframes)
	d.mu.Unlock()
	return nil
}

// Delay estimates unplayed frames from elapsed time since the last Write,
// clamped to that write's own frame count (see the Device doc comment).
func (d *Device) Delay() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastWriteAt.IsZero() || d.format.SampleRate == 0 {
		return 0, nil
	}
	elapsedFrames := int64(time.Since(d.lastWriteAt).Seconds() * float64(d.format.SampleRate))
	remaining := d.lastWriteFrames - elapsedFrames
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (d *Device) Drop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastWriteFrames = 0
	return nil
}

func (d *Device) Drain() error {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()
	if stream == nil {
		return nil
	}
	delay, _ := d.Delay()
	if d.format.SampleRate > 0 && delay > 0 {
		time.Sleep(time.Duration(delay) * time.Second / time.Duration(d.format.SampleRate))
	}
	return nil
}

// CanPause is false: go-portaudio's blocking API exposes no pause/resume
// primitive, so the output stage must fall back to Drain on Pause (spec
// §4.4's "otherwise call device.drain()" branch).
func (d *Device) CanPause() bool { return false }

func (d *Device) Pause(p bool) error {
	d.mu.Lock()
	d.paused = p
	d.mu.Unlock()
	return nil
}

func (d *Device) Volume() float64 { return d.volume }

func (d *Device) SetVolume(v float64) error {
	d.volume = v
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return nil
	}
	d.stream.StopStream()
	err := d.stream.Close()
	d.stream = nil
	return err
}
