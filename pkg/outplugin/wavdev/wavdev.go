// Package wavdev implements outplugin.Device by writing PCM straight to a
// WAV file via github.com/youpy/go-wav's sample-based Writer, the same
// library the teacher uses for decode (pkg/decoders/wav/wav.go) applied in
// the opposite direction.
package wavdev

import (
	"fmt"
	"os"
	"time"

	"github.com/youpy/go-wav"

	"github.com/gogglesmm/gap-core/pkg/apformat"
	"github.com/gogglesmm/gap-core/pkg/outplugin"
)

func init() {
	outplugin.Register(outplugin.KindWav, func() outplugin.Device { return New() })
}

// Config selects the output file path; an empty Path means "auto-unique"
// per spec §6 ("Wav: none -- path is auto-unique").
type Config struct {
	Path string
}

// Device writes PCM frames to a WAV file. It has no hardware buffering, so
// Delay is always zero and Pause is unsupported (CanPause reports false,
// matching the spec's "otherwise call device.drain()" branch).
type Device struct {
	path    string
	file    *os.File
	writer  *wav.Writer
	format  apformat.AudioFormat
	volume  float64
	written int64
}

// New returns a ready-to-configure WAV-file device.
func New() *Device {
	return &Device{volume: 1, path: fmt.Sprintf("gap-output-%d.wav", time.Now().UnixNano())}
}

func (d *Device) Kind() outplugin.Kind { return outplugin.KindWav }

func (d *Device) SetConfig(cfg any) error {
	if c, ok := cfg.(Config); ok && c.Path != "" {
		d.path = c.Path
	}
	return nil
}

func (d *Device) Configure(af apformat.AudioFormat) (apformat.AudioFormat, error) {
	if d.file != nil {
		d.Close()
	}
	f, err := os.Create(d.path)
	if err != nil {
		return apformat.AudioFormat{}, fmt.Errorf("wavdev: create %q: %w", d.path, err)
	}
	// go-wav's Writer only supports integer PCM; float streams must already
	// have been converted to S16/S32 by pkg/apformat.ConvertSamples before
	// reaching the device, matching every other device-kind's assumption
	// that Configure's af is the negotiated *device* format.
	d.file = f
	d.writer = wav.NewWriter(f, 0, uint16(af.Channels), uint32(af.SampleRate), uint16(af.BitsPerSample))
	d.format = af
	d.written = 0
	return af, nil
}

func (d *Device) Write(buf []byte, nframes int) error {
	if d.writer == nil {
		return fmt.Errorf("wavdev: not configured")
	}
	n, err := d.writer.Write(buf)
	d.written += int64(n)
	if err != nil {
		return fmt.Errorf("wavdev: write: %w", err)
	}
	return nil
}

func (d *Device) Delay() (int64, error) { return 0, nil }
func (d *Device) Drop() error           { return nil }
func (d *Device) Drain() error          { return nil }
func (d *Device) CanPause() bool        { return false }
func (d *Device) Pause(bool) error      { return nil }
func (d *Device) Volume() float64       { return d.volume }

func (d *Device) SetVolume(v float64) error {
	d.volume = v
	return nil
}

func (d *Device) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	d.writer = nil
	return err
}
