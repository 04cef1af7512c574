// Package nulldev implements outplugin.Device as a discard sink: it
// accepts any format and reports writes as instantaneous, used as the
// DeviceNone fallback of spec §7 when a real device fails to load or
// configure.
package nulldev

import (
	"time"

	"github.com/gogglesmm/gap-core/pkg/apformat"
	"github.com/gogglesmm/gap-core/pkg/outplugin"
)

func init() {
	outplugin.Register(outplugin.KindNone, func() outplugin.Device { return New() })
}

// Device discards every frame written to it and always reports a zero
// Delay, so the output stage treats every write as already played.
type Device struct {
	format     apformat.AudioFormat
	lastWrite  time.Time
	volume     float64
	paused     bool
}

// New returns a ready-to-configure null device.
func New() *Device { return &Device{volume: 1} }

func (d *Device) Kind() outplugin.Kind { return outplugin.KindNone }

func (d *Device) SetConfig(cfg any) error { return nil }

func (d *Device) Configure(af apformat.AudioFormat) (apformat.AudioFormat, error) {
	d.format = af
	return af, nil
}

func (d *Device) Write(buf []byte, nframes int) error {
	d.lastWrite = time.Now()
	return nil
}

func (d *Device) Delay() (int64, error) { return 0, nil }
func (d *Device) Drop() error           { return nil }
func (d *Device) Drain() error          { return nil }
func (d *Device) CanPause() bool        { return true }

func (d *Device) Pause(p bool) error {
	d.paused = p
	return nil
}

func (d *Device) Volume() float64 { return d.volume }

func (d *Device) SetVolume(v float64) error {
	d.volume = v
	return nil
}

func (d *Device) Close() error { return nil }
