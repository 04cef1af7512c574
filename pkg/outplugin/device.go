// Package outplugin implements the output-plugin host of spec §4.6: a
// uniform device contract and a registry resolving a device kind to a
// constructor. The original's dynamic shared-library ABI
// (ap_load_plugin/ap_free_plugin/ap_version) is replaced by a compile-time
// registry in the teacher's pkg/decoders/factory.go style, since Go has no
// stable C-ABI plugin story that fits this codebase's idioms.
package outplugin

import (
	"fmt"

	"github.com/gogglesmm/gap-core/pkg/apformat"
)

// Kind identifies a device backend, matching the tagged-union of spec §6's
// output-plugin configuration (ALSA, OSS, Pulse, RSound, JACK, Wav, None).
// ALSA/OSS/Pulse/RSound/JACK all resolve to the same PortAudio-backed
// device in this implementation (see SPEC_FULL.md §2): PortAudio's own
// host-API/device-index selection stands in for each native backend.
type Kind uint8

const (
	KindNone Kind = iota
	KindPortAudio
	KindWav
)

func (k Kind) String() string {
	switch k {
	case KindPortAudio:
		return "portaudio"
	case KindWav:
		return "wav"
	default:
		return "none"
	}
}

// Device is the output-plugin contract of spec §4.6.
type Device interface {
	Kind() Kind
	// SetConfig accepts a device-kind-specific configuration (apconfig's
	// tagged union arm matching Kind); nil resets to defaults.
	SetConfig(cfg any) error
	// Configure prepares the device for af, returning the format the
	// device actually accepted (may differ but must be convertible from af
	// by pkg/apformat.ConvertSamples).
	Configure(af apformat.AudioFormat) (apformat.AudioFormat, error)
	// Write blocks until exactly nframes frames of buf have been consumed
	// by the device.
	Write(buf []byte, nframes int) error
	// Delay reports frames queued in the device that are written but not
	// yet played.
	Delay() (int64, error)
	// Drop discards unplayed frames immediately.
	Drop() error
	// Drain blocks until the device empties.
	Drain() error
	CanPause() bool
	Pause(bool) error
	Volume() float64
	SetVolume(float64) error
	Close() error
}

// Constructor builds a fresh, unconfigured Device for a kind.
type Constructor func() Device

var registry = map[Kind]Constructor{}

// Register adds a device constructor, called from each device package's
// init().
func Register(kind Kind, ctor Constructor) {
	registry[kind] = ctor
}

// ErrUnsupportedKind is returned by New for a kind with no registered
// device -- spec §7's "Plugin load / ABI mismatch: device disabled, stage
// continues with DeviceNone."
var ErrUnsupportedKind = fmt.Errorf("outplugin: unsupported device kind")

// New looks up and constructs a device for kind.
func New(kind Kind) (Device, error) {
	ctor, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKind, kind)
	}
	return ctor(), nil
}
