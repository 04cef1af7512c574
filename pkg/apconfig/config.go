// Package apconfig implements the output-device configuration described in
// spec §6: a tagged-union-style config persisted as YAML, the same
// serialization the teacher's ecosystem uses for user-facing configuration
// (gopkg.in/yaml.v3, already a teacher go.mod dependency though unused by
// the teacher's own code -- see DESIGN.md).
package apconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gogglesmm/gap-core/pkg/outplugin"
	"github.com/gogglesmm/gap-core/pkg/outplugin/portaudiodev"
	"github.com/gogglesmm/gap-core/pkg/outplugin/wavdev"
)

// OutputConfig is the persisted, user-editable device configuration of
// spec §6. Kind selects which of the other fields is meaningful; every
// native backend name (ALSA/OSS/Pulse/RSound/JACK) maps onto the PortAudio
// fields, since all of them resolve to outplugin.KindPortAudio here (see
// SPEC_FULL.md §2 and the outplugin.Kind doc comment).
type OutputConfig struct {
	Kind string `yaml:"kind"` // "alsa" | "oss" | "pulse" | "rsound" | "jack" | "wav" | "none"

	PortAudioDeviceIndex     int `yaml:"portaudio_device_index,omitempty"`
	PortAudioFramesPerBuffer int `yaml:"portaudio_frames_per_buffer,omitempty"`

	WavPath string `yaml:"wav_path,omitempty"`
}

// Default returns the spec's implied default: best-effort native output
// device, frames-per-buffer chosen for the "balanced" profile the teacher
// itself recommends in cmd/player.go's help text.
func Default() OutputConfig {
	return OutputConfig{
		Kind:                     "alsa",
		PortAudioDeviceIndex:     -1,
		PortAudioFramesPerBuffer: 512,
	}
}

// Load reads and parses an OutputConfig from path.
func Load(path string) (OutputConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return OutputConfig{}, fmt.Errorf("apconfig: read %q: %w", path, err)
	}
	var cfg OutputConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return OutputConfig{}, fmt.Errorf("apconfig: parse %q: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg OutputConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("apconfig: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("apconfig: write %q: %w", path, err)
	}
	return nil
}

// DeviceKind maps the persisted string tag onto an outplugin.Kind, folding
// every native-backend name onto KindPortAudio.
func (c OutputConfig) DeviceKind() outplugin.Kind {
	switch c.Kind {
	case "wav":
		return outplugin.KindWav
	case "none":
		return outplugin.KindNone
	case "alsa", "oss", "pulse", "rsound", "jack":
		return outplugin.KindPortAudio
	default:
		return outplugin.KindNone
	}
}

// DeviceConfig returns the device-kind-specific config value ready for
// outplugin.Device.SetConfig.
func (c OutputConfig) DeviceConfig() any {
	switch c.DeviceKind() {
	case outplugin.KindPortAudio:
		return portaudiodev.Config{DeviceIndex: c.PortAudioDeviceIndex, FramesPerBuffer: c.PortAudioFramesPerBuffer}
	case outplugin.KindWav:
		return wavdev.Config{Path: c.WavPath}
	default:
		return nil
	}
}
