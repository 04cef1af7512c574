// Package apformat describes PCM audio formats, channel layouts, replay-gain
// scaling and the fixed stream->device sample conversion matrix used by the
// output stage.
package apformat

import "math"

// DataType is the in-memory representation of a sample.
type DataType uint8

const (
	Signed DataType = iota
	Unsigned
	Float
	IEC958
)

// ChannelRole names one position in a ChannelMap.
type ChannelRole uint8

const (
	Mono ChannelRole = iota
	FL
	FR
	FC
	LFE
	BL
	BR
	BC
	SL
	SR
)

// AudioFormat fully describes a PCM stream. Two formats are Equal when every
// field matches.
type AudioFormat struct {
	SampleRate    int
	BitsPerSample int // bits per sample as stored
	Packing       int // bytes per sample in memory
	DataType      DataType
	BigEndian     bool
	Channels      int
	ChannelMap    []ChannelRole
}

// Equal reports whether af and other describe the identical format.
func (af AudioFormat) Equal(other AudioFormat) bool {
	if af.SampleRate != other.SampleRate ||
		af.BitsPerSample != other.BitsPerSample ||
		af.Packing != other.Packing ||
		af.DataType != other.DataType ||
		af.BigEndian != other.BigEndian ||
		af.Channels != other.Channels {
		return false
	}
	if len(af.ChannelMap) != len(other.ChannelMap) {
		return false
	}
	for i := range af.ChannelMap {
		if af.ChannelMap[i] != other.ChannelMap[i] {
			return false
		}
	}
	return true
}

// FrameSize is the number of bytes occupied by one frame (one sample across
// all channels).
func (af AudioFormat) FrameSize() int {
	return af.Packing * af.Channels
}

// IsZero reports whether af has never been populated.
func (af AudioFormat) IsZero() bool {
	return af.SampleRate == 0 && af.Channels == 0
}

// StandardChannelMap returns the conventional FL/FR (or Mono) layout for the
// given channel count; anything beyond stereo is left unlabeled (zero
// value), matching the original engine's "only mono/stereo conversions are
// supported" rule.
func StandardChannelMap(channels int) []ChannelRole {
	switch channels {
	case 1:
		return []ChannelRole{Mono}
	case 2:
		return []ChannelRole{FL, FR}
	default:
		m := make([]ChannelRole, channels)
		return m
	}
}

// S16 builds a signed 16-bit little-endian format for rate/channels.
func S16(rate, channels int) AudioFormat {
	return AudioFormat{
		SampleRate:    rate,
		BitsPerSample: 16,
		Packing:       2,
		DataType:      Signed,
		Channels:      channels,
		ChannelMap:    StandardChannelMap(channels),
	}
}

// S32 builds a signed 32-bit little-endian format for rate/channels.
func S32(rate, channels int) AudioFormat {
	return AudioFormat{
		SampleRate:    rate,
		BitsPerSample: 32,
		Packing:       4,
		DataType:      Signed,
		Channels:      channels,
		ChannelMap:    StandardChannelMap(channels),
	}
}

// ReplayGain holds the four gain/peak fields from the stream's tags. A value
// of math.NaN() marks a field as not present (spec: "each nullable").
type ReplayGain struct {
	AlbumGain float64
	AlbumPeak float64
	TrackGain float64
	TrackPeak float64
}

// NoReplayGain returns a ReplayGain with every field marked absent.
func NoReplayGain() ReplayGain {
	nan := math.NaN()
	return ReplayGain{AlbumGain: nan, AlbumPeak: nan, TrackGain: nan, TrackPeak: nan}
}

func has(v float64) bool { return !math.IsNaN(v) }

// Selected returns the (gain, peak) pair the given mode should apply, and
// whether the gain is present (the peak may still be NaN when ok is true). Mirrors ReplayGainConfig::gain()/peak() from the
// original engine's output thread.
func (rg ReplayGain) Selected(mode ReplayGainModeLike) (gain, peak float64, ok bool) {
	switch mode {
	case ReplayGainAlbumMode:
		gain, peak = rg.AlbumGain, rg.AlbumPeak
	default:
		gain, peak = rg.TrackGain, rg.TrackPeak
	}
	return gain, peak, has(gain)
}

// ReplayGainModeLike avoids importing apevent here; engine/output pass
// apevent.ReplayGainMode values through this alias.
type ReplayGainModeLike = uint8

const (
	ReplayGainOffMode   ReplayGainModeLike = 0
	ReplayGainTrackMode ReplayGainModeLike = 1
	ReplayGainAlbumMode ReplayGainModeLike = 2
)

// Scale computes the elementwise multiplier for the given mode, applying the
// peak-clamp rule from spec §4.4 step 1: scale = 10^(gain/20), clamped to
// 1/peak if scale*peak would exceed 1.
func Scale(rg ReplayGain, mode ReplayGainModeLike) (scale float64, apply bool) {
	if mode == ReplayGainOffMode {
		return 1, false
	}
	gain, peak, ok := rg.Selected(mode)
	if !ok {
		return 1, false
	}
	scale = math.Pow(10, gain/20)
	if has(peak) && scale*peak > 1 {
		scale = 1 / peak
	}
	return scale, true
}
