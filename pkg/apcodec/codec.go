// Package apcodec implements the codec-plugin contract of spec §4.3/§6:
// instantiate a decoder matching a stream's codec, turn coded packets into
// PCM packets with stream-position timestamps that start at the pre-roll
// offset. Leading decoded samples are not dropped.
package apcodec

import (
	"fmt"

	"github.com/gogglesmm/gap-core/pkg/apformat"
	"github.com/gogglesmm/gap-core/pkg/apreader"
	"github.com/gogglesmm/gap-core/pkg/appacket"
)

// Result mirrors Ok|Interrupted|Err from spec §4.3.
type Result uint8

const (
	Ok Result = iota
	Interrupted
	Err
)

// Codec names a decodable format; values line up with apreader.Format so a
// Configure event can carry either.
type Codec = apreader.Format

// InitContext is everything a plugin needs to Init: the resolved source
// location (reopened directly by the plugin, since the wired decode
// libraries are whole-file/whole-stream decoders -- see SPEC_FULL.md §4)
// plus the pre-roll sample count from spec §4.3.
type InitContext struct {
	URL               string
	Codec             Codec
	PreRollFrames     int64
}

// OutputFunc is get_output_packet() from spec §4.3, collapsed with the
// "post downstream" step that immediately follows a successful emission in
// the original engine: it acquires a pool packet honoring back-pressure,
// lets fill populate it, then either posts it downstream (if fill wrote
// anything) or releases it back to the pool. It returns appacket.ErrInterrupted
// if a control event preempts the pool wait -- the plugin must propagate
// that as Interrupted without looping further.
type OutputFunc func(fill func(pkt *appacket.Packet)) error

// Plugin is the codec-plugin contract of spec §4.3.
type Plugin interface {
	Init(ctx InitContext) error
	Flush(offsetFrames int64) error
	// Process is handed one coded-data packet (ignored by whole-file
	// adapters, consumed for back-pressure symmetry) and must emit zero or
	// more output packets through out.
	Process(in *appacket.Packet, out OutputFunc) (Result, error)
	Codec() Codec
	Format() apformat.AudioFormat
	// Length returns the stream length in frames, or -1 if unknown.
	Length() int64
	Close() error
}

// Constructor builds a fresh, uninitialized Plugin for a codec.
type Constructor func() Plugin

var registry = map[Codec]Constructor{}

// Register adds a codec plugin constructor, called from each adapter's
// init().
func Register(codec Codec, ctor Constructor) {
	registry[codec] = ctor
}

// ErrUnsupportedCodec is returned by New for a codec with no registered
// plugin.
var ErrUnsupportedCodec = fmt.Errorf("apcodec: unsupported codec")

// New looks up and constructs a plugin for codec.
func New(codec Codec) (Plugin, error) {
	ctor, ok := registry[codec]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedCodec, codec)
	}
	return ctor(), nil
}
