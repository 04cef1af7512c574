// Package apevent defines the event vocabulary that flows across the
// engine's actor queues: control events from the application, pipeline
// events between stages, and notification events back up to the
// application.
package apevent

import (
	"github.com/gogglesmm/gap-core/pkg/apformat"
	"github.com/gogglesmm/gap-core/pkg/appacket"
	"github.com/gogglesmm/gap-core/pkg/apreader"
)

// StreamID identifies one logically continuous track opened via Open. It is
// allocated monotonically by the input stage and propagates on every event
// and packet derived from that stream.
type StreamID uint64

// Type tags every event for fast dispatch without a type switch in hot
// paths. Ordering mirrors the original engine's ap_event.h enum.
type Type uint8

const (
	Invalid Type = iota

	// Control events (application -> input stage).
	TypeOpen
	TypeOpenFlush
	TypeClose
	TypePause
	TypeSeek
	TypeVolume
	TypeSetReplayGain
	TypeGetReplayGain
	TypeSetOutputConfig
	TypeGetOutputConfig
	TypeQuit

	// Pipeline events (stage -> stage).
	TypeConfigure
	TypeFlush
	TypeEnd
	TypeMeta
	TypeBuffer // carries a *appacket.Packet

	// Notification events (engine -> application).
	TypeBOS
	TypeEOS
	TypeStateReady
	TypeStatePlaying
	TypeStatePausing
	TypeTimeUpdate
	TypeMetaInfo
	TypeErrorMessage
	TypeVolumeNotify
)

// Event is the common interface implemented by every event that travels on
// an apqueue.Queue. Packet events are tagged TypeBuffer, which is what the
// queue's Flush checks to recognize and discard them.
type Event interface {
	Type() Type
	Stream() StreamID
}

// base is embedded by every concrete event to provide Type/Stream.
type base struct {
	typ    Type
	stream StreamID
}

func (b base) Type() Type       { return b.typ }
func (b base) Stream() StreamID { return b.stream }

func newBase(t Type, s StreamID) base { return base{typ: t, stream: s} }

// ReplayGainMode selects which ReplayGain fields the output stage applies.
type ReplayGainMode uint8

const (
	ReplayGainOff ReplayGainMode = iota
	ReplayGainTrack
	ReplayGainAlbum
)

// --- Control events ---

type Open struct {
	base
	URL string
}

func NewOpen(stream StreamID, url string) *Open {
	return &Open{base: newBase(TypeOpen, stream), URL: url}
}

type OpenFlush struct {
	base
	URL string
}

func NewOpenFlush(stream StreamID, url string) *OpenFlush {
	return &OpenFlush{base: newBase(TypeOpenFlush, stream), URL: url}
}

type Close struct{ base }

func NewClose(stream StreamID) *Close { return &Close{newBase(TypeClose, stream)} }

type Pause struct{ base }

func NewPause(stream StreamID) *Pause { return &Pause{newBase(TypePause, stream)} }

// Seek carries a position as a fraction of the stream length, in [0,1].
type Seek struct {
	base
	Position float64
}

func NewSeek(stream StreamID, position float64) *Seek {
	return &Seek{base: newBase(TypeSeek, stream), Position: position}
}

type Volume struct {
	base
	Value float64
}

func NewVolume(stream StreamID, value float64) *Volume {
	return &Volume{base: newBase(TypeVolume, stream), Value: value}
}

type SetReplayGain struct {
	base
	Mode ReplayGainMode
}

func NewSetReplayGain(stream StreamID, mode ReplayGainMode) *SetReplayGain {
	return &SetReplayGain{base: newBase(TypeSetReplayGain, stream), Mode: mode}
}

// GetReplayGain is synchronous: the caller waits on Reply for the callee to
// fill it in and close the channel.
type GetReplayGain struct {
	base
	Reply chan ReplayGainMode
}

func NewGetReplayGain(stream StreamID) *GetReplayGain {
	return &GetReplayGain{base: newBase(TypeGetReplayGain, stream), Reply: make(chan ReplayGainMode, 1)}
}

type SetOutputConfig struct {
	base
	Config any // apconfig.OutputConfig; kept as `any` to avoid an import cycle
}

func NewSetOutputConfig(stream StreamID, cfg any) *SetOutputConfig {
	return &SetOutputConfig{base: newBase(TypeSetOutputConfig, stream), Config: cfg}
}

type GetOutputConfig struct {
	base
	Reply chan any
}

func NewGetOutputConfig(stream StreamID) *GetOutputConfig {
	return &GetOutputConfig{base: newBase(TypeGetOutputConfig, stream), Reply: make(chan any, 1)}
}

type Quit struct{ base }

func NewQuit(stream StreamID) *Quit { return &Quit{newBase(TypeQuit, stream)} }

// --- Pipeline events ---

// Configure describes the format and codec the decoder/output stages must
// prepare for. StreamLength is in frames, -1 if unknown. URL is carried
// alongside Codec because every wired codec plugin is a whole-file decoder
// that reopens the source directly rather than consuming the input stage's
// forwarded bytes (see SPEC_FULL.md §4 / DESIGN.md's pkg/apcodec entry).
type Configure struct {
	base
	URL               string
	Format            apformat.AudioFormat
	Codec             apreader.Format
	StreamLength      int64
	ReplayGain        apformat.ReplayGain
	StreamOffsetStart int64
}

func NewConfigure(stream StreamID) *Configure {
	return &Configure{base: newBase(TypeConfigure, stream), StreamLength: -1}
}

// Flush clears in-flight packets on the decoder and output queues. Close
// additionally tells the output stage to release its device. OffsetFrames
// carries the decode position a Seek-originated Flush should land on, so the
// decoder stage can reposition its codec plugin instead of merely resuming
// wherever it already was; FromSeek marks that origin so the output stage
// can tell a reposition-in-place Flush apart from an OpenFlush-style
// interrupt-and-discard Flush, which must take effect immediately even
// mid-drain.
type Flush struct {
	base
	Close        bool
	OffsetFrames int64
	FromSeek     bool
}

func NewFlush(stream StreamID, closeDevice bool) *Flush {
	return &Flush{base: newBase(TypeFlush, stream), Close: closeDevice}
}

type End struct{ base }

func NewEnd(stream StreamID) *End { return &End{newBase(TypeEnd, stream)} }

type Meta struct {
	base
	Title, Artist, Album string
}

func NewMeta(stream StreamID, title, artist, album string) *Meta {
	return &Meta{base: newBase(TypeMeta, stream), Title: title, Artist: artist, Album: album}
}

// Buffer carries one packet downstream: coded data from the input stage to
// the decoder stage, or PCM from the decoder stage to the output stage.
type Buffer struct {
	base
	Packet *appacket.Packet
}

func NewBuffer(stream StreamID, pkt *appacket.Packet) *Buffer {
	return &Buffer{base: newBase(TypeBuffer, stream), Packet: pkt}
}

// --- Notification events ---

type BOS struct{ base }

func NewBOS(stream StreamID) *BOS { return &BOS{newBase(TypeBOS, stream)} }

type EOS struct{ base }

func NewEOS(stream StreamID) *EOS { return &EOS{newBase(TypeEOS, stream)} }

type StateReady struct{ base }

func NewStateReady(stream StreamID) *StateReady { return &StateReady{newBase(TypeStateReady, stream)} }

type StatePlaying struct{ base }

func NewStatePlaying(stream StreamID) *StatePlaying {
	return &StatePlaying{newBase(TypeStatePlaying, stream)}
}

type StatePausing struct{ base }

func NewStatePausing(stream StreamID) *StatePausing {
	return &StatePausing{newBase(TypeStatePausing, stream)}
}

type TimeUpdate struct {
	base
	PositionSeconds uint32
	LengthSeconds   uint32
}

func NewTimeUpdate(stream StreamID, position, length uint32) *TimeUpdate {
	return &TimeUpdate{base: newBase(TypeTimeUpdate, stream), PositionSeconds: position, LengthSeconds: length}
}

type MetaInfo struct {
	base
	Title, Artist, Album string
}

func NewMetaInfo(stream StreamID, title, artist, album string) *MetaInfo {
	return &MetaInfo{base: newBase(TypeMetaInfo, stream), Title: title, Artist: artist, Album: album}
}

type ErrorMessage struct {
	base
	Text string
}

func NewErrorMessage(stream StreamID, text string) *ErrorMessage {
	return &ErrorMessage{base: newBase(TypeErrorMessage, stream), Text: text}
}

type VolumeNotify struct {
	base
	Value   float64
	Enabled bool
}

func NewVolumeNotify(stream StreamID, value float64, enabled bool) *VolumeNotify {
	return &VolumeNotify{base: newBase(TypeVolumeNotify, stream), Value: value, Enabled: enabled}
}
