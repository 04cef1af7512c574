// Package apreader implements the reader-plugin contract of spec §6: probe
// a byte-source's container format and stream coded packets from it. The
// concrete decode libraries wired into pkg/apcodec are whole-file decoders
// rather than exposing a raw bitstream-packet API, so readers here do
// chunked byte forwarding plus format detection; see SPEC_FULL.md §4 for
// the grounding of this split.
package apreader

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gogglesmm/gap-core/pkg/apsource"
	"github.com/gogglesmm/gap-core/pkg/appacket"
)

// Format is the container/codec tag surfaced by Reader.Format, matching the
// enum of spec §6.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatWAV
	FormatFLAC
	FormatMP3
	FormatVorbis
	FormatOpus
	FormatAAC
	FormatMP4
	FormatMusepack
	FormatWavPack
	FormatCDDA
	FormatM3U
	FormatPLS
	FormatXSPF
	FormatASF
	FormatASX
)

func (f Format) String() string {
	switch f {
	case FormatWAV:
		return "wav"
	case FormatFLAC:
		return "flac"
	case FormatMP3:
		return "mp3"
	case FormatVorbis:
		return "vorbis"
	case FormatOpus:
		return "opus"
	case FormatAAC:
		return "aac"
	case FormatMP4:
		return "mp4"
	case FormatMusepack:
		return "musepack"
	case FormatWavPack:
		return "wavpack"
	case FormatCDDA:
		return "cdda"
	case FormatM3U:
		return "m3u"
	case FormatPLS:
		return "pls"
	case FormatXSPF:
		return "xspf"
	case FormatASF:
		return "asf"
	case FormatASX:
		return "asx"
	default:
		return "unknown"
	}
}

// Result is returned by Process, matching ReadOk|ReadDone|ReadError|ReadRedirect.
type Result uint8

const (
	ReadOk Result = iota
	ReadDone
	ReadError
	ReadRedirect
)

// ErrUnsupportedFormat is returned by Probe for formats named in the
// spec's enum but not implemented by any wired codec library (AAC, MP4,
// Musepack, WavPack, CDDA -- see SPEC_FULL.md §2).
var ErrUnsupportedFormat = errors.New("apreader: unsupported container format")

// Reader is the external collaborator interface the input stage drives.
type Reader interface {
	Format() Format
	CanSeek() bool
	Seek(framePosition int64) error
	// Process reads up to pkt's writable capacity from the underlying
	// source and appends it as a coded-data packet.
	Process(pkt *appacket.Packet) (Result, error)
	// Redirect returns the playlist entries surfaced by a ReadRedirect
	// result.
	Redirect() []string
	Close() error
}

// Probe detects the container format from the URL's extension and, for
// local files, the leading bytes of the source, then constructs a matching
// Reader bound to src.
func Probe(url string, src apsource.Source) (Reader, error) {
	ext := apsource.DetectExtension(url)
	format := formatFromExtension(ext)

	if format == FormatUnknown {
		magic := make([]byte, 12)
		n, _ := io.ReadFull(src, magic)
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("apreader: rewind after sniff: %w", err)
		}
		format = formatFromMagic(magic[:n])
	}

	switch format {
	case FormatWAV, FormatFLAC, FormatMP3, FormatVorbis, FormatOpus:
		return newPassthroughReader(format, src), nil
	case FormatM3U, FormatPLS, FormatXSPF, FormatASF, FormatASX:
		return newPlaylistReader(format, src)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func formatFromExtension(ext string) Format {
	switch strings.ToLower(ext) {
	case "wav":
		return FormatWAV
	case "flac", "fla":
		return FormatFLAC
	case "mp3":
		return FormatMP3
	case "ogg", "oga":
		return FormatVorbis
	case "opus":
		return FormatOpus
	case "aac":
		return FormatAAC
	case "mp4", "m4a":
		return FormatMP4
	case "mpc":
		return FormatMusepack
	case "wv":
		return FormatWavPack
	case "m3u", "m3u8":
		return FormatM3U
	case "pls":
		return FormatPLS
	case "xspf":
		return FormatXSPF
	case "asf":
		return FormatASF
	case "asx":
		return FormatASX
	default:
		return FormatUnknown
	}
}

func formatFromMagic(b []byte) Format {
	switch {
	case len(b) >= 4 && string(b[0:4]) == "RIFF":
		return FormatWAV
	case len(b) >= 4 && string(b[0:4]) == "fLaC":
		return FormatFLAC
	case len(b) >= 4 && string(b[0:4]) == "OggS":
		return FormatVorbis // disambiguated from Opus by the codec plugin's magic page parse
	case len(b) >= 3 && b[0] == 0xFF && (b[1]&0xE0) == 0xE0:
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// passthroughReader forwards raw container bytes downstream unmodified,
// chunked to the packet capacity it is handed.
type passthroughReader struct {
	format Format
	src    apsource.Source
	done   bool
}

func newPassthroughReader(format Format, src apsource.Source) Reader {
	return &passthroughReader{format: format, src: src}
}

func (r *passthroughReader) Format() Format { return r.format }
func (r *passthroughReader) CanSeek() bool  { return !r.src.Serial() }

func (r *passthroughReader) Seek(framePosition int64) error {
	if r.src.Serial() {
		return fmt.Errorf("apreader: source is not seekable")
	}
	// Byte-accurate seeking for containers is the codec plugin's job (it
	// knows the frame->byte mapping); the reader only needs to rewind the
	// raw source far enough back that re-parsing recovers sync, which for
	// our whole-file decode adapters means rewinding to the start and
	// letting the codec plugin fast-forward internally.
	_, err := r.src.Seek(0, io.SeekStart)
	r.done = false
	return err
}

func (r *passthroughReader) Process(pkt *appacket.Packet) (Result, error) {
	if r.done {
		return ReadDone, nil
	}
	n, err := r.src.Read(pkt.Writable())
	if n > 0 {
		pkt.Advance(n)
	}
	if err == io.EOF || (err == nil && r.src.EOF()) {
		r.done = true
		pkt.Flags |= appacket.FlagEOS
		return ReadOk, nil
	}
	if err != nil {
		return ReadError, err
	}
	if n == 0 {
		return ReadOk, nil
	}
	return ReadOk, nil
}

func (r *passthroughReader) Redirect() []string { return nil }
func (r *passthroughReader) Close() error       { return r.src.Close() }
