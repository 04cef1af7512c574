package apcodec

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/jfreymuth/oggvorbis"

	"github.com/gogglesmm/gap-core/pkg/apformat"
	"github.com/gogglesmm/gap-core/pkg/appacket"
)

func init() {
	Register(CodecVorbis, func() Plugin { return &vorbisPlugin{} })
}

// vorbisPlugin wraps github.com/jfreymuth/oggvorbis, which exposes a
// float32-samples decoder rather than the byte-oriented API the teacher's
// wav/flac/mp3 adapters share; Process packs its float32 output into the
// packet buffer as native-endian float32 the same way pkg/apformat's
// DataType.Float is defined to mean.
type vorbisPlugin struct {
	file     *os.File
	reader   *oggvorbis.Reader
	format   apformat.AudioFormat
	length   int64
	position int64
	scratch  []float32
}

func (p *vorbisPlugin) Codec() Codec { return CodecVorbis }

func (p *vorbisPlugin) Init(ctx InitContext) error {
	f, err := os.Open(ctx.URL)
	if err != nil {
		return fmt.Errorf("apcodec/vorbis: open: %w", err)
	}
	reader, err := oggvorbis.NewReader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("apcodec/vorbis: new reader: %w", err)
	}
	p.file = f
	p.reader = reader
	channels := reader.Channels()
	p.format = apformat.AudioFormat{
		SampleRate:    reader.SampleRate(),
		BitsPerSample: 32,
		Packing:       4,
		DataType:      apformat.Float,
		Channels:      channels,
		ChannelMap:    apformat.StandardChannelMap(channels),
	}
	if n := reader.Length(); n > 0 {
		p.length = n
	} else {
		p.length = -1
	}
	p.position = ctx.PreRollFrames
	return nil
}

func (p *vorbisPlugin) Flush(offsetFrames int64) error {
	if err := p.reader.SetPosition(offsetFrames); err != nil {
		return fmt.Errorf("apcodec/vorbis: seek: %w", err)
	}
	p.position = offsetFrames
	return nil
}

func (p *vorbisPlugin) Format() apformat.AudioFormat { return p.format }
func (p *vorbisPlugin) Length() int64                { return p.length }

func (p *vorbisPlugin) Process(in *appacket.Packet, out OutputFunc) (Result, error) {
	var decodeErr error
	err := out(func(pkt *appacket.Packet) {
		frameSize := p.format.FrameSize()
		if frameSize == 0 {
			return
		}
		maxSamples := (len(pkt.Buffer) / frameSize) * p.format.Channels
		if cap(p.scratch) < maxSamples {
			p.scratch = make([]float32, maxSamples)
		}
		buf := p.scratch[:maxSamples]
		n, derr := p.reader.Read(buf)
		frames := n / p.format.Channels
		if frames > 0 {
			off := 0
			for i := 0; i < frames*p.format.Channels; i++ {
				bits := math.Float32bits(buf[i])
				pkt.Buffer[off] = byte(bits)
				pkt.Buffer[off+1] = byte(bits >> 8)
				pkt.Buffer[off+2] = byte(bits >> 16)
				pkt.Buffer[off+3] = byte(bits >> 24)
				off += 4
			}
			pkt.Advance(frames * frameSize)
			pkt.Format = p.format
			pkt.StreamPosition = p.position
			pkt.StreamLength = p.length
			p.position += int64(frames)
		}
		if derr != nil {
			pkt.Flags |= appacket.FlagEOS
			decodeErr = derr
		}
	})
	if errors.Is(err, appacket.ErrInterrupted) {
		return Interrupted, nil
	}
	if err != nil {
		return Err, err
	}
	if decodeErr != nil && decodeErr != io.EOF {
		return Err, decodeErr
	}
	return Ok, nil
}

func (p *vorbisPlugin) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}
