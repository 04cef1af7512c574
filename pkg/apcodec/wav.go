package apcodec

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/youpy/go-wav"

	"github.com/gogglesmm/gap-core/pkg/apformat"
	"github.com/gogglesmm/gap-core/pkg/apreader"
	"github.com/gogglesmm/gap-core/pkg/appacket"
)

func init() {
	Register(CodecWAV, func() Plugin { return &wavPlugin{} })
}

// Codec name re-exports of apreader.Format, so callers need not import
// apreader just to name a codec.
const (
	CodecWAV    = apreader.FormatWAV
	CodecFLAC   = apreader.FormatFLAC
	CodecMP3    = apreader.FormatMP3
	CodecVorbis = apreader.FormatVorbis
	CodecOpus   = apreader.FormatOpus
)

// wavPlugin wraps youpy/go-wav for PCM decode, grounded on
// pkg/decoders/wav/wav.go's Open/DecodeSamples pattern in the teacher.
type wavPlugin struct {
	file     *os.File
	reader   *wav.Reader
	url      string
	format   apformat.AudioFormat
	length   int64
	position int64
}

func (p *wavPlugin) Codec() Codec { return CodecWAV }

func (p *wavPlugin) Init(ctx InitContext) error {
	p.url = ctx.URL
	f, err := os.Open(ctx.URL)
	if err != nil {
		return fmt.Errorf("apcodec/wav: open: %w", err)
	}
	reader := wav.NewReader(f)
	format, err := reader.Format()
	if err != nil {
		f.Close()
		return fmt.Errorf("apcodec/wav: read format: %w", err)
	}
	if format.AudioFormat != wav.AudioFormatPCM {
		f.Close()
		return fmt.Errorf("apcodec/wav: unsupported wav encoding %d (only PCM)", format.AudioFormat)
	}

	p.file = f
	p.reader = reader
	p.format = apformat.AudioFormat{
		SampleRate:    int(format.SampleRate),
		BitsPerSample: int(format.BitsPerSample),
		Packing:       int(format.BitsPerSample) / 8,
		DataType:      apformat.Signed,
		Channels:      int(format.NumChannels),
		ChannelMap:    apformat.StandardChannelMap(int(format.NumChannels)),
	}

	if info, statErr := f.Stat(); statErr == nil && p.format.FrameSize() > 0 {
		// RIFF/WAV has a fixed header; approximate frame count from file
		// size. Good enough for TimeUpdate/length reporting, not bit-exact.
		const approxHeader = 44
		dataBytes := info.Size() - approxHeader
		if dataBytes > 0 {
			p.length = dataBytes / int64(p.format.FrameSize())
		} else {
			p.length = -1
		}
	} else {
		p.length = -1
	}
	return nil
}

// Flush repositions decoding to offsetFrames. go-wav exposes no native
// seek/skip call, so a backward seek reopens the file from the RIFF header
// and every seek then decodes-and-discards forward to the target, the same
// approach as the other adapters without a native seek API.
func (p *wavPlugin) Flush(offsetFrames int64) error {
	if offsetFrames < p.position {
		if err := p.reopen(); err != nil {
			return err
		}
	}
	if err := p.discardTo(offsetFrames); err != nil {
		return err
	}
	p.position = offsetFrames
	return nil
}

func (p *wavPlugin) reopen() error {
	if p.file != nil {
		p.file.Close()
	}
	f, err := os.Open(p.url)
	if err != nil {
		return fmt.Errorf("apcodec/wav: reopen: %w", err)
	}
	reader := wav.NewReader(f)
	if _, err := reader.Format(); err != nil {
		f.Close()
		return fmt.Errorf("apcodec/wav: reopen: read format: %w", err)
	}
	p.file = f
	p.reader = reader
	p.position = 0
	return nil
}

// discardTo decodes and throws away samples until the reader reaches
// target, the only way to seek forward without a native API.
func (p *wavPlugin) discardTo(target int64) error {
	frameSize := p.format.FrameSize()
	if frameSize == 0 || target <= p.position {
		return nil
	}
	const chunk = 4096
	scratch := make([]byte, chunk*frameSize)
	for p.position < target {
		want := target - p.position
		if want > chunk {
			want = chunk
		}
		n, err := p.decodeSamples(int(want), scratch)
		p.position += int64(n)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("apcodec/wav: discard to %d: %w", target, err)
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

func (p *wavPlugin) Format() apformat.AudioFormat { return p.format }
func (p *wavPlugin) Length() int64                { return p.length }

func (p *wavPlugin) Process(in *appacket.Packet, out OutputFunc) (Result, error) {
	var decodeErr error
	err := out(func(pkt *appacket.Packet) {
		frameSize := p.format.FrameSize()
		if frameSize == 0 {
			return
		}
		maxFrames := len(pkt.Buffer) / frameSize
		n, derr := p.decodeSamples(maxFrames, pkt.Buffer)
		if n > 0 {
			pkt.Advance(n * frameSize)
			pkt.Format = p.format
			pkt.StreamPosition = p.position
			pkt.StreamLength = p.length
			p.position += int64(n)
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

// decodeSamples mirrors pkg/decoders/wav/wav.go's DecodeSamples, translating
// go-wav's per-sample reads into a tightly packed little-endian buffer.
func (p *wavPlugin) decodeSamples(samples int, audio []byte) (int, error) {
	bytesPerSample := p.format.BitsPerSample / 8
	total := 0
	for i := 0; i < samples; i++ {
		sampleSet, err := p.reader.ReadSamples(1)
		if err != nil {
			return total, err
		}
		if len(sampleSet) == 0 {
			return total, io.EOF
		}
		for ch := 0; ch < p.format.Channels; ch++ {
			if ch >= len(sampleSet[0].Values) {
				break
			}
			value := sampleSet[0].Values[ch]
			offset := (total*p.format.Channels + ch) * bytesPerSample
			if offset+bytesPerSample > len(audio) {
				return total, nil
			}
			switch p.format.BitsPerSample {
			case 8:
				audio[offset] = byte(value)
			case 16:
				audio[offset] = byte(value)
				audio[offset+1] = byte(value >> 8)
			case 24:
				audio[offset] = byte(value)
				audio[offset+1] = byte(value >> 8)
				audio[offset+2] = byte(value >> 16)
			case 32:
				audio[offset] = byte(value)
				audio[offset+1] = byte(value >> 8)
				audio[offset+2] = byte(value >> 16)
				audio[offset+3] = byte(value >> 24)
			default:
				return total, fmt.Errorf("apcodec/wav: unsupported bits per sample %d", p.format.BitsPerSample)
			}
		}
		total++
	}
	return total, nil
}

func (p *wavPlugin) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}
