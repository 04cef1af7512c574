package apcodec

import (
	"errors"
	"fmt"
	"io"

	goflac "github.com/drgolem/go-flac/flac"

	"github.com/gogglesmm/gap-core/pkg/apformat"
	"github.com/gogglesmm/gap-core/pkg/appacket"
)

func init() {
	Register(CodecFLAC, func() Plugin { return &flacPlugin{} })
}

// flacPlugin wraps github.com/drgolem/go-flac, grounded on
// pkg/decoders/flac/flac.go in the teacher.
type flacPlugin struct {
	decoder  *goflac.FlacDecoder
	url      string
	format   apformat.AudioFormat
	length   int64
	position int64
}

func (p *flacPlugin) Codec() Codec { return CodecFLAC }

func (p *flacPlugin) Init(ctx InitContext) error {
	decoder, err := goflac.NewFlacFrameDecoder(16)
	if err != nil {
		return fmt.Errorf("apcodec/flac: new decoder: %w", err)
	}
	if err := decoder.Open(ctx.URL); err != nil {
		decoder.Delete()
		return fmt.Errorf("apcodec/flac: open %q: %w", ctx.URL, err)
	}
	rate, channels, bps := decoder.GetFormat()
	p.decoder = decoder
	p.url = ctx.URL
	p.format = apformat.AudioFormat{
		SampleRate:    rate,
		BitsPerSample: bps,
		Packing:       bps / 8,
		DataType:      apformat.Signed,
		Channels:      channels,
		ChannelMap:    apformat.StandardChannelMap(channels),
	}
	p.length = -1
	p.position = ctx.PreRollFrames
	return nil
}

// Flush repositions decoding to offsetFrames. go-flac exposes no native
// seek/skip call, so a backward seek reopens the decoder from byte 0 and
// every seek then decodes-and-discards forward to the target.
func (p *flacPlugin) Flush(offsetFrames int64) error {
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

func (p *flacPlugin) reopen() error {
	if p.decoder != nil {
		p.decoder.Close()
		p.decoder.Delete()
	}
	decoder, err := goflac.NewFlacFrameDecoder(16)
	if err != nil {
		return fmt.Errorf("apcodec/flac: reopen: %w", err)
	}
	if err := decoder.Open(p.url); err != nil {
		decoder.Delete()
		return fmt.Errorf("apcodec/flac: reopen %q: %w", p.url, err)
	}
	p.decoder = decoder
	p.position = 0
	return nil
}

// discardTo decodes and throws away samples until the decoder reaches
// target, the only way to seek forward without a native API.
func (p *flacPlugin) discardTo(target int64) error {
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
		n, err := p.decoder.DecodeSamples(int(want), scratch)
		p.position += int64(n)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("apcodec/flac: discard to %d: %w", target, err)
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

func (p *flacPlugin) Format() apformat.AudioFormat { return p.format }
func (p *flacPlugin) Length() int64                { return p.length }

func (p *flacPlugin) Process(in *appacket.Packet, out OutputFunc) (Result, error) {
	var decodeErr error
	err := out(func(pkt *appacket.Packet) {
		frameSize := p.format.FrameSize()
		if frameSize == 0 {
			return
		}
		maxSamples := len(pkt.Buffer) / frameSize
		n, derr := p.decoder.DecodeSamples(maxSamples, pkt.Buffer)
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

func (p *flacPlugin) Close() error {
	if p.decoder != nil {
		p.decoder.Close()
		p.decoder.Delete()
		p.decoder = nil
	}
	return nil
}
