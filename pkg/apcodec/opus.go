package apcodec

import (
	"errors"
	"fmt"
	"io"

	"github.com/drgolem/go-opus/opus"

	"github.com/gogglesmm/gap-core/pkg/apformat"
	"github.com/gogglesmm/gap-core/pkg/appacket"
)

func init() {
	Register(CodecOpus, func() Plugin { return &opusPlugin{} })
}

// opusPlugin wraps github.com/drgolem/go-opus, an indirect dependency of
// the teacher pulled in alongside go-flac/go-mpg123. It shares the same
// author's Open/GetFormat/DecodeSamples/Close shape as
// pkg/decoders/flac/flac.go and pkg/decoders/mp3/mp3.go, so this adapter
// mirrors those two rather than flacPlugin's own struct layout verbatim.
type opusPlugin struct {
	decoder  *opus.Decoder
	url      string
	preRoll  int64
	format   apformat.AudioFormat
	length   int64
	position int64
}

func (p *opusPlugin) Codec() Codec { return CodecOpus }

func (p *opusPlugin) Init(ctx InitContext) error {
	decoder, err := opus.NewDecoder("")
	if err != nil {
		return fmt.Errorf("apcodec/opus: new decoder: %w", err)
	}
	if err := decoder.Open(ctx.URL); err != nil {
		decoder.Delete()
		return fmt.Errorf("apcodec/opus: open %q: %w", ctx.URL, err)
	}
	rate, channels, _ := decoder.GetFormat()
	p.decoder = decoder
	p.url = ctx.URL
	p.preRoll = ctx.PreRollFrames
	const bps = 16
	p.format = apformat.AudioFormat{
		SampleRate:    rate,
		BitsPerSample: bps,
		Packing:       bps / 8,
		DataType:      apformat.Signed,
		Channels:      channels,
		ChannelMap:    apformat.StandardChannelMap(channels),
	}
	p.length = -1
	// Position starts at PreRollFrames, the Configure's StreamOffsetStart;
	// no leading decoded samples are dropped.
	p.position = ctx.PreRollFrames
	return nil
}

// Flush repositions decoding to offsetFrames. go-opus exposes no native
// seek/skip call, so a backward seek reopens the decoder (re-incurring the
// mandatory pre-skip) and every seek then decodes-and-discards forward to
// the target.
func (p *opusPlugin) Flush(offsetFrames int64) error {
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

func (p *opusPlugin) reopen() error {
	if p.decoder != nil {
		p.decoder.Close()
		p.decoder.Delete()
	}
	decoder, err := opus.NewDecoder("")
	if err != nil {
		return fmt.Errorf("apcodec/opus: reopen: %w", err)
	}
	if err := decoder.Open(p.url); err != nil {
		decoder.Delete()
		return fmt.Errorf("apcodec/opus: reopen %q: %w", p.url, err)
	}
	p.decoder = decoder
	p.position = p.preRoll
	return nil
}

// discardTo decodes and throws away samples until the decoder reaches
// target, the only way to seek forward without a native API.
func (p *opusPlugin) discardTo(target int64) error {
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
			return fmt.Errorf("apcodec/opus: discard to %d: %w", target, err)
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

func (p *opusPlugin) Format() apformat.AudioFormat { return p.format }
func (p *opusPlugin) Length() int64                { return p.length }

func (p *opusPlugin) Process(in *appacket.Packet, out OutputFunc) (Result, error) {
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

func (p *opusPlugin) Close() error {
	if p.decoder != nil {
		p.decoder.Close()
		p.decoder.Delete()
		p.decoder = nil
	}
	return nil
}
