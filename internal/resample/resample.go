// Package resample provides optional sample-rate conversion for the output
// path: when a device cannot be configured for a stream's native rate (the
// fixed conversion matrix in pkg/apformat only covers bit-depth/datatype,
// never rate), this wraps github.com/zaf/resample's writer-based resampler
// to bridge the gap rather than rejecting playback outright.
package resample

import (
	"fmt"
	"io"

	"github.com/zaf/resample"
)

// Writer resamples signed 16-bit interleaved PCM written to it, forwarding
// the converted samples to dst. Only S16 is wired here: pkg/output calls
// it only for signed 16-bit streams, before any sample-format conversion,
// so it never handles float or 24/32-bit frames.
type Writer struct {
	r *resample.Resampler
}

// NewWriter builds a resampling writer converting from inRate to outRate
// for the given channel count, writing resampled bytes to dst.
func NewWriter(dst io.Writer, inRate, outRate, channels int) (*Writer, error) {
	r, err := resample.New(dst, float64(inRate), float64(outRate), channels, resample.I16, resample.HighQ)
	if err != nil {
		return nil, fmt.Errorf("resample: new: %w", err)
	}
	return &Writer{r: r}, nil
}

// Write feeds p (interleaved S16 PCM) into the resampler.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.r.Write(p)
	if err != nil {
		return n, fmt.Errorf("resample: write: %w", err)
	}
	return n, nil
}

// Close flushes any remaining samples and releases the resampler.
func (w *Writer) Close() error {
	if err := w.r.Close(); err != nil {
		return fmt.Errorf("resample: close: %w", err)
	}
	return nil
}
