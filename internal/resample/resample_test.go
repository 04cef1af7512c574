package resample

import (
	"bytes"
	"testing"
)

func TestNewWriterAndRoundTrip(t *testing.T) {
	var dst bytes.Buffer
	w, err := NewWriter(&dst, 44100, 48000, 2)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	// 100 frames of silence, interleaved S16 stereo.
	pcm := make([]byte, 100*2*2)
	if _, err := w.Write(pcm); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
