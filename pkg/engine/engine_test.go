package engine

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gogglesmm/gap-core/pkg/apevent"
	"github.com/gogglesmm/gap-core/pkg/outplugin"

	_ "github.com/gogglesmm/gap-core/pkg/apcodec" // registers the wav/flac/mp3/vorbis/opus codec plugins
	_ "github.com/gogglesmm/gap-core/pkg/outplugin/nulldev"
)

// writeTestWAV hand-rolls a canonical 44-byte-header mono 16-bit PCM RIFF
// file, so the test fixture depends only on the well-known WAV layout and
// not on any particular writer API.
func writeTestWAV(t *testing.T, path string, sampleRate uint32, frames int) {
	t.Helper()
	const bitsPerSample = 16
	const channels = 1
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataSize := uint32(frames) * uint32(blockAlign)

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	write := func(v any) {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			t.Fatalf("write wav header: %v", err)
		}
	}

	f.WriteString("RIFF")
	write(uint32(36 + dataSize))
	f.WriteString("WAVE")
	f.WriteString("fmt ")
	write(uint32(16)) // fmt chunk size
	write(uint16(1))  // PCM
	write(uint16(channels))
	write(sampleRate)
	write(byteRate)
	write(blockAlign)
	write(uint16(bitsPerSample))
	f.WriteString("data")
	write(dataSize)

	for i := 0; i < frames; i++ {
		write(int16(i * 37)) // arbitrary nonzero content
	}
}

func TestEngineOpenNullDevicePlaysToEOS(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.wav")
	writeTestWAV(t, path, 44100, 4410) // 0.1s of audio

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := New(ctx, Config{DeviceKind: outplugin.KindNone})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	eng.Open(path)

	var sawBOS, sawEOS bool
	deadline := time.After(5 * time.Second)
	for !sawEOS {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for EOS (sawBOS=%v)", sawBOS)
		default:
		}
		popCtx, popCancel := context.WithTimeout(context.Background(), time.Second)
		ev, err := eng.Notifications().Pop(popCtx)
		popCancel()
		if err != nil {
			continue
		}
		switch ev.(type) {
		case *apevent.BOS:
			sawBOS = true
		case *apevent.EOS:
			if !sawBOS {
				t.Fatal("EOS observed before BOS")
			}
			sawEOS = true
		case *apevent.ErrorMessage:
			t.Fatalf("unexpected pipeline error: %v", ev)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestEngineFallsBackToNullDeviceOnUnknownKind(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// KindPortAudio has no registered constructor in this test binary
	// (nothing imports pkg/outplugin/portaudiodev here), so New must fall
	// back to KindNone rather than failing outright.
	eng, err := New(ctx, Config{DeviceKind: outplugin.KindPortAudio})
	if err != nil {
		t.Fatalf("expected fallback to null device, got error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
