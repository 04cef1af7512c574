package apcodec

import (
	"path/filepath"
	"testing"
)

func TestFlacPluginInitMissingFileReturnsError(t *testing.T) {
	p := &flacPlugin{}
	err := p.Init(InitContext{URL: filepath.Join(t.TempDir(), "missing.flac"), Codec: CodecFLAC})
	if err == nil {
		p.Close()
		t.Fatal("expected an error opening a nonexistent flac file")
	}
}

func TestFlacPluginCodec(t *testing.T) {
	p := &flacPlugin{}
	if p.Codec() != CodecFLAC {
		t.Fatalf("Codec() = %v, want CodecFLAC", p.Codec())
	}
}
