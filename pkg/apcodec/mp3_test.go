package apcodec

import (
	"path/filepath"
	"testing"
)

func TestMp3PluginInitMissingFileReturnsError(t *testing.T) {
	p := &mp3Plugin{}
	err := p.Init(InitContext{URL: filepath.Join(t.TempDir(), "missing.mp3"), Codec: CodecMP3})
	if err == nil {
		p.Close()
		t.Fatal("expected an error opening a nonexistent mp3 file")
	}
}

func TestMp3PluginCodec(t *testing.T) {
	p := &mp3Plugin{}
	if p.Codec() != CodecMP3 {
		t.Fatalf("Codec() = %v, want CodecMP3", p.Codec())
	}
}
