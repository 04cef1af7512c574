package apreader

import (
	"context"
	"testing"

	"github.com/gogglesmm/gap-core/pkg/appacket"
)

func TestParseM3USkipsBlankAndCommentLines(t *testing.T) {
	data := []byte("#EXTM3U\n\ntrack1.flac\n# a comment\ntrack2.mp3\n")
	got := parseM3U(data)
	want := []string{"track1.flac", "track2.mp3"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParsePLSExtractsFileEntries(t *testing.T) {
	data := []byte("[playlist]\nNumberOfEntries=2\nFile1=a.mp3\nTitle1=A\nFile2=b.flac\nVersion=2\n")
	got := parsePLS(data)
	want := []string{"a.mp3", "b.flac"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseXSPFExtractsTrackLocations(t *testing.T) {
	data := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<playlist version="1" xmlns="http://xspf.org/ns/0/">
  <trackList>
    <track><location>song1.ogg</location></track>
    <track><location>song2.opus</location></track>
  </trackList>
</playlist>`)
	got, err := parseXSPF(data)
	if err != nil {
		t.Fatalf("parseXSPF: %v", err)
	}
	want := []string{"song1.ogg", "song2.opus"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPlaylistReaderProcessEmitsRedirectThenDone(t *testing.T) {
	src := &fakeSource{data: []byte("track1.flac\ntrack2.mp3\n")}
	r, err := newPlaylistReader(FormatM3U, src)
	if err != nil {
		t.Fatalf("newPlaylistReader: %v", err)
	}

	pool := appacket.New(1, 64)
	pkt, err := pool.Acquire(context.Background(), nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	res, err := r.Process(pkt)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res != ReadRedirect {
		t.Fatalf("first Process() = %v, want ReadRedirect", res)
	}
	if entries := r.Redirect(); len(entries) != 2 || entries[0] != "track1.flac" || entries[1] != "track2.mp3" {
		t.Fatalf("unexpected Redirect() entries: %v", entries)
	}

	res2, err := r.Process(pkt)
	if err != nil {
		t.Fatalf("Process (second call): %v", err)
	}
	if res2 != ReadDone {
		t.Fatalf("second Process() = %v, want ReadDone", res2)
	}
}

func TestPlaylistReaderNotSeekable(t *testing.T) {
	r, err := newPlaylistReader(FormatM3U, &fakeSource{data: []byte("a.mp3\n")})
	if err != nil {
		t.Fatalf("newPlaylistReader: %v", err)
	}
	if r.CanSeek() {
		t.Fatal("playlists should never report CanSeek() true")
	}
	if err := r.Seek(0); err == nil {
		t.Fatal("expected Seek to fail on a playlist reader")
	}
}
