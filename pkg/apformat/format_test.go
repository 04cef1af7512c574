package apformat

import (
	"math"
	"testing"
)

func TestAudioFormatEqual(t *testing.T) {
	a := S16(44100, 2)
	b := S16(44100, 2)
	if !a.Equal(b) {
		t.Fatalf("expected %+v to equal %+v", a, b)
	}
	c := S16(48000, 2)
	if a.Equal(c) {
		t.Fatalf("did not expect %+v to equal %+v", a, c)
	}
	d := a
	d.ChannelMap = []ChannelRole{FL}
	if a.Equal(d) {
		t.Fatalf("differing channel maps should not be equal")
	}
}

func TestFrameSize(t *testing.T) {
	if fs := S16(44100, 2).FrameSize(); fs != 4 {
		t.Fatalf("S16 stereo frame size = %d, want 4", fs)
	}
	if fs := S32(44100, 1).FrameSize(); fs != 4 {
		t.Fatalf("S32 mono frame size = %d, want 4", fs)
	}
}

func TestIsZero(t *testing.T) {
	var af AudioFormat
	if !af.IsZero() {
		t.Fatalf("zero value should report IsZero")
	}
	if S16(44100, 2).IsZero() {
		t.Fatalf("populated format should not report IsZero")
	}
}

func TestStandardChannelMap(t *testing.T) {
	if m := StandardChannelMap(1); len(m) != 1 || m[0] != Mono {
		t.Fatalf("mono map = %v", m)
	}
	if m := StandardChannelMap(2); len(m) != 2 || m[0] != FL || m[1] != FR {
		t.Fatalf("stereo map = %v", m)
	}
	if m := StandardChannelMap(6); len(m) != 6 {
		t.Fatalf("6ch map length = %d, want 6", len(m))
	}
}

func TestReplayGainSelected(t *testing.T) {
	rg := ReplayGain{AlbumGain: -3, AlbumPeak: 0.9, TrackGain: -6, TrackPeak: 0.95}

	gain, peak, ok := rg.Selected(ReplayGainTrackMode)
	if !ok || gain != -6 || peak != 0.95 {
		t.Fatalf("track mode = (%v, %v, %v)", gain, peak, ok)
	}

	gain, peak, ok = rg.Selected(ReplayGainAlbumMode)
	if !ok || gain != -3 || peak != 0.9 {
		t.Fatalf("album mode = (%v, %v, %v)", gain, peak, ok)
	}
}

func TestReplayGainSelectedAbsent(t *testing.T) {
	rg := NoReplayGain()
	_, _, ok := rg.Selected(ReplayGainTrackMode)
	if ok {
		t.Fatalf("absent replay gain should report ok=false")
	}
}

func TestScaleOff(t *testing.T) {
	rg := ReplayGain{TrackGain: -6, TrackPeak: 0.5}
	scale, apply := Scale(rg, ReplayGainOffMode)
	if apply || scale != 1 {
		t.Fatalf("off mode = (%v, %v), want (1, false)", scale, apply)
	}
}

func TestScaleAbsentFallsBackToUnity(t *testing.T) {
	rg := NoReplayGain()
	scale, apply := Scale(rg, ReplayGainTrackMode)
	if apply || scale != 1 {
		t.Fatalf("no tag data should disable gain: got (%v, %v)", scale, apply)
	}
}

func TestScaleClampedToPeak(t *testing.T) {
	// +6dB would double amplitude (scale=2), but a peak of 0.6 means the
	// track already reaches 60% of full scale, so scale must clamp to 1/0.6.
	rg := ReplayGain{TrackGain: 6, TrackPeak: 0.6}
	scale, apply := Scale(rg, ReplayGainTrackMode)
	if !apply {
		t.Fatalf("expected gain to apply")
	}
	want := 1 / 0.6
	if math.Abs(scale-want) > 1e-9 {
		t.Fatalf("scale = %v, want %v", scale, want)
	}
}

func TestScaleUnclamped(t *testing.T) {
	rg := ReplayGain{TrackGain: -6, TrackPeak: 0.9}
	scale, apply := Scale(rg, ReplayGainTrackMode)
	if !apply {
		t.Fatalf("expected gain to apply")
	}
	want := math.Pow(10, -6.0/20)
	if math.Abs(scale-want) > 1e-9 {
		t.Fatalf("scale = %v, want %v", scale, want)
	}
}
