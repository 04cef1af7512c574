package apformat

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestConvertSamplesSameFormatCopies(t *testing.T) {
	fmtS16 := S16(44100, 1)
	src := []byte{0x01, 0x02, 0x03, 0x04}
	dst := make([]byte, 4)
	n, err := ConvertSamples(dst, fmtS16, src, fmtS16, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Fatalf("n = %d, want 4", n)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("dst[%d] = %x, want %x", i, dst[i], src[i])
		}
	}
}

func TestConvertFloat32ToS16(t *testing.T) {
	srcFmt := AudioFormat{DataType: Float, Packing: 4, Channels: 1}
	dstFmt := S16(44100, 1)

	src := make([]byte, 8)
	binary.LittleEndian.PutUint32(src[0:], math.Float32bits(1.0))
	binary.LittleEndian.PutUint32(src[4:], math.Float32bits(-1.0))

	dst := make([]byte, 4)
	n, err := ConvertSamples(dst, dstFmt, src, srcFmt, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Fatalf("n = %d, want 4", n)
	}
	v0 := int16(binary.LittleEndian.Uint16(dst[0:]))
	v1 := int16(binary.LittleEndian.Uint16(dst[2:]))
	if v0 != 32767 {
		t.Fatalf("1.0 -> %d, want 32767", v0)
	}
	if v1 != -32768 {
		t.Fatalf("-1.0 -> %d, want -32768", v1)
	}
}

func TestConvertS24ToS16(t *testing.T) {
	srcFmt := AudioFormat{DataType: Signed, BitsPerSample: 24, Packing: 3, Channels: 1}
	dstFmt := S16(44100, 1)

	// 0x7FFFFF is the max positive 24-bit value; top 16 bits narrow to 0x7FFF.
	src := []byte{0xFF, 0xFF, 0x7F}
	dst := make([]byte, 2)
	n, err := ConvertSamples(dst, dstFmt, src, srcFmt, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	v := int16(binary.LittleEndian.Uint16(dst))
	if v != 0x7FFF {
		t.Fatalf("narrowed value = %x, want 7fff", v)
	}
}

func TestConvertUnsupportedPair(t *testing.T) {
	srcFmt := AudioFormat{DataType: Unsigned, BitsPerSample: 8, Packing: 1, Channels: 1}
	dstFmt := S16(44100, 1)
	_, err := ConvertSamples(make([]byte, 2), dstFmt, []byte{0x80}, srcFmt, 1)
	if err != ErrUnsupportedConversion {
		t.Fatalf("err = %v, want ErrUnsupportedConversion", err)
	}
}

func TestApplyGainS16Clamps(t *testing.T) {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(int16(30000)))
	ApplyGainS16(buf, 1, 2.0)
	v := int16(binary.LittleEndian.Uint16(buf))
	if v != 32767 {
		t.Fatalf("gain should clamp to int16 max, got %d", v)
	}
}

func TestDuplicateMonoToStereo(t *testing.T) {
	src := []byte{0x01, 0x02} // one mono S16 frame
	dst := make([]byte, 4)
	DuplicateMonoToStereo(dst, src, 1, 2)
	want := []byte{0x01, 0x02, 0x01, 0x02}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("dst = %v, want %v", dst, want)
		}
	}
}
