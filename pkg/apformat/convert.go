package apformat

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ErrUnsupportedConversion is returned for any stream->device conversion not
// in the fixed matrix of spec §4.4; the caller must treat it as fatal.
var ErrUnsupportedConversion = fmt.Errorf("apformat: unsupported sample conversion")

// ConvertSamples converts nframes*srcChannels samples from src (in srcFmt)
// into dst (in dstFmt), per the conversion matrix:
//
//	float       -> S16   saturating round
//	float       -> S32   left-shift to 32-bit
//	S24 packed3 -> S16   narrow
//	S24 packed3 -> S32   left-shift
//
// Same-format "conversion" is a verbatim copy. Any other pairing is
// ErrUnsupportedConversion.
func ConvertSamples(dst []byte, dstFmt AudioFormat, src []byte, srcFmt AudioFormat, nframes int) (int, error) {
	nsamples := nframes * srcFmt.Channels

	if srcFmt.DataType == dstFmt.DataType && srcFmt.BitsPerSample == dstFmt.BitsPerSample && srcFmt.Packing == dstFmt.Packing {
		n := nsamples * srcFmt.Packing
		copy(dst, src[:n])
		return n, nil
	}

	switch {
	case srcFmt.DataType == Float && srcFmt.Packing == 4 && dstFmt.DataType == Signed && dstFmt.BitsPerSample == 16:
		return convertFloat32ToS16(dst, src, nsamples)
	case srcFmt.DataType == Float && srcFmt.Packing == 4 && dstFmt.DataType == Signed && dstFmt.BitsPerSample == 32:
		return convertFloat32ToS32(dst, src, nsamples)
	case srcFmt.DataType == Signed && srcFmt.BitsPerSample == 24 && srcFmt.Packing == 3 && dstFmt.DataType == Signed && dstFmt.BitsPerSample == 16:
		return convertS24ToS16(dst, src, nsamples)
	case srcFmt.DataType == Signed && srcFmt.BitsPerSample == 24 && srcFmt.Packing == 3 && dstFmt.DataType == Signed && dstFmt.BitsPerSample == 32:
		return convertS24ToS32(dst, src, nsamples)
	default:
		return 0, ErrUnsupportedConversion
	}
}

func convertFloat32ToS16(dst, src []byte, nsamples int) (int, error) {
	for i := 0; i < nsamples; i++ {
		f := math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		v := saturatingRoundToS16(float64(f))
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(v)))
	}
	return nsamples * 2, nil
}

func saturatingRoundToS16(f float64) int32 {
	v := int32(math.Round(f * 32768.0))
	if v > 32767 {
		v = 32767
	}
	if v < -32768 {
		v = -32768
	}
	return v
}

func convertFloat32ToS32(dst, src []byte, nsamples int) (int, error) {
	for i := 0; i < nsamples; i++ {
		f := math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		v := saturatingRoundToS16(float64(f))
		// Left-shift the 16-bit saturated value to occupy the 32-bit field.
		binary.LittleEndian.PutUint32(dst[i*4:], uint32(int32(v)<<16))
	}
	return nsamples * 4, nil
}

func convertS24ToS16(dst, src []byte, nsamples int) (int, error) {
	for i := 0; i < nsamples; i++ {
		v := decodeS24(src[i*3:])
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(v>>8)))
	}
	return nsamples * 2, nil
}

func convertS24ToS32(dst, src []byte, nsamples int) (int, error) {
	for i := 0; i < nsamples; i++ {
		v := decodeS24(src[i*3:])
		binary.LittleEndian.PutUint32(dst[i*4:], uint32(v<<8))
	}
	return nsamples * 4, nil
}

func decodeS24(b []byte) int32 {
	v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	if v&0x800000 != 0 {
		v |= ^int32(0xFFFFFF) // sign-extend
	}
	return v
}

// ApplyGainS16 scales nsamples S16 samples in place by scale, clamping
// to the int16 range. Used for the replay-gain path of spec §4.4 step 1.
func ApplyGainS16(buf []byte, nsamples int, scale float64) {
	for i := 0; i < nsamples; i++ {
		v := int16(binary.LittleEndian.Uint16(buf[i*2:]))
		scaled := float64(v) * scale
		if scaled > 32767 {
			scaled = 32767
		}
		if scaled < -32768 {
			scaled = -32768
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(scaled)))
	}
}

// ApplyGainFloat32 scales nsamples float32 samples in place by scale.
func ApplyGainFloat32(buf []byte, nsamples int, scale float64) {
	for i := 0; i < nsamples; i++ {
		f := math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		f = float32(float64(f) * scale)
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
}

// DuplicateMonoToStereo expands nframes mono frames of sampleSize bytes each
// into interleaved stereo, the only supported channel conversion.
func DuplicateMonoToStereo(dst, src []byte, nframes, sampleSize int) {
	for i := 0; i < nframes; i++ {
		s := src[i*sampleSize : (i+1)*sampleSize]
		copy(dst[i*2*sampleSize:], s)
		copy(dst[i*2*sampleSize+sampleSize:], s)
	}
}
