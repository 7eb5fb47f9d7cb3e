// ABOUTME: Sample conversion helpers
// ABOUTME: Converts between 8-bit, 16-bit and float32 PCM encodings
package audio

import (
	"encoding/binary"
	"math"
)

// Int16ToFloat32 converts a 16-bit sample to the [-1, 1) float range
func Int16ToFloat32(sample int16) float32 {
	return float32(sample) / 32768.0
}

// Float32ToInt16 converts a float sample to 16-bit with clipping
func Float32ToInt16(sample float32) int16 {
	scaled := float64(sample) * 32768.0
	if scaled > math.MaxInt16 {
		return math.MaxInt16
	}
	if scaled < math.MinInt16 {
		return math.MinInt16
	}
	return int16(scaled)
}

// Uint8ToInt16 converts an unsigned 8-bit sample to 16-bit
func Uint8ToInt16(sample uint8) int16 {
	return (int16(sample) - 128) << 8
}

// Int16ToUint8 converts a 16-bit sample to unsigned 8-bit
func Int16ToUint8(sample int16) uint8 {
	return uint8((sample >> 8) + 128)
}

// EncodeFloat32LE writes float samples as little-endian bytes.
// dst must hold 4*len(src) bytes.
func EncodeFloat32LE(dst []byte, src []float32) {
	for i, s := range src {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
}

// DecodeFloat32LE reads little-endian float samples into dst and returns the
// number of samples decoded
func DecodeFloat32LE(dst []float32, src []byte) int {
	n := len(src) / 4
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return n
}

// readSample decodes one sample at b as a float
func readSample(b []byte, t SampleType) float32 {
	switch t {
	case SampleTypeInt16:
		return Int16ToFloat32(int16(binary.LittleEndian.Uint16(b)))
	case SampleTypeFloat32:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case SampleTypeUint8:
		return Int16ToFloat32(Uint8ToInt16(b[0]))
	}
	return 0
}

// writeSample encodes one float sample at b
func writeSample(b []byte, t SampleType, v float32) {
	switch t {
	case SampleTypeInt16:
		binary.LittleEndian.PutUint16(b, uint16(Float32ToInt16(v)))
	case SampleTypeFloat32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	case SampleTypeUint8:
		b[0] = Int16ToUint8(Float32ToInt16(v))
	}
}

// Transcode converts whole samples from src (encoded as from) into dst
// (encoded as to). It returns the number of bytes consumed from src and
// written to dst.
func Transcode(dst []byte, to SampleType, src []byte, from SampleType) (consumed, written int) {
	inSize := from.BytesPerSample()
	outSize := to.BytesPerSample()
	if inSize == 0 || outSize == 0 {
		return 0, 0
	}

	samples := len(src) / inSize
	if room := len(dst) / outSize; room < samples {
		samples = room
	}

	if from == to {
		n := copy(dst, src[:samples*inSize])
		return n, n
	}

	for i := 0; i < samples; i++ {
		writeSample(dst[i*outSize:], to, readSample(src[i*inSize:], from))
	}
	return samples * inSize, samples * outSize
}
