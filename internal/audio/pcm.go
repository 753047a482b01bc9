// Package audio holds PCM codecs and the device abstractions the live session
// manager plays and captures through.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// EncodePCM16 converts samples in [-1, 1] to little-endian signed 16-bit PCM.
// Out of range samples are clamped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32768)
		v = max(-32768, min(32767, v))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// DecodePCM16 converts little-endian signed 16-bit PCM to samples in [-1, 1).
// A trailing odd byte is ignored.
func DecodePCM16(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(b[i*2:]))) / 32768
	}
	return out
}

// Duration is the playback length of n bytes of 16-bit PCM.
func Duration(n, rate, channels int) time.Duration {
	if rate <= 0 || channels <= 0 {
		return 0
	}
	frames := n / (2 * channels)
	return time.Duration(frames) * time.Second / time.Duration(rate)
}
