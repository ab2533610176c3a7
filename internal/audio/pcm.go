package audio

import (
	"encoding/binary"
	"math"
)

// FloatToInt16 converts float samples in [-1, 1] to int16, clipping
// anything outside that range.
func FloatToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * 32767
		if math.IsNaN(v) {
			v = 0
		}
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(math.Round(v))
	}
	return out
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// Layer is one track's buffer in a mix.
type Layer struct {
	Samples []float32
	Volume  float64
	Muted   bool
}

// Mix sums every unmuted layer scaled by its volume. The result is as long
// as the longest layer.
func Mix(layers []Layer) []float32 {
	n := 0
	for _, l := range layers {
		n = max(n, len(l.Samples))
	}
	out := make([]float32, n)
	for _, l := range layers {
		if l.Muted || l.Volume == 0 {
			continue
		}
		gain := float32(l.Volume)
		for i, s := range l.Samples {
			out[i] += s * gain
		}
	}
	return out
}
