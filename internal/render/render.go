// Package render draws track audio as PNG images: a min/max waveform strip
// and a log-pitch spectrogram.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/satindergrewal/kanasynth/internal/dsp"
	apperr "github.com/satindergrewal/kanasynth/internal/errors"
	"github.com/satindergrewal/kanasynth/internal/synth"
)

const (
	blockSec = 0.1 // waveform column and spectrogram frame length

	// WaveHeight is the height of a waveform image; the zero line sits in
	// the middle.
	WaveHeight = 128

	hopSec = 0.025

	// SpecKeys is the number of semitones on the spectrogram pitch axis,
	// starting at MIDI pitch 0.
	SpecKeys = 12 * 11
	// SpecRowsPerKey is the vertical resolution per semitone.
	SpecRowsPerKey = 6
	// SpecHeight is the spectrogram image height.
	SpecHeight = SpecKeys * SpecRowsPerKey

	specMaxValue = 300.0 // magnitude drawn fully opaque
)

// merge averages equally long channels into one.
func merge(channels [][]float32) ([]float64, error) {
	if len(channels) == 0 {
		return nil, apperr.Invalid("channels", apperr.ErrInvalidLength, "no channels")
	}
	n := len(channels[0])
	for i, ch := range channels {
		if len(ch) != n {
			return nil, apperr.Invalid("channels", apperr.ErrInvalidLength,
				"channel %d has %d samples, channel 0 has %d", i, len(ch), n)
		}
	}
	if n == 0 {
		return nil, apperr.Invalid("channels", apperr.ErrInvalidLength, "no samples")
	}
	out := make([]float64, n)
	scale := 1 / float64(len(channels))
	for _, ch := range channels {
		for j, v := range ch {
			out[j] += float64(v) * scale
		}
	}
	return out, nil
}

func checkRate(fs int) error {
	if fs < 1 {
		return apperr.Invalid("fs", nil, "sample rate %d", fs)
	}
	return nil
}

// WaveImage draws one column per 0.1 s block, spanning the block's minimum
// to maximum sample around a centred zero line.
func WaveImage(fs int, channels [][]float32) ([]byte, error) {
	if err := checkRate(fs); err != nil {
		return nil, err
	}
	merged, err := merge(channels)
	if err != nil {
		return nil, err
	}
	block := max(int(math.Floor(float64(fs)*blockSec)), 1)
	width := (len(merged) + block - 1) / block

	img := image.NewNRGBA(image.Rect(0, 0, width, WaveHeight))
	half := float64(WaveHeight / 2)
	for x := 0; x < width; x++ {
		seg := merged[x*block : min((x+1)*block, len(merged))]
		lo, hi := seg[0], seg[0]
		for _, v := range seg[1:] {
			lo = min(lo, v)
			hi = max(hi, v)
		}
		top := int(math.Floor(half - hi*half))
		bottom := int(math.Ceil(half - lo*half))
		for y := max(top, 0); y < min(bottom, WaveHeight); y++ {
			img.SetNRGBA(x, y, color.NRGBA{A: 255})
		}
	}
	return encode(img)
}

// Spectrogram draws Hamming-windowed 0.1 s frames hopped every 25 ms, one
// column each, with magnitudes resampled onto a log-pitch axis. Darker means
// louder; low pitches are at the bottom.
func Spectrogram(fs int, channels [][]float32) ([]byte, error) {
	if err := checkRate(fs); err != nil {
		return nil, err
	}
	merged, err := merge(channels)
	if err != nil {
		return nil, err
	}
	segLen := max(int(float64(fs)*blockSec), 1)
	hopLen := max(int(float64(fs)*hopSec), 1)
	frames := frameCount(len(merged), segLen, hopLen)

	window := dsp.HammingWindow(segLen)
	freqsLinear := dsp.RFFTFreq(segLen, 1/float64(fs))
	freqsLog := make([]float64, SpecHeight)
	step := float64(SpecKeys) / float64(SpecHeight)
	for i := range freqsLog {
		freqsLog[i] = synth.PitchToFreq(step * float64(i))
	}

	img := image.NewNRGBA(image.Rect(0, 0, frames, SpecHeight))
	frame := make([]float64, segLen)
	mags := make([]float64, len(freqsLinear))
	for x := 0; x < frames; x++ {
		begin := x * hopLen
		for i := range frame {
			frame[i] = 0
			if begin+i < len(merged) {
				frame[i] = merged[begin+i] * window[i]
			}
		}
		spec, err := dsp.RFFT(frame)
		if err != nil {
			return nil, err
		}
		for i, c := range spec {
			mags[i] = math.Hypot(real(c), imag(c))
		}
		col, err := dsp.Interp(freqsLinear, mags, freqsLog)
		if err != nil {
			return nil, err
		}
		for j, v := range col {
			a := math.Min(math.Max(v/specMaxValue, 0), 1)
			img.SetNRGBA(x, SpecHeight-1-j, color.NRGBA{A: uint8(math.Round(a * 255))})
		}
	}
	return encode(img)
}

// frameCount is the number of hopped frames covering n samples; a signal
// shorter than one frame still gets one zero-padded frame.
func frameCount(n, segLen, hopLen int) int {
	if n < segLen {
		return 1
	}
	return int(math.Ceil(float64(n)/float64(hopLen) - float64(segLen)/float64(hopLen) + 1))
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
