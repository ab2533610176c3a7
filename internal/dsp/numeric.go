package dsp

import (
	"math"

	apperr "github.com/satindergrewal/kanasynth/internal/errors"
)

// Linspace returns num evenly spaced values over [begin, end]. A single
// value is the midpoint.
func Linspace(begin, end float64, num int) []float64 {
	if num <= 0 {
		return nil
	}
	if num == 1 {
		return []float64{(begin + end) / 2}
	}
	out := make([]float64, num)
	for i := range out {
		out[i] = begin + (end-begin)*(float64(i)/float64(num-1))
	}
	return out
}

// Interp linearly interpolates the curve (x, y) at each point of z. x must
// be ascending. Points outside [x[0], x[last]] take the nearest end value.
func Interp(x, y, z []float64) ([]float64, error) {
	if len(x) != len(y) {
		return nil, apperr.Invalid("interp", apperr.ErrInvalidLength,
			"x has %d points, y has %d", len(x), len(y))
	}
	if len(x) == 0 {
		return nil, apperr.Invalid("interp", apperr.ErrInvalidLength, "no control points")
	}

	out := make([]float64, len(z))
	last := len(x) - 1
	j := 0
	for i, v := range z {
		switch {
		case v <= x[0]:
			out[i] = y[0]
			continue
		case v >= x[last]:
			out[i] = y[last]
			continue
		}
		// z is usually ascending; restart the scan when it is not.
		if j > 0 && v < x[j] {
			j = 0
		}
		for j < last-1 && v >= x[j+1] {
			j++
		}
		x0, x1 := x[j], x[j+1]
		if x1 == x0 {
			out[i] = y[j]
			continue
		}
		out[i] = y[j] + (y[j+1]-y[j])*(v-x0)/(x1-x0)
	}
	return out, nil
}

// Resample stretches data to num points over a normalized 0..1 axis.
func Resample(data []float64, num int) []float64 {
	if num <= 0 || len(data) == 0 {
		return []float64{}
	}
	if len(data) == 1 {
		out := make([]float64, num)
		for i := range out {
			out[i] = data[0]
		}
		return out
	}
	out, _ := Interp(Linspace(0, 1, len(data)), data, Linspace(0, 1, num))
	return out
}

// RFFTFreq returns the bin centre frequencies of an n-point RFFT with
// sample spacing d.
func RFFTFreq(n int, d float64) []float64 {
	out := make([]float64, n/2+1)
	for i := range out {
		out[i] = float64(i) / (float64(n) * d)
	}
	return out
}

// HannWindow returns a symmetric Hann window of length n.
func HannWindow(n int) []float64 {
	return cosineWindow(n, 0.5, 0.5)
}

// HammingWindow returns a symmetric Hamming window of length n.
func HammingWindow(n int) []float64 {
	return cosineWindow(n, 0.54, 0.46)
}

func cosineWindow(n int, a0, a1 float64) []float64 {
	if n <= 0 {
		return nil
	}
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = a0 - a1*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// Mean returns the arithmetic mean of x, or 0 for an empty slice.
func Mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

// ArgMin returns the index of the smallest element of x, -1 when empty.
func ArgMin(x []float64) int {
	if len(x) == 0 {
		return -1
	}
	idx := 0
	for i, v := range x {
		if v < x[idx] {
			idx = i
		}
	}
	return idx
}

// PeakAbs returns the largest absolute sample value.
func PeakAbs(x []float64) float64 {
	var peak float64
	for _, v := range x {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return peak
}
