// Package dsp holds the spectral transforms and small numeric helpers used
// by the voice precompiler, the note synthesizer and the renderers.
package dsp

import (
	"math"
	"math/cmplx"

	apperr "github.com/satindergrewal/kanasynth/internal/errors"
)

// FFT returns the discrete Fourier transform of x. Power-of-two lengths use
// radix-2 Cooley-Tukey, every other length goes through Bluestein.
func FFT(x []complex128) ([]complex128, error) {
	n := len(x)
	if n <= 0 {
		return nil, invalidLength("fft", n)
	}
	if IsPowerOfTwo(n) {
		out := make([]complex128, n)
		copy(out, x)
		radix2(out)
		return out, nil
	}
	return bluestein(x), nil
}

// IFFT returns the inverse transform of x, scaled by 1/n.
func IFFT(x []complex128) ([]complex128, error) {
	n := len(x)
	if n <= 0 {
		return nil, invalidLength("ifft", n)
	}
	conj := make([]complex128, n)
	for i, v := range x {
		conj[i] = cmplx.Conj(v)
	}
	y, err := FFT(conj)
	if err != nil {
		return nil, err
	}
	scale := 1 / float64(n)
	for i, v := range y {
		c := cmplx.Conj(v)
		y[i] = complex(real(c)*scale, imag(c)*scale)
	}
	return y, nil
}

// RFFT transforms a real sequence and keeps the floor(n/2)+1 non-negative
// frequency bins.
func RFFT(x []float64) ([]complex128, error) {
	n := len(x)
	if n <= 0 {
		return nil, invalidLength("rfft", n)
	}
	in := make([]complex128, n)
	for i, v := range x {
		in[i] = complex(v, 0)
	}
	spec, err := FFT(in)
	if err != nil {
		return nil, err
	}
	return spec[:n/2+1], nil
}

// IRFFT inverts RFFT for a real sequence of length n. Bins above len(spec)
// are rebuilt by Hermitian symmetry before the inverse transform.
func IRFFT(spec []complex128, n int) ([]float64, error) {
	if n <= 0 {
		return nil, invalidLength("irfft", n)
	}
	if len(spec) != n/2+1 {
		return nil, apperr.Invalid("irfft.length", apperr.ErrInvalidLength,
			"spectrum has %d bins, want %d for n=%d", len(spec), n/2+1, n)
	}
	full := make([]complex128, n)
	copy(full, spec)
	for k := len(spec); k < n; k++ {
		full[k] = cmplx.Conj(spec[n-k])
	}
	t, err := IFFT(full)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i, v := range t {
		out[i] = real(v)
	}
	return out, nil
}

// radix2 transforms x in place. len(x) must be a power of two.
func radix2(x []complex128) {
	n := len(x)
	if n <= 1 {
		return
	}

	// Bit-reversal permutation
	j := 0
	for i := 0; i < n-1; i++ {
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
		k := n >> 1
		for k <= j {
			j -= k
			k >>= 1
		}
		j += k
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		step := cmplx.Rect(1, -2*math.Pi/float64(size))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			for k := 0; k < half; k++ {
				u := start + k
				v := u + half
				t := w * x[v]
				x[v] = x[u] - t
				x[u] += t
				w *= step
			}
		}
	}
}

// bluestein evaluates an arbitrary-length DFT as a chirp convolution carried
// out with power-of-two transforms.
func bluestein(x []complex128) []complex128 {
	n := len(x)
	m := NextPowerOfTwo(2*n - 1)

	chirp := make([]complex128, n)
	for i := 0; i < n; i++ {
		// i*i mod 2n keeps the angle small for long inputs.
		k := (i * i) % (2 * n)
		chirp[i] = cmplx.Rect(1, -math.Pi*float64(k)/float64(n))
	}

	a := make([]complex128, m)
	b := make([]complex128, m)
	for i := 0; i < n; i++ {
		a[i] = x[i] * chirp[i]
		b[i] = cmplx.Conj(chirp[i])
	}
	for i := 1; i < n; i++ {
		b[m-i] = b[i]
	}

	radix2(a)
	radix2(b)
	for i := range a {
		a[i] *= b[i]
	}

	// Inverse of the product via conjugation.
	for i := range a {
		a[i] = cmplx.Conj(a[i])
	}
	radix2(a)
	scale := 1 / float64(m)

	out := make([]complex128, n)
	for i := 0; i < n; i++ {
		c := cmplx.Conj(a[i])
		out[i] = complex(real(c)*scale, imag(c)*scale) * chirp[i]
	}
	return out
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// NextPowerOfTwo returns the smallest power of two >= n.
func NextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func invalidLength(op string, n int) error {
	return apperr.Invalid(op+".length", apperr.ErrInvalidLength, "length must be positive, got %d", n)
}
