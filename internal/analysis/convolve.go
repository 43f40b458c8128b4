// SPDX-License-Identifier: MIT
package analysis

import (
	"github.com/tphakala/simd/c128"
	"github.com/tphakala/simd/f64"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Convolver computes linear convolutions of two real signals whose combined
// length fits in its FFT size. Buffers are pre-allocated; results are only
// valid until the next call.
type Convolver struct {
	fft    *fourier.FFT
	size   int
	scale  float64 // gonum's inverse transform is unnormalised
	a, b   []float64
	fa, fb []complex128
	prod   []complex128
	result []float64
}

// NewConvolver creates a convolver with FFT length n.
func NewConvolver(n int) *Convolver {
	bins := n/2 + 1
	return &Convolver{
		fft:    fourier.NewFFT(n),
		size:   n,
		scale:  1 / float64(n),
		a:      make([]float64, n),
		b:      make([]float64, n),
		fa:     make([]complex128, bins),
		fb:     make([]complex128, bins),
		prod:   make([]complex128, bins),
		result: make([]float64, n),
	}
}

// Convolve returns x*h over the convolver's full FFT length. Indices at or
// beyond len(x)+len(h)-1 hold zeros (up to rounding). If the signals are
// too long the result wraps circularly.
func (c *Convolver) Convolve(x, h []float64) []float64 {
	clear(c.a[copy(c.a, x):])
	clear(c.b[copy(c.b, h):])

	c.fa = c.fft.Coefficients(c.fa, c.a)
	c.fb = c.fft.Coefficients(c.fb, c.b)
	c128.Mul(c.prod, c.fa, c.fb)

	c.result = c.fft.Sequence(c.result, c.prod)
	f64.Scale(c.result, c.result, c.scale)
	return c.result
}
