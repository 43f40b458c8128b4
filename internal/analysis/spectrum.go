// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math/cmplx"

	"github.com/tphakala/simd/f64"
	"gonum.org/v1/gonum/dsp/fourier"
)

// BandpassOrder is the Butterworth order of the spectrum pre-filter.
const BandpassOrder = 5

// SpectrumAnalyzer turns a block into a one-sided magnitude spectrum.
// Workspaces are allocated once; the returned spectrum is always fresh so
// it can be published and forwarded.
type SpectrumAnalyzer struct {
	fft        *fourier.FFT
	size       int
	sampleRate float64
	window     []float64
	filter     *StreamFilter

	input  []float64
	coeffs []complex128
}

// NewSpectrumAnalyzer prepares a window and band-pass filter for blocks of
// size samples at sampleRate Hz.
func NewSpectrumAnalyzer(size int, sampleRate float64, wf WindowFunc, low, high float64) (*SpectrumAnalyzer, error) {
	if size < 2 {
		return nil, fmt.Errorf("spectrum size must be at least 2, got %d", size)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}
	return &SpectrumAnalyzer{
		fft:        fourier.NewFFT(size),
		size:       size,
		sampleRate: sampleRate,
		window:     NewWindow(size, wf),
		filter:     NewStreamFilter(ButterworthBandpass(BandpassOrder, low, high, sampleRate)),
		input:      make([]float64, size),
		coeffs:     make([]complex128, size/2+1),
	}, nil
}

// Size returns the block length the analyzer expects.
func (a *SpectrumAnalyzer) Size() int { return a.size }

// Magnitude windows and band-passes block, then returns |X_k|/N for
// k in [0, N/2). Short blocks are zero-padded; long blocks use the tail.
func (a *SpectrumAnalyzer) Magnitude(block []float64) []float64 {
	if len(block) > a.size {
		block = block[len(block)-a.size:]
	}
	n := copy(a.input, block)
	clear(a.input[n:])

	for i, w := range a.window {
		a.input[i] *= w
	}
	a.filter.Reset()
	a.filter.Process(a.input)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.input)

	out := make([]float64, a.size/2)
	for k := range out {
		out[k] = cmplx.Abs(a.coeffs[k])
	}
	f64.Scale(out, out, 1/float64(a.size))
	return out
}

// BinFrequency returns the centre frequency of bin k of a spectrum with n
// bins covering [0, rate/2).
func BinFrequency(k, n int, rate float64) float64 {
	return float64(k) * rate / float64(2*n)
}
