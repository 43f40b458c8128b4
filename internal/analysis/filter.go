// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"math/cmplx"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

// SOS is a cascade of second-order sections, normalised so a0 = 1.
type SOS []biquad.Coefficients

// maxCutoffRatio keeps digital cutoffs strictly below Nyquist so the
// bilinear pre-warp stays finite at low sample rates.
const maxCutoffRatio = 0.49

// ButterworthLowpass designs an order-n lowpass with cutoff Hz at rate Hz.
func ButterworthLowpass(order int, cutoff, rate float64) SOS {
	return butterworth(order, clampCutoff(cutoff, rate), rate, false)
}

// ButterworthHighpass designs an order-n highpass with cutoff Hz at rate Hz.
func ButterworthHighpass(order int, cutoff, rate float64) SOS {
	return butterworth(order, clampCutoff(cutoff, rate), rate, true)
}

// ButterworthBandpass cascades an order-n highpass at low and an order-n
// lowpass at high. A high edge at or above Nyquist leaves only the highpass.
func ButterworthBandpass(order int, low, high, rate float64) SOS {
	sos := ButterworthHighpass(order, low, rate)
	if high < rate*maxCutoffRatio {
		sos = append(sos, ButterworthLowpass(order, high, rate)...)
	}
	return sos
}

func clampCutoff(cutoff, rate float64) float64 {
	return math.Min(cutoff, rate*maxCutoffRatio)
}

// butterworth places the analog prototype poles and lets the cookbook
// designs build one biquad per conjugate pair: the pair at angle phi from
// the negative real axis has Q = 1/(2cos(phi)). The design package has no
// first-order sections, so odd orders add one built here from the same
// pre-warped bilinear transform.
func butterworth(order int, cutoff, rate float64, highpass bool) SOS {
	if order < 1 {
		order = 1
	}
	sos := make(SOS, 0, (order+1)/2)
	for k := 0; k < order/2; k++ {
		var phi float64
		if order%2 == 0 {
			phi = math.Pi * float64(2*k+1) / float64(2*order)
		} else {
			phi = math.Pi * float64(k+1) / float64(order)
		}
		q := 1 / (2 * math.Cos(phi))
		if highpass {
			sos = append(sos, design.Highpass(cutoff, q, rate))
		} else {
			sos = append(sos, design.Lowpass(cutoff, q, rate))
		}
	}
	if order%2 == 1 {
		sos = append(sos, firstOrder(cutoff, rate, highpass))
	}
	return sos
}

func firstOrder(cutoff, rate float64, highpass bool) biquad.Coefficients {
	k := math.Tan(math.Pi * cutoff / rate)
	c := biquad.Coefficients{A1: (k - 1) / (k + 1)}
	if highpass {
		c.B0 = 1 / (1 + k)
		c.B1 = -c.B0
	} else {
		c.B0 = k / (1 + k)
		c.B1 = c.B0
	}
	return c
}

// Filter runs x through the cascade from zero state into dst and returns
// it. dst may alias x. A nil dst is allocated.
func (s SOS) Filter(dst, x []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(x))
	}
	copy(dst, x)
	if len(s) > 0 {
		biquad.NewChain(s).ProcessBlock(dst)
	}
	return dst
}

// Response returns the magnitude response at freq Hz.
func (s SOS) Response(freq, rate float64) float64 {
	h := complex(1, 0)
	for _, c := range s {
		h *= biquad.NewSection(c).Response(freq, rate)
	}
	return cmplx.Abs(h)
}

// FiltFilt applies the cascade forward and backward for zero phase. The
// input is extended by odd reflection at both ends to tame edge transients.
func (s SOS) FiltFilt(x []float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	pad := 3 * (2*len(s) + 1)
	if pad > n-1 {
		pad = n - 1
	}

	ext := make([]float64, n+2*pad)
	for i := 0; i < pad; i++ {
		ext[i] = 2*x[0] - x[pad-i]
		ext[n+pad+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[pad:], x)

	s.Filter(ext, ext)
	reverse(ext)
	s.Filter(ext, ext)
	reverse(ext)

	out := make([]float64, n)
	copy(out, ext[pad:pad+n])
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

// StreamFilter is a cascade that keeps its state between calls, for signals
// that arrive in consecutive frames.
type StreamFilter struct {
	chain *biquad.Chain
}

// NewStreamFilter wraps sos with zero initial state.
func NewStreamFilter(sos SOS) *StreamFilter {
	if len(sos) == 0 {
		sos = SOS{{B0: 1}}
	}
	return &StreamFilter{chain: biquad.NewChain(sos)}
}

// Process filters x in place.
func (f *StreamFilter) Process(x []float64) {
	f.chain.ProcessBlock(x)
}

// Reset clears the filter memory.
func (f *StreamFilter) Reset() {
	f.chain.SetState(make([][2]float64, f.chain.NumSections()))
}
