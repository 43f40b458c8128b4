// SPDX-License-Identifier: MIT
package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"soundscope/pkg/bitint"
)

// QuadraticPeak fits a parabola through (p-1, a), (p, b), (p+1, c) and
// returns the abscissa of its vertex. A flat triple returns p.
func QuadraticPeak(p int, a, b, c float64) float64 {
	den := 2 * (2*b - a - c)
	if den == 0 || math.IsNaN(den) || math.IsInf(den, 0) {
		return float64(p)
	}
	return float64(p) + (c-a)/den
}

// interpolate refines index p of x, staying at p on the edges.
func interpolate(x []float64, p int) float64 {
	if p <= 0 || p >= len(x)-1 {
		return float64(p)
	}
	return QuadraticPeak(p, x[p-1], x[p], x[p+1])
}

// interpolateLog refines p using log magnitudes. Non-positive neighbours
// disable the refinement.
func interpolateLog(x []float64, p int) float64 {
	if p <= 0 || p >= len(x)-1 || x[p-1] <= 0 || x[p] <= 0 || x[p+1] <= 0 {
		return float64(p)
	}
	return QuadraticPeak(p, math.Log(x[p-1]), math.Log(x[p]), math.Log(x[p+1]))
}

// ZeroCrossingPitch estimates pitch from the mean distance between
// interpolated positive-to-negative crossings. It returns 0 when fewer than
// two crossings are found.
func ZeroCrossingPitch(x []float64, rate float64) float64 {
	var first, last float64
	count := 0
	for i := 0; i+1 < len(x); i++ {
		if x[i] > 0 && x[i+1] <= 0 {
			pos := float64(i) + x[i]/(x[i]-x[i+1])
			if count == 0 {
				first = pos
			}
			last = pos
			count++
		}
	}
	if count < 2 {
		return 0
	}
	// The mean of successive differences telescopes to (last-first)/(n-1).
	period := (last - first) / float64(count-1)
	if period <= 0 {
		return 0
	}
	return rate / period
}

// SpectrumPeakPitch estimates pitch from the largest spectrum bin refined by
// a log-magnitude parabola.
func SpectrumPeakPitch(spectrum []float64, rate float64) float64 {
	if len(spectrum) == 0 {
		return 0
	}
	p := floats.MaxIdx(spectrum)
	if spectrum[p] <= 0 {
		return 0
	}
	return rate * interpolateLog(spectrum, p) / float64(2*len(spectrum))
}

// hpsMinFactor keeps product factors positive when the noise floor is 0.
const hpsMinFactor = 1e-12

// HarmonicProductPitch multiplies the spectrum by anti-aliased decimated
// copies of itself for levels 2..harmonics and picks the strongest product
// bin, refined on the spectrum peak it belongs to. Factors are floored at
// floor. Only bins with at least a tenth of the peak magnitude are eligible,
// so a pure tone never resolves to a subharmonic.
func HarmonicProductPitch(spectrum []float64, rate float64, harmonics int, floor float64) float64 {
	if len(spectrum) == 0 {
		return 0
	}
	peak := floats.Max(spectrum)
	if peak <= floor || peak <= 0 {
		return 0
	}
	floor = math.Max(floor, hpsMinFactor)

	product := make([]float64, len(spectrum))
	for i, v := range spectrum {
		product[i] = math.Max(v, floor)
	}
	limit := len(product)
	for level := 2; level <= harmonics; level++ {
		dec := Decimate(spectrum, level)
		if len(dec) < limit {
			limit = len(dec)
		}
		for i := 0; i < limit; i++ {
			product[i] *= math.Max(math.Abs(dec[i]), floor)
		}
	}
	product = product[:limit]

	eligible := 0.1 * peak
	best := -1
	for i, v := range product {
		if spectrum[i] < eligible {
			continue
		}
		if best < 0 || v > product[best] {
			best = i
		}
	}
	if best <= 0 {
		return 0
	}
	// The product picks the partial; the spectrum itself locates it, since
	// decimation tails tilt the product around the peak.
	for best+1 < len(spectrum) && spectrum[best+1] > spectrum[best] {
		best++
	}
	for best > 1 && spectrum[best-1] > spectrum[best] {
		best--
	}
	return rate * interpolateLog(spectrum, best) / float64(2*len(spectrum))
}

// decimateOrder matches the classic order-8 anti-aliasing filter with its
// cutoff at 0.8 of the new Nyquist frequency.
const decimateOrder = 8

// Decimate low-pass filters x with zero phase and keeps every q-th value.
func Decimate(x []float64, q int) []float64 {
	if q <= 1 {
		out := make([]float64, len(x))
		copy(out, x)
		return out
	}
	lp := ButterworthLowpass(decimateOrder, 0.8*0.5/float64(q), 1)
	filtered := lp.FiltFilt(x)
	out := make([]float64, 0, (len(x)+q-1)/q)
	for i := 0; i < len(filtered); i += q {
		out = append(out, filtered[i])
	}
	return out
}

// acPeakRatio is how close to the strongest lag a peak must come to count
// as the period. The normalised autocorrelation of a periodic signal is
// nearly flat across multiples of the period, so the first qualifying peak
// is the fundamental.
const acPeakRatio = 0.9

// AutocorrelationPitch estimates pitch from the first major autocorrelation
// peak after the initial descent from lag 0. The block is Hann windowed and
// its autocorrelation divided by that of the window, so lags up to a third
// of the block carry no taper bias.
func AutocorrelationPitch(x []float64, rate float64, ac *Autocorrelator) float64 {
	if ac == nil || ac.Size() != len(x) {
		ac = NewAutocorrelator(len(x))
	}
	corr := ac.Normalized(x)
	// Past a third of the block the window autocorrelation is small enough
	// for the division to amplify noise.
	corr = corr[:max(len(x)/3, min(3, len(corr)))]
	if len(corr) < 3 {
		return 0
	}

	start := -1
	for i := 0; i+1 < len(corr); i++ {
		if corr[i+1]-corr[i] > 0 {
			start = i
			break
		}
	}
	if start < 0 {
		return 0
	}
	p := start + floats.MaxIdx(corr[start:])
	peak := corr[p]
	if peak <= 0 {
		return 0
	}
	for i := max(start, 1); i < p; i++ {
		if corr[i] >= acPeakRatio*peak && corr[i] >= corr[i-1] && corr[i] >= corr[i+1] {
			p = i
			break
		}
	}
	lag := interpolate(corr, p)
	if lag <= 0 {
		return 0
	}
	return rate / lag
}

// Autocorrelator computes the positive-lag autocorrelation by FFT, as the
// linear convolution of the signal with its reverse.
type Autocorrelator struct {
	size int
	conv *Convolver
	rev  []float64
	out  []float64

	window   []float64
	windowAC []float64
	windowed []float64
	norm     []float64
}

// NewAutocorrelator prepares workspaces for signals of length n.
func NewAutocorrelator(n int) *Autocorrelator {
	a := &Autocorrelator{
		size:     n,
		conv:     NewConvolver(bitint.NextPowerOfTwo(2*n - 1)),
		rev:      make([]float64, n),
		out:      make([]float64, n),
		window:   NewWindow(n, Hann),
		windowed: make([]float64, n),
		norm:     make([]float64, n/2),
	}
	a.windowAC = append([]float64(nil), a.Compute(a.window)[:n/2]...)
	return a
}

// Size returns the signal length this instance is prepared for.
func (a *Autocorrelator) Size() int { return a.size }

// Compute returns r[lag] for lag in [0, n). The slice is reused by the
// next call.
func (a *Autocorrelator) Compute(x []float64) []float64 {
	n := a.size
	for i := range n {
		a.rev[i] = x[n-1-i]
	}
	full := a.conv.Convolve(x, a.rev)
	// Zero lag sits at index n-1 of the full convolution.
	copy(a.out, full[n-1:2*n-1])
	return a.out
}

// Normalized returns the autocorrelation of the Hann windowed signal divided
// by the autocorrelation of the window, for lag in [0, n/2). The slice is
// reused by the next call.
func (a *Autocorrelator) Normalized(x []float64) []float64 {
	for i, w := range a.window {
		a.windowed[i] = x[i] * w
	}
	r := a.Compute(a.windowed)
	for lag := range a.norm {
		if a.windowAC[lag] > 0 {
			a.norm[lag] = r[lag] / a.windowAC[lag]
		} else {
			a.norm[lag] = 0
		}
	}
	return a.norm
}
