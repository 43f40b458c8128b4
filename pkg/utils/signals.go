// SPDX-License-Identifier: MIT

// Package utils generates deterministic int16 test signals.
package utils

import (
	"math"
	"math/rand/v2"
)

// Sine returns n samples of a sine at freq Hz with the given peak amplitude.
func Sine(n int, rate, freq, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = clip(amplitude * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return out
}

// MultiSine sums sines; amps[i] is the peak amplitude of freqs[i]. If
// sigma > 0, Gaussian noise with that standard deviation is added using a
// fixed seed.
func MultiSine(n int, rate float64, freqs, amps []float64, sigma float64, seed uint64) []int16 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]int16, n)
	for i := range out {
		t := float64(i) / rate
		v := 0.0
		for j, f := range freqs {
			v += amps[j] * math.Sin(2*math.Pi*f*t)
		}
		if sigma > 0 {
			v += rng.NormFloat64() * sigma
		}
		out[i] = clip(v)
	}
	return out
}

// ClickTrain returns n samples of silence with a rectangular click of
// clickLen samples at the start of every period of 1/hz seconds.
func ClickTrain(n int, rate, hz float64, clickLen int, amplitude int16) []int16 {
	out := make([]int16, n)
	period := rate / hz
	for k := 0; ; k++ {
		start := int(math.Round(float64(k) * period))
		if start >= n {
			break
		}
		for i := start; i < start+clickLen && i < n; i++ {
			out[i] = amplitude
		}
	}
	return out
}

// Silence returns n zero samples.
func Silence(n int) []int16 {
	return make([]int16, n)
}

// Interleave merges equal-length channel signals into one interleaved
// stream. Shorter channels are zero-extended.
func Interleave(channels ...[]int16) []int16 {
	n := 0
	for _, c := range channels {
		n = max(n, len(c))
	}
	out := make([]int16, n*len(channels))
	for i := 0; i < n; i++ {
		for c, ch := range channels {
			if i < len(ch) {
				out[i*len(channels)+c] = ch[i]
			}
		}
	}
	return out
}

// Frames splits samples into consecutive chunks of size; the last chunk may
// be short.
func Frames(samples []int16, size int) [][]int16 {
	var out [][]int16
	for start := 0; start < len(samples); start += size {
		end := min(start+size, len(samples))
		out = append(out, samples[start:end])
	}
	return out
}

// FindPeakBin returns the index of the largest magnitude in [startBin, endBin].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}
	startBin = max(startBin, 0)
	endBin = min(endBin, len(magnitudes)-1)

	peakBin := startBin
	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > magnitudes[peakBin] {
			peakBin = bin
		}
	}
	return peakBin
}

func clip(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
