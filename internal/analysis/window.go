// SPDX-License-Identifier: MIT

/*
Package analysis holds the signal processing used by the graph nodes:
window functions, Butterworth filters, magnitude spectra, pitch
estimators, note derivation, band presence, spectrogram tiling and beat
detection.

Everything here is single-goroutine: a type that carries workspace buffers
belongs to exactly one node. Samples are float64 values on the int16 scale
(no normalisation to [-1, 1]), so thresholds such as the 0.5 noise floor are
in int16 units.
*/
package analysis

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc selects an FFT window function.
type WindowFunc int

// Available window functions.
const (
	Hann WindowFunc = iota
	Hamming
	Blackman
	BlackmanHarris
	BlackmanNuttall
	BartlettHann
	FlatTop
	Lanczos
	Nuttall
	Rectangular
)

var windowNames = map[string]WindowFunc{
	"hann":            Hann,
	"hanning":         Hann,
	"hamming":         Hamming,
	"blackman":        Blackman,
	"blackmanharris":  BlackmanHarris,
	"blackmannuttall": BlackmanNuttall,
	"bartletthann":    BartlettHann,
	"flattop":         FlatTop,
	"lanczos":         Lanczos,
	"nuttall":         Nuttall,
	"rectangular":     Rectangular,
}

// ParseWindowFunc converts a name (case-insensitive) to a WindowFunc. Unknown
// names return Hann and an error.
func ParseWindowFunc(name string) (WindowFunc, error) {
	if wf, ok := windowNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return wf, nil
	}
	return Hann, fmt.Errorf("unknown window function name: '%s'", name)
}

// NewWindow returns n coefficients of the given window.
func NewWindow(n int, wf WindowFunc) []float64 {
	coeffs := make([]float64, n)
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch wf {
	case Hamming:
		window.Hamming(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanHarris:
		window.BlackmanHarris(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case BartlettHann:
		window.BartlettHann(coeffs)
	case FlatTop:
		window.FlatTop(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	case Rectangular:
		window.Rectangular(coeffs)
	default:
		window.Hann(coeffs)
	}
	return coeffs
}
