// SPDX-License-Identifier: MIT
package analysis

import (
	"math"

	"github.com/tphakala/simd/f64"
)

// Band is a named closed frequency interval in Hz.
type Band struct {
	Name string
	Low  float64
	High float64
}

// BandPresence gates spectrum bins below floor, sums the bins whose centre
// frequency k*rate/(2N) lies in each band, and normalises the sums to 1.
// When nothing survives the gate every band is 0. Bands may overlap.
func BandPresence(spectrum []float64, rate float64, bands []Band, floor float64) map[string]float64 {
	out := make(map[string]float64, len(bands))
	n := len(spectrum)
	if n == 0 {
		for _, b := range bands {
			out[b.Name] = 0
		}
		return out
	}

	gated := make([]float64, n)
	for i, v := range spectrum {
		if v >= floor {
			gated[i] = v
		}
	}

	binsPerHz := float64(2*n) / rate
	total := 0.0
	for _, b := range bands {
		lo := int(math.Ceil(b.Low * binsPerHz))
		hi := int(math.Floor(b.High * binsPerHz))
		lo = max(lo, 0)
		hi = min(hi, n-1)
		sum := 0.0
		if lo <= hi {
			sum = f64.Sum(gated[lo : hi+1])
		}
		out[b.Name] = sum
		total += sum
	}

	for name, sum := range out {
		if total > 0 {
			out[name] = sum / total
		} else {
			out[name] = 0
		}
	}
	return out
}
