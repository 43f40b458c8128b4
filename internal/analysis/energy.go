// SPDX-License-Identifier: MIT
package analysis

import (
	"math"

	"github.com/tphakala/simd/f64"
)

// RMS returns sqrt(mean(x^2)), 0 for an empty slice.
func RMS(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return math.Sqrt(f64.DotProduct(x, x) / float64(len(x)))
}

// NormalizeL2 scales x to unit Euclidean length in place. A zero vector is
// left as zeros.
func NormalizeL2(x []float64) {
	norm := math.Sqrt(f64.DotProduct(x, x))
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return
	}
	f64.Scale(x, x, 1/norm)
}

// Int16ToFloat converts samples to float64 on the int16 scale.
func Int16ToFloat(dst []float64, src []int16) []float64 {
	if cap(dst) < len(src) {
		dst = make([]float64, len(src))
	}
	dst = dst[:len(src)]
	for i, s := range src {
		dst[i] = float64(s)
	}
	return dst
}
