// SPDX-License-Identifier: MIT

/*
Package bitint provides the power-of-two helpers used for FFT sizing.

Usage:

	// Size a zero-padded buffer for a linear convolution
	n := bitint.NextPowerOfTwo(2*len(x) - 1)

	// Warn when a configured block forces a mixed-radix FFT
	if !bitint.IsPowerOfTwo(blockSize) { ... }

NextPowerOfTwo subtracts one before taking the bit length so that exact
powers are preserved: for 8, bits.Len(7) = 3 and 1<<3 = 8, whereas
bits.Len(8) = 4 would double it.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size.
// Non-positive sizes yield 1.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
func NextPowerOfTwo(size int) int {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two.
// A power of two has exactly one bit set, so n&(n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// Log2 returns floor(log2(n)) for n > 0 and -1 otherwise.
func Log2(n int) int {
	if n <= 0 {
		return -1
	}
	return bits.Len(uint(n)) - 1
}
