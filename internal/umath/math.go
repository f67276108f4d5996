package umath

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= x. It returns 1 for
// x <= 1.
func NextPowerOfTwo(x int) int {
	if x <= 1 {
		return 1
	}

	return 1 << bits.Len(uint(x-1))
}
