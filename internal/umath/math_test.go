package umath

import "testing"

func TestNextPowerOfTwo(t *testing.T) {
	for _, test := range []struct{ x, want int }{
		{-3, 1}, {0, 1}, {1, 1},
		{2, 2},
		{3, 4}, {4, 4},
		{5, 8}, {8, 8},
		{9, 16}, {16, 16},
		{1000, 1024}, {1 << 20, 1 << 20}, {1<<20 + 1, 1 << 21},
	} {
		if got := NextPowerOfTwo(test.x); got != test.want {
			t.Errorf("NextPowerOfTwo(%d): got %d, want %d", test.x, got, test.want)
		}
	}
}
