package pool

import (
	"fmt"
	"math/bits"
	"sync"
)

// maxPooledShift bounds pooled buffers to 64MiB; larger requests are
// allocated directly and dropped on Put.
const maxPooledShift = 26

var powerOfTwoPools [maxPooledShift + 1]sync.Pool

func init() {
	for shift := range powerOfTwoPools {
		size := 1 << shift
		powerOfTwoPools[shift].New = func() any {
			s := make([]byte, 0, size)
			return &s
		}
	}
}

// shiftFor returns the smallest shift with 1<<shift >= size.
func shiftFor(size int) int {
	if size <= 1 {
		return 0
	}

	return bits.Len(uint(size - 1))
}

// GetBytes returns an empty slice whose capacity is the power of two closest
// to (and not below) size.
func GetBytes(size int) []byte {
	if size < 0 {
		panic(fmt.Errorf("pool: negative size %d", size))
	}
	shift := shiftFor(size)
	if shift > maxPooledShift {
		return make([]byte, 0, size)
	}

	bs := powerOfTwoPools[shift].Get().(*[]byte)
	return (*bs)[:0]
}

// PutBytes returns b to its pool. Slices not obtained from GetBytes are
// accepted only when their capacity is a pooled power of two.
func PutBytes(b []byte) error {
	c := cap(b)
	if c == 0 || c > 1<<maxPooledShift {
		return nil
	}
	if c&(c-1) != 0 {
		return fmt.Errorf("pool: capacity %d is not a power of two", c)
	}
	b = b[:0]
	powerOfTwoPools[shiftFor(c)].Put(&b)
	return nil
}
