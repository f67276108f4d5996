package call

import (
	"time"

	"github.com/kanengo/lightrpc/runtime/urandom"
)

// NewCallID returns a correlation id: the current time in nanoseconds plus 64
// random bits, wrapping on overflow. It is never 0.
func NewCallID() uint64 {
	for {
		if id := uint64(time.Now().UnixNano()) + urandom.Uint64(); id != 0 {
			return id
		}
	}
}
