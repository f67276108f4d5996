package call

import (
	"log/slog"
	"sync"

	"github.com/kanengo/lightrpc/runtime/callback"
	"github.com/kanengo/lightrpc/runtime/logging"
	"github.com/kanengo/lightrpc/runtime/metrics"
)

var (
	pendingCalls = metrics.NewGaugeMap[correlatorLabels](
		"lightrpc_pending_calls",
	)
	droppedResponses = metrics.NewCounterMap[correlatorLabels](
		"lightrpc_dropped_responses",
	)
)

type correlatorLabels struct {
	Remote string // remote address
}

// Correlator matches responses to the callbacks of pending calls.
type Correlator struct {
	logger  *slog.Logger
	pending sync.Map // uint64 -> callback.Callback

	pendingGauge *metrics.Gauge
	dropped      *metrics.Counter
}

func NewCorrelator(remote string, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = logging.StderrLogger(logging.Options{Component: "correlator"})
	}
	labels := correlatorLabels{Remote: remote}
	return &Correlator{
		logger:       logger,
		pendingGauge: pendingCalls.Get(labels),
		dropped:      droppedResponses.Get(labels),
	}
}

// Track registers cb as the receiver of the response with the given id.
func (c *Correlator) Track(id uint64, cb callback.Callback) error {
	if _, loaded := c.pending.LoadOrStore(id, cb); loaded {
		return ErrDuplicateCall
	}
	c.pendingGauge.Add(1)
	return nil
}

// Resolve removes the pending call for resp.ID and hands it the response. It
// reports false, and drops resp, when no call is pending under that id.
func (c *Correlator) Resolve(resp *Response) bool {
	v, ok := c.pending.LoadAndDelete(resp.ID)
	if !ok {
		c.dropped.Inc()
		c.logger.Debug("dropping response for unknown call", "id", resp.ID)
		return false
	}
	c.pendingGauge.Sub(1)

	v.(callback.Callback).OnReceive(resp.Payload, resp.Err)
	return true
}

// Evict removes the pending call with the given id without notifying it.
func (c *Correlator) Evict(id uint64) (callback.Callback, bool) {
	v, ok := c.pending.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	c.pendingGauge.Sub(1)
	return v.(callback.Callback), true
}

// FailAll removes every pending call and delivers err to each of them.
func (c *Correlator) FailAll(err error) {
	c.pending.Range(func(key, _ any) bool {
		if v, ok := c.pending.LoadAndDelete(key); ok {
			c.pendingGauge.Sub(1)
			v.(callback.Callback).OnReceive(nil, err)
		}
		return true
	})
}

// Len returns the number of pending calls.
func (c *Correlator) Len() int {
	n := 0
	c.pending.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
