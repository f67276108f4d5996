package codegen

import (
	"time"

	"github.com/kanengo/lightrpc/runtime/metrics"
)

const (
	MethodCountsName       = "lightrpc_method_count"
	MethodErrorCountsName  = "lightrpc_method_error_count"
	MethodLatenciesName    = "lightrpc_method_latency_micros"
	MethodBytesRequestName = "lightrpc_method_bytes_request"
	MethodBytesReplyName   = "lightrpc_method_bytes_reply"
)

var (
	methodCounts = metrics.NewCounterMap[MethodLabels](
		MethodCountsName,
	)
	methodErrors = metrics.NewCounterMap[MethodLabels](
		MethodErrorCountsName,
	)
	methodLatencies = metrics.NewHistogramMap[MethodLabels](
		MethodLatenciesName,
		metrics.NonNegativeBuckets,
	)
	methodBytesRequest = metrics.NewHistogramMap[MethodLabels](
		MethodBytesRequestName,
		metrics.NonNegativeBuckets,
	)
	methodBytesReply = metrics.NewHistogramMap[MethodLabels](
		MethodBytesReplyName,
		metrics.NonNegativeBuckets,
	)
)

type MethodLabels struct {
	Interface string // full interface name
	Method    string
	Mode      string // sync, async or none
	Server    bool   // true on the serving side
}

type MethodMetrics struct {
	count        *metrics.Counter
	errCount     *metrics.Counter
	latency      *metrics.Histogram
	bytesRequest *metrics.Histogram
	bytesReply   *metrics.Histogram
}

func MethodMetricsFor(labels MethodLabels) *MethodMetrics {
	return &MethodMetrics{
		count:        methodCounts.Get(labels),
		errCount:     methodErrors.Get(labels),
		latency:      methodLatencies.Get(labels),
		bytesRequest: methodBytesRequest.Get(labels),
		bytesReply:   methodBytesReply.Get(labels),
	}
}

type MethodCallHandle struct {
	start time.Time
}

func (m *MethodMetrics) Begin() MethodCallHandle {
	return MethodCallHandle{time.Now()}
}

// End records one call. Async calls pass replyBytes 0; their latency covers
// the send only.
func (m *MethodMetrics) End(h MethodCallHandle, failed bool, requestBytes, replyBytes int) {
	latency := time.Since(h.start).Microseconds()
	m.count.Inc()
	if failed {
		m.errCount.Inc()
	}
	m.latency.Put(float64(latency))
	m.bytesRequest.Put(float64(requestBytes))
	m.bytesReply.Put(float64(replyBytes))
}
