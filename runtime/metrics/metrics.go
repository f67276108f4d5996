// Package metrics holds process-wide counters, gauges and histograms. Metrics
// are registered once by name; labelled variants are obtained from a map type
// keyed by a comparable label struct.
package metrics

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/exp/maps"

	"github.com/kanengo/lightrpc/internal/unsafex"
)

type MetricType int32

const (
	MetricTypeInvalid MetricType = iota
	MetricTypeCounter
	MetricTypeGauge
	MetricTypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case MetricTypeCounter:
		return "counter"
	case MetricTypeGauge:
		return "gauge"
	case MetricTypeHistogram:
		return "histogram"
	default:
		return fmt.Sprintf("invalid(%d)", int32(t))
	}
}

// NonNegativeBuckets are histogram bounds for values such as latencies and
// byte counts: 1, 2, 5, 10, 20, 50, ... up to 5e9.
var NonNegativeBuckets = func() []float64 {
	var bounds []float64
	for scale := 1.0; scale < 1e10; scale *= 10 {
		bounds = append(bounds, scale, 2*scale, 5*scale)
	}
	return bounds
}()

var (
	metricMu sync.RWMutex
	metrics  []*Metric
)

type Metric struct {
	typ  MetricType
	name string

	labelsThunk func() map[string]string // labels computed lazily on first export

	once   sync.Once
	id     uint64
	labels map[string]string
	fValue float64Value  // counter/gauge value, histogram sum
	iValue atomic.Uint64 // integer increments of a counter

	// Histograms only.
	putCount atomic.Uint64
	bounds   []float64
	counts   []atomic.Uint64
}

type MetricSnapshot struct {
	Id     uint64
	Name   string
	Typ    MetricType
	Labels map[string]string

	Value  float64
	Bounds []float64
	Counts []uint64
}

func (m *MetricSnapshot) Clone() *MetricSnapshot {
	c := *m

	c.Labels = maps.Clone(m.Labels)
	c.Bounds = slices.Clone(m.Bounds)
	c.Counts = slices.Clone(m.Counts)

	return &c
}

func (m *Metric) Name() string {
	return m.name
}

func (m *Metric) Inc() {
	m.iValue.Add(1)
}

func (m *Metric) Add(delta float64) {
	m.fValue.Add(delta)
}

func (m *Metric) Sub(delta float64) {
	m.fValue.Add(-delta)
}

func (m *Metric) Set(val float64) {
	m.fValue.Store(val)
	m.iValue.Store(0)
}

func (m *Metric) Put(val float64) {
	var idx int
	if len(m.bounds) > 0 && val >= m.bounds[0] {
		idx = sort.SearchFloat64s(m.bounds, val)
		if idx < len(m.bounds) && val == m.bounds[idx] {
			idx++
		}
	}
	m.counts[idx].Add(1)

	if val != 0 {
		m.fValue.Add(val)
	}
	m.putCount.Add(1)
}

// Value returns the current value of a counter or gauge, or the sum of a
// histogram.
func (m *Metric) Value() float64 {
	return m.fValue.Load() + float64(m.iValue.Load())
}

type config struct {
	Typ    MetricType
	Name   string
	Labels func() map[string]string
	Bounds []float64
}

func newMetric(config config) *Metric {
	metricMu.Lock()
	defer metricMu.Unlock()

	metric := &Metric{
		typ:         config.Typ,
		name:        config.Name,
		labelsThunk: config.Labels,
		bounds:      config.Bounds,
	}

	if config.Typ == MetricTypeHistogram {
		metric.counts = make([]atomic.Uint64, len(config.Bounds)+1)
	}

	metrics = append(metrics, metric)

	return metric
}

func (m *Metric) initIdAndLabels() {
	m.once.Do(func() {
		if m.labelsThunk != nil {
			if labels := m.labelsThunk(); len(labels) > 0 {
				m.labels = labels
			}
		}

		// 8 nanoid characters packed into a 64-bit id.
		id := gonanoid.Must(8)
		m.id = binary.LittleEndian.Uint64(unsafex.StringToBytes(id))
	})
}

func (m *Metric) Snapshot() *MetricSnapshot {
	m.initIdAndLabels()

	var counts []uint64
	if n := len(m.counts); n > 0 {
		counts = make([]uint64, n)
		for i := range m.counts {
			counts[i] = m.counts[i].Load()
		}
	}

	return &MetricSnapshot{
		Id:     m.id,
		Typ:    m.typ,
		Name:   m.name,
		Labels: maps.Clone(m.labels),
		Value:  m.Value(),
		Bounds: slices.Clone(m.bounds),
		Counts: counts,
	}
}

// Snapshot returns the current state of every registered metric.
func Snapshot() []*MetricSnapshot {
	metricMu.RLock()
	defer metricMu.RUnlock()

	snapshots := make([]*MetricSnapshot, 0, len(metrics))
	for _, metric := range metrics {
		snapshots = append(snapshots, metric.Snapshot())
	}

	return snapshots
}
