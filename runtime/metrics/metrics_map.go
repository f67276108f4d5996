package metrics

import (
	"fmt"
	"math"
	"sync"
)

var (
	metricNamesMu sync.Mutex
	metricNames   = map[string]bool{}
)

// MetricMap is a family of metrics sharing a name and a label struct type L;
// each distinct label value gets its own Metric.
type MetricMap[L comparable] struct {
	config         config
	mu             sync.Mutex
	metrics        map[L]*Metric
	labelExtractor *labelExtractor[L]
}

func Register(typ MetricType, name string, bounds []float64) *Metric {
	m := RegisterMap[struct{}](typ, name, bounds)
	return m.Get(struct{}{})
}

// RegisterMap panics on an invalid label type, an empty or repeated name, or
// malformed bounds. Metrics are declared at package level, so these are
// programming errors.
func RegisterMap[L comparable](typ MetricType, name string, bounds []float64) *MetricMap[L] {
	if err := typeCheckLabels[L](); err != nil {
		panic(err)
	}

	if name == "" {
		panic(fmt.Errorf("empty metric name"))
	}

	if typ == MetricTypeInvalid {
		panic(fmt.Errorf("metric %q: invalid metric type %v", name, typ))
	}

	for i, x := range bounds {
		if math.IsNaN(x) || (i > 0 && x <= bounds[i-1]) {
			panic(fmt.Errorf("metric %q: non-ascending histogram bounds %v", name, bounds))
		}
	}

	metricNamesMu.Lock()
	defer metricNamesMu.Unlock()
	if metricNames[name] {
		panic(fmt.Errorf("metric %q already exists", name))
	}
	metricNames[name] = true

	return &MetricMap[L]{
		config: config{
			Typ:    typ,
			Name:   name,
			Bounds: bounds,
		},
		metrics:        make(map[L]*Metric),
		labelExtractor: newLabelExtractor[L](),
	}
}

func (mm *MetricMap[L]) Name() string {
	return mm.config.Name
}

// Get returns the metric for labels, creating it on first use.
func (mm *MetricMap[L]) Get(labels L) *Metric {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if metric, ok := mm.metrics[labels]; ok {
		return metric
	}

	config := mm.config
	config.Labels = func() map[string]string {
		return mm.labelExtractor.Extract(labels)
	}
	metric := newMetric(config)
	mm.metrics[labels] = metric

	return metric
}
