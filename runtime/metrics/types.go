package metrics

type Counter struct {
	impl *Metric
}

func NewCounter(name string) *Counter {
	return &Counter{impl: Register(MetricTypeCounter, name, nil)}
}

func (c *Counter) Name() string   { return c.impl.Name() }
func (c *Counter) Inc()           { c.impl.Inc() }
func (c *Counter) Add(d float64)  { c.impl.Add(d) }
func (c *Counter) Value() float64 { return c.impl.Value() }

type CounterMap[L comparable] struct {
	impl *MetricMap[L]
}

func NewCounterMap[L comparable](name string) *CounterMap[L] {
	return &CounterMap[L]{impl: RegisterMap[L](MetricTypeCounter, name, nil)}
}

func (cm *CounterMap[L]) Name() string          { return cm.impl.Name() }
func (cm *CounterMap[L]) Get(labels L) *Counter { return &Counter{cm.impl.Get(labels)} }

type Gauge struct {
	impl *Metric
}

func NewGauge(name string) *Gauge {
	return &Gauge{impl: Register(MetricTypeGauge, name, nil)}
}

func (g *Gauge) Name() string   { return g.impl.Name() }
func (g *Gauge) Set(v float64)  { g.impl.Set(v) }
func (g *Gauge) Add(d float64)  { g.impl.Add(d) }
func (g *Gauge) Sub(d float64)  { g.impl.Sub(d) }
func (g *Gauge) Value() float64 { return g.impl.Value() }

type GaugeMap[L comparable] struct {
	impl *MetricMap[L]
}

func NewGaugeMap[L comparable](name string) *GaugeMap[L] {
	return &GaugeMap[L]{impl: RegisterMap[L](MetricTypeGauge, name, nil)}
}

func (gm *GaugeMap[L]) Name() string        { return gm.impl.Name() }
func (gm *GaugeMap[L]) Get(labels L) *Gauge { return &Gauge{gm.impl.Get(labels)} }

type Histogram struct {
	impl *Metric
}

func NewHistogram(name string, bounds []float64) *Histogram {
	return &Histogram{impl: Register(MetricTypeHistogram, name, bounds)}
}

func (h *Histogram) Name() string  { return h.impl.Name() }
func (h *Histogram) Put(v float64) { h.impl.Put(v) }

type HistogramMap[L comparable] struct {
	impl *MetricMap[L]
}

func NewHistogramMap[L comparable](name string, bounds []float64) *HistogramMap[L] {
	return &HistogramMap[L]{impl: RegisterMap[L](MetricTypeHistogram, name, bounds)}
}

func (hm *HistogramMap[L]) Name() string            { return hm.impl.Name() }
func (hm *HistogramMap[L]) Get(labels L) *Histogram { return &Histogram{hm.impl.Get(labels)} }
