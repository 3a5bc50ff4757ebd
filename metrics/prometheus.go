package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusProvider is a Provider backed by real prometheus.CounterVec /
// GaugeVec / HistogramVec instruments registered against a private
// registry, so multiple conduit pipelines in the same process do not
// collide on metric names the way they would against the global default
// registry. Grounded on
// _examples/cuemby-warren/pkg/metrics/metrics.go, which declares one
// package-level prometheus.*Vec per concern; this adapts that to the
// Provider interface's create-once-by-name shape instead of fixed
// package-level variables, since conduit's metric set (buffer depth,
// discard-timer fires, tick intervals, channel depths) is defined by
// callers rather than fixed in advance.
//
// Instruments are memoized by name (and, for a name carrying attributes, by
// the underlying *Vec): conduit's buffer/loop/runner instrumentation calls
// Provider.Counter/UpDownCounter/Histogram once per instance with a shared
// metric name (e.g. every Buffer registers "conduit_buffer_queue_depth"
// with its own "buffer" label), and prometheus.Registry.MustRegister panics
// on a second registration of the same descriptor — so a Provider that
// registered a fresh Vec on every call would panic the moment a second
// Buffer was created.
type PrometheusProvider struct {
	registry *prometheus.Registry

	mu          sync.Mutex
	counters    map[string]prometheus.Counter
	counterVecs map[string]*prometheus.CounterVec
	gauges      map[string]prometheus.Gauge
	gaugeVecs   map[string]*prometheus.GaugeVec
	hists       map[string]prometheus.Observer
	histVecs    map[string]*prometheus.HistogramVec
}

// NewPrometheusProvider constructs a Provider whose instruments are
// registered against registry. Pass prometheus.NewRegistry() for an
// isolated registry (the common case for a library), or
// prometheus.DefaultRegisterer wrapped as a *prometheus.Registry-compatible
// value if the host application wants conduit's metrics exposed alongside
// its own on one /metrics endpoint.
func NewPrometheusProvider(registry *prometheus.Registry) *PrometheusProvider {
	return &PrometheusProvider{
		registry:    registry,
		counters:    make(map[string]prometheus.Counter),
		counterVecs: make(map[string]*prometheus.CounterVec),
		gauges:      make(map[string]prometheus.Gauge),
		gaugeVecs:   make(map[string]*prometheus.GaugeVec),
		hists:       make(map[string]prometheus.Observer),
		histVecs:    make(map[string]*prometheus.HistogramVec),
	}
}

// Registry returns the underlying registry, e.g. to wire into
// promhttp.HandlerFor for a /metrics endpoint.
func (p *PrometheusProvider) Registry() *prometheus.Registry { return p.registry }

func attrLabels(attrs map[string]string) ([]string, prometheus.Labels) {
	if len(attrs) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(attrs))
	for k := range attrs {
		names = append(names, k)
	}
	return names, prometheus.Labels(attrs)
}

// Counter returns a monotonic counter instrument backed by a
// prometheus.CounterVec (or a plain Counter when no attributes are
// configured), registering it with the provider's registry on first use and
// reusing it on subsequent calls with the same name.
func (p *PrometheusProvider) Counter(name string, opts ...InstrumentOption) Counter {
	cfg := applyOptions(opts)
	names, labels := attrLabels(cfg.Attributes)

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(names) == 0 {
		if c, ok := p.counters[name]; ok {
			return prometheusCounter{c}
		}
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: cfg.Description})
		p.registry.MustRegister(c)
		p.counters[name] = c
		return prometheusCounter{c}
	}
	cv, ok := p.counterVecs[name]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: cfg.Description}, names)
		p.registry.MustRegister(cv)
		p.counterVecs[name] = cv
	}
	return prometheusCounter{cv.With(labels)}
}

// UpDownCounter returns an up/down counter instrument backed by a
// prometheus.GaugeVec (gauges are Prometheus's analogue of a value that
// can move in either direction), memoized the same way Counter is.
func (p *PrometheusProvider) UpDownCounter(name string, opts ...InstrumentOption) UpDownCounter {
	cfg := applyOptions(opts)
	names, labels := attrLabels(cfg.Attributes)

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(names) == 0 {
		if g, ok := p.gauges[name]; ok {
			return prometheusUpDownCounter{g}
		}
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: cfg.Description})
		p.registry.MustRegister(g)
		p.gauges[name] = g
		return prometheusUpDownCounter{g}
	}
	gv, ok := p.gaugeVecs[name]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: cfg.Description}, names)
		p.registry.MustRegister(gv)
		p.gaugeVecs[name] = gv
	}
	return prometheusUpDownCounter{gv.With(labels)}
}

// Histogram returns a histogram instrument backed by a
// prometheus.HistogramVec using the library's default bucket boundaries,
// matching cuemby-warren's prometheus.DefBuckets usage throughout
// metrics.go (e.g. APIRequestDuration, SchedulingLatency), memoized the same
// way Counter and UpDownCounter are.
func (p *PrometheusProvider) Histogram(name string, opts ...InstrumentOption) Histogram {
	cfg := applyOptions(opts)
	names, labels := attrLabels(cfg.Attributes)

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(names) == 0 {
		if h, ok := p.hists[name]; ok {
			return prometheusHistogram{h}
		}
		h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: cfg.Description, Buckets: prometheus.DefBuckets})
		p.registry.MustRegister(h)
		p.hists[name] = h
		return prometheusHistogram{h}
	}
	hv, ok := p.histVecs[name]
	if !ok {
		hv = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: cfg.Description, Buckets: prometheus.DefBuckets}, names)
		p.registry.MustRegister(hv)
		p.histVecs[name] = hv
	}
	return prometheusHistogram{hv.With(labels)}
}

type prometheusCounter struct{ c prometheus.Counter }

func (c prometheusCounter) Add(n int64) { c.c.Add(float64(n)) }

type prometheusUpDownCounter struct{ g prometheus.Gauge }

func (u prometheusUpDownCounter) Add(n int64) { u.g.Add(float64(n)) }

type prometheusHistogram struct{ h prometheus.Observer }

func (h prometheusHistogram) Record(v float64) { h.h.Observe(v) }
