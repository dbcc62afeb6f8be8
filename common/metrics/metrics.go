package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric exported by the platform.
const Namespace = "loom"

// LatencyBuckets cover node and connector durations from 1ms to 10s.
var LatencyBuckets = []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000}

// Counter is a monotonically increasing counter
type Counter struct {
	c prometheus.Counter
}

// Inc increments the counter by one
func (c *Counter) Inc() { c.c.Inc() }

// Add increments the counter by delta
func (c *Counter) Add(delta float64) { c.c.Add(delta) }

// Gauge is a value that can go up and down
type Gauge struct {
	g prometheus.Gauge
}

// Set sets the gauge
func (g *Gauge) Set(v float64) { g.g.Set(v) }

// Inc increments the gauge by one
func (g *Gauge) Inc() { g.g.Inc() }

// Dec decrements the gauge by one
func (g *Gauge) Dec() { g.g.Dec() }

// Add adds delta to the gauge
func (g *Gauge) Add(delta float64) { g.g.Add(delta) }

// Histogram observes value distributions over fixed buckets
type Histogram struct {
	h prometheus.Histogram
}

// Observe records a single observation
func (h *Histogram) Observe(v float64) { h.h.Observe(v) }

// ObserveDuration records the elapsed time since start in milliseconds
func (h *Histogram) ObserveDuration(start time.Time) {
	h.h.Observe(float64(time.Since(start).Milliseconds()))
}

// Registry deduplicates metrics by (name, sorted labels) and exposes
// the Prometheus text exposition format.
type Registry struct {
	reg        *prometheus.Registry
	mu         sync.Mutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry creates an empty metrics registry
func NewRegistry() *Registry {
	return &Registry{
		reg:        prometheus.NewRegistry(),
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// Counter returns the counter registered under name and labels,
// creating it on first use.
func (r *Registry) Counter(name, help string, labels map[string]string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	if c, ok := r.counters[key]; ok {
		return c
	}

	pc := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   Namespace,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	})
	r.reg.MustRegister(pc)

	c := &Counter{c: pc}
	r.counters[key] = c
	return c
}

// Gauge returns the gauge registered under name and labels
func (r *Registry) Gauge(name, help string, labels map[string]string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	if g, ok := r.gauges[key]; ok {
		return g
	}

	pg := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   Namespace,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	})
	r.reg.MustRegister(pg)

	g := &Gauge{g: pg}
	r.gauges[key] = g
	return g
}

// Histogram returns the histogram registered under name and labels.
// Buckets default to LatencyBuckets when nil.
func (r *Registry) Histogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	if h, ok := r.histograms[key]; ok {
		return h
	}

	if buckets == nil {
		buckets = LatencyBuckets
	}

	ph := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   Namespace,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
		Buckets:     buckets,
	})
	r.reg.MustRegister(ph)

	h := &Histogram{h: ph}
	r.histograms[key] = h
	return h
}

// Handler returns the text exposition endpoint (Prometheus v0.0.4 format)
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gather exposes the underlying gatherer for tests
func (r *Registry) Gather() prometheus.Gatherer {
	return r.reg
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, labels[k])
	}
	return b.String()
}
