// Package metrics implements a small counter/gauge/histogram registry with
// Prometheus text-format exposition. It has no dependencies so it can be
// shared by every component that records or renders metrics.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Type is the exposition type of a metric.
type Type string

// Metric types.
const (
	TypeCounter   Type = "counter"
	TypeGauge     Type = "gauge"
	TypeHistogram Type = "histogram"
)

// Sample is one exposed value with its resolved labels.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// Metric is implemented by every metric kind in the registry.
type Metric interface {
	Name() string
	Help() string
	Type() Type
	Collect() []Sample
}

// labelsKey joins label values into a map key.
func labelsKey(values []string) string {
	return strings.Join(values, "\x00")
}

func labelMap(names, values []string) map[string]string {
	m := make(map[string]string, len(names))
	for i, n := range names {
		m[n] = values[i]
	}
	return m
}

// ============================================================
// Counter
// ============================================================

// Counter is a monotonically increasing metric, optionally labeled.
type Counter struct {
	name   string
	help   string
	labels []string

	mu     sync.Mutex
	values map[string]*labeledValue
}

type labeledValue struct {
	labels map[string]string
	value  float64
}

// Name returns the metric name.
func (c *Counter) Name() string { return c.name }

// Help returns the help text.
func (c *Counter) Help() string { return c.help }

// Type returns "counter".
func (c *Counter) Type() Type { return TypeCounter }

// Inc adds 1 for the given label values.
func (c *Counter) Inc(labelValues ...string) {
	c.Add(1, labelValues...)
}

// Add adds delta for the given label values. Negative deltas and label
// arity mismatches are ignored; a counter never goes backward.
func (c *Counter) Add(delta float64, labelValues ...string) {
	if delta < 0 || len(labelValues) != len(c.labels) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := labelsKey(labelValues)
	lv, ok := c.values[key]
	if !ok {
		lv = &labeledValue{labels: labelMap(c.labels, labelValues)}
		c.values[key] = lv
	}
	lv.value += delta
}

// Value returns the current value for the given label values.
func (c *Counter) Value(labelValues ...string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lv, ok := c.values[labelsKey(labelValues)]; ok {
		return lv.value
	}
	return 0
}

// Collect returns all samples.
func (c *Counter) Collect() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	samples := make([]Sample, 0, len(c.values))
	for _, lv := range c.values {
		samples = append(samples, Sample{Name: c.name, Labels: lv.labels, Value: lv.value})
	}
	return samples
}

// ============================================================
// Gauge
// ============================================================

// Gauge is a metric that can move in both directions.
type Gauge struct {
	name   string
	help   string
	labels []string

	mu     sync.Mutex
	values map[string]*labeledValue
}

// Name returns the metric name.
func (g *Gauge) Name() string { return g.name }

// Help returns the help text.
func (g *Gauge) Help() string { return g.help }

// Type returns "gauge".
func (g *Gauge) Type() Type { return TypeGauge }

// Set stores value for the given label values.
func (g *Gauge) Set(value float64, labelValues ...string) {
	if len(labelValues) != len(g.labels) {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	key := labelsKey(labelValues)
	lv, ok := g.values[key]
	if !ok {
		lv = &labeledValue{labels: labelMap(g.labels, labelValues)}
		g.values[key] = lv
	}
	lv.value = value
}

// Add adjusts the gauge by delta for the given label values.
func (g *Gauge) Add(delta float64, labelValues ...string) {
	g.Set(g.Value(labelValues...)+delta, labelValues...)
}

// Inc adds 1.
func (g *Gauge) Inc(labelValues ...string) { g.Add(1, labelValues...) }

// Dec subtracts 1.
func (g *Gauge) Dec(labelValues ...string) { g.Add(-1, labelValues...) }

// Value returns the current value for the given label values.
func (g *Gauge) Value(labelValues ...string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if lv, ok := g.values[labelsKey(labelValues)]; ok {
		return lv.value
	}
	return 0
}

// Collect returns all samples.
func (g *Gauge) Collect() []Sample {
	g.mu.Lock()
	defer g.mu.Unlock()
	samples := make([]Sample, 0, len(g.values))
	for _, lv := range g.values {
		samples = append(samples, Sample{Name: g.name, Labels: lv.labels, Value: lv.value})
	}
	return samples
}

// ============================================================
// Histogram
// ============================================================

// Histogram tracks a distribution of observed values in cumulative buckets.
type Histogram struct {
	name   string
	help   string
	labels []string
	bounds []float64

	mu     sync.Mutex
	series map[string]*histogramSeries
}

type histogramSeries struct {
	labels map[string]string
	counts []uint64
	sum    float64
	count  uint64
}

// Name returns the metric name.
func (h *Histogram) Name() string { return h.name }

// Help returns the help text.
func (h *Histogram) Help() string { return h.help }

// Type returns "histogram".
func (h *Histogram) Type() Type { return TypeHistogram }

// Observe records value for the given label values.
func (h *Histogram) Observe(value float64, labelValues ...string) {
	if len(labelValues) != len(h.labels) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	key := labelsKey(labelValues)
	s, ok := h.series[key]
	if !ok {
		s = &histogramSeries{
			labels: labelMap(h.labels, labelValues),
			counts: make([]uint64, len(h.bounds)),
		}
		h.series[key] = s
	}
	for i, bound := range h.bounds {
		if value <= bound {
			s.counts[i]++
			break
		}
	}
	s.sum += value
	s.count++
}

// Collect returns bucket, sum and count samples for every series.
func (h *Histogram) Collect() []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()

	samples := make([]Sample, 0, (len(h.bounds)+2)*len(h.series))
	for _, s := range h.series {
		var cumulative uint64
		for i, bound := range h.bounds {
			cumulative += s.counts[i]
			labels := make(map[string]string, len(s.labels)+1)
			for k, v := range s.labels {
				labels[k] = v
			}
			if math.IsInf(bound, 1) {
				labels["le"] = "+Inf"
			} else {
				labels["le"] = formatFloat(bound)
			}
			samples = append(samples, Sample{Name: h.name + "_bucket", Labels: labels, Value: float64(cumulative)})
		}
		samples = append(samples, Sample{Name: h.name + "_sum", Labels: s.labels, Value: s.sum})
		samples = append(samples, Sample{Name: h.name + "_count", Labels: s.labels, Value: float64(s.count)})
	}
	return samples
}

// DefaultBuckets covers request/tool latencies from 1ms to 10s, in seconds.
var DefaultBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// ============================================================
// Registry
// ============================================================

// Registry holds all registered metrics for one process.
type Registry struct {
	mu      sync.RWMutex
	metrics []Metric
	names   map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// NewCounter creates and registers a counter.
// It panics on duplicate names, which would corrupt the exposition.
func (r *Registry) NewCounter(name, help string, labels ...string) *Counter {
	c := &Counter{name: name, help: help, labels: labels, values: make(map[string]*labeledValue)}
	r.register(c)
	return c
}

// NewGauge creates and registers a gauge.
func (r *Registry) NewGauge(name, help string, labels ...string) *Gauge {
	g := &Gauge{name: name, help: help, labels: labels, values: make(map[string]*labeledValue)}
	r.register(g)
	return g
}

// NewHistogram creates and registers a histogram with the given bucket
// upper bounds. A trailing +Inf bucket is appended if missing.
func (r *Registry) NewHistogram(name, help string, buckets []float64, labels ...string) *Histogram {
	bounds := make([]float64, len(buckets))
	copy(bounds, buckets)
	sort.Float64s(bounds)
	if len(bounds) == 0 || !math.IsInf(bounds[len(bounds)-1], 1) {
		bounds = append(bounds, math.Inf(1))
	}
	h := &Histogram{name: name, help: help, labels: labels, bounds: bounds, series: make(map[string]*histogramSeries)}
	r.register(h)
	return h
}

func (r *Registry) register(m Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.names[m.Name()]; dup {
		panic(fmt.Sprintf("metrics: duplicate metric name %s", m.Name()))
	}
	r.names[m.Name()] = struct{}{}
	r.metrics = append(r.metrics, m)
}

// Render writes the full registry in Prometheus text format.
func (r *Registry) Render(w func(format string, args ...any)) {
	r.mu.RLock()
	metrics := make([]Metric, len(r.metrics))
	copy(metrics, r.metrics)
	r.mu.RUnlock()

	for _, m := range metrics {
		samples := m.Collect()
		if len(samples) == 0 {
			continue
		}
		w("# HELP %s %s\n", m.Name(), escapeHelp(m.Help()))
		w("# TYPE %s %s\n", m.Name(), m.Type())
		for _, s := range samples {
			if len(s.Labels) == 0 {
				w("%s %s\n", s.Name, formatFloat(s.Value))
			} else {
				w("%s{%s} %s\n", s.Name, formatLabels(s.Labels), formatFloat(s.Value))
			}
		}
	}
}

// Handler serves the registry in Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.Render(func(format string, args ...any) {
			_, _ = fmt.Fprintf(w, format, args...)
		})
	})
}

// formatLabels renders labels as key="value" pairs in sorted key order.
func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf(`%s="%s"`, k, escapeLabelValue(labels[k]))
	}
	return strings.Join(parts, ",")
}

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	s := fmt.Sprintf("%g", v)
	if v == float64(int64(v)) && !strings.ContainsAny(s, ".e") {
		return fmt.Sprintf("%.0f", v)
	}
	return s
}

func escapeHelp(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	return strings.ReplaceAll(s, "\n", "\\n")
}

func escapeLabelValue(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return strings.ReplaceAll(s, "\n", "\\n")
}
