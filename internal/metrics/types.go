// Package metrics provides Prometheus-compatible metrics for identifier
// issuance. Batch runs write them in the text exposition format for the
// node_exporter textfile collector.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Counter represents a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	value  int64
	labels map[string]string
}

// NewCounter creates a new counter.
func NewCounter(name, help string, labels map[string]string) *Counter {
	if labels == nil {
		labels = make(map[string]string)
	}
	return &Counter{
		name:   name,
		help:   help,
		labels: labels,
	}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddInt64(&c.value, 1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(delta int64) {
	if delta < 0 {
		return // Counters can't decrease
	}
	atomic.AddInt64(&c.value, delta)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Name returns the metric name.
func (c *Counter) Name() string { return c.name }

// Help returns the metric help text.
func (c *Counter) Help() string { return c.help }

// Labels returns a copy of the metric labels.
func (c *Counter) Labels() map[string]string {
	result := make(map[string]string, len(c.labels))
	for k, v := range c.labels {
		result[k] = v
	}
	return result
}

// Gauge represents a gauge metric that can go up and down.
type Gauge struct {
	name string
	help string
	bits uint64
}

// NewGauge creates a new gauge.
func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(value float64) {
	atomic.StoreUint64(&g.bits, math.Float64bits(value))
}

// Value returns the current gauge value.
func (g *Gauge) Value() float64 {
	return math.Float64frombits(atomic.LoadUint64(&g.bits))
}

// Name returns the metric name.
func (g *Gauge) Name() string { return g.name }

// Help returns the metric help text.
func (g *Gauge) Help() string { return g.help }

// Histogram represents a histogram with cumulative buckets.
type Histogram struct {
	name    string
	help    string
	buckets []float64
	counts  []int64 // cumulative; last is +Inf
	sum     float64
	count   int64
	mu      sync.RWMutex
}

// NewHistogram creates a new histogram with the given buckets.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	if len(buckets) == 0 {
		buckets = DefaultLatencyBuckets
	}
	b := make([]float64, len(buckets))
	copy(b, buckets)
	sort.Float64s(b)

	return &Histogram{
		name:    name,
		help:    help,
		buckets: b,
		counts:  make([]int64, len(b)+1),
	}
}

// DefaultLatencyBuckets are upper bounds in milliseconds.
var DefaultLatencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 1000}

// Observe adds a single observation.
func (h *Histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += value
	h.count++

	idx := sort.SearchFloat64s(h.buckets, value)
	for i := idx; i < len(h.counts); i++ {
		h.counts[i]++
	}
}

// Count returns the total count of observations.
func (h *Histogram) Count() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Sum returns the sum of all observed values.
func (h *Histogram) Sum() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sum
}

// Buckets returns the bucket upper bounds.
func (h *Histogram) Buckets() []float64 {
	result := make([]float64, len(h.buckets))
	copy(result, h.buckets)
	return result
}

// BucketCounts returns the cumulative count for each bucket, +Inf last.
func (h *Histogram) BucketCounts() []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]int64, len(h.counts))
	copy(result, h.counts)
	return result
}

// Name returns the metric name.
func (h *Histogram) Name() string { return h.name }

// Help returns the metric help text.
func (h *Histogram) Help() string { return h.help }

// CounterVec represents a counter with labels.
type CounterVec struct {
	name       string
	help       string
	labelNames []string
	counters   map[string]*Counter
	mu         sync.RWMutex
}

// NewCounterVec creates a new counter vector.
func NewCounterVec(name, help string, labelNames []string) *CounterVec {
	return &CounterVec{
		name:       name,
		help:       help,
		labelNames: labelNames,
		counters:   make(map[string]*Counter),
	}
}

// WithLabels returns the counter for the given label values.
func (cv *CounterVec) WithLabels(labelValues ...string) *Counter {
	if len(labelValues) != len(cv.labelNames) {
		panic(fmt.Sprintf("expected %d label values, got %d", len(cv.labelNames), len(labelValues)))
	}

	key := strings.Join(labelValues, "\xff")

	cv.mu.RLock()
	counter, exists := cv.counters[key]
	cv.mu.RUnlock()
	if exists {
		return counter
	}

	cv.mu.Lock()
	defer cv.mu.Unlock()

	// Double-check after acquiring write lock
	if counter, exists := cv.counters[key]; exists {
		return counter
	}

	labels := make(map[string]string, len(cv.labelNames))
	for i, name := range cv.labelNames {
		labels[name] = labelValues[i]
	}
	counter = NewCounter(cv.name, cv.help, labels)
	cv.counters[key] = counter
	return counter
}

// GetAll returns all counters sorted by label values.
func (cv *CounterVec) GetAll() []*Counter {
	cv.mu.RLock()
	defer cv.mu.RUnlock()

	keys := make([]string, 0, len(cv.counters))
	for k := range cv.counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]*Counter, 0, len(keys))
	for _, k := range keys {
		result = append(result, cv.counters[k])
	}
	return result
}

// Name returns the metric name.
func (cv *CounterVec) Name() string { return cv.name }

// Help returns the metric help text.
func (cv *CounterVec) Help() string { return cv.help }
