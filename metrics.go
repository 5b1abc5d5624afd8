package secmon

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MetricsCollector is the observability hook for the detector and manager.
type MetricsCollector interface {
	IncrementCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	ExportPrometheus() string
}

// noopMetrics is used when no collector is attached.
type noopMetrics struct{}

func (noopMetrics) IncrementCounter(string, map[string]string)          {}
func (noopMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)         {}
func (noopMetrics) ExportPrometheus() string                            { return "" }

// InMemoryMetricsCollector keeps counters, gauges and histograms in process
// memory and renders them in Prometheus text format on demand.
type InMemoryMetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]map[string]int64
	gauges     map[string]map[string]float64
	histograms map[string]*histogram
}

type histogram struct {
	sum   float64
	count int64
}

func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		counters:   make(map[string]map[string]int64),
		gauges:     make(map[string]map[string]float64),
		histograms: make(map[string]*histogram),
	}
}

func (m *InMemoryMetricsCollector) IncrementCounter(name string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters[name] == nil {
		m.counters[name] = make(map[string]int64)
	}
	m.counters[name][labelKey(labels)]++
}

func (m *InMemoryMetricsCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.histograms[name]
	if h == nil {
		h = &histogram{}
		m.histograms[name] = h
	}
	h.sum += value
	h.count++
}

func (m *InMemoryMetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gauges[name] == nil {
		m.gauges[name] = make(map[string]float64)
	}
	m.gauges[name][labelKey(labels)] = value
}

// CounterValue returns the current value of a counter, for tests.
func (m *InMemoryMetricsCollector) CounterValue(name string, labels map[string]string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[name][labelKey(labels)]
}

// GaugeValue returns the current value of a gauge, for tests.
func (m *InMemoryMetricsCollector) GaugeValue(name string, labels map[string]string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[name][labelKey(labels)]
}

// labelKey renders a label set as {k="v",...} with sorted keys, or "" when
// there are no labels.
func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// ExportPrometheus renders all metrics in Prometheus text format.
func (m *InMemoryMetricsCollector) ExportPrometheus() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out strings.Builder

	names := make([]string, 0, len(m.counters))
	for name := range m.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&out, "# TYPE %s counter\n", name)
		series := make([]string, 0, len(m.counters[name]))
		for key := range m.counters[name] {
			series = append(series, key)
		}
		sort.Strings(series)
		for _, key := range series {
			fmt.Fprintf(&out, "%s%s %d\n", name, key, m.counters[name][key])
		}
	}

	names = names[:0]
	for name := range m.gauges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&out, "# TYPE %s gauge\n", name)
		series := make([]string, 0, len(m.gauges[name]))
		for key := range m.gauges[name] {
			series = append(series, key)
		}
		sort.Strings(series)
		for _, key := range series {
			fmt.Fprintf(&out, "%s%s %g\n", name, key, m.gauges[name][key])
		}
	}

	names = names[:0]
	for name := range m.histograms {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h := m.histograms[name]
		fmt.Fprintf(&out, "# TYPE %s histogram\n", name)
		fmt.Fprintf(&out, "%s_sum %g\n", name, h.sum)
		fmt.Fprintf(&out, "%s_count %d\n", name, h.count)
	}

	return out.String()
}
