package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// HistogramBuckets are millisecond buckets shared by request and job latencies.
var HistogramBuckets = []float64{
	// fast (0 - 500ms)
	25, 50, 75, 100, 150, 200, 300, 400, 500,

	// panel round trips (500ms - 2s)
	750, 1000, 1250, 1500, 1750, 2000,

	// retried panel calls (2s - 15s)
	2500, 3000, 4000, 5000, 7500, 10000, 15000,

	// up to the job timeout
	30000, 60000, 120000, 240000,
}

// Metric describes one collector; Type selects the prometheus constructor.
type Metric struct {
	ID          string
	Name        string
	Description string
	Type        string
	Args        []string
}

// NewMetric builds the prometheus.Collector for m.Type.
func NewMetric(m *Metric, subsystem string) (prometheus.Collector, error) {
	switch m.Type {
	case "counter_vec":
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      m.Name,
			Help:      m.Description,
		}, m.Args), nil
	case "counter":
		return prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      m.Name,
			Help:      m.Description,
		}), nil
	case "gauge":
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      m.Name,
			Help:      m.Description,
		}), nil
	case "histogram_vec":
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      m.Name,
			Help:      m.Description,
			Buckets:   HistogramBuckets,
		}, m.Args), nil
	}
	return nil, fmt.Errorf("unsupported metric type %q for %s", m.Type, m.Name)
}

// register creates and registers every definition, reusing collectors that
// are already registered under the same name.
func register(reg prometheus.Registerer, subsystem string, defs ...*Metric) (map[string]prometheus.Collector, error) {
	out := make(map[string]prometheus.Collector, len(defs))
	for _, def := range defs {
		c, err := NewMetric(def, subsystem)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(c); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, fmt.Errorf("register %s: %w", def.Name, err)
			}
			c = are.ExistingCollector
		}
		out[def.ID] = c
	}
	return out, nil
}
