package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storm_maps"

// Metrics holds the Prometheus counters, histograms, and gauges of a render batch.
type Metrics struct {
	FilesProcessed prometheus.Counter
	StepsRendered  prometheus.Counter
	// labels: stage={discover,open,grid,collision,render,write}
	Failures      *prometheus.CounterVec
	Collisions    prometheus.Counter
	LastSuccess   prometheus.Gauge
	StepsInFlight prometheus.Gauge

	GridBuildDuration prometheus.Histogram
	RenderDuration    prometheus.Histogram

	registry *prometheus.Registry
}

func newMetrics() *Metrics {
	return &Metrics{
		FilesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_processed_total",
			Help:      "Forecast files rendered completely.",
		}),
		StepsRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_rendered_total",
			Help:      "Charts written to the output directory.",
		}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Batch failures by stage.",
		}, []string{"stage"}),
		Collisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_collisions_total",
			Help:      "Charts that replaced one written earlier in the same batch.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last batch that finished without error.",
		}),
		StepsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "steps_in_flight",
			Help:      "Timesteps currently being rendered.",
		}),
		GridBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grid_build_duration_seconds",
			Help:      "Time to build the coordinate grid of one run.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		RenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time to render and write one chart.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FilesProcessed,
		m.StepsRendered,
		m.Failures,
		m.Collisions,
		m.LastSuccess,
		m.StepsInFlight,
		m.GridBuildDuration,
		m.RenderDuration,
	}
}

// NewMetrics creates and registers all batch metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(m.collectors()...)
	return m
}

// Gatherer returns the registry the metrics are registered with.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry != nil {
		return m.registry
	}
	return prometheus.DefaultGatherer
}

// WriteTextfile writes the metrics in text exposition format to path,
// atomically, for the node-exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Gatherer()); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
