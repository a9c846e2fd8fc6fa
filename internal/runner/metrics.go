package runner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report run activity. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	unitsUploaded prometheus.Counter
	fetchFailures prometheus.Counter
	runDuration   prometheus.Histogram
	runsActive    prometheus.Gauge
}

// NewMetrics registers the run collectors with reg, collectors that are
// already registered are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ojs",
				Name:      "runs_total",
				Help:      "Finished upload runs by final status.",
			},
			[]string{"status"},
		),
		unitsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ojs",
			Name:      "units_uploaded_total",
			Help:      "Packaged units uploaded successfully.",
		}),
		fetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ojs",
			Name:      "fetch_failures_total",
			Help:      "Links that could not be fetched.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ojs",
			Name:      "run_duration_seconds",
			Help:      "Wall time of upload runs from start to cleanup.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ojs",
			Name:      "runs_active",
			Help:      "Runs currently executing.",
		}),
	}

	var err error
	m.runs, err = register(reg, m.runs)
	if err != nil {
		return nil, err
	}
	m.unitsUploaded, err = register(reg, m.unitsUploaded)
	if err != nil {
		return nil, err
	}
	m.fetchFailures, err = register(reg, m.fetchFailures)
	if err != nil {
		return nil, err
	}
	m.runDuration, err = register(reg, m.runDuration)
	if err != nil {
		return nil, err
	}
	m.runsActive, err = register(reg, m.runsActive)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}
	already, ok := err.(prometheus.AlreadyRegisteredError)
	if !ok {
		return collector, err
	}
	existing, ok := already.ExistingCollector.(C)
	if !ok {
		return collector, err
	}
	return existing, nil
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

func (m *Metrics) runFinished(status Status, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsActive.Dec()
	m.runs.WithLabelValues(string(status)).Inc()
	m.runDuration.Observe(duration.Seconds())
}

func (m *Metrics) unitUploaded() {
	if m == nil {
		return
	}
	m.unitsUploaded.Inc()
}

func (m *Metrics) fetchFailed() {
	if m == nil {
		return
	}
	m.fetchFailures.Inc()
}
