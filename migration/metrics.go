package migration

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps the Prometheus collectors of the runner. It owns its
// registry. All methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	Runs            *prometheus.CounterVec
	ScriptsExecuted *prometheus.CounterVec
	ScriptsSkipped  *prometheus.CounterVec
	ItemsAdvanced   *prometheus.CounterVec
	ResolutionGaps  *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	PhaseDuration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors under namespace ("schemachain" when
// empty) in a fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "schemachain"
	}
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of migration runs by outcome",
		}, []string{"status"}),
		ScriptsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scripts_executed_total",
			Help:      "Total number of change scripts executed",
		}, []string{"phase", "kind"}),
		ScriptsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scripts_skipped_total",
			Help:      "Scripts skipped because an earlier attempt of the run already executed them",
		}, []string{"phase"}),
		ItemsAdvanced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_advanced_total",
			Help:      "Item versions advanced per phase",
		}, []string{"phase"}),
		ResolutionGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_gaps_total",
			Help:      "Items below target for which no applicable script exists",
		}, []string{"phase"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "script_failures_total",
			Help:      "Script executions that failed and aborted the run",
		}, []string{"phase"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of each phase in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
	}
	reg.MustRegister(m.Runs, m.ScriptsExecuted, m.ScriptsSkipped, m.ItemsAdvanced,
		m.ResolutionGaps, m.Failures, m.PhaseDuration)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WriteTextfile writes the current values in the node_exporter textfile
// format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) recordRun(status string) {
	if m != nil {
		m.Runs.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) recordExecuted(phase, kind string) {
	if m != nil {
		m.ScriptsExecuted.WithLabelValues(phase, kind).Inc()
	}
}

func (m *Metrics) recordSkipped(phase string) {
	if m != nil {
		m.ScriptsSkipped.WithLabelValues(phase).Inc()
	}
}

func (m *Metrics) recordAdvanced(phase string) {
	if m != nil {
		m.ItemsAdvanced.WithLabelValues(phase).Inc()
	}
}

func (m *Metrics) recordGap(phase string) {
	if m != nil {
		m.ResolutionGaps.WithLabelValues(phase).Inc()
	}
}

func (m *Metrics) recordFailure(phase string) {
	if m != nil {
		m.Failures.WithLabelValues(phase).Inc()
	}
}

func (m *Metrics) observePhase(phase string, d time.Duration) {
	if m != nil {
		m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
	}
}
