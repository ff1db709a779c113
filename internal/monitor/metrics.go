package monitor

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector for the execution engine, on
// a dedicated (non-global) registry so tests can build isolated
// instances without colliding with the default global registry.
type Metrics struct {
	Registry *prometheus.Registry

	Enqueued     *prometheus.CounterVec
	Completed    *prometheus.CounterVec
	Retried      *prometheus.CounterVec
	DeadLettered *prometheus.CounterVec
	ActiveGauge  *prometheus.GaugeVec
	DurationSecs *prometheus.HistogramVec
}

// NewMetrics builds and registers the execution-engine metric set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execserv_enqueued_total",
			Help: "Total executions enqueued, by execution_type and priority.",
		}, []string{"execution_type", "priority"}),
		Completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execserv_completed_total",
			Help: "Total executions completed, by execution_type and status.",
		}, []string{"execution_type", "status"}),
		Retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execserv_retried_total",
			Help: "Total queue-item retries, by execution_type.",
		}, []string{"execution_type"}),
		DeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execserv_dead_lettered_total",
			Help: "Total queue items moved to the dead letter queue, by execution_type.",
		}, []string{"execution_type"}),
		ActiveGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "execserv_active_executions",
			Help: "Currently active (non-terminal) executions, by execution_type.",
		}, []string{"execution_type"}),
		DurationSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "execserv_execution_duration_seconds",
			Help:    "Execution duration in seconds, by execution_type.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"execution_type"}),
	}

	reg.MustRegister(m.Enqueued, m.Completed, m.Retried, m.DeadLettered, m.ActiveGauge, m.DurationSecs)
	return m
}

func (m *Metrics) RecordEnqueued(execType string, priority int) {
	m.Enqueued.WithLabelValues(execType, strconv.Itoa(priority)).Inc()
}

func (m *Metrics) RecordCompleted(execType, status string, duration float64) {
	m.Completed.WithLabelValues(execType, status).Inc()
	m.DurationSecs.WithLabelValues(execType).Observe(duration)
}

func (m *Metrics) RecordRetried(execType string) { m.Retried.WithLabelValues(execType).Inc() }

func (m *Metrics) RecordDeadLettered(execType string) { m.DeadLettered.WithLabelValues(execType).Inc() }

func (m *Metrics) SetActiveExecutions(execType string, count int) {
	m.ActiveGauge.WithLabelValues(execType).Set(float64(count))
}
