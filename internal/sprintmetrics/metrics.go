// Package sprintmetrics registers the Prometheus instrumentation for the
// orchestrator: one counter per batch/cycle/command outcome and one
// histogram of command duration by phase.
package sprintmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/histogram/gauge the orchestrator and HTTP
// surface update. A nil *Metrics is safe to call methods on — every method
// no-ops when the receiver is nil, so components can be built without a
// registry wired in (e.g. in unit tests that don't care about metrics).
type Metrics struct {
	batchesTotal     *prometheus.CounterVec
	cyclesTotal      prometheus.Counter
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	websocketClients prometheus.Gauge
}

// MustNewMetrics registers every metric against reg and panics on collision.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sprint_batches_total",
			Help: "Orchestrator batch count by status: once as \"started\" when a batch begins, once with its final status when it ends.",
		}, []string{"status"}),
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sprint_cycles_total",
			Help: "Total cycles completed across all batches.",
		}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sprint_commands_total",
			Help: "Total subagent command invocations, labeled by phase and outcome status.",
		}, []string{"phase", "status"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sprint_command_duration_seconds",
			Help:    "Subagent command wall-clock duration in seconds, labeled by phase.",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase"}),
		websocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sprint_websocket_clients",
			Help: "Currently connected websocket dashboard clients.",
		}),
	}
	reg.MustRegister(m.batchesTotal, m.cyclesTotal, m.commandsTotal, m.commandDuration, m.websocketClients)
	return m
}

func (m *Metrics) ObserveBatch(status string) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveCycle() {
	if m == nil {
		return
	}
	m.cyclesTotal.Inc()
}

func (m *Metrics) ObserveCommand(phase, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(phase, status).Inc()
	m.commandDuration.WithLabelValues(phase).Observe(durationSeconds)
}

func (m *Metrics) SetWebsocketClients(n int) {
	if m == nil {
		return
	}
	m.websocketClients.Set(float64(n))
}
