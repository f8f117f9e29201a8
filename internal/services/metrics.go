package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OrchestratorMetrics holds the Prometheus metrics of plan, build and chat invocations
type OrchestratorMetrics struct {
	// Invocation outcomes by mode and result source
	Invocations        *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec

	// Fallbacks by mode and the failure that caused them
	Fallbacks *prometheus.CounterVec

	// Invocations that ended in an error returned to the caller
	Failures *prometheus.CounterVec

	// Polls per invocation
	PollAttempts *prometheus.HistogramVec
}

// NewOrchestratorMetrics registers the metrics with reg
func NewOrchestratorMetrics(reg prometheus.Registerer) *OrchestratorMetrics {
	factory := promauto.With(reg)

	return &OrchestratorMetrics{
		Invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentforge_codegen_invocations_total",
			Help: "Total number of plan/build/chat invocations by result source",
		}, []string{"mode", "source"}), // source: "remote" or "fallback"

		// Build budget is ten minutes, so the buckets reach past it
		InvocationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentforge_codegen_invocation_duration_seconds",
			Help:    "Invocation latency in seconds",
			Buckets: []float64{0.1, 1, 5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{"mode", "source"}),

		Fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentforge_codegen_fallbacks_total",
			Help: "Total number of fallback results by failure kind",
		}, []string{"mode", "kind"}),

		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentforge_codegen_failures_total",
			Help: "Total number of invocations that returned an error",
		}, []string{"mode", "kind"}),

		PollAttempts: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentforge_codegen_poll_attempts",
			Help:    "Number of status polls per invocation",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 60, 90, 120},
		}, []string{"mode"}),
	}
}

// ObserveInvocation records a finished invocation
func (m *OrchestratorMetrics) ObserveInvocation(mode, source string, duration time.Duration) {
	m.Invocations.WithLabelValues(mode, source).Inc()
	m.InvocationDuration.WithLabelValues(mode, source).Observe(duration.Seconds())
}

// ObservePolls records how many polls an invocation needed
func (m *OrchestratorMetrics) ObservePolls(mode string, attempts int) {
	m.PollAttempts.WithLabelValues(mode).Observe(float64(attempts))
}

// IncFallback counts a fallback result
func (m *OrchestratorMetrics) IncFallback(mode, kind string) {
	m.Fallbacks.WithLabelValues(mode, kind).Inc()
}

// IncFailure counts an invocation that returned an error
func (m *OrchestratorMetrics) IncFailure(mode, kind string) {
	m.Failures.WithLabelValues(mode, kind).Inc()
}
