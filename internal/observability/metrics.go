package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StepMetrics is the Prometheus instrumentation for one step engine: step
// counts, tool-call counts and durations, and transport-retry counts.
//
// All vectors are registered against the registerer passed to NewStepMetrics
// rather than the global default, so a process can run more than one
// Controller (and therefore more than one StepMetrics) without a
// "duplicate metrics collector registration" panic.
type StepMetrics struct {
	Steps           *prometheus.CounterVec
	ToolCalls       *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	TransportRetry  *prometheus.CounterVec
	TransportErrors *prometheus.CounterVec
}

// NewStepMetrics registers and returns the step engine's metric vectors. Pass
// prometheus.DefaultRegisterer for process-wide export, or a fresh
// prometheus.NewRegistry() in tests.
func NewStepMetrics(reg prometheus.Registerer) *StepMetrics {
	factory := promauto.With(reg)
	return &StepMetrics{
		Steps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_steps_total",
			Help: "Total number of step-engine iterations, by outcome.",
		}, []string{"outcome"}),

		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_tool_calls_total",
			Help: "Total number of tool invocations dispatched, by tool name and status.",
		}, []string{"tool_name", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "convo_tool_call_duration_seconds",
			Help:    "Duration of a single tool invocation in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),

		TransportRetry: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_transport_retries_total",
			Help: "Total number of retried LLM transport attempts.",
		}, []string{"model"}),

		TransportErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_transport_errors_total",
			Help: "Total number of LLM transport failures, by whether they were retryable.",
		}, []string{"model", "retryable"}),
	}
}

// RecordStep records the outcome of one step-engine iteration: "final"
// (model returned no tool calls), "tool_calls" (dispatched a batch),
// "refusal", "error", or "cancelled".
func (m *StepMetrics) RecordStep(outcome string) {
	if m == nil {
		return
	}
	m.Steps.WithLabelValues(outcome).Inc()
}

// RecordToolCall records one tool invocation's outcome and wall time.
func (m *StepMetrics) RecordToolCall(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(toolName, status).Inc()
	m.ToolDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordTransportRetry records one retried (not yet exhausted) completion
// attempt for model.
func (m *StepMetrics) RecordTransportRetry(model string) {
	if m == nil {
		return
	}
	m.TransportRetry.WithLabelValues(model).Inc()
}

// RecordTransportError records a completion attempt's final transport
// failure, classified by whether it was retryable.
func (m *StepMetrics) RecordTransportError(model string, retryable bool) {
	if m == nil {
		return
	}
	status := "nonretryable"
	if retryable {
		status = "retryable"
	}
	m.TransportErrors.WithLabelValues(model, status).Inc()
}
