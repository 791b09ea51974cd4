package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the conductor's Prometheus metrics: turn outcomes, model
// and tool latencies, policy denials, and research graph node activity.
type Metrics struct {
	// TurnCounter counts completed turns.
	// Labels: finish_reason (stop|timeout|max_steps|error)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures end-to-end turn latency in seconds.
	// Labels: finish_reason
	TurnDuration *prometheus.HistogramVec

	// ModelRequestCounter counts model streaming requests.
	// Labels: provider, model, status (success|error)
	ModelRequestCounter *prometheus.CounterVec

	// ModelRequestDuration measures model stream latency in seconds.
	// Labels: provider, model
	ModelRequestDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool runs.
	// Labels: tool_name, status (success|error|denied)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool run time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// DenialCounter counts tool calls refused before execution.
	// Labels: tool_name, reason (search_quota|duplicate|not_required|policy)
	DenialCounter *prometheus.CounterVec

	// ReasoningSteps counts emitted reasoning step updates.
	// Labels: lifecycle (STARTED|UPDATED|FINISHED)
	ReasoningSteps *prometheus.CounterVec

	// GraphNodeCounter counts research graph node executions.
	// Labels: node, status (success|error)
	GraphNodeCounter *prometheus.CounterVec

	// ActiveStreams gauges currently open event streams.
	ActiveStreams prometheus.Gauge

	// SessionCounter counts session lifecycle transitions.
	// Labels: event (created|ended)
	SessionCounter *prometheus.CounterVec
}

// NewMetrics registers all metrics on the default registry. Call once at
// startup.
func NewMetrics() *Metrics {
	return NewMetricsOn(prometheus.DefaultRegisterer)
}

// NewMetricsOn registers all metrics on the given registerer. Tests use this
// with a fresh registry to avoid duplicate-registration panics.
func NewMetricsOn(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_turns_total",
				Help: "Completed agent turns by finish reason",
			},
			[]string{"finish_reason"},
		),
		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_turn_duration_seconds",
				Help:    "End-to-end turn latency in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300, 720},
			},
			[]string{"finish_reason"},
		),
		ModelRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_model_requests_total",
				Help: "Model streaming requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_model_request_duration_seconds",
				Help:    "Model stream latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tool_executions_total",
				Help: "Tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_tool_execution_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		DenialCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tool_denials_total",
				Help: "Tool calls refused before execution by reason",
			},
			[]string{"tool_name", "reason"},
		),
		ReasoningSteps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_reasoning_step_events_total",
				Help: "Reasoning step updates emitted by lifecycle",
			},
			[]string{"lifecycle"},
		),
		GraphNodeCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_graph_node_executions_total",
				Help: "Research graph node executions by node and status",
			},
			[]string{"node", "status"},
		),
		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conductor_active_streams",
				Help: "Currently open event streams",
			},
		),
		SessionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_sessions_total",
				Help: "Session lifecycle transitions",
			},
			[]string{"event"},
		),
	}
}

// RecordTurn records a completed turn.
func (m *Metrics) RecordTurn(finishReason string, durationSeconds float64) {
	m.TurnCounter.WithLabelValues(finishReason).Inc()
	m.TurnDuration.WithLabelValues(finishReason).Observe(durationSeconds)
}

// RecordModelRequest records a model streaming request.
func (m *Metrics) RecordModelRequest(provider, model, status string, durationSeconds float64) {
	m.ModelRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ModelRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordToolExecution records a tool run.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordDenial records a tool call refused before execution. The denied call
// also counts as a tool execution with status "denied".
func (m *Metrics) RecordDenial(toolName, reason string) {
	m.DenialCounter.WithLabelValues(toolName, reason).Inc()
	m.ToolExecutionCounter.WithLabelValues(toolName, "denied").Inc()
}

// RecordReasoningStep records one emitted reasoning step update.
func (m *Metrics) RecordReasoningStep(lifecycle string) {
	m.ReasoningSteps.WithLabelValues(lifecycle).Inc()
}

// RecordGraphNode records a research graph node execution.
func (m *Metrics) RecordGraphNode(node, status string) {
	m.GraphNodeCounter.WithLabelValues(node, status).Inc()
}

// StreamOpened increments the active stream gauge.
func (m *Metrics) StreamOpened() { m.ActiveStreams.Inc() }

// StreamClosed decrements the active stream gauge.
func (m *Metrics) StreamClosed() { m.ActiveStreams.Dec() }
