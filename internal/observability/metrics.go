package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Message flow through channels
//   - Agent turn outcomes and durations, by trigger source
//   - Model request performance, by provider and model
//   - Tool execution patterns and latencies
//   - Cron fires and announce-pipeline drains
//   - Active session counts for capacity planning
//   - Router resolution tier hits
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.MessageReceived("telegram")
//	defer func() { metrics.RecordAgentTurn("default", "user", "ok", time.Since(start).Seconds()) }()
type Metrics struct {
	// MessageCounter tracks inbound messages by channel.
	// Labels: channel (telegram|discord|slack|interactive)
	MessageCounter *prometheus.CounterVec

	// AgentTurnDuration measures one AgentRunner.Run call end to end.
	// Labels: agent_id, source (user|cron|subagent-announce)
	AgentTurnDuration *prometheus.HistogramVec

	// AgentTurnCounter counts completed turns by agent, source, and outcome.
	// Labels: agent_id, source, outcome (ok|error)
	AgentTurnCounter *prometheus.CounterVec

	// ModelRequestDuration measures one provider Client.Chat call.
	// Labels: provider, model
	ModelRequestDuration *prometheus.HistogramVec

	// ModelRequestCounter counts model calls by provider, model, and status.
	// Labels: provider, model, status (success|error)
	ModelRequestCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (agent|channel|tool|session|cron), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge tracking current active sessions.
	// Labels: channel
	ActiveSessions *prometheus.GaugeVec

	// SessionDuration measures session lifetime in seconds.
	// Labels: channel
	SessionDuration *prometheus.HistogramVec

	// CronFireCounter counts scheduled fires by job and outcome.
	// Labels: job_id, outcome (ok|error)
	CronFireCounter *prometheus.CounterVec

	// AnnounceDrainCounter counts announce-pipeline debounce drains.
	// Labels: shape (single|collected), outcome (ok|error)
	AnnounceDrainCounter *prometheus.CounterVec

	// RoutingResolutionCounter counts Router.Resolve calls by which tier matched.
	// Labels: matched_by (peer|guild|team|account|channel-default|default)
	RoutingResolutionCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		MessageCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_messages_received_total",
				Help: "Total number of inbound messages received, by channel",
			},
			[]string{"channel"},
		),

		AgentTurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_agent_turn_duration_seconds",
				Help:    "Duration of one AgentRunner turn, by agent and trigger source",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"agent_id", "source"},
		),

		AgentTurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_agent_turns_total",
				Help: "Completed AgentRunner turns, by agent, trigger source, and outcome",
			},
			[]string{"agent_id", "source", "outcome"},
		),

		ModelRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_model_request_duration_seconds",
				Help:    "Duration of provider Chat calls, by provider and model",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ModelRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_model_requests_total",
				Help: "Total number of model requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		ActiveSessions: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "switchboard_active_sessions",
				Help: "Current number of active sessions by channel",
			},
			[]string{"channel"},
		),

		SessionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_session_duration_seconds",
				Help:    "Duration of sessions in seconds",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800},
			},
			[]string{"channel"},
		),

		CronFireCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_cron_fires_total",
				Help: "Total number of scheduled cron fires by job id and outcome",
			},
			[]string{"job_id", "outcome"},
		),

		AnnounceDrainCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_announce_drains_total",
				Help: "Total number of announce pipeline debounce drains, by shape and outcome",
			},
			[]string{"shape", "outcome"},
		),

		RoutingResolutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_routing_resolutions_total",
				Help: "Total number of Router.Resolve calls, by which binding tier matched",
			},
			[]string{"matched_by"},
		),
	}
}

// MessageReceived increments the message counter for a given channel.
func (m *Metrics) MessageReceived(channel string) {
	m.MessageCounter.WithLabelValues(channel).Inc()
}

// RecordAgentTurn records metrics for one completed AgentRunner turn.
func (m *Metrics) RecordAgentTurn(agentID, source, outcome string, durationSeconds float64) {
	m.AgentTurnCounter.WithLabelValues(agentID, source, outcome).Inc()
	m.AgentTurnDuration.WithLabelValues(agentID, source).Observe(durationSeconds)
}

// RecordModelRequest records metrics for one provider Chat call.
func (m *Metrics) RecordModelRequest(provider, model, status string, durationSeconds float64) {
	m.ModelRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ModelRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// SessionStarted increments the active sessions gauge.
func (m *Metrics) SessionStarted(channel string) {
	m.ActiveSessions.WithLabelValues(channel).Inc()
}

// SessionEnded decrements the active sessions gauge and records session duration.
func (m *Metrics) SessionEnded(channel string, durationSeconds float64) {
	m.ActiveSessions.WithLabelValues(channel).Dec()
	m.SessionDuration.WithLabelValues(channel).Observe(durationSeconds)
}

// RecordCronFire records one scheduled job fire.
func (m *Metrics) RecordCronFire(jobID, outcome string) {
	m.CronFireCounter.WithLabelValues(jobID, outcome).Inc()
}

// RecordAnnounceDrain records one announce pipeline debounce drain.
func (m *Metrics) RecordAnnounceDrain(shape, outcome string) {
	m.AnnounceDrainCounter.WithLabelValues(shape, outcome).Inc()
}

// RecordRoutingResolution records which binding tier matched a Router.Resolve call.
func (m *Metrics) RecordRoutingResolution(matchedBy string) {
	m.RoutingResolutionCounter.WithLabelValues(matchedBy).Inc()
}
