package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects runtime metrics for requests, LLM calls, tool executions,
// plan steps, and sessions.
type Metrics struct {
	// RequestCounter counts orchestrated requests.
	// Labels: status (complete|failed|cancelled|suspended)
	RequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM calls.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|awaiting_approval)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// StepCounter counts plan step outcomes.
	// Labels: sub_agent, status (completed|failed|skipped)
	StepCounter *prometheus.CounterVec

	// StepDuration measures step wall time in seconds.
	// Labels: sub_agent
	StepDuration *prometheus.HistogramVec

	// RetrievalCounter counts knowledge retrievals.
	// Labels: status (success|error|empty)
	RetrievalCounter *prometheus.CounterVec

	// ActiveConnections gauges open gateway channels.
	ActiveConnections prometheus.Gauge

	// ActiveRequests gauges in-flight orchestrated requests.
	ActiveRequests prometheus.Gauge
}

// NewMetrics creates all conductor metrics and registers them on reg.
// Passing prometheus.DefaultRegisterer wires the standard /metrics endpoint;
// tests pass a fresh registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := func(c prometheus.Collector) prometheus.Collector {
		reg.MustRegister(c)
		return c
	}

	m := &Metrics{
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_requests_total",
				Help: "Total orchestrated requests by terminal status",
			},
			[]string{"status"},
		),
		LLMRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_llm_request_duration_seconds",
				Help:    "Duration of LLM calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_llm_requests_total",
				Help: "Total LLM calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_llm_tokens_total",
				Help: "Total tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tool_executions_total",
				Help: "Total tool executions by tool and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_tool_execution_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		StepCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_plan_steps_total",
				Help: "Total plan step outcomes by sub-agent and status",
			},
			[]string{"sub_agent", "status"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_plan_step_duration_seconds",
				Help:    "Plan step wall time in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"sub_agent"},
		),
		RetrievalCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_knowledge_retrievals_total",
				Help: "Total knowledge retrievals by outcome",
			},
			[]string{"status"},
		),
		ActiveConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "conductor_active_connections",
				Help: "Open gateway channels",
			},
		),
		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "conductor_active_requests",
				Help: "In-flight orchestrated requests",
			},
		),
	}

	factory(m.RequestCounter)
	factory(m.LLMRequestDuration)
	factory(m.LLMRequestCounter)
	factory(m.LLMTokensUsed)
	factory(m.ToolExecutionCounter)
	factory(m.ToolExecutionDuration)
	factory(m.StepCounter)
	factory(m.StepDuration)
	factory(m.RetrievalCounter)
	factory(m.ActiveConnections)
	factory(m.ActiveRequests)

	return m
}
