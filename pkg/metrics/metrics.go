// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// PipelineRunsTotal tracks pipeline executions by outcome.
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Total pipeline executions",
		},
		[]string{"outcome"},
	)

	// PipelineDuration tracks end-to-end pipeline duration.
	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_duration_seconds",
			Help:    "Pipeline execution duration including the model call",
			Buckets: []float64{.001, .01, .1, .5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	// LLMRequestDuration tracks model invocation duration.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// CacheLookupsTotal tracks response cache lookups.
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "middleware_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)

	// RedactionsTotal tracks redacted categories.
	RedactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "middleware_redactions_total",
			Help: "Calls in which a sensitive data category was redacted",
		},
		[]string{"category"},
	)

	// EstimatedTokensTotal tracks tokens committed against budgets.
	EstimatedTokensTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "middleware_estimated_tokens_total",
			Help: "Estimated prompt tokens committed by the token budget",
		},
	)

	// BudgetRejectionsTotal tracks requests refused by the token budget.
	BudgetRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "middleware_budget_rejections_total",
			Help: "Requests rejected by the token budget",
		},
		[]string{"reason"},
	)

	// SummarizationsTotal tracks history compactions.
	SummarizationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "middleware_summarizations_total",
			Help: "Conversation history compactions",
		},
	)

	// ToolDecisionsTotal tracks tool gate decisions.
	ToolDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "middleware_tool_decisions_total",
			Help: "Tool access decisions",
		},
		[]string{"decision"},
	)

	// SessionsActive tracks live sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Number of active middleware sessions",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordPipelineRun records one pipeline execution.
func RecordPipelineRun(outcome string, duration float64) {
	PipelineRunsTotal.WithLabelValues(outcome).Inc()
	PipelineDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordLLMRequest records metrics for a model invocation.
func RecordLLMRequest(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordToolDecision records a tool gate decision.
func RecordToolDecision(allowed bool) {
	if allowed {
		ToolDecisionsTotal.WithLabelValues("allowed").Inc()
		return
	}
	ToolDecisionsTotal.WithLabelValues("blocked").Inc()
}
