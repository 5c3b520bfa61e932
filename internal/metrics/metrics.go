// Package metrics exposes prometheus instrumentation for the request
// pipeline. Collectors are process-wide; components record through the
// package-level helpers so call sites stay one line.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "athena_requests_total",
		Help: "Processed user requests by triage priority.",
	}, []string{"priority", "intent"})

	ToolDispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "athena_tool_dispatches_total",
		Help: "Tool calls dispatched by the orchestrator loop.",
	}, []string{"tool", "outcome"})

	ExecutorRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "athena_executor_runs_total",
		Help: "Commands executed by target kind and outcome.",
	}, []string{"kind", "outcome"})

	CorrectionAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "athena_correction_attempts_total",
		Help: "Auto-corrector rewrite attempts.",
	})

	LLMLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "athena_llm_latency_seconds",
		Help:    "Wall-clock latency of LLM calls by task.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"task"})

	ConversationCompactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "athena_conversation_compactions_total",
		Help: "Conversations compacted due to token pressure.",
	})
)

// ObserveLLM records one LLM call's latency.
func ObserveLLM(task string, start time.Time) {
	LLMLatency.WithLabelValues(task).Observe(time.Since(start).Seconds())
}
