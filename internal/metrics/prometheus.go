package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChatDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smarthome_chat_duration_seconds",
			Help:    "Chat message processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"mode"},
	)

	ChatTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthome_chat_total",
			Help: "Total chat messages processed",
		},
		[]string{"mode", "status"},
	)

	IntentClassifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthome_intent_classifications_total",
			Help: "Intent classifications by intent and resolution method",
		},
		[]string{"intent", "method"},
	)

	DiagnosticDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smarthome_diagnostic_duration_seconds",
			Help:    "Diagnostic workflow duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30},
		},
	)

	DiagnosticSourceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthome_diagnostic_source_failures_total",
			Help: "Diagnostic data source failures",
		},
		[]string{"source"},
	)

	DiagnosticConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smarthome_diagnostic_confidence",
			Help:    "Diagnostic report confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	SemanticSearchResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smarthome_semantic_search_results",
			Help:    "Results per semantic device search after threshold filtering",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
	)

	IndexedDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "smarthome_indexed_devices",
			Help: "Devices currently in the semantic index",
		},
	)

	IndexSyncChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthome_index_sync_changes_total",
			Help: "Semantic index sync changes by kind",
		},
		[]string{"kind"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthome_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	WebSearchTriggered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smarthome_web_search_triggered_total",
			Help: "Total web searches triggered in troubleshooting mode",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthome_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthome_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	ToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthome_tool_calls_total",
			Help: "Chat tool calls by tool and status",
		},
		[]string{"tool", "status"},
	)

	UserSatisfaction = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthome_feedback_total",
			Help: "User feedback submissions by helpfulness",
		},
		[]string{"helpful"},
	)

	RegisteredDevices = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smarthome_registered_devices",
			Help: "Devices in the registry by online state",
		},
		[]string{"state"},
	)
)

func Init() {
	prometheus.MustRegister(ChatDuration)
	prometheus.MustRegister(ChatTotal)
	prometheus.MustRegister(IntentClassifications)
	prometheus.MustRegister(DiagnosticDuration)
	prometheus.MustRegister(DiagnosticSourceFailures)
	prometheus.MustRegister(DiagnosticConfidence)
	prometheus.MustRegister(SemanticSearchResults)
	prometheus.MustRegister(IndexedDevices)
	prometheus.MustRegister(IndexSyncChanges)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(WebSearchTriggered)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(ToolCalls)
	prometheus.MustRegister(UserSatisfaction)
	prometheus.MustRegister(RegisteredDevices)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
