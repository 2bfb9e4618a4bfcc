package intent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/internal/llm"
	"github.com/smarthome-agent/backend/internal/metrics"
	"github.com/smarthome-agent/backend/pkg/logger"
)

// Intent is the coarse category a user query falls into.
type Intent string

const (
	IntentIssueDiagnosis Intent = "ISSUE_DIAGNOSIS"
	IntentDiscovery      Intent = "DISCOVERY"
	IntentDeviceHealth   Intent = "DEVICE_HEALTH"
	IntentNormalQuery    Intent = "NORMAL_QUERY"
	IntentModeManagement Intent = "MODE_MANAGEMENT"
	IntentSystemStatus   Intent = "SYSTEM_STATUS"
)

// Classification methods. Method records which tier produced the result.
const (
	MethodCache   = "cache"
	MethodKeyword = "keyword"
	MethodLLM     = "llm"
)

// Classification is the classifier's verdict on one query.
type Classification struct {
	Intent     Intent   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Entities   Entities `json:"entities"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Method     string   `json:"method"`
}

// completer is the slice of the LLM client the classifier needs.
type completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Classifier resolves queries to intents through three tiers: exact-match
// cache, ordered keyword rules, then an LLM call. The LLM tier never
// surfaces an error; failures degrade to NORMAL_QUERY.
type Classifier struct {
	llm   completer
	cache *classificationCache
	vocab *vocabulary
}

func NewClassifier(llmClient completer, cacheSize int, cacheTTL time.Duration) *Classifier {
	return &Classifier{
		llm:   llmClient,
		cache: newClassificationCache(cacheSize, cacheTTL),
		vocab: &vocabulary{},
	}
}

// SetVocabulary refreshes the device and room names used for entity
// extraction. Called after every registry refresh.
func (c *Classifier) SetVocabulary(deviceNames, roomNames []string) {
	c.vocab.set(deviceNames, roomNames)
}

// CacheStats reports exact hit/miss counts for the classification cache.
func (c *Classifier) CacheStats() CacheStats {
	return c.cache.stats()
}

// Classify resolves the query's intent. Entities are extracted fresh on
// every call; only the intent verdict is cached.
func (c *Classifier) Classify(ctx context.Context, query string) Classification {
	normalized := normalizeQuery(query)
	entities := extractEntities(query, c.vocab)

	if cached, ok := c.cache.get(normalized); ok {
		metrics.CacheHits.WithLabelValues("intent").Inc()
		cached.Method = MethodCache
		cached.Entities = entities
		return cached
	}
	metrics.CacheMisses.WithLabelValues("intent").Inc()

	var result Classification
	if intent, confidence, ok := matchKeywordRules(normalized); ok {
		result = Classification{Intent: intent, Confidence: confidence, Method: MethodKeyword}
	} else {
		result = c.classifyWithLLM(ctx, query)
	}
	c.cache.put(normalized, result)

	result.Entities = entities
	return result
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(query))), " ")
}

const classifySystemPrompt = `You classify smart home user queries into exactly one intent.

Intents:
- ISSUE_DIAGNOSIS: something is malfunctioning or behaving unexpectedly
- DISCOVERY: finding or listing devices
- DEVICE_HEALTH: connectivity, battery, or status of a specific device
- SYSTEM_STATUS: overview of the whole home or hub
- MODE_MANAGEMENT: switching assistant modes
- NORMAL_QUERY: anything else

Examples:
"my porch light keeps flickering" -> {"intent":"ISSUE_DIAGNOSIS","confidence":0.9}
"do I have any motion sensors upstairs" -> {"intent":"DISCOVERY","confidence":0.9}
"is the front door lock online" -> {"intent":"DEVICE_HEALTH","confidence":0.9}
"how is the house doing" -> {"intent":"SYSTEM_STATUS","confidence":0.8}
"what's the capital of France" -> {"intent":"NORMAL_QUERY","confidence":0.95}

Respond with JSON only: {"intent":"...","confidence":0.0-1.0,"reasoning":"..."}`

type llmClassification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// classifyWithLLM is the final tier. Any failure (call, parse, unknown
// intent) degrades to NORMAL_QUERY at low confidence.
func (c *Classifier) classifyWithLLM(ctx context.Context, query string) Classification {
	fallback := Classification{Intent: IntentNormalQuery, Confidence: 0.3, Method: MethodLLM}

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: classifySystemPrompt,
		UserPrompt:   query,
		Temperature:  0.1,
		MaxTokens:    150,
	})
	if err != nil {
		logger.Log.Warn("llm classification failed", zap.Error(err))
		return fallback
	}

	var parsed llmClassification
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &parsed); err != nil {
		logger.Log.Warn("unparseable llm classification",
			zap.String("content", resp.Content), zap.Error(err))
		return fallback
	}

	intent := Intent(strings.ToUpper(strings.TrimSpace(parsed.Intent)))
	switch intent {
	case IntentIssueDiagnosis, IntentDiscovery, IntentDeviceHealth,
		IntentNormalQuery, IntentModeManagement, IntentSystemStatus:
	default:
		return fallback
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return Classification{
		Intent:     intent,
		Confidence: confidence,
		Reasoning:  parsed.Reasoning,
		Method:     MethodLLM,
	}
}

// extractJSON trims prose or code fences around the model's JSON object.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return content
	}
	return content[start : end+1]
}
