package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/internal/intent"
	"github.com/smarthome-agent/backend/pkg/logger"
)

// classifier is the surface of the intent classifier the evaluator drives.
type classifier interface {
	Classify(ctx context.Context, query string) intent.Classification
	CacheStats() intent.CacheStats
}

// Evaluator runs a labeled query dataset through the intent classifier and
// measures accuracy. Used by QA scripts before rule or prompt changes land.
type Evaluator struct {
	classifier classifier
}

type EvaluationDataset struct {
	Items []DatasetItem `json:"items"`
}

type DatasetItem struct {
	Query          string `json:"query"`
	ExpectedIntent string `json:"expected_intent"`
	Category       string `json:"category,omitempty"`
}

// ItemResult is the verdict on one dataset item.
type ItemResult struct {
	Query          string  `json:"query"`
	ExpectedIntent string  `json:"expected_intent"`
	ActualIntent   string  `json:"actual_intent"`
	Method         string  `json:"method"`
	Confidence     float64 `json:"confidence"`
	Correct        bool    `json:"correct"`
}

type EvaluationReport struct {
	TotalQueries     int                `json:"total_queries"`
	CorrectCount     int                `json:"correct_count"`
	Accuracy         float64            `json:"accuracy"`
	ByMethod         map[string]int     `json:"by_method"`
	AccuracyByIntent map[string]float64 `json:"accuracy_by_intent"`
	CacheHitRate     float64            `json:"cache_hit_rate"`
	Misclassified    []ItemResult       `json:"misclassified,omitempty"`
}

func NewEvaluator(c classifier) *Evaluator {
	return &Evaluator{classifier: c}
}

// RunDatasetEvaluation classifies every item and aggregates accuracy. It
// never fails an item; the classifier itself degrades instead of erroring.
func (e *Evaluator) RunDatasetEvaluation(ctx context.Context, dataset *EvaluationDataset) (*EvaluationReport, error) {
	logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)))

	report := &EvaluationReport{
		TotalQueries:     len(dataset.Items),
		ByMethod:         make(map[string]int),
		AccuracyByIntent: make(map[string]float64),
	}

	correctByIntent := make(map[string]int)
	totalByIntent := make(map[string]int)

	for _, item := range dataset.Items {
		result := e.classifier.Classify(ctx, item.Query)

		itemResult := ItemResult{
			Query:          item.Query,
			ExpectedIntent: item.ExpectedIntent,
			ActualIntent:   string(result.Intent),
			Method:         result.Method,
			Confidence:     result.Confidence,
			Correct:        string(result.Intent) == item.ExpectedIntent,
		}

		report.ByMethod[result.Method]++
		totalByIntent[item.ExpectedIntent]++
		if itemResult.Correct {
			report.CorrectCount++
			correctByIntent[item.ExpectedIntent]++
		} else {
			report.Misclassified = append(report.Misclassified, itemResult)
		}
	}

	if report.TotalQueries > 0 {
		report.Accuracy = float64(report.CorrectCount) / float64(report.TotalQueries)
	}
	for intentName, total := range totalByIntent {
		report.AccuracyByIntent[intentName] = float64(correctByIntent[intentName]) / float64(total)
	}
	report.CacheHitRate = e.classifier.CacheStats().HitRate

	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.TotalQueries),
		zap.Int("correct", report.CorrectCount),
		zap.Float64("accuracy", report.Accuracy),
	)

	return report, nil
}

func (e *Evaluator) LoadDatasetFromJSON(jsonData string) (*EvaluationDataset, error) {
	var dataset EvaluationDataset
	err := json.Unmarshal([]byte(jsonData), &dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}

	return &dataset, nil
}

func (e *Evaluator) GenerateReport(report *EvaluationReport) string {
	out := fmt.Sprintf(`
Intent Classification Report
============================

Total Queries: %d
Correct: %d (%.1f%%)
Cache Hit Rate: %.1f%%

By Method:
`,
		report.TotalQueries,
		report.CorrectCount, report.Accuracy*100,
		report.CacheHitRate*100,
	)

	methods := make([]string, 0, len(report.ByMethod))
	for m := range report.ByMethod {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	for _, m := range methods {
		out += fmt.Sprintf("- %s: %d\n", m, report.ByMethod[m])
	}

	intents := make([]string, 0, len(report.AccuracyByIntent))
	for i := range report.AccuracyByIntent {
		intents = append(intents, i)
	}
	sort.Strings(intents)
	out += "\nAccuracy By Intent:\n"
	for _, i := range intents {
		out += fmt.Sprintf("- %s: %.1f%%\n", i, report.AccuracyByIntent[i]*100)
	}

	if len(report.Misclassified) > 0 {
		out += "\nMisclassified:\n"
		for _, m := range report.Misclassified {
			out += fmt.Sprintf("- %q: expected %s, got %s (%s)\n", m.Query, m.ExpectedIntent, m.ActualIntent, m.Method)
		}
	}
	return out
}
