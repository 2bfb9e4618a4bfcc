package evaluation

import (
	"context"
	"strings"
	"testing"

	"github.com/smarthome-agent/backend/internal/intent"
)

type fakeClassifier struct {
	verdicts map[string]intent.Classification
	stats    intent.CacheStats
}

func (f *fakeClassifier) Classify(ctx context.Context, query string) intent.Classification {
	if v, ok := f.verdicts[query]; ok {
		return v
	}
	return intent.Classification{Intent: intent.IntentNormalQuery, Confidence: 0.3, Method: intent.MethodLLM}
}

func (f *fakeClassifier) CacheStats() intent.CacheStats { return f.stats }

func TestRunDatasetEvaluation(t *testing.T) {
	fc := &fakeClassifier{
		verdicts: map[string]intent.Classification{
			"light won't turn on":  {Intent: intent.IntentIssueDiagnosis, Confidence: 0.9, Method: intent.MethodKeyword},
			"list my sensors":      {Intent: intent.IntentDiscovery, Confidence: 0.85, Method: intent.MethodKeyword},
			"is the lock online":   {Intent: intent.IntentDeviceHealth, Confidence: 0.8, Method: intent.MethodCache},
			"tell me about Paris":  {Intent: intent.IntentNormalQuery, Confidence: 0.95, Method: intent.MethodLLM},
			"thermostat acting up": {Intent: intent.IntentNormalQuery, Confidence: 0.3, Method: intent.MethodLLM},
		},
		stats: intent.CacheStats{Hits: 1, Misses: 4, HitRate: 0.2},
	}

	e := NewEvaluator(fc)
	dataset := &EvaluationDataset{Items: []DatasetItem{
		{Query: "light won't turn on", ExpectedIntent: "ISSUE_DIAGNOSIS"},
		{Query: "list my sensors", ExpectedIntent: "DISCOVERY"},
		{Query: "is the lock online", ExpectedIntent: "DEVICE_HEALTH"},
		{Query: "tell me about Paris", ExpectedIntent: "NORMAL_QUERY"},
		{Query: "thermostat acting up", ExpectedIntent: "ISSUE_DIAGNOSIS"},
	}}

	report, err := e.RunDatasetEvaluation(context.Background(), dataset)
	if err != nil {
		t.Fatalf("RunDatasetEvaluation() error = %v", err)
	}

	if report.TotalQueries != 5 {
		t.Errorf("TotalQueries = %d, want 5", report.TotalQueries)
	}
	if report.CorrectCount != 4 {
		t.Errorf("CorrectCount = %d, want 4", report.CorrectCount)
	}
	if report.Accuracy != 0.8 {
		t.Errorf("Accuracy = %v, want 0.8", report.Accuracy)
	}
	if report.ByMethod[intent.MethodKeyword] != 2 || report.ByMethod[intent.MethodLLM] != 2 || report.ByMethod[intent.MethodCache] != 1 {
		t.Errorf("ByMethod = %v", report.ByMethod)
	}
	if report.AccuracyByIntent["ISSUE_DIAGNOSIS"] != 0.5 {
		t.Errorf("AccuracyByIntent[ISSUE_DIAGNOSIS] = %v, want 0.5", report.AccuracyByIntent["ISSUE_DIAGNOSIS"])
	}
	if report.CacheHitRate != 0.2 {
		t.Errorf("CacheHitRate = %v, want 0.2", report.CacheHitRate)
	}
	if len(report.Misclassified) != 1 || report.Misclassified[0].Query != "thermostat acting up" {
		t.Errorf("Misclassified = %+v", report.Misclassified)
	}
}

func TestLoadDatasetFromJSON(t *testing.T) {
	e := NewEvaluator(&fakeClassifier{})

	dataset, err := e.LoadDatasetFromJSON(`{"items":[{"query":"q1","expected_intent":"DISCOVERY","category":"smoke"}]}`)
	if err != nil {
		t.Fatalf("LoadDatasetFromJSON() error = %v", err)
	}
	if len(dataset.Items) != 1 || dataset.Items[0].ExpectedIntent != "DISCOVERY" {
		t.Errorf("dataset = %+v", dataset)
	}

	if _, err := e.LoadDatasetFromJSON(`{"items":`); err == nil {
		t.Error("LoadDatasetFromJSON() accepted malformed JSON")
	}
}

func TestGenerateReport(t *testing.T) {
	e := NewEvaluator(&fakeClassifier{})
	text := e.GenerateReport(&EvaluationReport{
		TotalQueries:     2,
		CorrectCount:     1,
		Accuracy:         0.5,
		ByMethod:         map[string]int{"keyword": 1, "llm": 1},
		AccuracyByIntent: map[string]float64{"DISCOVERY": 1.0},
		CacheHitRate:     0.25,
		Misclassified: []ItemResult{
			{Query: "bad one", ExpectedIntent: "DISCOVERY", ActualIntent: "NORMAL_QUERY", Method: "llm"},
		},
	})

	for _, want := range []string{"Total Queries: 2", "keyword: 1", "DISCOVERY: 100.0%", `"bad one"`} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q\n%s", want, text)
		}
	}
}
