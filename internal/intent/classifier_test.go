package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smarthome-agent/backend/internal/llm"
)

type fakeCompleter struct {
	response string
	err      error
	calls    int
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.response}, nil
}

func TestClassify_KeywordRules(t *testing.T) {
	c := NewClassifier(&fakeCompleter{err: errors.New("should not be called")}, 100, time.Minute)
	ctx := context.Background()

	tests := []struct {
		query string
		want  Intent
	}{
		{"my kitchen light is not working", IntentIssueDiagnosis},
		{"why is the thermostat offline", IntentIssueDiagnosis},
		{"the porch light keeps turning on randomly", IntentIssueDiagnosis},
		{"what is the status of the front door lock", IntentDeviceHealth},
		{"is the bedroom sensor online", IntentDeviceHealth},
		{"show me the system status", IntentSystemStatus},
		{"how many devices do I have", IntentSystemStatus},
		{"find all motion sensors", IntentDiscovery},
		{"what devices are in the kitchen", IntentDiscovery},
		{"enter troubleshooting mode", IntentModeManagement},
		{"switch to normal mode please", IntentModeManagement},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := c.Classify(ctx, tt.query)
			if got.Intent != tt.want {
				t.Errorf("Classify(%q).Intent = %s, want %s", tt.query, got.Intent, tt.want)
			}
			if got.Method != MethodKeyword {
				t.Errorf("Classify(%q).Method = %s, want keyword", tt.query, got.Method)
			}
			if got.Confidence <= 0 || got.Confidence > 1 {
				t.Errorf("Classify(%q).Confidence = %v, out of range", tt.query, got.Confidence)
			}
		})
	}
}

func TestClassify_ModeOutranksHealth(t *testing.T) {
	// "enter ... mode" mentions no device but could pattern-match status
	// phrasing; the mode rule must win.
	c := NewClassifier(&fakeCompleter{}, 100, time.Minute)
	got := c.Classify(context.Background(), "enter troubleshooting mode to check device status")
	if got.Intent != IntentModeManagement {
		t.Errorf("Intent = %s, want MODE_MANAGEMENT", got.Intent)
	}
}

func TestClassify_CacheHit(t *testing.T) {
	fake := &fakeCompleter{response: `{"intent":"NORMAL_QUERY","confidence":0.8}`}
	c := NewClassifier(fake, 100, time.Minute)
	ctx := context.Background()

	first := c.Classify(ctx, "tell me a joke about robots")
	if first.Method != MethodLLM {
		t.Fatalf("first Method = %s, want llm", first.Method)
	}

	// Same query modulo case and whitespace hits the cache.
	second := c.Classify(ctx, "  Tell me a JOKE about robots ")
	if second.Method != MethodCache {
		t.Errorf("second Method = %s, want cache", second.Method)
	}
	if second.Intent != first.Intent {
		t.Errorf("cached Intent = %s, want %s", second.Intent, first.Intent)
	}
	if fake.calls != 1 {
		t.Errorf("llm calls = %d, want 1", fake.calls)
	}

	stats := c.CacheStats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("CacheStats = %+v, want 1 hit 1 miss", stats)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("HitRate = %v, want 0.5", stats.HitRate)
	}
}

func TestClassify_LLMFallbacks(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeCompleter
		want Classification
	}{
		{
			name: "llm error",
			fake: &fakeCompleter{err: errors.New("rate limited")},
			want: Classification{Intent: IntentNormalQuery, Confidence: 0.3, Method: MethodLLM},
		},
		{
			name: "unparseable response",
			fake: &fakeCompleter{response: "I think this is a normal question"},
			want: Classification{Intent: IntentNormalQuery, Confidence: 0.3, Method: MethodLLM},
		},
		{
			name: "unknown intent value",
			fake: &fakeCompleter{response: `{"intent":"SMALL_TALK","confidence":0.9}`},
			want: Classification{Intent: IntentNormalQuery, Confidence: 0.3, Method: MethodLLM},
		},
		{
			name: "fenced json accepted",
			fake: &fakeCompleter{response: "```json\n{\"intent\":\"DISCOVERY\",\"confidence\":0.7}\n```"},
			want: Classification{Intent: IntentDiscovery, Confidence: 0.7, Method: MethodLLM},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(tt.fake, 100, time.Minute)
			got := c.Classify(context.Background(), "ambiguous query with no keywords here")
			if got.Intent != tt.want.Intent || got.Confidence != tt.want.Confidence || got.Method != tt.want.Method {
				t.Errorf("Classify() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClassify_EntitiesFromVocabulary(t *testing.T) {
	c := NewClassifier(&fakeCompleter{}, 100, time.Minute)
	c.SetVocabulary(
		[]string{"Kitchen Light", "Kitchen Ceiling Light", "Front Door Lock"},
		[]string{"Kitchen", "Bedroom"},
	)

	got := c.Classify(context.Background(), "why is the kitchen ceiling light not working since yesterday")
	if got.Entities.DeviceName != "Kitchen Ceiling Light" {
		t.Errorf("DeviceName = %q, want longest match Kitchen Ceiling Light", got.Entities.DeviceName)
	}
	if got.Entities.RoomName != "Kitchen" {
		t.Errorf("RoomName = %q, want Kitchen", got.Entities.RoomName)
	}
	if got.Entities.Timeframe != "since yesterday" {
		t.Errorf("Timeframe = %q, want since yesterday", got.Entities.Timeframe)
	}
	if got.Entities.IssueType != "malfunction" {
		t.Errorf("IssueType = %q, want malfunction", got.Entities.IssueType)
	}
}

func TestClassify_EntityExtractionRunsOnCacheHit(t *testing.T) {
	c := NewClassifier(&fakeCompleter{}, 100, time.Minute)
	ctx := context.Background()

	c.Classify(ctx, "is the thermostat offline")

	c.SetVocabulary([]string{"Hallway Thermostat"}, nil)
	got := c.Classify(ctx, "is the thermostat offline")
	if got.Method != MethodCache {
		t.Fatalf("Method = %s, want cache", got.Method)
	}
	if got.Entities.DeviceName != "Hallway Thermostat" {
		t.Errorf("DeviceName = %q, want Hallway Thermostat from refreshed vocabulary", got.Entities.DeviceName)
	}
}

func TestCache_EvictionAndTTL(t *testing.T) {
	cache := newClassificationCache(2, time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.put("a", Classification{Intent: IntentDiscovery})
	cache.put("b", Classification{Intent: IntentDeviceHealth})
	cache.put("c", Classification{Intent: IntentSystemStatus})

	// "a" was the oldest insertion and must be gone.
	if _, ok := cache.get("a"); ok {
		t.Error("expected a evicted")
	}
	if _, ok := cache.get("b"); !ok {
		t.Error("expected b present")
	}
	if _, ok := cache.get("c"); !ok {
		t.Error("expected c present")
	}

	// Expiry counts as a miss and drops the entry.
	now = now.Add(2 * time.Minute)
	if _, ok := cache.get("b"); ok {
		t.Error("expected b expired")
	}

	stats := cache.stats()
	if stats.Hits != 2 || stats.Misses != 2 {
		t.Errorf("stats = %+v, want 2 hits 2 misses", stats)
	}
	if stats.Size != 1 {
		t.Errorf("Size = %d, want 1 (c remains)", stats.Size)
	}
}

func TestExtractEntities_TokenFallback(t *testing.T) {
	v := &vocabulary{}
	v.set([]string{"Hallway Thermostat", "Porch Lamp"}, []string{"Hallway"})

	// The tagger marks "thermostat" as an adjective here; the fallback must
	// still resolve it against the vocabulary.
	e := extractEntities("is the thermostat offline", v)
	if e.DeviceName != "Hallway Thermostat" {
		t.Errorf("DeviceName = %q, want Hallway Thermostat", e.DeviceName)
	}
	if e.IssueType != "connectivity" {
		t.Errorf("IssueType = %q, want connectivity", e.IssueType)
	}
}
