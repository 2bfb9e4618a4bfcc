package diagnostic

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/smarthome-agent/backend/internal/devices"
	"github.com/smarthome-agent/backend/internal/intent"
	"github.com/smarthome-agent/backend/internal/registry"
	"github.com/smarthome-agent/backend/internal/semantic"
	"github.com/smarthome-agent/backend/internal/topology"
)

type fakeDeviceService struct {
	events    []devices.Event
	eventsErr error
	health    *devices.Health
	healthErr error
}

func (f *fakeDeviceService) GetDeviceEvents(ctx context.Context, id string, lookback time.Duration) ([]devices.Event, error) {
	return f.events, f.eventsErr
}

func (f *fakeDeviceService) GetDeviceHealth(ctx context.Context, id string) (*devices.Health, error) {
	return f.health, f.healthErr
}

type fakeResolver struct {
	device     *devices.Device
	candidates []devices.Device
	status     registry.SystemStatus
}

func (f *fakeResolver) ResolveName(name string) (*devices.Device, []devices.Device) {
	return f.device, f.candidates
}

func (f *fakeResolver) SystemStatus() registry.SystemStatus { return f.status }

type fakeSearcher struct {
	hits     []semantic.SearchHit
	err      error
	lastOpts semantic.SearchOptions
}

func (f *fakeSearcher) SearchDevices(ctx context.Context, query string, opts semantic.SearchOptions) ([]semantic.SearchHit, error) {
	f.lastOpts = opts
	return f.hits, f.err
}

type fakeRules struct {
	refs   []topology.RuleRef
	err    error
	called bool
}

func (f *fakeRules) RulesForDevice(ctx context.Context, deviceID string) ([]topology.RuleRef, error) {
	f.called = true
	return f.refs, f.err
}

func lampDevice() *devices.Device {
	return &devices.Device{ID: "smartthings:lamp-1", Name: "Porch Lamp", Label: "Porch Lamp", Room: "Porch", Online: true}
}

func classificationFor(deviceName string) intent.Classification {
	return intent.Classification{
		Intent:     intent.IntentIssueDiagnosis,
		Confidence: 0.9,
		Method:     intent.MethodKeyword,
		Entities:   intent.Entities{DeviceName: deviceName},
	}
}

// flipEvents builds n alternating on/off switch events spaced apart.
func flipEvents(n int, spacing time.Duration) []devices.Event {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	events := make([]devices.Event, n)
	for i := 0; i < n; i++ {
		value := "on"
		if i%2 == 1 {
			value = "off"
		}
		events[i] = devices.Event{
			DeviceID:   "smartthings:lamp-1",
			Capability: "switch",
			Attribute:  "switch",
			Value:      value,
			Timestamp:  base.Add(time.Duration(i) * spacing),
		}
	}
	return events
}

func TestExecute_FullContext(t *testing.T) {
	svc := &fakeDeviceService{
		events: flipEvents(4, time.Hour),
		health: &devices.Health{DeviceID: "smartthings:lamp-1", Status: devices.HealthOnline},
	}
	resolver := &fakeResolver{device: lampDevice(), status: registry.SystemStatus{TotalDevices: 10, OnlineDevices: 9}}
	searcher := &fakeSearcher{hits: []semantic.SearchHit{{DeviceID: "smartthings:lamp-2", Similarity: 0.7}}}
	w := NewWorkflow(svc, resolver, searcher, &fakeRules{}, Config{})

	report, err := w.Execute(context.Background(), "porch lamp is acting up", classificationFor("Porch Lamp"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if report.Context.Device == nil || report.Context.Device.ID != "smartthings:lamp-1" {
		t.Error("device not pinned in context")
	}
	if report.Context.Health == nil {
		t.Error("health missing from context")
	}
	if len(report.Context.RecentEvents) != 4 {
		t.Errorf("events = %d, want 4", len(report.Context.RecentEvents))
	}
	if len(report.Context.SimilarDevices) != 1 {
		t.Errorf("similar devices = %d, want 1", len(report.Context.SimilarDevices))
	}
	if report.Context.SystemStatus == nil || report.Context.SystemStatus.TotalDevices != 10 {
		t.Error("system status missing from context")
	}
	if len(report.Context.FailedSources) != 0 {
		t.Errorf("failed sources = %v, want none", report.Context.FailedSources)
	}
	if len(report.Recommendations) == 0 {
		t.Error("expected at least one recommendation")
	}
}

func TestExecute_PartialFailureTolerated(t *testing.T) {
	svc := &fakeDeviceService{
		eventsErr: errors.New("events endpoint down"),
		health:    &devices.Health{DeviceID: "smartthings:lamp-1", Status: devices.HealthOnline},
	}
	resolver := &fakeResolver{device: lampDevice()}
	w := NewWorkflow(svc, resolver, &fakeSearcher{}, nil, Config{})

	report, err := w.Execute(context.Background(), "lamp trouble", classificationFor("Porch Lamp"))
	if err != nil {
		t.Fatalf("Execute() error = %v, want partial success", err)
	}
	if len(report.Context.FailedSources) != 1 || report.Context.FailedSources[0] != "events" {
		t.Errorf("FailedSources = %v, want [events]", report.Context.FailedSources)
	}
	if report.Context.Health == nil {
		t.Error("surviving source dropped from context")
	}
}

func TestExecute_AllSourcesFailed(t *testing.T) {
	svc := &fakeDeviceService{
		eventsErr: errors.New("down"),
		healthErr: errors.New("down"),
	}
	resolver := &fakeResolver{device: lampDevice()}
	searcher := &fakeSearcher{err: errors.New("down")}
	w := NewWorkflow(svc, resolver, searcher, nil, Config{})

	_, err := w.Execute(context.Background(), "lamp trouble", classificationFor("Porch Lamp"))
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Errorf("Execute() error = %v, want ErrAllSourcesFailed", err)
	}
}

func TestExecute_ConfidenceScalesWithSources(t *testing.T) {
	resolver := &fakeResolver{device: lampDevice()}

	full := NewWorkflow(&fakeDeviceService{health: &devices.Health{Status: devices.HealthOnline}}, resolver, &fakeSearcher{}, nil, Config{})
	fullReport, err := full.Execute(context.Background(), "q", classificationFor("Porch Lamp"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	partial := NewWorkflow(&fakeDeviceService{healthErr: errors.New("down"), eventsErr: errors.New("down")}, resolver, &fakeSearcher{}, nil, Config{})
	partialReport, err := partial.Execute(context.Background(), "q", classificationFor("Porch Lamp"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if partialReport.Confidence >= fullReport.Confidence {
		t.Errorf("partial confidence %v not below full confidence %v", partialReport.Confidence, fullReport.Confidence)
	}
}

func TestExecute_RapidChangesTriggerAutomationLookup(t *testing.T) {
	recent := time.Now().Add(-time.Hour)
	svc := &fakeDeviceService{events: flipEvents(6, 30*time.Second)}
	resolver := &fakeResolver{device: lampDevice()}
	rules := &fakeRules{refs: []topology.RuleRef{
		{
			RuleID:          "rule-9",
			RuleName:        "Evening Porch Light",
			Status:          "Enabled",
			ActionDeviceIDs: []string{"smartthings:lamp-1"},
			LastExecuted:    &recent,
		},
		{
			RuleID:           "rule-4",
			RuleName:         "Motion Notify",
			Status:           "Enabled",
			TriggerDeviceIDs: []string{"smartthings:lamp-1"},
		},
	}}
	w := NewWorkflow(svc, resolver, &fakeSearcher{}, rules, Config{})

	report, err := w.Execute(context.Background(), "lamp keeps flipping", classificationFor("Porch Lamp"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !rules.called {
		t.Fatal("automation lookup not consulted despite rapid changes")
	}
	if !hasPattern(report.Context.RelatedIssues, PatternRapidChanges) {
		t.Fatal("rapid_changes pattern not detected")
	}

	autos := report.Context.IdentifiedAutomations
	if len(autos) != 2 {
		t.Fatalf("identified automations = %d, want 2", len(autos))
	}
	// Action edge plus recent execution outranks a trigger-only edge.
	if autos[0].RuleID != "rule-9" {
		t.Errorf("top automation = %s, want rule-9", autos[0].RuleID)
	}
	if autos[0].Confidence <= autos[1].Confidence {
		t.Errorf("ranking not descending: %v <= %v", autos[0].Confidence, autos[1].Confidence)
	}

	// The suspected automation must be named, not alluded to.
	found := false
	for _, rec := range report.Recommendations {
		if strings.Contains(rec, "Evening Porch Light") {
			found = true
		}
	}
	if !found {
		t.Errorf("recommendations do not name the automation: %v", report.Recommendations)
	}
	if !strings.Contains(report.Summary, "Evening Porch Light") {
		t.Errorf("summary does not name the automation: %s", report.Summary)
	}
}

func TestExecute_NoRapidChangesSkipsAutomations(t *testing.T) {
	svc := &fakeDeviceService{events: flipEvents(3, time.Hour)}
	resolver := &fakeResolver{device: lampDevice()}
	rules := &fakeRules{}
	w := NewWorkflow(svc, resolver, &fakeSearcher{}, rules, Config{})

	if _, err := w.Execute(context.Background(), "lamp", classificationFor("Porch Lamp")); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if rules.called {
		t.Error("automation lookup consulted without a rapid_changes pattern")
	}
}

func TestExecute_AmbiguousDeviceStaysUnpinned(t *testing.T) {
	resolver := &fakeResolver{candidates: []devices.Device{
		{ID: "d1", Name: "Hall Light"},
		{ID: "d2", Name: "Hall Light 2"},
	}}
	w := NewWorkflow(&fakeDeviceService{}, resolver, &fakeSearcher{}, nil, Config{})

	report, err := w.Execute(context.Background(), "hall light broken", classificationFor("Hall Light"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if report.Context.Device != nil {
		t.Error("ambiguous reference was pinned to a device")
	}
	if len(report.Context.CandidateDevices) != 2 {
		t.Errorf("candidates = %d, want 2", len(report.Context.CandidateDevices))
	}
	if !strings.Contains(report.Summary, "ambiguous") {
		t.Errorf("summary does not surface ambiguity: %s", report.Summary)
	}
}

func TestDetectPatterns(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		events      []devices.Event
		rapidCount  int
		wantPattern string
	}{
		{
			name:        "six flips in five minutes",
			events:      flipEvents(6, 40*time.Second),
			rapidCount:  6,
			wantPattern: PatternRapidChanges,
		},
		{
			name:        "flips spread over hours",
			events:      flipEvents(6, time.Hour),
			rapidCount:  6,
			wantPattern: "",
		},
		{
			name: "repeated values are not flips",
			events: []devices.Event{
				{Capability: "switch", Attribute: "switch", Value: "on", Timestamp: base},
				{Capability: "switch", Attribute: "switch", Value: "on", Timestamp: base.Add(time.Second)},
				{Capability: "switch", Attribute: "switch", Value: "on", Timestamp: base.Add(2 * time.Second)},
			},
			rapidCount:  3,
			wantPattern: "",
		},
		{
			name: "connectivity drops",
			events: []devices.Event{
				{Capability: string(devices.CapabilityHealthCheck), Attribute: "status", Value: "offline", Timestamp: base},
				{Capability: string(devices.CapabilityHealthCheck), Attribute: "status", Value: "online", Timestamp: base.Add(time.Minute)},
				{Capability: string(devices.CapabilityHealthCheck), Attribute: "status", Value: "offline", Timestamp: base.Add(2 * time.Minute)},
			},
			rapidCount:  10,
			wantPattern: PatternConnectivityDrops,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectPatterns(tt.events, tt.rapidCount, 5*time.Minute)
			if tt.wantPattern == "" {
				if len(got) != 0 {
					t.Errorf("detectPatterns() = %v, want none", got)
				}
				return
			}
			if !hasPattern(got, tt.wantPattern) {
				t.Errorf("detectPatterns() = %v, want %s", got, tt.wantPattern)
			}
		})
	}
}

func TestSimilarDeviceLimitConfigured(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantLimit int
	}{
		{name: "configured limit", cfg: Config{SimilarDeviceLimit: 8}, wantLimit: 8},
		{name: "zero takes default", cfg: Config{}, wantLimit: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &fakeSearcher{hits: []semantic.SearchHit{{DeviceID: "smartthings:lamp-2", Similarity: 0.7}}}
			svc := &fakeDeviceService{health: &devices.Health{DeviceID: "smartthings:lamp-1", Status: devices.HealthOnline}}
			w := NewWorkflow(svc, &fakeResolver{device: lampDevice()}, searcher, nil, tt.cfg)

			if _, err := w.Execute(context.Background(), "lamp trouble", classificationFor("Porch Lamp")); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if searcher.lastOpts.Limit != tt.wantLimit {
				t.Errorf("search limit = %d, want %d", searcher.lastOpts.Limit, tt.wantLimit)
			}
		})
	}
}
