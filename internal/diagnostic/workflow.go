package diagnostic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/internal/devices"
	"github.com/smarthome-agent/backend/internal/intent"
	"github.com/smarthome-agent/backend/internal/registry"
	"github.com/smarthome-agent/backend/internal/semantic"
	"github.com/smarthome-agent/backend/internal/topology"
	"github.com/smarthome-agent/backend/pkg/logger"
)

// ErrAllSourcesFailed means no data source produced anything to diagnose
// with. Partial failures are tolerated; total failure is not.
var ErrAllSourcesFailed = errors.New("all diagnostic sources failed")

// Context is everything gathered about the problem before forming a
// verdict. Absent sources leave their fields zero and appear in
// FailedSources.
type Context struct {
	Device                *devices.Device        `json:"device,omitempty"`
	CandidateDevices      []devices.Device       `json:"candidate_devices,omitempty"`
	Health                *devices.Health        `json:"health,omitempty"`
	RecentEvents          []devices.Event        `json:"recent_events,omitempty"`
	SimilarDevices        []semantic.SearchHit   `json:"similar_devices,omitempty"`
	SystemStatus          *registry.SystemStatus `json:"system_status,omitempty"`
	RelatedIssues         []PatternMatch         `json:"related_issues,omitempty"`
	IdentifiedAutomations []IdentifiedAutomation `json:"identified_automations,omitempty"`
	FailedSources         []string               `json:"failed_sources,omitempty"`
}

// Report is the workflow's final output. Not mutated after return.
type Report struct {
	Summary         string    `json:"summary"`
	Confidence      float64   `json:"confidence"`
	Context         Context   `json:"context"`
	Recommendations []string  `json:"recommendations"`
	GeneratedAt     time.Time `json:"generated_at"`
}

type deviceService interface {
	GetDeviceEvents(ctx context.Context, id string, lookback time.Duration) ([]devices.Event, error)
	GetDeviceHealth(ctx context.Context, id string) (*devices.Health, error)
}

type deviceResolver interface {
	ResolveName(name string) (*devices.Device, []devices.Device)
	SystemStatus() registry.SystemStatus
}

type deviceSearcher interface {
	SearchDevices(ctx context.Context, query string, opts semantic.SearchOptions) ([]semantic.SearchHit, error)
}

type ruleLookup interface {
	RulesForDevice(ctx context.Context, deviceID string) ([]topology.RuleRef, error)
}

// Config tunes the workflow. Zero values take the listed defaults.
type Config struct {
	EventLookback       time.Duration // 24h
	RapidChangeCount    int           // 6
	RapidChangeWindow   time.Duration // 5m
	BranchTimeout       time.Duration // 5s
	AutomationThreshold float64       // 0.5
	RecencyWindow       time.Duration // 24h, automation execution recency credit
	SimilarDeviceLimit  int           // 5
}

func (c *Config) applyDefaults() {
	if c.EventLookback <= 0 {
		c.EventLookback = 24 * time.Hour
	}
	if c.RapidChangeCount <= 0 {
		c.RapidChangeCount = 6
	}
	if c.RapidChangeWindow <= 0 {
		c.RapidChangeWindow = 5 * time.Minute
	}
	if c.BranchTimeout <= 0 {
		c.BranchTimeout = 5 * time.Second
	}
	if c.AutomationThreshold <= 0 {
		c.AutomationThreshold = 0.5
	}
	if c.RecencyWindow <= 0 {
		c.RecencyWindow = 24 * time.Hour
	}
	if c.SimilarDeviceLimit <= 0 {
		c.SimilarDeviceLimit = 5
	}
}

// Workflow runs the diagnostic data gathering and analysis for one query.
type Workflow struct {
	service  deviceService
	resolver deviceResolver
	searcher deviceSearcher
	rules    ruleLookup
	cfg      Config
	now      func() time.Time
}

// NewWorkflow wires a workflow. rules may be nil when no topology graph is
// configured; the automation step is then skipped.
func NewWorkflow(service deviceService, resolver deviceResolver, searcher deviceSearcher, rules ruleLookup, cfg Config) *Workflow {
	cfg.applyDefaults()
	return &Workflow{
		service:  service,
		resolver: resolver,
		searcher: searcher,
		rules:    rules,
		cfg:      cfg,
		now:      time.Now,
	}
}

type branchResult struct {
	source string
	err    error
}

// Execute gathers context from every source in parallel, analyzes it, and
// returns the report. It fails only when no source yields data.
func (w *Workflow) Execute(ctx context.Context, query string, classification intent.Classification) (*Report, error) {
	dc := Context{}

	if name := classification.Entities.DeviceName; name != "" {
		device, candidates := w.resolver.ResolveName(name)
		if device != nil {
			dc.Device = device
		} else if len(candidates) > 0 {
			// Ambiguous reference stays unpinned; the candidates go
			// into the report so the caller can ask for a choice.
			dc.CandidateDevices = candidates
		}
	}

	// System status comes from the in-memory registry and cannot fail.
	status := w.resolver.SystemStatus()
	dc.SystemStatus = &status

	results := w.gather(ctx, query, &dc)

	attempted, succeeded := 0, 0
	for _, r := range results {
		attempted++
		if r.err != nil {
			dc.FailedSources = append(dc.FailedSources, r.source)
			logger.Warn("diagnostic source failed",
				zap.String("source", r.source), zap.Error(r.err))
		} else {
			succeeded++
		}
	}
	if attempted > 0 && succeeded == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAllSourcesFailed, strings.Join(dc.FailedSources, ", "))
	}

	dc.RelatedIssues = detectPatterns(dc.RecentEvents, w.cfg.RapidChangeCount, w.cfg.RapidChangeWindow)

	// Rapid state changes point at automations fighting the user or each
	// other; only then is the topology graph consulted.
	if w.rules != nil && dc.Device != nil && hasPattern(dc.RelatedIssues, PatternRapidChanges) {
		refs, err := w.rules.RulesForDevice(ctx, dc.Device.ID)
		if err != nil {
			dc.FailedSources = append(dc.FailedSources, "automations")
			logger.Warn("automation lookup failed", zap.Error(err))
		} else {
			dc.IdentifiedAutomations = rankAutomations(refs, dc.Device.ID, w.now(), w.cfg.RecencyWindow)
		}
	}

	report := &Report{
		Summary:         w.buildSummary(query, dc),
		Confidence:      w.confidence(dc, attempted, succeeded),
		Context:         dc,
		Recommendations: w.recommendations(dc),
		GeneratedAt:     w.now(),
	}
	return report, nil
}

// gather runs the remote branches concurrently, each under its own timeout.
// Branches write disjoint fields of dc, so no lock is needed.
func (w *Workflow) gather(ctx context.Context, query string, dc *Context) []branchResult {
	type branch struct {
		source string
		run    func(context.Context) error
	}

	branches := []branch{
		{"similar_devices", func(bctx context.Context) error {
			hits, err := w.searcher.SearchDevices(bctx, query, semantic.SearchOptions{Limit: w.cfg.SimilarDeviceLimit})
			if err != nil {
				return err
			}
			dc.SimilarDevices = hits
			return nil
		}},
	}
	if dc.Device != nil {
		deviceID := dc.Device.ID
		branches = append(branches,
			branch{"health", func(bctx context.Context) error {
				health, err := w.service.GetDeviceHealth(bctx, deviceID)
				if err != nil {
					return err
				}
				dc.Health = health
				return nil
			}},
			branch{"events", func(bctx context.Context) error {
				events, err := w.service.GetDeviceEvents(bctx, deviceID, w.cfg.EventLookback)
				if err != nil {
					return err
				}
				dc.RecentEvents = events
				return nil
			}},
		)
	}

	results := make([]branchResult, len(branches))
	var wg sync.WaitGroup
	for i, b := range branches {
		wg.Add(1)
		go func(i int, b branch) {
			defer wg.Done()
			bctx, cancel := context.WithTimeout(ctx, w.cfg.BranchTimeout)
			defer cancel()
			results[i] = branchResult{source: b.source, err: b.run(bctx)}
		}(i, b)
	}
	wg.Wait()
	return results
}

// confidence grows with the fraction of sources that answered, and an
// identified automation above the threshold adds a fixed boost.
func (w *Workflow) confidence(dc Context, attempted, succeeded int) float64 {
	confidence := 0.2
	if attempted > 0 {
		confidence += 0.6 * float64(succeeded) / float64(attempted)
	}
	if len(dc.IdentifiedAutomations) > 0 && dc.IdentifiedAutomations[0].Confidence >= w.cfg.AutomationThreshold {
		confidence += 0.15
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

func (w *Workflow) buildSummary(query string, dc Context) string {
	var b strings.Builder

	switch {
	case dc.Device != nil:
		fmt.Fprintf(&b, "Diagnostic for %s", dc.Device.DisplayName())
		if dc.Device.Room != "" {
			fmt.Fprintf(&b, " (%s)", dc.Device.Room)
		}
		b.WriteString(". ")
	case len(dc.CandidateDevices) > 0:
		names := make([]string, 0, len(dc.CandidateDevices))
		for _, d := range dc.CandidateDevices {
			names = append(names, d.DisplayName())
		}
		fmt.Fprintf(&b, "The device reference is ambiguous between: %s. ", strings.Join(names, ", "))
	default:
		fmt.Fprintf(&b, "Diagnostic for %q. ", query)
	}

	if dc.Health != nil {
		fmt.Fprintf(&b, "Reported health: %s. ", dc.Health.Status)
	}
	for _, p := range dc.RelatedIssues {
		switch p.Pattern {
		case PatternRapidChanges:
			fmt.Fprintf(&b, "Detected rapid state changes (%s). ", p.Description)
		case PatternConnectivityDrops:
			fmt.Fprintf(&b, "Detected repeated connectivity drops (%s). ", p.Description)
		}
	}
	if len(dc.IdentifiedAutomations) > 0 {
		top := dc.IdentifiedAutomations[0]
		if top.Confidence >= w.cfg.AutomationThreshold {
			fmt.Fprintf(&b, "The automation %q is likely involved: it has the device as %s.",
				top.RuleName, strings.Join(top.DeviceRoles, " and "))
		}
	}
	return strings.TrimSpace(b.String())
}

func (w *Workflow) recommendations(dc Context) []string {
	var recs []string

	if len(dc.IdentifiedAutomations) > 0 {
		top := dc.IdentifiedAutomations[0]
		if top.Confidence >= w.cfg.AutomationThreshold {
			recs = append(recs, fmt.Sprintf(
				"Review the automation %q (status: %s). Disabling it temporarily will confirm whether it is causing this behavior.",
				top.RuleName, top.Status))
		}
	}
	if hasPattern(dc.RelatedIssues, PatternConnectivityDrops) {
		recs = append(recs, "Check the device's signal path: distance to the hub, interference sources, and hub placement.")
	}
	if dc.Health != nil {
		if dc.Health.Status == devices.HealthOffline {
			recs = append(recs, "The device is offline. Power-cycle it and verify it rejoins the network.")
		}
		if dc.Health.BatteryLevel != nil && *dc.Health.BatteryLevel <= 20 {
			recs = append(recs, fmt.Sprintf("Battery is at %d%%. Replace or recharge it; low battery causes erratic reporting.", *dc.Health.BatteryLevel))
		}
	}
	if len(dc.CandidateDevices) > 0 {
		recs = append(recs, "Specify which device you mean so the diagnosis can target it.")
	}
	if len(recs) == 0 {
		recs = append(recs, "No fault pattern stood out. If the problem persists, try power-cycling the device and re-running the diagnostic.")
	}
	return recs
}

func hasPattern(patterns []PatternMatch, name string) bool {
	for _, p := range patterns {
		if p.Pattern == name {
			return true
		}
	}
	return false
}
