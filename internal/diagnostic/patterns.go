package diagnostic

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/smarthome-agent/backend/internal/devices"
)

// PatternMatch is a recognizable shape in a device's recent event history.
type PatternMatch struct {
	Pattern     string    `json:"pattern"`
	Description string    `json:"description"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

const (
	PatternRapidChanges      = "rapid_changes"
	PatternConnectivityDrops = "connectivity_drops"
)

// detectPatterns scans events for known trouble shapes. Events may arrive
// in any order; detection sorts by timestamp first.
func detectPatterns(events []devices.Event, rapidCount int, rapidWindow time.Duration) []PatternMatch {
	if len(events) == 0 {
		return nil
	}

	sorted := append([]devices.Event(nil), events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var patterns []PatternMatch
	if m, ok := detectRapidChanges(sorted, rapidCount, rapidWindow); ok {
		patterns = append(patterns, m)
	}
	if m, ok := detectConnectivityDrops(sorted); ok {
		patterns = append(patterns, m)
	}
	return patterns
}

// detectRapidChanges finds a sliding window holding at least rapidCount
// state flips on the same attribute within rapidWindow. The reported match
// covers the densest qualifying window.
func detectRapidChanges(sorted []devices.Event, rapidCount int, rapidWindow time.Duration) (PatternMatch, bool) {
	if rapidCount <= 0 {
		return PatternMatch{}, false
	}

	// Flips are grouped per attribute; switch chatter should not be
	// diluted by unrelated temperature readings.
	byAttribute := make(map[string][]devices.Event)
	for _, e := range sorted {
		key := e.Capability + "." + e.Attribute
		prev := byAttribute[key]
		if len(prev) == 0 || prev[len(prev)-1].Value != e.Value {
			byAttribute[key] = append(prev, e)
		}
	}

	var best PatternMatch
	for _, flips := range byAttribute {
		start := 0
		for end := range flips {
			for flips[end].Timestamp.Sub(flips[start].Timestamp) > rapidWindow {
				start++
			}
			if count := end - start + 1; count >= rapidCount && count > best.Count {
				best = PatternMatch{
					Pattern:     PatternRapidChanges,
					Count:       count,
					WindowStart: flips[start].Timestamp,
					WindowEnd:   flips[end].Timestamp,
				}
			}
		}
	}
	if best.Count == 0 {
		return PatternMatch{}, false
	}
	best.Description = fmt.Sprintf("%d state changes within %s", best.Count, best.WindowEnd.Sub(best.WindowStart).Round(time.Second))
	return best, true
}

// detectConnectivityDrops looks for repeated offline transitions in the
// health-check stream.
func detectConnectivityDrops(sorted []devices.Event) (PatternMatch, bool) {
	var drops []devices.Event
	for _, e := range sorted {
		if e.Capability != string(devices.CapabilityHealthCheck) {
			continue
		}
		if strings.EqualFold(e.Value, "offline") {
			drops = append(drops, e)
		}
	}
	if len(drops) < 2 {
		return PatternMatch{}, false
	}
	return PatternMatch{
		Pattern:     PatternConnectivityDrops,
		Description: fmt.Sprintf("device went offline %d times in the inspected window", len(drops)),
		Count:       len(drops),
		WindowStart: drops[0].Timestamp,
		WindowEnd:   drops[len(drops)-1].Timestamp,
	}, true
}
