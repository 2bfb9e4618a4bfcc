package intent

import (
	"regexp"
	"strings"
	"sync"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/pkg/logger"
)

// Entities are optional fragments pulled from the query. Any subset may be
// empty; extraction failures never fail classification.
type Entities struct {
	DeviceName string `json:"device_name,omitempty"`
	RoomName   string `json:"room_name,omitempty"`
	Timeframe  string `json:"timeframe,omitempty"`
	IssueType  string `json:"issue_type,omitempty"`
}

var (
	timeframeRe = regexp.MustCompile(`(?i)\b(last|past|previous)\s+(\d+\s+)?(minute|hour|day|week|month)s?\b|\b(today|yesterday|tonight|this\s+(morning|afternoon|evening|week))\b|\b(since\s+\w+)\b`)

	issuePatterns = []struct {
		re    *regexp.Regexp
		issue string
	}{
		{regexp.MustCompile(`(?i)\b(offline|disconnect(ed|ing)?|unreachable|lost\s+connection)\b`), "connectivity"},
		{regexp.MustCompile(`(?i)\b(randomly|keeps?\s+(turning|switching|going)|flicker(ing)?|on\s+and\s+off)\b`), "rapid_changes"},
		{regexp.MustCompile(`(?i)\b(battery|power|charge|drain(ing|ed)?)\b`), "battery"},
		{regexp.MustCompile(`(?i)\b(slow|lag(ging)?|delay(ed)?|unresponsive)\b`), "responsiveness"},
		{regexp.MustCompile(`(?i)\b(not\s+working|broken|stopped|won'?t|fail(ed|ing)?)\b`), "malfunction"},
	}
)

// vocabulary holds registry-fed device and room names for entity matching.
type vocabulary struct {
	mu      sync.RWMutex
	devices []string
	rooms   []string
}

func (v *vocabulary) set(deviceNames, roomNames []string) {
	v.mu.Lock()
	v.devices = append([]string(nil), deviceNames...)
	v.rooms = append([]string(nil), roomNames...)
	v.mu.Unlock()
}

func (v *vocabulary) snapshot() (deviceNames, roomNames []string) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.devices, v.rooms
}

// extractEntities pulls device/room names, a timeframe, and an issue type
// from the query. Name matching prefers whole vocabulary phrases in the
// query; noun tokens are the fallback for partial matches.
func extractEntities(query string, vocab *vocabulary) Entities {
	var e Entities
	lower := strings.ToLower(query)

	if m := timeframeRe.FindString(query); m != "" {
		e.Timeframe = strings.ToLower(m)
	}
	for _, p := range issuePatterns {
		if p.re.MatchString(query) {
			e.IssueType = p.issue
			break
		}
	}

	deviceNames, roomNames := vocab.snapshot()

	// Longest vocabulary phrase present in the query wins, so "kitchen
	// ceiling light" is not shadowed by "kitchen light".
	e.DeviceName = longestContained(lower, deviceNames)
	e.RoomName = longestContained(lower, roomNames)

	if e.DeviceName == "" && len(deviceNames) > 0 {
		e.DeviceName = matchNounTokens(query, deviceNames)
	}
	return e
}

func longestContained(lowerQuery string, names []string) string {
	var best string
	for _, name := range names {
		ln := strings.ToLower(name)
		if ln != "" && strings.Contains(lowerQuery, ln) && len(name) > len(best) {
			best = name
		}
	}
	return best
}

// matchNounTokens tokenizes the query and looks for a vocabulary name
// containing one of its tokens. Noun-tagged tokens get priority; the tagger
// misreads some bare device words ("the thermostat offline" tags thermostat
// as an adjective), so any token of matching length is tried second. Catches
// partial references like "the thermostat" against "Hallway Thermostat".
func matchNounTokens(query string, deviceNames []string) string {
	doc, err := prose.NewDocument(query, prose.WithExtraction(false), prose.WithSegmentation(false))
	if err != nil {
		logger.Log.Debug("tokenizing query failed", zap.Error(err))
		return ""
	}
	tokens := doc.Tokens()
	for _, nounsOnly := range []bool{true, false} {
		for _, tok := range tokens {
			if len(tok.Text) < 3 {
				continue
			}
			if nounsOnly && !strings.HasPrefix(tok.Tag, "NN") {
				continue
			}
			if name := nameWithWord(strings.ToLower(tok.Text), deviceNames); name != "" {
				return name
			}
		}
	}
	return ""
}

func nameWithWord(word string, deviceNames []string) string {
	for _, name := range deviceNames {
		for _, w := range strings.Fields(strings.ToLower(name)) {
			if w == word {
				return name
			}
		}
	}
	return ""
}
