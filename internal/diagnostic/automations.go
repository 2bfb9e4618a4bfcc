package diagnostic

import (
	"sort"
	"time"

	"github.com/smarthome-agent/backend/internal/topology"
)

// IdentifiedAutomation is a rule suspected of driving the observed device
// behavior, with a confidence score from its relationship to the device.
type IdentifiedAutomation struct {
	RuleID      string   `json:"rule_id"`
	RuleName    string   `json:"rule_name"`
	Status      string   `json:"status"`
	DeviceRoles []string `json:"device_roles"`
	Confidence  float64  `json:"confidence"`
}

// rankAutomations scores each rule by how it touches the device. Controlling
// the device weighs more than being triggered by it; a recent execution adds
// further weight since it correlates with the events under inspection.
func rankAutomations(refs []topology.RuleRef, deviceID string, now time.Time, recencyWindow time.Duration) []IdentifiedAutomation {
	out := make([]IdentifiedAutomation, 0, len(refs))
	for _, ref := range refs {
		var roles []string
		score := 0.4
		if containsID(ref.ActionDeviceIDs, deviceID) {
			roles = append(roles, "action")
			score += 0.3
		}
		if containsID(ref.TriggerDeviceIDs, deviceID) {
			roles = append(roles, "trigger")
			score += 0.1
		}
		if len(roles) == 0 {
			continue
		}
		if ref.LastExecuted != nil && now.Sub(*ref.LastExecuted) <= recencyWindow {
			score += 0.2
		}
		if score > 1 {
			score = 1
		}
		out = append(out, IdentifiedAutomation{
			RuleID:      ref.RuleID,
			RuleName:    ref.RuleName,
			Status:      ref.Status,
			DeviceRoles: roles,
			Confidence:  score,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
