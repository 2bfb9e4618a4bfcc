package semantic

import (
	"strings"

	"github.com/smarthome-agent/backend/internal/devices"
	"github.com/smarthome-agent/backend/pkg/utils"
)

// Document is the denormalized text+metadata projection of a device used
// for embedding and indexing. Regenerated whenever the source device
// changes; 1:1 with the device while indexed.
type Document struct {
	DeviceID     string `json:"device_id"`
	Text         string `json:"text"`
	Room         string `json:"room"`
	Type         string `json:"type"`
	Manufacturer string `json:"manufacturer"`
	Online       bool   `json:"online"`
}

// DocumentFromDevice builds the embeddable projection. The text concatenates
// the descriptive fields so similarity search matches on any of them.
func DocumentFromDevice(d devices.Device) Document {
	var parts []string

	name := d.DisplayName()
	if name != "" {
		parts = append(parts, name)
	}
	if d.Label != "" && d.Label != name {
		parts = append(parts, d.Label)
	}
	if d.Room != "" {
		parts = append(parts, "in "+d.Room)
	}
	if d.Type != "" {
		parts = append(parts, d.Type)
	}
	if len(d.Capabilities) > 0 {
		caps := make([]string, 0, len(d.Capabilities))
		for _, c := range d.Capabilities {
			caps = append(caps, string(c))
		}
		parts = append(parts, strings.Join(caps, " "))
	}
	if d.Manufacturer != "" {
		parts = append(parts, "by "+d.Manufacturer)
	}

	return Document{
		DeviceID:     d.ID,
		Text:         strings.Join(parts, ", "),
		Room:         d.Room,
		Type:         d.Type,
		Manufacturer: d.Manufacturer,
		Online:       d.Online,
	}
}

// ContentHash fingerprints the document for change detection during sync.
func (d Document) ContentHash() string {
	return utils.HashString(d.Text + "|" + d.Room + "|" + d.Type + "|" + onlineTag(d.Online))
}

func onlineTag(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}
