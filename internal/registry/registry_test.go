package registry

import (
	"reflect"
	"testing"

	"github.com/smarthome-agent/backend/internal/devices"
)

func seedRegistry() *Registry {
	r := New()
	r.Refresh([]devices.Device{
		{ID: "d1", Name: "kitchen-light-1", Label: "Kitchen Ceiling Light", Room: "Kitchen", Type: "Light", Online: true},
		{ID: "d2", Name: "kitchen-light-2", Label: "Kitchen Counter Light", Room: "Kitchen", Type: "Light", Online: true},
		{ID: "d3", Name: "hall-thermostat", Label: "Hallway Thermostat", Room: "Hallway", Type: "Thermostat", Online: false},
		{ID: "d4", Name: "front-lock", Label: "Front Door Lock", Room: "Entry", Type: "Lock", Online: true},
	})
	return r
}

func TestRefreshReplacesContents(t *testing.T) {
	r := seedRegistry()
	if r.Count() != 4 {
		t.Fatalf("Count() = %d, want 4", r.Count())
	}

	r.Refresh([]devices.Device{{ID: "d9", Label: "New Sensor"}})
	if r.Count() != 1 {
		t.Fatalf("Count() after refresh = %d, want 1", r.Count())
	}
	if _, ok := r.Get("d1"); ok {
		t.Error("Get(d1) still present after refresh")
	}
	if _, ok := r.Get("d9"); !ok {
		t.Error("Get(d9) missing after refresh")
	}
}

func TestUpsertAndRemove(t *testing.T) {
	r := New()
	r.Upsert(devices.Device{ID: "d1", Label: "Lamp"})
	r.Upsert(devices.Device{ID: "d1", Label: "Desk Lamp"})
	if r.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", r.Count())
	}
	d, _ := r.Get("d1")
	if d.Label != "Desk Lamp" {
		t.Errorf("Label = %q, want %q", d.Label, "Desk Lamp")
	}

	r.Remove("d1")
	if r.Count() != 0 {
		t.Errorf("Count() after remove = %d, want 0", r.Count())
	}
}

func TestResolveName(t *testing.T) {
	r := seedRegistry()

	tests := []struct {
		name           string
		query          string
		wantID         string
		wantCandidates []string
	}{
		{name: "exact label", query: "Kitchen Ceiling Light", wantID: "d1"},
		{name: "exact label case insensitive", query: "kitchen ceiling light", wantID: "d1"},
		{name: "exact internal name", query: "hall-thermostat", wantID: "d3"},
		{name: "unique partial", query: "thermostat", wantID: "d3"},
		{name: "ambiguous partial", query: "kitchen", wantCandidates: []string{"d1", "d2"}},
		{name: "no match", query: "garage opener"},
		{name: "blank", query: "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pinned, candidates := r.ResolveName(tt.query)
			if tt.wantID != "" {
				if pinned == nil {
					t.Fatalf("ResolveName(%q) pinned nothing, want %s", tt.query, tt.wantID)
				}
				if pinned.ID != tt.wantID {
					t.Errorf("ResolveName(%q) = %s, want %s", tt.query, pinned.ID, tt.wantID)
				}
				return
			}
			if pinned != nil {
				t.Fatalf("ResolveName(%q) pinned %s, want none", tt.query, pinned.ID)
			}
			var ids []string
			for _, c := range candidates {
				ids = append(ids, c.ID)
			}
			if !reflect.DeepEqual(ids, tt.wantCandidates) {
				t.Errorf("candidates = %v, want %v", ids, tt.wantCandidates)
			}
		})
	}
}

func TestListSortedByID(t *testing.T) {
	r := seedRegistry()
	list := r.List()
	for i := 1; i < len(list); i++ {
		if list[i-1].ID >= list[i].ID {
			t.Fatalf("List() not sorted: %s before %s", list[i-1].ID, list[i].ID)
		}
	}
}

func TestVocabulary(t *testing.T) {
	r := seedRegistry()

	names := r.DeviceNames()
	want := []string{"Front Door Lock", "Hallway Thermostat", "Kitchen Ceiling Light", "Kitchen Counter Light"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("DeviceNames() = %v, want %v", names, want)
	}

	rooms := r.RoomNames()
	wantRooms := []string{"Entry", "Hallway", "Kitchen"}
	if !reflect.DeepEqual(rooms, wantRooms) {
		t.Errorf("RoomNames() = %v, want %v", rooms, wantRooms)
	}
}

func TestSystemStatus(t *testing.T) {
	r := seedRegistry()
	status := r.SystemStatus()

	if status.TotalDevices != 4 {
		t.Errorf("TotalDevices = %d, want 4", status.TotalDevices)
	}
	if status.OnlineDevices != 3 || status.OfflineDevices != 1 {
		t.Errorf("online/offline = %d/%d, want 3/1", status.OnlineDevices, status.OfflineDevices)
	}
	if status.Rooms != 3 {
		t.Errorf("Rooms = %d, want 3", status.Rooms)
	}
	if status.DevicesByRoom["Kitchen"] != 2 {
		t.Errorf("DevicesByRoom[Kitchen] = %d, want 2", status.DevicesByRoom["Kitchen"])
	}
	if status.DevicesByType["Light"] != 2 {
		t.Errorf("DevicesByType[Light] = %d, want 2", status.DevicesByType["Light"])
	}
}
