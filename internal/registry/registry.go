package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/internal/devices"
	"github.com/smarthome-agent/backend/pkg/logger"
)

// Registry is the in-memory index of known devices, keyed by unified id.
// Devices are created on discovery, refreshed on state changes and removed
// only explicitly.
type Registry struct {
	mu          sync.RWMutex
	devices     map[string]devices.Device
	lastRefresh time.Time
}

// SystemStatus is the registry-derived fleet summary used by the
// SYSTEM_STATUS diagnostic branch.
type SystemStatus struct {
	TotalDevices   int            `json:"total_devices"`
	OnlineDevices  int            `json:"online_devices"`
	OfflineDevices int            `json:"offline_devices"`
	Rooms          int            `json:"rooms"`
	DevicesByRoom  map[string]int `json:"devices_by_room"`
	DevicesByType  map[string]int `json:"devices_by_type"`
}

func New() *Registry {
	return &Registry{
		devices: make(map[string]devices.Device),
	}
}

func (r *Registry) Upsert(d devices.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[d.ID] = d
}

// Refresh replaces the registry contents with a full device listing.
func (r *Registry) Refresh(list []devices.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = make(map[string]devices.Device, len(list))
	for _, d := range list {
		r.devices[d.ID] = d
	}
	r.lastRefresh = time.Now()

	logger.Info("Device registry refreshed", zap.Int("devices", len(list)))
}

func (r *Registry) Get(id string) (devices.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, id)
}

// List returns all devices sorted by id for deterministic iteration.
func (r *Registry) List() []devices.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]devices.Device, 0, len(r.devices))
	for _, d := range r.devices {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// ResolveName matches a free-text device name against names and labels.
// A single exact (case-insensitive) match wins; otherwise substring matches
// are collected. Multiple matches mean the reference is ambiguous and no
// device is pinned.
func (r *Registry) ResolveName(name string) (*devices.Device, []devices.Device) {
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}

	needle := strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	defer r.mu.RUnlock()

	var exact []devices.Device
	var partial []devices.Device
	for _, d := range r.devices {
		dn := strings.ToLower(d.DisplayName())
		n := strings.ToLower(d.Name)
		switch {
		case dn == needle || n == needle:
			exact = append(exact, d)
		case strings.Contains(dn, needle) || strings.Contains(needle, dn):
			partial = append(partial, d)
		}
	}

	if len(exact) == 1 {
		return &exact[0], nil
	}
	if len(exact) > 1 {
		sortByID(exact)
		return nil, exact
	}
	if len(partial) == 1 {
		return &partial[0], nil
	}
	sortByID(partial)
	return nil, partial
}

// DeviceNames returns display names for the classifier vocabulary.
func (r *Registry) DeviceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.devices))
	var names []string
	for _, d := range r.devices {
		name := d.DisplayName()
		if name == "" {
			continue
		}
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (r *Registry) RoomNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var rooms []string
	for _, d := range r.devices {
		if d.Room == "" {
			continue
		}
		if _, ok := seen[d.Room]; !ok {
			seen[d.Room] = struct{}{}
			rooms = append(rooms, d.Room)
		}
	}
	sort.Strings(rooms)
	return rooms
}

func (r *Registry) SystemStatus() SystemStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := SystemStatus{
		TotalDevices:  len(r.devices),
		DevicesByRoom: make(map[string]int),
		DevicesByType: make(map[string]int),
	}
	for _, d := range r.devices {
		if d.Online {
			status.OnlineDevices++
		} else {
			status.OfflineDevices++
		}
		if d.Room != "" {
			status.DevicesByRoom[d.Room]++
		}
		if d.Type != "" {
			status.DevicesByType[d.Type]++
		}
	}
	status.Rooms = len(status.DevicesByRoom)
	return status
}

func sortByID(list []devices.Device) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}
