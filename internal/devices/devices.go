package devices

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrRuleNotFound   = errors.New("rule not found")
)

type Capability string

const (
	CapabilitySwitch       Capability = "switch"
	CapabilitySwitchLevel  Capability = "switchLevel"
	CapabilityMotionSensor Capability = "motionSensor"
	CapabilityContact      Capability = "contactSensor"
	CapabilityTemperature  Capability = "temperatureMeasurement"
	CapabilityBattery      Capability = "battery"
	CapabilityLock         Capability = "lock"
	CapabilityHealthCheck  Capability = "healthCheck"
)

// Device is the platform-agnostic view of a device. IDs are prefixed with
// their platform ("smartthings:", "tuya:", "lutron:") so they stay globally
// unique across bridges.
type Device struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	Label            string                 `json:"label"`
	Room             string                 `json:"room"`
	Manufacturer     string                 `json:"manufacturer"`
	Type             string                 `json:"type"`
	Capabilities     []Capability           `json:"capabilities"`
	Online           bool                   `json:"online"`
	PlatformSpecific map[string]interface{} `json:"platform_specific,omitempty"`
}

// HasCapability reports whether the device exposes the given capability.
func (d Device) HasCapability(c Capability) bool {
	for _, cap := range d.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// DisplayName prefers the user-assigned label over the platform name.
func (d Device) DisplayName() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Name
}

// State is the current attribute map of a device, e.g. {"switch": "on"}.
type State map[string]interface{}

type Event struct {
	DeviceID   string    `json:"device_id"`
	Capability string    `json:"capability"`
	Attribute  string    `json:"attribute"`
	Value      string    `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// Health status values as reported by the platform.
const (
	HealthOnline  = "ONLINE"
	HealthOffline = "OFFLINE"
	HealthUnknown = "UNKNOWN"
)

type Health struct {
	DeviceID     string    `json:"device_id"`
	Status       string    `json:"status"` // ONLINE, OFFLINE, UNKNOWN
	LastUpdated  time.Time `json:"last_updated"`
	BatteryLevel *int      `json:"battery_level,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// Rule is an automation rule as reported by the platform, reduced to the
// device references the diagnostic workflow cares about.
type Rule struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Status           string     `json:"status"` // Enabled, Disabled
	TriggerDeviceIDs []string   `json:"trigger_device_ids"`
	ActionDeviceIDs  []string   `json:"action_device_ids"`
	LastExecuted     *time.Time `json:"last_executed,omitempty"`
}

// ReferencesDevice reports whether the rule names the device as a trigger or
// an action target.
func (r Rule) ReferencesDevice(deviceID string) (trigger, action bool) {
	for _, id := range r.TriggerDeviceIDs {
		if id == deviceID {
			trigger = true
			break
		}
	}
	for _, id := range r.ActionDeviceIDs {
		if id == deviceID {
			action = true
			break
		}
	}
	return trigger, action
}

// Service is the device platform capability consumed by the diagnostic core.
// Implementations wrap a platform bridge; the core never talks to a platform
// API directly.
type Service interface {
	ListDevices(ctx context.Context) ([]Device, error)
	GetDevice(ctx context.Context, id string) (*Device, error)
	GetDeviceState(ctx context.Context, id string) (State, error)
	ExecuteCommand(ctx context.Context, id string, capability Capability, command string, args []interface{}) error
	GetDeviceEvents(ctx context.Context, id string, lookback time.Duration) ([]Event, error)
	GetDeviceHealth(ctx context.Context, id string) (*Health, error)
}

// AutomationService lists the automation rules of a location.
type AutomationService interface {
	ListRules(ctx context.Context, locationID string) ([]Rule, error)
}
