package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/smarthome-agent/backend/internal/devices"
	"github.com/smarthome-agent/backend/internal/diagnostic"
	"github.com/smarthome-agent/backend/internal/intent"
	"github.com/smarthome-agent/backend/internal/llm"
	"github.com/smarthome-agent/backend/internal/registry"
	"github.com/smarthome-agent/backend/internal/semantic"
)

// ErrUnknownTool is returned when the model requests a tool that is not in
// the set. The dispatcher feeds it back as a tool error instead of failing
// the conversation.
var ErrUnknownTool = errors.New("unknown tool")

// Tool names exposed to the model.
const (
	ToolSearchDevices   = "search_devices"
	ToolGetDevice       = "get_device"
	ToolGetDeviceState  = "get_device_state"
	ToolListDevices     = "list_devices"
	ToolRunDiagnostic   = "run_diagnostic"
	ToolGetSystemStatus = "get_system_status"
)

type deviceDirectory interface {
	Get(id string) (devices.Device, bool)
	ResolveName(name string) (*devices.Device, []devices.Device)
	List() []devices.Device
	SystemStatus() registry.SystemStatus
}

type stateService interface {
	GetDeviceState(ctx context.Context, id string) (devices.State, error)
}

type deviceSearcher interface {
	SearchDevices(ctx context.Context, query string, opts semantic.SearchOptions) ([]semantic.SearchHit, error)
}

type diagnoser interface {
	Execute(ctx context.Context, query string, classification intent.Classification) (*diagnostic.Report, error)
}

type queryClassifier interface {
	Classify(ctx context.Context, query string) intent.Classification
}

// Toolset executes the model's tool calls against the live system.
type Toolset struct {
	directory  deviceDirectory
	states     stateService
	searcher   deviceSearcher
	diagnostic diagnoser
	classifier queryClassifier
}

func NewToolset(directory deviceDirectory, states stateService, searcher deviceSearcher, diag diagnoser, classifier queryClassifier) *Toolset {
	return &Toolset{
		directory:  directory,
		states:     states,
		searcher:   searcher,
		diagnostic: diag,
		classifier: classifier,
	}
}

// Definitions lists the tool schemas sent with every chat request.
func (t *Toolset) Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        ToolSearchDevices,
			Description: "Semantic search over the device inventory. Use for fuzzy references like 'the light near the door'.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string", "description": "Natural language device description"},
					"limit": map[string]interface{}{"type": "integer", "description": "Max results, default 5"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        ToolGetDevice,
			Description: "Fetch one device by exact id or name.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"device": map[string]interface{}{"type": "string", "description": "Device id or name"},
				},
				"required": []string{"device"},
			},
		},
		{
			Name:        ToolGetDeviceState,
			Description: "Current attribute values of a device (switch, level, temperature...).",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"device_id": map[string]interface{}{"type": "string"},
				},
				"required": []string{"device_id"},
			},
		},
		{
			Name:        ToolListDevices,
			Description: "List all registered devices, optionally filtered by room.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"room": map[string]interface{}{"type": "string", "description": "Optional room filter"},
				},
			},
		},
		{
			Name:        ToolRunDiagnostic,
			Description: "Run the full diagnostic workflow for a reported problem. Returns findings and recommendations.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string", "description": "The problem description, including the device"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        ToolGetSystemStatus,
			Description: "Overview of the whole home: device counts, online/offline, rooms.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// Dispatch runs one tool call and returns its JSON result. An unknown name
// yields ErrUnknownTool; argument and execution errors are returned as-is
// for the caller to report back to the model.
func (t *Toolset) Dispatch(ctx context.Context, call llm.ToolCall) (string, error) {
	var args map[string]interface{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return "", fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	switch call.Name {
	case ToolSearchDevices:
		return t.searchDevices(ctx, args)
	case ToolGetDevice:
		return t.getDevice(args)
	case ToolGetDeviceState:
		return t.getDeviceState(ctx, args)
	case ToolListDevices:
		return t.listDevices(args)
	case ToolRunDiagnostic:
		return t.runDiagnostic(ctx, args)
	case ToolGetSystemStatus:
		return t.systemStatus()
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
}

func (t *Toolset) searchDevices(ctx context.Context, args map[string]interface{}) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "", errors.New("search_devices requires a query")
	}
	limit := intArg(args, "limit", 5)
	hits, err := t.searcher.SearchDevices(ctx, query, semantic.SearchOptions{Limit: limit})
	if err != nil {
		return "", err
	}
	return marshalResult(hits)
}

func (t *Toolset) getDevice(args map[string]interface{}) (string, error) {
	ref := stringArg(args, "device")
	if ref == "" {
		return "", errors.New("get_device requires a device id or name")
	}
	if d, ok := t.directory.Get(ref); ok {
		return marshalResult(d)
	}
	device, candidates := t.directory.ResolveName(ref)
	if device != nil {
		return marshalResult(device)
	}
	if len(candidates) > 0 {
		return marshalResult(map[string]interface{}{
			"ambiguous":  true,
			"candidates": candidates,
		})
	}
	return "", devices.ErrDeviceNotFound
}

func (t *Toolset) getDeviceState(ctx context.Context, args map[string]interface{}) (string, error) {
	id := stringArg(args, "device_id")
	if id == "" {
		return "", errors.New("get_device_state requires a device_id")
	}
	state, err := t.states.GetDeviceState(ctx, id)
	if err != nil {
		return "", err
	}
	return marshalResult(state)
}

func (t *Toolset) listDevices(args map[string]interface{}) (string, error) {
	room := stringArg(args, "room")
	all := t.directory.List()
	if room == "" {
		return marshalResult(all)
	}
	filtered := make([]devices.Device, 0, len(all))
	for _, d := range all {
		if d.Room == room {
			filtered = append(filtered, d)
		}
	}
	return marshalResult(filtered)
}

func (t *Toolset) runDiagnostic(ctx context.Context, args map[string]interface{}) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "", errors.New("run_diagnostic requires a query")
	}
	classification := t.classifier.Classify(ctx, query)
	report, err := t.diagnostic.Execute(ctx, query, classification)
	if err != nil {
		return "", err
	}
	return marshalResult(report)
}

func (t *Toolset) systemStatus() (string, error) {
	return marshalResult(t.directory.SystemStatus())
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]interface{}, key string, fallback int) int {
	if f, ok := args[key].(float64); ok && f > 0 {
		return int(f)
	}
	return fallback
}

func marshalResult(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding tool result: %w", err)
	}
	return string(data), nil
}
