package devices

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/pkg/logger"
)

// HTTPClient implements Service and AutomationService against a
// SmartThings-compatible REST bridge.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type wireDevice struct {
	DeviceID     string `json:"deviceId"`
	Name         string `json:"name"`
	Label        string `json:"label"`
	RoomName     string `json:"roomName"`
	Manufacturer string `json:"manufacturerName"`
	DeviceType   string `json:"deviceTypeName"`
	Components   []struct {
		Capabilities []struct {
			ID string `json:"id"`
		} `json:"capabilities"`
	} `json:"components"`
	Online bool `json:"online"`
}

func (w wireDevice) toDevice() Device {
	var caps []Capability
	for _, comp := range w.Components {
		for _, c := range comp.Capabilities {
			caps = append(caps, Capability(c.ID))
		}
	}
	return Device{
		ID:           "smartthings:" + w.DeviceID,
		Name:         w.Name,
		Label:        w.Label,
		Room:         w.RoomName,
		Manufacturer: w.Manufacturer,
		Type:         w.DeviceType,
		Capabilities: caps,
		Online:       w.Online,
	}
}

// platformID strips the platform prefix before hitting the bridge.
func platformID(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return id[i+1:]
		}
	}
	return id
}

func (c *HTTPClient) ListDevices(ctx context.Context) ([]Device, error) {
	var resp struct {
		Items []wireDevice `json:"items"`
	}
	if err := c.get(ctx, "/devices", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	devices := make([]Device, 0, len(resp.Items))
	for _, item := range resp.Items {
		devices = append(devices, item.toDevice())
	}

	logger.Debug("Devices listed from platform", zap.Int("count", len(devices)))
	return devices, nil
}

func (c *HTTPClient) GetDevice(ctx context.Context, id string) (*Device, error) {
	var wire wireDevice
	err := c.get(ctx, "/devices/"+platformID(id), nil, &wire)
	if err != nil {
		return nil, err
	}
	device := wire.toDevice()
	return &device, nil
}

func (c *HTTPClient) GetDeviceState(ctx context.Context, id string) (State, error) {
	var resp struct {
		Components map[string]map[string]map[string]struct {
			Value interface{} `json:"value"`
		} `json:"components"`
	}
	if err := c.get(ctx, "/devices/"+platformID(id)+"/status", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get device state: %w", err)
	}

	state := State{}
	for _, capabilities := range resp.Components {
		for _, attributes := range capabilities {
			for attr, v := range attributes {
				state[attr] = v.Value
			}
		}
	}
	return state, nil
}

func (c *HTTPClient) ExecuteCommand(ctx context.Context, id string, capability Capability, command string, args []interface{}) error {
	payload := map[string]interface{}{
		"commands": []map[string]interface{}{
			{
				"capability": string(capability),
				"command":    command,
				"arguments":  args,
			},
		},
	}

	if err := c.post(ctx, "/devices/"+platformID(id)+"/commands", payload, nil); err != nil {
		return fmt.Errorf("failed to execute command %s.%s: %w", capability, command, err)
	}

	logger.Info("Command executed",
		zap.String("device_id", id),
		zap.String("capability", string(capability)),
		zap.String("command", command),
	)
	return nil
}

func (c *HTTPClient) GetDeviceEvents(ctx context.Context, id string, lookback time.Duration) ([]Event, error) {
	params := url.Values{}
	params.Set("since", time.Now().Add(-lookback).UTC().Format(time.RFC3339))

	var resp struct {
		Items []struct {
			DeviceID   string    `json:"deviceId"`
			Capability string    `json:"capability"`
			Attribute  string    `json:"attribute"`
			Value      string    `json:"value"`
			Time       time.Time `json:"time"`
		} `json:"items"`
	}
	if err := c.get(ctx, "/devices/"+platformID(id)+"/events", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to get device events: %w", err)
	}

	events := make([]Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		events = append(events, Event{
			DeviceID:   id,
			Capability: item.Capability,
			Attribute:  item.Attribute,
			Value:      item.Value,
			Timestamp:  item.Time,
		})
	}
	return events, nil
}

func (c *HTTPClient) GetDeviceHealth(ctx context.Context, id string) (*Health, error) {
	var resp struct {
		State       string    `json:"state"`
		LastUpdated time.Time `json:"lastUpdatedDate"`
	}
	if err := c.get(ctx, "/devices/"+platformID(id)+"/health", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get device health: %w", err)
	}

	return &Health{
		DeviceID:    id,
		Status:      resp.State,
		LastUpdated: resp.LastUpdated,
	}, nil
}

func (c *HTTPClient) ListRules(ctx context.Context, locationID string) ([]Rule, error) {
	params := url.Values{}
	if locationID != "" {
		params.Set("locationId", locationID)
	}

	var resp struct {
		Items []struct {
			ID               string     `json:"id"`
			Name             string     `json:"name"`
			Status           string     `json:"status"`
			TriggerDeviceIDs []string   `json:"triggerDeviceIds"`
			ActionDeviceIDs  []string   `json:"actionDeviceIds"`
			LastExecutedDate *time.Time `json:"lastExecutedDate"`
		} `json:"items"`
	}
	if err := c.get(ctx, "/rules", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	rules := make([]Rule, 0, len(resp.Items))
	for _, item := range resp.Items {
		triggers := make([]string, 0, len(item.TriggerDeviceIDs))
		for _, id := range item.TriggerDeviceIDs {
			triggers = append(triggers, "smartthings:"+id)
		}
		actions := make([]string, 0, len(item.ActionDeviceIDs))
		for _, id := range item.ActionDeviceIDs {
			actions = append(actions, "smartthings:"+id)
		}
		rules = append(rules, Rule{
			ID:               item.ID,
			Name:             item.Name,
			Status:           item.Status,
			TriggerDeviceIDs: triggers,
			ActionDeviceIDs:  actions,
			LastExecuted:     item.LastExecutedDate,
		})
	}
	return rules, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrDeviceNotFound
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("platform returned status %d: %s", resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
