package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/smarthome-agent/backend/internal/devices"
	"github.com/smarthome-agent/backend/internal/diagnostic"
	"github.com/smarthome-agent/backend/internal/intent"
	"github.com/smarthome-agent/backend/internal/llm"
	"github.com/smarthome-agent/backend/internal/registry"
	"github.com/smarthome-agent/backend/internal/search/web"
	"github.com/smarthome-agent/backend/internal/semantic"
)

type fakeChatClient struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	requests  []llm.ChatRequest
	err       error
}

func (f *fakeChatClient) ChatWithTools(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return &llm.ChatResponse{Content: "ok", Finished: true}, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeChatClient) lastRequest() llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeWebSearcher struct {
	results []web.SearchResult
	calls   int
	lastCfg web.SearchConfig
}

func (f *fakeWebSearcher) Search(ctx context.Context, query string, cfg web.SearchConfig) ([]web.SearchResult, error) {
	f.calls++
	f.lastCfg = cfg
	return f.results, nil
}

type fakeDirectory struct {
	devices map[string]devices.Device
}

func (f *fakeDirectory) Get(id string) (devices.Device, bool) {
	d, ok := f.devices[id]
	return d, ok
}

func (f *fakeDirectory) ResolveName(name string) (*devices.Device, []devices.Device) {
	for _, d := range f.devices {
		if strings.EqualFold(d.Name, name) {
			match := d
			return &match, nil
		}
	}
	return nil, nil
}

func (f *fakeDirectory) List() []devices.Device {
	out := make([]devices.Device, 0, len(f.devices))
	for _, d := range f.devices {
		out = append(out, d)
	}
	return out
}

func (f *fakeDirectory) SystemStatus() registry.SystemStatus {
	return registry.SystemStatus{TotalDevices: len(f.devices)}
}

type fakeStates struct{}

func (fakeStates) GetDeviceState(ctx context.Context, id string) (devices.State, error) {
	return devices.State{"switch": "on"}, nil
}

type fakeToolSearcher struct{}

func (fakeToolSearcher) SearchDevices(ctx context.Context, query string, opts semantic.SearchOptions) ([]semantic.SearchHit, error) {
	return []semantic.SearchHit{{DeviceID: "d1", Similarity: 0.9}}, nil
}

type fakeDiagnoser struct{ called bool }

func (f *fakeDiagnoser) Execute(ctx context.Context, query string, classification intent.Classification) (*diagnostic.Report, error) {
	f.called = true
	return &diagnostic.Report{Summary: "diagnosed", Confidence: 0.8}, nil
}

type fakeChatClassifier struct{}

func (fakeChatClassifier) Classify(ctx context.Context, query string) intent.Classification {
	return intent.Classification{Intent: intent.IntentIssueDiagnosis, Confidence: 0.9, Method: intent.MethodKeyword}
}

func newTestToolset() (*Toolset, *fakeDiagnoser) {
	diag := &fakeDiagnoser{}
	dir := &fakeDirectory{devices: map[string]devices.Device{
		"d1": {ID: "d1", Name: "Porch Lamp", Room: "Porch"},
	}}
	return NewToolset(dir, fakeStates{}, fakeToolSearcher{}, diag, fakeChatClassifier{}), diag
}

func newTestOrchestrator(client *fakeChatClient, searcher *fakeWebSearcher) *Orchestrator {
	tools, _ := newTestToolset()
	if searcher == nil {
		return NewOrchestrator(client, tools, nil)
	}
	return NewOrchestrator(client, tools, searcher)
}

func TestHandleMessage_ModeCommands(t *testing.T) {
	o := newTestOrchestrator(&fakeChatClient{}, nil)
	ctx := context.Background()

	reply, err := o.HandleMessage(ctx, "s1", "/troubleshoot")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply.Mode != ModeTroubleshooting {
		t.Errorf("Mode = %s, want TROUBLESHOOTING", reply.Mode)
	}

	// Repeating the command is idempotent and says so.
	reply, err = o.HandleMessage(ctx, "s1", "/TROUBLESHOOT")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply.Reply != "Already in troubleshooting mode." {
		t.Errorf("Reply = %q, want already-in-mode message", reply.Reply)
	}
	if reply.Mode != ModeTroubleshooting {
		t.Errorf("Mode = %s, changed by repeated command", reply.Mode)
	}

	reply, _ = o.HandleMessage(ctx, "s1", "/normal")
	if reply.Mode != ModeNormal {
		t.Errorf("Mode = %s, want NORMAL", reply.Mode)
	}
	reply, _ = o.HandleMessage(ctx, "s1", "/normal")
	if reply.Reply != "Already in normal mode." {
		t.Errorf("Reply = %q, want already-in-mode message", reply.Reply)
	}
}

func TestHandleMessage_AutoDetectSwitchesBeforeProcessing(t *testing.T) {
	client := &fakeChatClient{}
	searcher := &fakeWebSearcher{results: []web.SearchResult{
		{Title: "Fixing flaky bulbs", URL: "https://community.smartthings.com/t/1", Snippet: "try rejoining"},
	}}
	o := newTestOrchestrator(client, searcher)

	reply, err := o.HandleMessage(context.Background(), "s1", "my porch lamp is not working")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply.Mode != ModeTroubleshooting {
		t.Errorf("Mode = %s, want auto-switch to TROUBLESHOOTING", reply.Mode)
	}
	if searcher.calls != 1 {
		t.Errorf("web search calls = %d, want 1 (switch happens before processing)", searcher.calls)
	}
	if len(reply.Citations) != 1 || reply.Citations[0].URL != "https://community.smartthings.com/t/1" {
		t.Errorf("Citations = %v, want the search source", reply.Citations)
	}

	// The model must see the findings attached to the user message.
	last := client.requests[0].Messages[len(client.requests[0].Messages)-1]
	if !strings.Contains(last.Content, "Web search findings") {
		t.Error("user message not augmented with search findings")
	}
}

func TestHandleMessage_NormalModeNeverSearches(t *testing.T) {
	searcher := &fakeWebSearcher{}
	o := newTestOrchestrator(&fakeChatClient{}, searcher)

	if _, err := o.HandleMessage(context.Background(), "s1", "what rooms do I have"); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if searcher.calls != 0 {
		t.Errorf("web search calls = %d in NORMAL mode, want 0", searcher.calls)
	}
}

func TestHandleMessage_ModeSwitchPreservesHistory(t *testing.T) {
	client := &fakeChatClient{}
	o := newTestOrchestrator(client, nil)
	ctx := context.Background()

	if _, err := o.HandleMessage(ctx, "s1", "hello there"); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if _, err := o.HandleMessage(ctx, "s1", "/troubleshoot"); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if _, err := o.HandleMessage(ctx, "s1", "the lamp keeps flickering"); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	// Second chat request: history[0] is now the troubleshooting prompt,
	// but the earlier exchange is still there.
	msgs := client.requests[1].Messages
	if msgs[0].Role != llm.RoleSystem || !strings.Contains(msgs[0].Content, "troubleshooting") {
		t.Errorf("history[0] = %q, want troubleshooting system prompt", msgs[0].Content)
	}
	foundEarlier := false
	for _, m := range msgs {
		if m.Role == llm.RoleUser && m.Content == "hello there" {
			foundEarlier = true
		}
	}
	if !foundEarlier {
		t.Error("earlier user message dropped on mode switch")
	}
}

func TestHandleMessage_ToolLoop(t *testing.T) {
	client := &fakeChatClient{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: ToolRunDiagnostic, Arguments: `{"query":"porch lamp flickers"}`}}},
		{Content: "The diagnostic points at an automation.", Finished: true},
	}}
	tools, diag := newTestToolset()
	o := NewOrchestrator(client, tools, nil)

	reply, err := o.HandleMessage(context.Background(), "s1", "run a diagnostic on the porch lamp")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !diag.called {
		t.Error("diagnostic tool not executed")
	}
	if reply.Reply != "The diagnostic points at an automation." {
		t.Errorf("Reply = %q", reply.Reply)
	}

	// The second request must carry the tool result back to the model.
	second := client.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "c1" {
		t.Errorf("tool result not fed back: role=%s id=%s", last.Role, last.ToolCallID)
	}
	if !strings.Contains(last.Content, "diagnosed") {
		t.Errorf("tool result content = %q", last.Content)
	}
}

func TestHandleMessage_UnknownToolFedBackAsError(t *testing.T) {
	client := &fakeChatClient{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "restart_universe", Arguments: `{}`}}},
		{Content: "I can't do that.", Finished: true},
	}}
	o := newTestOrchestrator(client, nil)

	reply, err := o.HandleMessage(context.Background(), "s1", "restart the universe")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v, unknown tool must not kill the chat", err)
	}
	if reply.Reply != "I can't do that." {
		t.Errorf("Reply = %q", reply.Reply)
	}

	second := client.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != llm.RoleTool || !strings.Contains(last.Content, "unknown tool") {
		t.Errorf("unknown-tool error not fed back: %+v", last)
	}
}

func TestToolset_Dispatch(t *testing.T) {
	tools, _ := newTestToolset()
	ctx := context.Background()

	tests := []struct {
		name    string
		call    llm.ToolCall
		want    string
		wantErr error
	}{
		{
			name: "get device by id",
			call: llm.ToolCall{Name: ToolGetDevice, Arguments: `{"device":"d1"}`},
			want: "Porch Lamp",
		},
		{
			name: "get device by name",
			call: llm.ToolCall{Name: ToolGetDevice, Arguments: `{"device":"Porch Lamp"}`},
			want: "d1",
		},
		{
			name: "device state",
			call: llm.ToolCall{Name: ToolGetDeviceState, Arguments: `{"device_id":"d1"}`},
			want: `"switch":"on"`,
		},
		{
			name: "semantic search",
			call: llm.ToolCall{Name: ToolSearchDevices, Arguments: `{"query":"the lamp outside"}`},
			want: "d1",
		},
		{
			name: "system status",
			call: llm.ToolCall{Name: ToolGetSystemStatus, Arguments: `{}`},
			want: "total_devices",
		},
		{
			name:    "unknown tool",
			call:    llm.ToolCall{Name: "no_such_tool", Arguments: `{}`},
			wantErr: ErrUnknownTool,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tools.Dispatch(ctx, tt.call)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Dispatch() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if !strings.Contains(result, tt.want) {
				t.Errorf("Dispatch() = %s, want substring %q", result, tt.want)
			}
		})
	}
}

func TestHandleMessage_ConcurrentSameSession(t *testing.T) {
	client := &fakeChatClient{}
	o := newTestOrchestrator(client, nil)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := o.HandleMessage(ctx, "shared", "hello"); err != nil {
				t.Errorf("HandleMessage() error = %v", err)
			}
		}()
	}
	wg.Wait()

	// One more message; the transcript the model sees must hold every
	// prior exchange: system + workers user/assistant pairs + this user.
	if _, err := o.HandleMessage(ctx, "shared", "final"); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	got := len(client.lastRequest().Messages)
	want := 1 + 2*workers + 1
	if got != want {
		t.Errorf("transcript length = %d, want %d", got, want)
	}
}

func TestSetSearchConfig_OverridesReachSearcher(t *testing.T) {
	searcher := &fakeWebSearcher{results: []web.SearchResult{
		{Title: "Bulb pairing guide", URL: "https://community.smartthings.com/t/2", Snippet: "re-pair"},
	}}
	o := newTestOrchestrator(&fakeChatClient{}, searcher)
	o.SetSearchConfig(web.SearchConfig{MaxResults: 7})

	if _, err := o.HandleMessage(context.Background(), "s1", "my porch lamp is not working"); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if searcher.calls != 1 {
		t.Fatalf("search calls = %d, want 1", searcher.calls)
	}
	if searcher.lastCfg.MaxResults != 7 {
		t.Errorf("MaxResults = %d, want 7", searcher.lastCfg.MaxResults)
	}
	// Fields left zero in the override keep their defaults.
	if searcher.lastCfg.ContextSize != "medium" || searcher.lastCfg.QueryPrefix != "smart home" {
		t.Errorf("defaults lost: %+v", searcher.lastCfg)
	}
}
