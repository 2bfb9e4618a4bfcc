package llm

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func TestToOpenAIMessages(t *testing.T) {
	in := []ChatMessage{
		{Role: RoleSystem, Content: "you are helpful"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "get_device", Arguments: `{"id":"d1"}`}}},
		{Role: RoleTool, Content: `{"ok":true}`, ToolCallID: "c1", Name: "get_device"},
	}

	out := toOpenAIMessages(in)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	if out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "you are helpful" {
		t.Errorf("system message = %+v", out[0])
	}
	if len(out[1].ToolCalls) != 1 {
		t.Fatalf("assistant tool calls = %d, want 1", len(out[1].ToolCalls))
	}
	tc := out[1].ToolCalls[0]
	if tc.ID != "c1" || tc.Type != openai.ToolTypeFunction || tc.Function.Name != "get_device" || tc.Function.Arguments != `{"id":"d1"}` {
		t.Errorf("tool call = %+v", tc)
	}
	if out[2].ToolCallID != "c1" || out[2].Name != "get_device" {
		t.Errorf("tool result message = %+v", out[2])
	}
}

func TestToOpenAITools(t *testing.T) {
	params := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
	}
	out := toOpenAITools([]ToolDefinition{{Name: "search_devices", Description: "find devices", Parameters: params}})

	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	if out[0].Type != openai.ToolTypeFunction {
		t.Errorf("Type = %v, want function", out[0].Type)
	}
	fn := out[0].Function
	if fn.Name != "search_devices" || fn.Description != "find devices" {
		t.Errorf("Function = %+v", fn)
	}
	if _, ok := fn.Parameters.(map[string]interface{}); !ok {
		t.Errorf("Parameters type = %T", fn.Parameters)
	}
}
