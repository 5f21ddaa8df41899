package agent

import (
	"encoding/json"
	"testing"

	"github.com/lacekit/lace/internal/tools"
	"github.com/lacekit/lace/pkg/models"
)

func makeEvent(t *testing.T, eventType models.EventType, data any) models.ThreadEvent {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", eventType, err)
	}
	return models.ThreadEvent{Type: eventType, Data: raw}
}

func TestBuildRequestSystemPrompts(t *testing.T) {
	events := []models.ThreadEvent{
		makeEvent(t, models.EventSystemPrompt, models.MessageData{Text: "be brief"}),
		makeEvent(t, models.EventUserSystemPrompt, models.MessageData{Text: "prefer metric units"}),
		makeEvent(t, models.EventUserMessage, models.MessageData{Text: "hi"}),
	}

	req := buildRequest(events, "m", "base prompt", nil, 1024)
	if req.System != "base prompt\n\nbe brief\n\nprefer metric units" {
		t.Fatalf("system = %q", req.System)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if req.Model != "m" || req.MaxTokens != 1024 {
		t.Fatalf("model/max = %q/%d", req.Model, req.MaxTokens)
	}
}

func TestBuildRequestSkipsLocalSystemMessages(t *testing.T) {
	events := []models.ThreadEvent{
		makeEvent(t, models.EventUserMessage, models.MessageData{Text: "hi"}),
		makeEvent(t, models.EventLocalSystemMessage, models.MessageData{Text: "Provider request failed: timeout"}),
		makeEvent(t, models.EventAgentMessage, models.MessageData{Text: "hello"}),
	}

	req := buildRequest(events, "m", "", nil, 0)
	if len(req.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(req.Messages))
	}
	for _, m := range req.Messages {
		if m.Content == "Provider request failed: timeout" {
			t.Fatal("local system message leaked into the request")
		}
	}
}

func TestBuildRequestToolCallsRideAssistantMessage(t *testing.T) {
	events := []models.ThreadEvent{
		makeEvent(t, models.EventUserMessage, models.MessageData{Text: "list files"}),
		makeEvent(t, models.EventAgentMessage, models.MessageData{Text: "on it"}),
		makeEvent(t, models.EventToolCall, models.ToolCallData{CallID: "call-1", Name: "file_list"}),
		makeEvent(t, models.EventToolResult, models.ToolResultData{
			CallID:  "call-1",
			Content: []models.ContentBlock{models.TextBlock("a.txt")},
			Status:  models.ResultCompleted,
		}),
		makeEvent(t, models.EventAgentMessage, models.MessageData{Text: "one file"}),
	}

	req := buildRequest(events, "m", "", nil, 0)
	roles := make([]string, len(req.Messages))
	for i, m := range req.Messages {
		roles[i] = m.Role
	}
	want := []string{"user", "assistant", "tool", "assistant"}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("roles = %v, want %v", roles, want)
		}
	}

	assistant := req.Messages[1]
	if assistant.Content != "on it" {
		t.Fatalf("assistant content = %q", assistant.Content)
	}
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].CallID != "call-1" {
		t.Fatalf("assistant tool calls = %+v", assistant.ToolCalls)
	}
	toolMsg := req.Messages[2]
	if len(toolMsg.ToolResults) != 1 || toolMsg.ToolResults[0].CallID != "call-1" {
		t.Fatalf("tool message = %+v", toolMsg)
	}
}

func TestBuildRequestOrphanToolCallGetsOwnMessage(t *testing.T) {
	// A compaction can strip the assistant text that carried the call.
	events := []models.ThreadEvent{
		makeEvent(t, models.EventUserMessage, models.MessageData{Text: "go"}),
		makeEvent(t, models.EventToolCall, models.ToolCallData{CallID: "call-1", Name: "shell"}),
	}

	req := buildRequest(events, "m", "", nil, 0)
	if len(req.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(req.Messages))
	}
	if req.Messages[1].Role != "assistant" || len(req.Messages[1].ToolCalls) != 1 {
		t.Fatalf("orphan call message = %+v", req.Messages[1])
	}
}

func TestBuildRequestCarriesToolDefinitions(t *testing.T) {
	defs := []tools.Definition{{Name: "file_read"}, {Name: "shell"}}
	req := buildRequest(nil, "m", "", defs, 0)
	if len(req.Tools) != 2 || req.Tools[0].Name != "file_read" {
		t.Fatalf("tools = %+v", req.Tools)
	}
}

func TestBuildRequestSkipsLegacyToolResults(t *testing.T) {
	events := []models.ThreadEvent{
		makeEvent(t, models.EventUserMessage, models.MessageData{Text: "go"}),
		{Type: models.EventToolResult, Data: json.RawMessage(`"raw legacy payload"`)},
	}

	req := buildRequest(events, "m", "", nil, 0)
	if len(req.Messages) != 1 {
		t.Fatalf("messages = %d, want 1 (legacy result skipped)", len(req.Messages))
	}
}
