package models

import (
	"encoding/json"
	"testing"
)

func TestCallIDExtraction(t *testing.T) {
	call := ThreadEvent{
		Type: EventToolCall,
		Data: EncodeData(ToolCallData{CallID: "call-1", Name: "shell"}),
	}
	if got := call.CallID(); got != "call-1" {
		t.Fatalf("CallID() = %q, want call-1", got)
	}

	result := ThreadEvent{
		Type: EventToolResult,
		Data: EncodeData(ToolResultData{CallID: "call-2", Status: ResultCompleted}),
	}
	if got := result.CallID(); got != "call-2" {
		t.Fatalf("CallID() = %q, want call-2", got)
	}

	message := ThreadEvent{
		Type: EventUserMessage,
		Data: EncodeData(MessageData{Text: "hi"}),
	}
	if got := message.CallID(); got != "" {
		t.Fatalf("CallID() on USER_MESSAGE = %q, want empty", got)
	}
}

func TestDecodeToolResultLegacyString(t *testing.T) {
	legacy := ThreadEvent{
		Type: EventToolResult,
		Data: json.RawMessage(`"plain old result text"`),
	}
	_, ok, err := DecodeToolResult(legacy)
	if err != nil {
		t.Fatalf("DecodeToolResult() error = %v", err)
	}
	if ok {
		t.Fatal("DecodeToolResult() ok = true for legacy string payload")
	}
	if got := legacy.CallID(); got != "" {
		t.Fatalf("CallID() on legacy result = %q, want empty", got)
	}
}

func TestDecodeCompactionMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":         `{`,
		"missing strategy": `{"original_event_count": 3, "compacted_events": []}`,
		"missing count":    `{"strategy_id": "trim-tool-results", "compacted_events": []}`,
		"missing events":   `{"strategy_id": "trim-tool-results", "original_event_count": 3}`,
	}
	for name, payload := range cases {
		e := ThreadEvent{Type: EventCompaction, Data: json.RawMessage(payload)}
		if _, ok := DecodeCompaction(e); ok {
			t.Errorf("%s: DecodeCompaction() ok = true, want false", name)
		}
	}

	valid := ThreadEvent{
		Type: EventCompaction,
		Data: EncodeData(CompactionData{StrategyID: "trim-tool-results", OriginalEventCount: 2}),
	}
	data, ok := DecodeCompaction(valid)
	if !ok {
		t.Fatal("DecodeCompaction() ok = false for valid payload")
	}
	if data.StrategyID != "trim-tool-results" || data.OriginalEventCount != 2 {
		t.Fatalf("DecodeCompaction() = %+v", data)
	}
}

func TestToolResultText(t *testing.T) {
	r := ToolResultData{Content: []ContentBlock{
		TextBlock("one"),
		{Type: "image", Data: "abc"},
		TextBlock("two"),
	}}
	if got := r.Text(); got != "onetwo" {
		t.Fatalf("Text() = %q", got)
	}
}

func TestTokenUsageTotal(t *testing.T) {
	u := TokenUsage{InputTokens: 120, OutputTokens: 30}
	if got := u.Total(); got != 150 {
		t.Fatalf("Total() = %d, want 150", got)
	}
}
