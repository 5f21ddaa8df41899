package threads

import (
	"encoding/json"
	"testing"

	"github.com/lacekit/lace/pkg/models"
)

func userEvent(id, text string) models.ThreadEvent {
	return models.ThreadEvent{
		ID:   id,
		Type: models.EventUserMessage,
		Data: models.EncodeData(models.MessageData{Text: text}),
	}
}

func agentEvent(id, text string) models.ThreadEvent {
	return models.ThreadEvent{
		ID:   id,
		Type: models.EventAgentMessage,
		Data: models.EncodeData(models.MessageData{Text: text}),
	}
}

func resultEvent(id, callID, text string) models.ThreadEvent {
	return models.ThreadEvent{
		ID:   id,
		Type: models.EventToolResult,
		Data: models.EncodeData(models.ToolResultData{
			CallID:  callID,
			Content: []models.ContentBlock{models.TextBlock(text)},
			Status:  models.ResultCompleted,
		}),
	}
}

func TestBuildWorkingConversationNoCompaction(t *testing.T) {
	raw := []models.ThreadEvent{
		userEvent("e1", "hello"),
		agentEvent("e2", "hi there"),
	}
	working := BuildWorkingConversation(raw)
	if len(working) != 2 {
		t.Fatalf("expected 2 events, got %d", len(working))
	}
	if working[0].ID != "e1" || working[1].ID != "e2" {
		t.Fatalf("order changed: %s, %s", working[0].ID, working[1].ID)
	}
}

func TestBuildWorkingConversationAppliesLatestCompaction(t *testing.T) {
	summary := agentEvent("sum", "summary of earlier chat")
	compaction := models.ThreadEvent{
		ID:   "c1",
		Type: models.EventCompaction,
		Data: models.EncodeData(models.CompactionData{
			StrategyID:         "trim-tool-results",
			OriginalEventCount: 3,
			CompactedEvents:    []models.ThreadEvent{summary},
		}),
	}
	raw := []models.ThreadEvent{
		userEvent("e1", "a"),
		agentEvent("e2", "b"),
		userEvent("e3", "c"),
		compaction,
		userEvent("e4", "after"),
	}

	working := BuildWorkingConversation(raw)
	wantIDs := []string{"sum", "c1", "e4"}
	if len(working) != len(wantIDs) {
		t.Fatalf("expected %d events, got %d", len(wantIDs), len(working))
	}
	for i, want := range wantIDs {
		if working[i].ID != want {
			t.Fatalf("working[%d] = %s, want %s", i, working[i].ID, want)
		}
	}

	// Derivation is pure: a second call over the unchanged raw list agrees.
	again := BuildWorkingConversation(raw)
	if len(again) != len(working) {
		t.Fatalf("second derivation diverged: %d vs %d", len(again), len(working))
	}
	for i := range working {
		if again[i].ID != working[i].ID {
			t.Fatalf("second derivation diverged at %d: %s vs %s", i, again[i].ID, working[i].ID)
		}
	}
}

func TestBuildWorkingConversationMalformedCompactionFallsBack(t *testing.T) {
	raw := []models.ThreadEvent{
		userEvent("e1", "a"),
		{ID: "c1", Type: models.EventCompaction, Data: json.RawMessage(`{"strategy_id": "x"}`)},
		userEvent("e2", "b"),
	}
	working := BuildWorkingConversation(raw)
	if len(working) != 3 {
		t.Fatalf("expected raw list of 3, got %d", len(working))
	}
	for i := range raw {
		if working[i].ID != raw[i].ID {
			t.Fatalf("fallback changed event %d: %s vs %s", i, working[i].ID, raw[i].ID)
		}
	}
}

func TestDedupeToolResultsFirstWins(t *testing.T) {
	raw := []models.ThreadEvent{
		resultEvent("r1", "call-1", "first"),
		resultEvent("r2", "call-1", "second"),
		resultEvent("r3", "call-2", "other"),
	}
	working := BuildWorkingConversation(raw)
	if len(working) != 2 {
		t.Fatalf("expected 2 results after dedupe, got %d", len(working))
	}
	if working[0].ID != "r1" || working[1].ID != "r3" {
		t.Fatalf("dedupe kept wrong events: %s, %s", working[0].ID, working[1].ID)
	}
}

func TestDedupeToolResultsDropsMissingCallID(t *testing.T) {
	raw := []models.ThreadEvent{
		{ID: "r1", Type: models.EventToolResult, Data: models.EncodeData(models.ToolResultData{Status: models.ResultCompleted})},
		resultEvent("r2", "call-1", "kept"),
	}
	working := BuildWorkingConversation(raw)
	if len(working) != 1 || working[0].ID != "r2" {
		t.Fatalf("expected only r2, got %d events", len(working))
	}
}

func TestDedupeToolResultsKeepsLegacyStrings(t *testing.T) {
	raw := []models.ThreadEvent{
		{ID: "r1", Type: models.EventToolResult, Data: json.RawMessage(`"legacy output"`)},
		{ID: "r2", Type: models.EventToolResult, Data: json.RawMessage(`"legacy output"`)},
	}
	working := BuildWorkingConversation(raw)
	if len(working) != 2 {
		t.Fatalf("legacy results must pass through, got %d", len(working))
	}
}
