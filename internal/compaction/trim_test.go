package compaction

import (
	"context"
	"testing"

	"github.com/lacekit/lace/pkg/models"
)

func toolResult(id, callID, text string) models.ThreadEvent {
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

func TestTrimToolResultsTruncatesLongOutput(t *testing.T) {
	events := []models.ThreadEvent{
		{ID: "e1", Type: models.EventUserMessage, Data: models.EncodeData(models.MessageData{Text: "list files"})},
		toolResult("e2", "call-1", "file1\nfile2\nfile3\nfile4\nfile5"),
	}

	data, err := TrimToolResults{}.Compact(context.Background(), events, nil)
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if data.StrategyID != TrimStrategyID {
		t.Fatalf("StrategyID = %q", data.StrategyID)
	}
	if data.OriginalEventCount != 2 {
		t.Fatalf("OriginalEventCount = %d, want 2", data.OriginalEventCount)
	}
	if len(data.CompactedEvents) != 2 {
		t.Fatalf("CompactedEvents = %d, want 2", len(data.CompactedEvents))
	}

	d, ok, err := models.DecodeToolResult(data.CompactedEvents[1])
	if err != nil || !ok {
		t.Fatalf("decode trimmed result: ok=%v err=%v", ok, err)
	}
	want := "file1\nfile2\nfile3\n[results truncated to save space.]"
	if d.Text() != want {
		t.Fatalf("trimmed text = %q, want %q", d.Text(), want)
	}
	if d.CallID != "call-1" || d.Status != models.ResultCompleted {
		t.Fatalf("trimmed result lost identity: %+v", d)
	}

	// Originals are untouched; only the payload copy is rewritten.
	orig, ok, err := models.DecodeToolResult(events[1])
	if err != nil || !ok {
		t.Fatalf("decode original: ok=%v err=%v", ok, err)
	}
	if orig.Text() != "file1\nfile2\nfile3\nfile4\nfile5" {
		t.Fatalf("original mutated: %q", orig.Text())
	}
}

func TestTrimToolResultsLeavesShortOutput(t *testing.T) {
	events := []models.ThreadEvent{
		toolResult("e1", "call-1", "one\ntwo\nthree"),
		toolResult("e2", "call-2", "single line"),
	}
	data, err := TrimToolResults{}.Compact(context.Background(), events, nil)
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	for i, e := range data.CompactedEvents {
		if string(e.Data) != string(events[i].Data) {
			t.Fatalf("event %d rewritten without need", i)
		}
	}
}

func TestTrimToolResultsMaxLinesParam(t *testing.T) {
	events := []models.ThreadEvent{toolResult("e1", "call-1", "a\nb\nc\nd")}

	data, err := TrimToolResults{}.Compact(context.Background(), events, Params{"max_lines": 1})
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	d, ok, err := models.DecodeToolResult(data.CompactedEvents[0])
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if d.Text() != "a\n[results truncated to save space.]" {
		t.Fatalf("trimmed text = %q", d.Text())
	}

	// JSON-decoded params arrive as float64.
	data, err = TrimToolResults{}.Compact(context.Background(), events, Params{"max_lines": float64(2)})
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	d, _, _ = models.DecodeToolResult(data.CompactedEvents[0])
	if d.Text() != "a\nb\n[results truncated to save space.]" {
		t.Fatalf("trimmed text = %q", d.Text())
	}
}
