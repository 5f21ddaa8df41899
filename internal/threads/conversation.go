package threads

import (
	"github.com/lacekit/lace/pkg/models"
)

// BuildWorkingConversation derives the working conversation from the raw
// event list. It is a pure function: two calls on an unchanged list return
// equivalent sequences.
//
// The derivation applies the latest structurally valid COMPACTION event,
// splicing its replacement prefix before the compaction event and the raw
// suffix after it, then deduplicates tool results. A malformed compaction
// payload falls back to the raw list; reads never fail on bad stored data.
func BuildWorkingConversation(raw []models.ThreadEvent) []models.ThreadEvent {
	last := -1
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i].Type == models.EventCompaction {
			last = i
			break
		}
	}
	if last < 0 {
		return dedupeToolResults(raw)
	}

	data, ok := models.DecodeCompaction(raw[last])
	if !ok {
		// Defensive fallback: surface the raw history untouched.
		out := make([]models.ThreadEvent, len(raw))
		copy(out, raw)
		return out
	}

	working := make([]models.ThreadEvent, 0, len(data.CompactedEvents)+1+len(raw)-last-1)
	working = append(working, data.CompactedEvents...)
	working = append(working, raw[last])
	working = append(working, raw[last+1:]...)
	return dedupeToolResults(working)
}

// dedupeToolResults keeps only the first TOOL_RESULT per call identifier and
// drops object-form results that carry no call identifier at all. Legacy
// raw-string payloads pass through unchanged.
func dedupeToolResults(events []models.ThreadEvent) []models.ThreadEvent {
	out := make([]models.ThreadEvent, 0, len(events))
	seen := make(map[string]bool)
	for _, e := range events {
		if e.Type != models.EventToolResult {
			out = append(out, e)
			continue
		}
		d, ok, err := models.DecodeToolResult(e)
		if err != nil || !ok {
			// Legacy or undecodable payloads pass through.
			out = append(out, e)
			continue
		}
		if d.CallID == "" {
			continue
		}
		if seen[d.CallID] {
			continue
		}
		seen[d.CallID] = true
		out = append(out, e)
	}
	return out
}
