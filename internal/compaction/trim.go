package compaction

import (
	"context"
	"strings"

	"github.com/lacekit/lace/pkg/models"
)

const (
	// TrimStrategyID identifies the trim-tool-results strategy.
	TrimStrategyID = "trim-tool-results"

	// DefaultMaxResultLines is the retained line count per tool result.
	DefaultMaxResultLines = 3

	truncationMarker = "[results truncated to save space.]"
)

// TrimToolResults shortens verbose tool output. Each TOOL_RESULT whose text
// exceeds the configured line count is rewritten to its first N lines plus a
// truncation marker; call identifier and status are preserved. All other
// events pass through untouched. The rewrite lives in the COMPACTION payload;
// original events are not mutated.
type TrimToolResults struct{}

// ID returns the strategy identifier.
func (TrimToolResults) ID() string { return TrimStrategyID }

// Compact builds the replacement event list.
func (TrimToolResults) Compact(ctx context.Context, events []models.ThreadEvent, params Params) (models.CompactionData, error) {
	maxLines := params.Int("max_lines", DefaultMaxResultLines)
	if maxLines <= 0 {
		maxLines = DefaultMaxResultLines
	}

	compacted := make([]models.ThreadEvent, 0, len(events))
	for _, e := range events {
		if e.Type != models.EventToolResult {
			compacted = append(compacted, e)
			continue
		}
		d, ok, err := models.DecodeToolResult(e)
		if err != nil || !ok {
			compacted = append(compacted, e)
			continue
		}
		text := d.Text()
		lines := strings.Split(text, "\n")
		if len(lines) <= maxLines {
			compacted = append(compacted, e)
			continue
		}
		trimmed := strings.Join(lines[:maxLines], "\n") + "\n" + truncationMarker
		rewritten := e
		rewritten.Data = models.EncodeData(models.ToolResultData{
			CallID:  d.CallID,
			Content: []models.ContentBlock{models.TextBlock(trimmed)},
			Status:  d.Status,
			Usage:   d.Usage,
		})
		compacted = append(compacted, rewritten)
	}

	return models.CompactionData{
		StrategyID:         TrimStrategyID,
		OriginalEventCount: len(events),
		CompactedEvents:    compacted,
	}, nil
}
