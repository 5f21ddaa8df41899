package compaction

import (
	"github.com/lacekit/lace/pkg/models"
)

const (
	// CharsPerToken is the approximate character-to-token ratio used when no
	// actual usage record is available.
	CharsPerToken = 4

	// ThresholdRatio is the share of the context budget above which a thread
	// is compacted before the next provider call.
	ThresholdRatio = 0.8

	// DefaultContextWindow is the fallback window size in tokens.
	DefaultContextWindow = 100000
)

// EstimateEventTokens estimates the token cost of one event.
func EstimateEventTokens(e models.ThreadEvent) int {
	chars := len(e.Data)
	return (chars + CharsPerToken - 1) / CharsPerToken
}

// EstimateThreadTokens estimates total tokens for a conversation. When a
// trailing AGENT_MESSAGE carries a usage record, its total anchors the
// estimate and only events after it are approximated.
func EstimateThreadTokens(events []models.ThreadEvent) int {
	anchor := -1
	anchorTokens := 0
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type != models.EventAgentMessage {
			continue
		}
		d, err := models.DecodeMessage(events[i])
		if err != nil || d.Usage == nil {
			continue
		}
		anchor = i
		anchorTokens = d.Usage.Total()
		break
	}

	total := anchorTokens
	for i := anchor + 1; i < len(events); i++ {
		total += EstimateEventTokens(events[i])
	}
	return total
}

// NeedsCompaction reports whether the conversation exceeds the safety share
// of the provider's context window.
func NeedsCompaction(events []models.ThreadEvent, contextWindow int) bool {
	if contextWindow <= 0 {
		contextWindow = DefaultContextWindow
	}
	return float64(EstimateThreadTokens(events)) > float64(contextWindow)*ThresholdRatio
}
