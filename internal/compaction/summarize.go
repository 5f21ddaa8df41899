package compaction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lacekit/lace/pkg/models"
)

const (
	// SummarizeStrategyID identifies the summarize strategy.
	SummarizeStrategyID = "summarize"

	// DefaultPreserveRecent is how many trailing events keep their
	// AGENT_MESSAGE entries verbatim.
	DefaultPreserveRecent = 10

	summaryHeader = "Summary of earlier conversation:\n"
)

// Summarizer produces a short summary of a conversation transcript. The
// provider adapter satisfies this through a thin wrapper.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Summarize collapses tool chatter and stale agent messages into a single
// synthetic AGENT_MESSAGE while preserving every USER_MESSAGE, the prompts,
// and recent AGENT_MESSAGE events verbatim.
type Summarize struct {
	summarizer Summarizer
	newEventID func() string
}

// NewSummarize creates the strategy. newEventID supplies identifiers for the
// synthetic summary event.
func NewSummarize(summarizer Summarizer, newEventID func() string) *Summarize {
	return &Summarize{summarizer: summarizer, newEventID: newEventID}
}

// ID returns the strategy identifier.
func (*Summarize) ID() string { return SummarizeStrategyID }

// Compact builds the replacement event list.
func (s *Summarize) Compact(ctx context.Context, events []models.ThreadEvent, params Params) (models.CompactionData, error) {
	if s.summarizer == nil {
		return models.CompactionData{}, fmt.Errorf("summarize strategy requires a summarizer")
	}
	preserveRecent := params.Int("preserve_recent", DefaultPreserveRecent)

	recentStart := len(events) - preserveRecent
	if recentStart < 0 {
		recentStart = 0
	}

	var (
		preserved   []models.ThreadEvent
		collapsed   []models.ThreadEvent
		summaryPos  = -1
		threadID    string
	)
	for i, e := range events {
		threadID = e.ThreadID
		keep := false
		switch e.Type {
		case models.EventUserMessage, models.EventSystemPrompt, models.EventUserSystemPrompt:
			keep = true
		case models.EventAgentMessage:
			keep = i >= recentStart
		}
		if keep {
			preserved = append(preserved, e)
			continue
		}
		if summaryPos < 0 {
			summaryPos = len(preserved)
		}
		collapsed = append(collapsed, e)
	}

	if len(collapsed) == 0 {
		return models.CompactionData{
			StrategyID:         SummarizeStrategyID,
			OriginalEventCount: len(events),
			CompactedEvents:    events,
		}, nil
	}

	summary, err := s.summarizer.Summarize(ctx, formatTranscript(collapsed))
	if err != nil {
		return models.CompactionData{}, fmt.Errorf("generate summary: %w", err)
	}

	summaryEvent := models.ThreadEvent{
		ID:        s.newEventID(),
		ThreadID:  threadID,
		Type:      models.EventAgentMessage,
		Timestamp: time.Now().UTC(),
		Data:      models.EncodeData(models.MessageData{Text: summaryHeader + summary}),
	}

	compacted := make([]models.ThreadEvent, 0, len(preserved)+1)
	compacted = append(compacted, preserved[:summaryPos]...)
	compacted = append(compacted, summaryEvent)
	compacted = append(compacted, preserved[summaryPos:]...)

	return models.CompactionData{
		StrategyID:         SummarizeStrategyID,
		OriginalEventCount: len(events),
		CompactedEvents:    compacted,
	}, nil
}

// formatTranscript renders collapsed events as provider-readable text.
func formatTranscript(events []models.ThreadEvent) string {
	var sb strings.Builder
	for _, e := range events {
		switch e.Type {
		case models.EventAgentMessage:
			if d, err := models.DecodeMessage(e); err == nil {
				fmt.Fprintf(&sb, "[assistant]: %s\n", d.Text)
			}
		case models.EventToolCall:
			if d, err := models.DecodeToolCall(e); err == nil {
				fmt.Fprintf(&sb, "[tool call %s]: %s %s\n", d.CallID, d.Name, string(d.Arguments))
			}
		case models.EventToolResult:
			if d, ok, err := models.DecodeToolResult(e); err == nil && ok {
				fmt.Fprintf(&sb, "[tool result %s (%s)]: %s\n", d.CallID, d.Status, truncate(d.Text(), 500))
			}
		}
	}
	return sb.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
