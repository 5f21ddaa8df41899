package agent

import (
	"context"
	"fmt"
	"strings"
)

const summaryPrompt = "Condense the following conversation transcript into a concise summary. " +
	"Preserve decisions, open questions, file names, and anything the assistant " +
	"committed to doing. Reply with the summary only."

// ProviderSummarizer produces conversation summaries through a model
// provider, for use by the summarizing compaction strategy.
type ProviderSummarizer struct {
	provider Provider
	model    string
}

// NewProviderSummarizer builds a summarizer; an empty model uses the
// provider default.
func NewProviderSummarizer(provider Provider, model string) *ProviderSummarizer {
	if model == "" {
		model = provider.DefaultModel()
	}
	return &ProviderSummarizer{provider: provider, model: model}
}

// Summarize runs one non-tool completion over the transcript and returns the
// accumulated text.
func (s *ProviderSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	stream, err := s.provider.CreateResponse(ctx, &Request{
		Model:     s.model,
		System:    summaryPrompt,
		Messages:  []Message{{Role: "user", Content: transcript}},
		MaxTokens: s.provider.MaxCompletionTokens(s.model),
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	var text strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			return "", fmt.Errorf("summarize: %w", chunk.Err)
		}
		text.WriteString(chunk.Text)
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("summarize: provider returned empty summary")
	}
	return text.String(), nil
}
