package models

import "testing"

func TestParseAgentSpec(t *testing.T) {
	tests := []struct {
		assignee string
		provider string
		model    string
		ok       bool
	}{
		{"new:anthropic/claude-sonnet-4-20250514", "anthropic", "claude-sonnet-4-20250514", true},
		{"new:openai/gpt-4o", "openai", "gpt-4o", true},
		{"new:openai/", "", "", false},
		{"new:/gpt-4o", "", "", false},
		{"new:openai", "", "", false},
		{"human", "", "", false},
		{"lace_20250731_abc123", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		provider, model, ok := ParseAgentSpec(tt.assignee)
		if ok != tt.ok || provider != tt.provider || model != tt.model {
			t.Errorf("ParseAgentSpec(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.assignee, provider, model, ok, tt.provider, tt.model, tt.ok)
		}
	}
}
