// Package models defines the shared domain types for the lace runtime:
// thread events, sessions, tasks, and the event-bus envelope.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates thread event payloads. Dispatch on event type is
// explicit; each type carries a distinct payload shape in Data.
type EventType string

const (
	// EventUserMessage is user or system-actor input.
	EventUserMessage EventType = "USER_MESSAGE"

	// EventAgentMessage is a completed provider response.
	EventAgentMessage EventType = "AGENT_MESSAGE"

	// EventToolCall records the intent to invoke a tool.
	EventToolCall EventType = "TOOL_CALL"

	// EventToolResult records the outcome of a tool. At most one per call id.
	EventToolResult EventType = "TOOL_RESULT"

	// EventApprovalRequest gates a tool call on an external decision.
	EventApprovalRequest EventType = "TOOL_APPROVAL_REQUEST"

	// EventApprovalResponse carries the decision. At most one per call id,
	// enforced by persistence.
	EventApprovalResponse EventType = "TOOL_APPROVAL_RESPONSE"

	// EventLocalSystemMessage is a UI-only notification.
	EventLocalSystemMessage EventType = "LOCAL_SYSTEM_MESSAGE"

	// EventSystemPrompt holds instructions supplied to the provider.
	EventSystemPrompt EventType = "SYSTEM_PROMPT"

	// EventUserSystemPrompt is a user-authored overlay to the system prompt.
	EventUserSystemPrompt EventType = "USER_SYSTEM_PROMPT"

	// EventCompaction marks a history rewrite point. Its payload contains the
	// rewritten prefix; original events are never mutated.
	EventCompaction EventType = "COMPACTION"
)

// ThreadEvent is an immutable record in a thread's append-only log.
// Ordering is by append position; timestamps are informational.
type ThreadEvent struct {
	ID        string          `json:"id"`
	ThreadID  string          `json:"thread_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// TokenUsage records provider token consumption for a response.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns combined input and output tokens.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// MessageData is the payload for USER_MESSAGE, AGENT_MESSAGE,
// LOCAL_SYSTEM_MESSAGE, SYSTEM_PROMPT, and USER_SYSTEM_PROMPT events.
type MessageData struct {
	Text  string      `json:"text"`
	Usage *TokenUsage `json:"usage,omitempty"`
}

// ToolCallData is the payload for TOOL_CALL events.
type ToolCallData struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ResultStatus is the terminal status of a tool execution.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
	ResultAborted   ResultStatus = "aborted"
)

// ContentBlock is one unit of tool output: text, image, or resource.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// TextBlock returns a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ToolResultData is the payload for TOOL_RESULT events.
type ToolResultData struct {
	CallID  string         `json:"call_id"`
	Content []ContentBlock `json:"content"`
	Status  ResultStatus   `json:"status"`
	Usage   *TokenUsage    `json:"usage,omitempty"`
}

// Text concatenates the text blocks of the result.
func (r ToolResultData) Text() string {
	var out string
	for _, block := range r.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}

// ApprovalDecision is the outcome of a tool approval request.
type ApprovalDecision string

const (
	ApprovalAllowOnce    ApprovalDecision = "allow-once"
	ApprovalAllowSession ApprovalDecision = "allow-session"
	ApprovalDeny         ApprovalDecision = "deny"
)

// ApprovalRequestData is the payload for TOOL_APPROVAL_REQUEST events.
type ApprovalRequestData struct {
	CallID string `json:"call_id"`
}

// ApprovalResponseData is the payload for TOOL_APPROVAL_RESPONSE events.
type ApprovalResponseData struct {
	CallID   string           `json:"call_id"`
	Decision ApprovalDecision `json:"decision"`
	Reason   string           `json:"reason,omitempty"`
}

// CompactionData is the payload for COMPACTION events. CompactedEvents is the
// replacement prefix substituted for the original events in the working
// conversation; the complete history keeps the originals.
type CompactionData struct {
	StrategyID         string        `json:"strategy_id"`
	OriginalEventCount int           `json:"original_event_count"`
	CompactedEvents    []ThreadEvent `json:"compacted_events"`
}

// EncodeData marshals an event payload. Panics only on unmarshalable values,
// which would be a programming error for the payload types above.
func EncodeData(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("models: encode event payload: %v", err))
	}
	return data
}

// DecodeMessage decodes a message-bearing event payload.
func DecodeMessage(e ThreadEvent) (MessageData, error) {
	var d MessageData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return MessageData{}, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return d, nil
}

// DecodeToolCall decodes a TOOL_CALL payload.
func DecodeToolCall(e ThreadEvent) (ToolCallData, error) {
	var d ToolCallData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return ToolCallData{}, fmt.Errorf("decode TOOL_CALL payload: %w", err)
	}
	return d, nil
}

// DecodeToolResult decodes a TOOL_RESULT payload. Legacy payloads produced by
// older compaction strategies are raw JSON strings; those return ok=false and
// must pass through untouched.
func DecodeToolResult(e ThreadEvent) (d ToolResultData, ok bool, err error) {
	trimmed := firstNonSpace(e.Data)
	if trimmed == '"' {
		return ToolResultData{}, false, nil
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return ToolResultData{}, false, fmt.Errorf("decode TOOL_RESULT payload: %w", err)
	}
	return d, true, nil
}

// DecodeApprovalRequest decodes a TOOL_APPROVAL_REQUEST payload.
func DecodeApprovalRequest(e ThreadEvent) (ApprovalRequestData, error) {
	var d ApprovalRequestData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return ApprovalRequestData{}, fmt.Errorf("decode TOOL_APPROVAL_REQUEST payload: %w", err)
	}
	return d, nil
}

// DecodeApprovalResponse decodes a TOOL_APPROVAL_RESPONSE payload.
func DecodeApprovalResponse(e ThreadEvent) (ApprovalResponseData, error) {
	var d ApprovalResponseData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return ApprovalResponseData{}, fmt.Errorf("decode TOOL_APPROVAL_RESPONSE payload: %w", err)
	}
	return d, nil
}

// DecodeCompaction decodes and structurally validates a COMPACTION payload.
// ok is false when the payload is malformed; readers must then fall back to
// the raw event list rather than fail.
func DecodeCompaction(e ThreadEvent) (CompactionData, bool) {
	var probe struct {
		StrategyID         *string        `json:"strategy_id"`
		OriginalEventCount *int           `json:"original_event_count"`
		CompactedEvents    *[]ThreadEvent `json:"compacted_events"`
	}
	if err := json.Unmarshal(e.Data, &probe); err != nil {
		return CompactionData{}, false
	}
	if probe.StrategyID == nil || probe.OriginalEventCount == nil || probe.CompactedEvents == nil {
		return CompactionData{}, false
	}
	return CompactionData{
		StrategyID:         *probe.StrategyID,
		OriginalEventCount: *probe.OriginalEventCount,
		CompactedEvents:    *probe.CompactedEvents,
	}, true
}

// CallID extracts the call identifier from tool-related events, or "" when
// the event type carries none or the payload cannot be decoded.
func (e ThreadEvent) CallID() string {
	switch e.Type {
	case EventToolCall:
		d, err := DecodeToolCall(e)
		if err != nil {
			return ""
		}
		return d.CallID
	case EventToolResult:
		d, ok, err := DecodeToolResult(e)
		if err != nil || !ok {
			return ""
		}
		return d.CallID
	case EventApprovalRequest:
		d, err := DecodeApprovalRequest(e)
		if err != nil {
			return ""
		}
		return d.CallID
	case EventApprovalResponse:
		d, err := DecodeApprovalResponse(e)
		if err != nil {
			return ""
		}
		return d.CallID
	default:
		return ""
	}
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b
		}
	}
	return 0
}
