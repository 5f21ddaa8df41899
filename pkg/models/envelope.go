package models

import (
	"time"

	"github.com/google/uuid"
)

// EventScope labels a bus event for fan-out filtering. All fields are
// optional; an empty scope matches everything.
type EventScope struct {
	ProjectID string `json:"project_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
}

// Matches reports whether the scope satisfies a filter. Empty filter fields
// match any value.
func (s EventScope) Matches(filter EventScope) bool {
	if filter.ProjectID != "" && filter.ProjectID != s.ProjectID {
		return false
	}
	if filter.SessionID != "" && filter.SessionID != s.SessionID {
		return false
	}
	if filter.ThreadID != "" && filter.ThreadID != s.ThreadID {
		return false
	}
	if filter.TaskID != "" && filter.TaskID != s.TaskID {
		return false
	}
	if filter.CallID != "" && filter.CallID != s.CallID {
		return false
	}
	return true
}

// Bus event kinds. Thread-persisted events and transient UI-only events share
// the envelope; Transient tells consumers which is which.
const (
	KindThreadEvent     = "thread.event"
	KindTokenDelta      = "token.delta"
	KindAgentState      = "agent.state"
	KindApprovalPending = "approval.pending"
	KindTaskCreated     = "task:created"
	KindTaskUpdated     = "task:updated"
	KindTaskDeleted     = "task:deleted"
	KindTaskNoteAdded   = "task:note_added"
)

// BusEvent is the unified envelope carried by the in-process event bus and
// the SSE stream.
type BusEvent struct {
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Scope     EventScope `json:"scope"`
	Kind      string     `json:"kind"`
	Payload   any        `json:"payload"`

	// Transient marks events that are never persisted (token deltas, agent
	// state changes). Consumers must not write these to storage.
	Transient bool `json:"transient,omitempty"`
}

// NewBusEvent builds an envelope with a fresh id and current timestamp.
func NewBusEvent(kind string, scope EventScope, payload any) BusEvent {
	return BusEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Scope:     scope,
		Kind:      kind,
		Payload:   payload,
	}
}

// TokenDelta is the payload for token.delta bus events.
type TokenDelta struct {
	ThreadID string `json:"thread_id"`
	Delta    string `json:"delta"`
}

// AgentStateChange is the payload for agent.state bus events.
type AgentStateChange struct {
	ThreadID string `json:"thread_id"`
	State    string `json:"state"`
}

// TaskEventPayload is the payload for task:* bus events.
type TaskEventPayload struct {
	Task    *Task  `json:"task"`
	Actor   string `json:"actor"`
	IsHuman bool   `json:"is_human"`
}
