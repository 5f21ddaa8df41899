package models

import "time"

// Thread is a conversation container. The identifier external callers hold is
// canonical: compaction rewrites the working conversation but never the id.
type Thread struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id,omitempty"`
	ProjectID string            `json:"project_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SessionStatus is the lifecycle status of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionArchived  SessionStatus = "archived"
	SessionCompleted SessionStatus = "completed"
)

// Session owns a set of agent threads and a task queue. Sessions are owned by
// a project; deleting a session cascades its tasks and threads.
type Session struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Name      string         `json:"name,omitempty"`
	Status    SessionStatus  `json:"status"`
	Config    map[string]any `json:"config,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Project groups sessions under a working directory.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	WorkingDir  string    `json:"working_dir,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PendingApproval describes a TOOL_APPROVAL_REQUEST that has no response yet.
type PendingApproval struct {
	CallID      string       `json:"call_id"`
	ToolCall    ToolCallData `json:"tool_call"`
	RequestedAt time.Time    `json:"requested_at"`
}
