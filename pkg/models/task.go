package models

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the current state of a task on the session queue.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
)

// TaskPriority orders tasks within a queue.
type TaskPriority string

const (
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

// AssigneeHuman routes a task to a human operator instead of an agent.
const AssigneeHuman = "human"

// NewAgentPrefix marks an assignee spec that materializes an agent on
// assignment: "new:<provider>/<model>".
const NewAgentPrefix = "new:"

// Task is a unit of work on a session's queue. Assignee is an agent thread
// id, the string "human", or a "new:<provider>/<model>" spec.
type Task struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Prompt      string       `json:"prompt"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	Assignee    string       `json:"assignee,omitempty"`
	CreatedBy   string       `json:"created_by"`
	ThreadID    string       `json:"thread_id"`
	Notes       []TaskNote   `json:"notes,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TaskNote is an append-only annotation on a task.
type TaskNote struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskSummary counts tasks by status.
type TaskSummary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Blocked    int `json:"blocked"`
}

// AssignmentPrompt renders the message delivered to an agent when a task is
// assigned to it.
func (t *Task) AssignmentPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You have been assigned task %s: %s", t.ID, t.Title)
	if t.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(t.Description)
	}
	b.WriteString("\n\n")
	b.WriteString(t.Prompt)
	return b.String()
}

// ParseAgentSpec splits a "new:<provider>/<model>" assignee spec.
// ok is false when the assignee is not a spawn spec.
func ParseAgentSpec(assignee string) (provider, model string, ok bool) {
	if !strings.HasPrefix(assignee, NewAgentPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(assignee, NewAgentPrefix)
	provider, model, found := strings.Cut(rest, "/")
	if !found || provider == "" || model == "" {
		return "", "", false
	}
	return provider, model, true
}
