// Package tasks implements the session work queue: task CRUD with filters,
// append-only notes, status counts, and the assignment semantics that
// materialize a fresh agent from a "new:<provider>/<model>" spec or notify
// the agent already running on an assigned thread.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lacekit/lace/internal/bus"
	"github.com/lacekit/lace/internal/persistence"
	"github.com/lacekit/lace/internal/threads"
	"github.com/lacekit/lace/pkg/models"
)

// Agents is the session-side surface the task queue drives. SpawnForTask
// materializes an agent for a "new:<provider>/<model>" spec: it creates the
// thread, starts the agent, and delivers the task prompt; the returned thread
// id becomes the task's assignee. Notify delivers a message into the inbox of
// an agent already live on a thread.
type Agents interface {
	SpawnForTask(ctx context.Context, task *models.Task, provider, model string) (threadID string, err error)
	Notify(threadID, message string) error
}

// Manager coordinates the task queue for all sessions. Writes go through the
// persistence store; every mutation is mirrored onto the event bus so UIs
// can reconcile without polling.
type Manager struct {
	persist persistence.Store
	events  *bus.Bus
	logger  *slog.Logger
	agents  Agents
}

// NewManager creates a task manager. Until SetAgents is called, assignment to
// a "new:" spec or an agent thread is rejected.
func NewManager(persist persistence.Store, events *bus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{persist: persist, events: events, logger: logger}
}

// SetAgents wires the agent runtime. Set after construction because the
// session manager and task manager reference each other.
func (m *Manager) SetAgents(a Agents) {
	m.agents = a
}

// CreateRequest carries the caller-supplied fields of a new task.
type CreateRequest struct {
	SessionID   string
	Title       string
	Description string
	Prompt      string
	Priority    models.TaskPriority
	Assignee    string
	CreatedBy   string
	ThreadID    string
}

// Create validates and stores a new task. A "new:" assignee spec spawns the
// agent before the task is visible to anyone else.
func (m *Manager) Create(ctx context.Context, req CreateRequest, actor string, isHuman bool) (*models.Task, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("task title is required")
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("task prompt is required")
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("task session id is required")
	}
	if _, err := m.persist.GetSession(ctx, req.SessionID); err != nil {
		return nil, fmt.Errorf("task session %s: %w", req.SessionID, err)
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:          threads.NewTaskID(),
		SessionID:   req.SessionID,
		Title:       req.Title,
		Description: req.Description,
		Prompt:      req.Prompt,
		Status:      models.TaskPending,
		Priority:    priority,
		Assignee:    req.Assignee,
		CreatedBy:   req.CreatedBy,
		ThreadID:    req.ThreadID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.resolveAssignee(ctx, task); err != nil {
		return nil, err
	}

	if err := m.persist.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}
	m.logger.Info("task created", "task_id", task.ID, "session_id", task.SessionID, "assignee", task.Assignee)
	m.publish(models.KindTaskCreated, task, actor, isHuman)
	return task, nil
}

// Get returns a task with its notes.
func (m *Manager) Get(ctx context.Context, id string) (*models.Task, error) {
	return m.persist.GetTask(ctx, id)
}

// List returns a session's tasks, newest first, narrowed by filter.
func (m *Manager) List(ctx context.Context, sessionID string, filter persistence.TaskFilter) ([]*models.Task, error) {
	return m.persist.ListTasks(ctx, sessionID, filter)
}

// Updates holds the mutable task fields; nil pointers leave the field alone.
type Updates struct {
	Title       *string
	Description *string
	Prompt      *string
	Status      *models.TaskStatus
	Priority    *models.TaskPriority
	Assignee    *string
	ThreadID    *string
}

// Update applies partial updates. Re-assignment to a "new:" spec spawns an
// agent exactly as on create.
func (m *Manager) Update(ctx context.Context, id string, updates Updates, actor string, isHuman bool) (*models.Task, error) {
	task, err := m.persist.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	if updates.Title != nil {
		task.Title = *updates.Title
	}
	if updates.Description != nil {
		task.Description = *updates.Description
	}
	if updates.Prompt != nil {
		task.Prompt = *updates.Prompt
	}
	if updates.Status != nil {
		if !validStatus(*updates.Status) {
			return nil, fmt.Errorf("invalid task status %q", *updates.Status)
		}
		task.Status = *updates.Status
	}
	if updates.Priority != nil {
		task.Priority = *updates.Priority
	}
	if updates.ThreadID != nil {
		task.ThreadID = *updates.ThreadID
	}
	if updates.Assignee != nil && *updates.Assignee != task.Assignee {
		task.Assignee = *updates.Assignee
		if err := m.resolveAssignee(ctx, task); err != nil {
			return nil, err
		}
	}

	task.UpdatedAt = time.Now().UTC()
	if err := m.persist.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}
	m.publish(models.KindTaskUpdated, task, actor, isHuman)
	return task, nil
}

// Delete removes a task and its notes.
func (m *Manager) Delete(ctx context.Context, id string, actor string, isHuman bool) error {
	task, err := m.persist.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if err := m.persist.DeleteTask(ctx, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	m.publish(models.KindTaskDeleted, task, actor, isHuman)
	return nil
}

// AddNote appends an annotation to a task.
func (m *Manager) AddNote(ctx context.Context, taskID, author, content string, isHuman bool) (*models.Task, error) {
	if content == "" {
		return nil, fmt.Errorf("note content is required")
	}
	note := models.TaskNote{
		ID:        uuid.New().String(),
		Author:    author,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.persist.AddTaskNote(ctx, taskID, note); err != nil {
		return nil, fmt.Errorf("add note to task %s: %w", taskID, err)
	}
	task, err := m.persist.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	m.publish(models.KindTaskNoteAdded, task, author, isHuman)
	return task, nil
}

// Summary counts a session's tasks by status.
func (m *Manager) Summary(ctx context.Context, sessionID string) (models.TaskSummary, error) {
	list, err := m.persist.ListTasks(ctx, sessionID, persistence.TaskFilter{})
	if err != nil {
		return models.TaskSummary{}, err
	}
	var summary models.TaskSummary
	summary.Total = len(list)
	for _, task := range list {
		switch task.Status {
		case models.TaskPending:
			summary.Pending++
		case models.TaskInProgress:
			summary.InProgress++
		case models.TaskCompleted:
			summary.Completed++
		case models.TaskBlocked:
			summary.Blocked++
		}
	}
	return summary, nil
}

// resolveAssignee connects a task to its worker. A "new:<provider>/<model>"
// spawn spec materializes an agent and is replaced with its thread id; an
// agent thread id gets the assignment delivered into the live agent's inbox.
// "human" and free-form assignees pass through untouched.
func (m *Manager) resolveAssignee(ctx context.Context, task *models.Task) error {
	if provider, model, ok := models.ParseAgentSpec(task.Assignee); ok {
		if m.agents == nil {
			return fmt.Errorf("assignee %q: no agent spawner configured", task.Assignee)
		}
		threadID, err := m.agents.SpawnForTask(ctx, task, provider, model)
		if err != nil {
			return fmt.Errorf("spawn agent for task %s: %w", task.ID, err)
		}
		task.Assignee = threadID
		task.ThreadID = threadID
		if task.Status == models.TaskPending {
			task.Status = models.TaskInProgress
		}
		m.logger.Info("agent spawned for task", "task_id", task.ID, "thread_id", threadID, "provider", provider, "model", model)
		return nil
	}

	if !threads.ValidThreadID(task.Assignee) {
		return nil
	}
	if m.agents == nil {
		return fmt.Errorf("assignee %q: no agent runtime configured", task.Assignee)
	}
	if err := m.agents.Notify(task.Assignee, task.AssignmentPrompt()); err != nil {
		return fmt.Errorf("notify assignee %s for task %s: %w", task.Assignee, task.ID, err)
	}
	task.ThreadID = task.Assignee
	m.logger.Info("task assigned to agent", "task_id", task.ID, "thread_id", task.Assignee)
	return nil
}

func (m *Manager) publish(kind string, task *models.Task, actor string, isHuman bool) {
	if m.events == nil {
		return
	}
	m.events.Publish(models.NewBusEvent(kind, models.EventScope{
		SessionID: task.SessionID,
		ThreadID:  task.ThreadID,
		TaskID:    task.ID,
	}, models.TaskEventPayload{Task: task, Actor: actor, IsHuman: isHuman}))
}

func validStatus(s models.TaskStatus) bool {
	switch s {
	case models.TaskPending, models.TaskInProgress, models.TaskCompleted, models.TaskBlocked:
		return true
	}
	return false
}
