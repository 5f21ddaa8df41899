// Package persistence provides durable storage for threads, events, sessions,
// projects, and tasks. The SQLite store is authoritative across processes; an
// in-memory store backs tests and the degraded mode used when database init
// fails.
package persistence

import (
	"context"
	"errors"

	"github.com/lacekit/lace/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// TaskFilter narrows ListTasks results. Empty fields match everything.
type TaskFilter struct {
	Status   models.TaskStatus
	Priority models.TaskPriority
	Assignee string
}

// Store is the persistence contract. All operations are transactional; Transact
// wraps multi-step operations in a single transaction.
//
// SaveEvent returns saved=false without error when the event is a
// TOOL_APPROVAL_RESPONSE whose (thread, call id) pair already has a stored
// response. That is the sole expected duplicate case; every other constraint
// violation is an error.
type Store interface {
	SaveThread(ctx context.Context, thread *models.Thread) error
	GetThread(ctx context.Context, id string) (*models.Thread, error)
	ListThreadIDs(ctx context.Context, prefix string) ([]string, error)
	DeleteThread(ctx context.Context, id string) error

	SaveEvent(ctx context.Context, event *models.ThreadEvent) (saved bool, err error)
	LoadEvents(ctx context.Context, threadID string) ([]models.ThreadEvent, error)

	PendingApprovals(ctx context.Context, threadID string) ([]models.PendingApproval, error)
	ApprovalDecision(ctx context.Context, callID string) (*models.ApprovalResponseData, error)

	SaveSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, projectID string) ([]*models.Session, error)
	UpdateSession(ctx context.Context, session *models.Session) error
	DeleteSession(ctx context.Context, id string) error

	SaveProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)

	SaveTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, sessionID string, filter TaskFilter) ([]*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, id string) error
	AddTaskNote(ctx context.Context, taskID string, note models.TaskNote) error

	// Transact runs fn against a transactional view of the store. Any error
	// rolls back every write made through the view.
	Transact(ctx context.Context, fn func(ctx context.Context, s Store) error) error

	Close() error
}
