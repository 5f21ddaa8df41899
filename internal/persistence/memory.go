package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lacekit/lace/pkg/models"
)

// MemoryStore is an in-memory Store used by tests and as the degraded mode
// when the database cannot be opened. Durability is forfeit; semantics match
// the SQLite store, including the approval-response uniqueness rule.
type MemoryStore struct {
	mu        sync.RWMutex
	threads   map[string]*models.Thread
	events    map[string][]models.ThreadEvent // keyed by thread id, append order
	approvals map[string]models.ApprovalResponseData
	sessions  map[string]*models.Session
	projects  map[string]*models.Project
	tasks     map[string]*models.Task
	taskOrder []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:   make(map[string]*models.Thread),
		events:    make(map[string][]models.ThreadEvent),
		approvals: make(map[string]models.ApprovalResponseData),
		sessions:  make(map[string]*models.Session),
		projects:  make(map[string]*models.Project),
		tasks:     make(map[string]*models.Task),
	}
}

func (s *MemoryStore) Close() error { return nil }

// Transact serializes fn under the store lock. The memory store cannot roll
// back partial writes; tests relying on rollback use the SQLite store.
func (s *MemoryStore) Transact(ctx context.Context, fn func(ctx context.Context, st Store) error) error {
	return fn(ctx, s)
}

func (s *MemoryStore) SaveThread(ctx context.Context, thread *models.Thread) error {
	if thread == nil || thread.ID == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *thread
	s.threads[thread.ID] = &cp
	return nil
}

func (s *MemoryStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListThreadIDs(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id := range s.threads {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) DeleteThread(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; !ok {
		return ErrNotFound
	}
	s.deleteThreadLocked(id)
	return nil
}

func (s *MemoryStore) deleteThreadLocked(id string) {
	for _, e := range s.events[id] {
		if e.Type == models.EventApprovalResponse {
			delete(s.approvals, e.CallID())
		}
	}
	delete(s.threads, id)
	delete(s.events, id)
}

func (s *MemoryStore) SaveEvent(ctx context.Context, event *models.ThreadEvent) (bool, error) {
	if event == nil || event.ID == "" || event.ThreadID == "" {
		return false, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Type == models.EventApprovalResponse {
		callID := event.CallID()
		for _, existing := range s.events[event.ThreadID] {
			if existing.Type == models.EventApprovalResponse && existing.CallID() == callID {
				return false, nil
			}
		}
		if d, err := models.DecodeApprovalResponse(*event); err == nil {
			s.approvals[callID] = d
		}
	}
	s.events[event.ThreadID] = append(s.events[event.ThreadID], *event)
	return true, nil
}

func (s *MemoryStore) LoadEvents(ctx context.Context, threadID string) ([]models.ThreadEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[threadID]
	out := make([]models.ThreadEvent, len(events))
	copy(out, events)
	return out, nil
}

func (s *MemoryStore) PendingApprovals(ctx context.Context, threadID string) ([]models.PendingApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	answered := make(map[string]bool)
	calls := make(map[string]models.ToolCallData)
	for _, e := range s.events[threadID] {
		switch e.Type {
		case models.EventApprovalResponse:
			answered[e.CallID()] = true
		case models.EventToolCall:
			if d, err := models.DecodeToolCall(e); err == nil {
				calls[d.CallID] = d
			}
		}
	}

	var pending []models.PendingApproval
	for _, e := range s.events[threadID] {
		if e.Type != models.EventApprovalRequest {
			continue
		}
		callID := e.CallID()
		if answered[callID] {
			continue
		}
		pending = append(pending, models.PendingApproval{
			CallID:      callID,
			ToolCall:    calls[callID],
			RequestedAt: e.Timestamp,
		})
	}
	return pending, nil
}

func (s *MemoryStore) ApprovalDecision(ctx context.Context, callID string) (*models.ApprovalResponseData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.approvals[callID]
	if !ok {
		return nil, nil
	}
	cp := d
	return &cp, nil
}

func (s *MemoryStore) SaveSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return ErrAlreadyExists
	}
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, projectID string) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Session
	for _, sess := range s.sessions {
		if projectID != "" && sess.ProjectID != projectID {
			continue
		}
		cp := *sess
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	cp := *session
	cp.UpdatedAt = time.Now().UTC()
	s.sessions[session.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	for threadID, t := range s.threads {
		if t.SessionID == id {
			s.deleteThreadLocked(threadID)
		}
	}
	for taskID, task := range s.tasks {
		if task.SessionID == id {
			delete(s.tasks, taskID)
		}
	}
	s.taskOrder = filterOrder(s.taskOrder, func(id string) bool {
		_, ok := s.tasks[id]
		return ok
	})
	return nil
}

func (s *MemoryStore) SaveProject(ctx context.Context, project *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[project.ID]; exists {
		return ErrAlreadyExists
	}
	cp := *project
	s.projects[project.ID] = &cp
	return nil
}

func (s *MemoryStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Project
	for _, p := range s.projects {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SaveTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return ErrAlreadyExists
	}
	cp := *task
	cp.Notes = append([]models.TaskNote(nil), task.Notes...)
	s.tasks[task.ID] = &cp
	s.taskOrder = append(s.taskOrder, task.ID)
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTask(t), nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, sessionID string, filter TaskFilter) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Task
	for _, id := range s.taskOrder {
		t, ok := s.tasks[id]
		if !ok || t.SessionID != sessionID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && t.Priority != filter.Priority {
			continue
		}
		if filter.Assignee != "" && t.Assignee != filter.Assignee {
			continue
		}
		out = append(out, copyTask(t))
	}
	return out, nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tasks[task.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *task
	cp.Notes = existing.Notes
	cp.UpdatedAt = time.Now().UTC()
	s.tasks[task.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, id)
	s.taskOrder = filterOrder(s.taskOrder, func(tid string) bool { return tid != id })
	return nil
}

func (s *MemoryStore) AddTaskNote(ctx context.Context, taskID string, note models.TaskNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.Notes = append(t.Notes, note)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func copyTask(t *models.Task) *models.Task {
	cp := *t
	cp.Notes = append([]models.TaskNote(nil), t.Notes...)
	return &cp
}

func filterOrder(order []string, keep func(string) bool) []string {
	out := order[:0]
	for _, id := range order {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}
