package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/lacekit/lace/pkg/models"
)

func TestMemoryStoreApprovalResponseUniqueness(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	threadID := "lace_20250801_abc123"

	if err := store.SaveThread(ctx, &models.Thread{ID: threadID}); err != nil {
		t.Fatalf("SaveThread() error = %v", err)
	}

	first := models.ThreadEvent{
		ID:       "evt-1",
		ThreadID: threadID,
		Type:     models.EventApprovalResponse,
		Data:     models.EncodeData(models.ApprovalResponseData{CallID: "call-1", Decision: models.ApprovalAllowOnce}),
	}
	saved, err := store.SaveEvent(ctx, &first)
	if err != nil || !saved {
		t.Fatalf("SaveEvent(first) = (%v, %v)", saved, err)
	}

	dup := models.ThreadEvent{
		ID:       "evt-2",
		ThreadID: threadID,
		Type:     models.EventApprovalResponse,
		Data:     models.EncodeData(models.ApprovalResponseData{CallID: "call-1", Decision: models.ApprovalDeny}),
	}
	saved, err = store.SaveEvent(ctx, &dup)
	if err != nil {
		t.Fatalf("SaveEvent(duplicate) error = %v", err)
	}
	if saved {
		t.Fatal("duplicate approval response should report saved=false")
	}

	decision, err := store.ApprovalDecision(ctx, "call-1")
	if err != nil {
		t.Fatalf("ApprovalDecision() error = %v", err)
	}
	if decision == nil || decision.Decision != models.ApprovalAllowOnce {
		t.Fatalf("ApprovalDecision() = %+v, want allow-once", decision)
	}

	missing, err := store.ApprovalDecision(ctx, "call-2")
	if err != nil {
		t.Fatalf("ApprovalDecision(missing) error = %v", err)
	}
	if missing != nil {
		t.Fatalf("ApprovalDecision(missing) = %+v, want nil", missing)
	}
}

func TestMemoryStorePendingApprovals(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	threadID := "lace_20250801_abc123"

	if err := store.SaveThread(ctx, &models.Thread{ID: threadID}); err != nil {
		t.Fatalf("SaveThread() error = %v", err)
	}

	events := []models.ThreadEvent{
		{ID: "e1", ThreadID: threadID, Type: models.EventToolCall,
			Data: models.EncodeData(models.ToolCallData{CallID: "call-1", Name: "shell"})},
		{ID: "e2", ThreadID: threadID, Type: models.EventApprovalRequest,
			Data: models.EncodeData(models.ApprovalRequestData{CallID: "call-1"})},
		{ID: "e3", ThreadID: threadID, Type: models.EventToolCall,
			Data: models.EncodeData(models.ToolCallData{CallID: "call-2", Name: "shell"})},
		{ID: "e4", ThreadID: threadID, Type: models.EventApprovalRequest,
			Data: models.EncodeData(models.ApprovalRequestData{CallID: "call-2"})},
		{ID: "e5", ThreadID: threadID, Type: models.EventApprovalResponse,
			Data: models.EncodeData(models.ApprovalResponseData{CallID: "call-2", Decision: models.ApprovalDeny})},
	}
	for i := range events {
		if _, err := store.SaveEvent(ctx, &events[i]); err != nil {
			t.Fatalf("SaveEvent(%s) error = %v", events[i].ID, err)
		}
	}

	pending, err := store.PendingApprovals(ctx, threadID)
	if err != nil {
		t.Fatalf("PendingApprovals() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("PendingApprovals() = %d entries, want 1", len(pending))
	}
	if pending[0].CallID != "call-1" || pending[0].ToolCall.Name != "shell" {
		t.Fatalf("pending = %+v", pending[0])
	}
}

func TestMemoryStoreSessionCascadeDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := &models.Session{ID: "sess-1", ProjectID: "proj-1", Status: models.SessionActive, CreatedAt: time.Now()}
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	if err := store.SaveSession(ctx, session); err != ErrAlreadyExists {
		t.Fatalf("SaveSession(duplicate) error = %v, want ErrAlreadyExists", err)
	}

	threadID := "lace_20250801_abc123"
	if err := store.SaveThread(ctx, &models.Thread{ID: threadID, SessionID: "sess-1"}); err != nil {
		t.Fatalf("SaveThread() error = %v", err)
	}
	event := models.ThreadEvent{ID: "e1", ThreadID: threadID, Type: models.EventUserMessage,
		Data: models.EncodeData(models.MessageData{Text: "hi"})}
	if _, err := store.SaveEvent(ctx, &event); err != nil {
		t.Fatalf("SaveEvent() error = %v", err)
	}
	task := &models.Task{ID: "task_20250801_aaa111", SessionID: "sess-1", Title: "t", Prompt: "p",
		Status: models.TaskPending, Priority: models.PriorityMedium}
	if err := store.SaveTask(ctx, task); err != nil {
		t.Fatalf("SaveTask() error = %v", err)
	}

	if err := store.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := store.GetThread(ctx, threadID); err != ErrNotFound {
		t.Fatalf("GetThread() after cascade = %v, want ErrNotFound", err)
	}
	if _, err := store.GetTask(ctx, task.ID); err != ErrNotFound {
		t.Fatalf("GetTask() after cascade = %v, want ErrNotFound", err)
	}
	loaded, err := store.LoadEvents(ctx, threadID)
	if err != nil {
		t.Fatalf("LoadEvents() error = %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("events survived cascade: %d", len(loaded))
	}
}

func TestMemoryStoreTaskFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.SaveSession(ctx, &models.Session{ID: "sess-1", Status: models.SessionActive}); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	tasks := []*models.Task{
		{ID: "t1", SessionID: "sess-1", Title: "a", Prompt: "p", Status: models.TaskPending, Priority: models.PriorityHigh, Assignee: "human"},
		{ID: "t2", SessionID: "sess-1", Title: "b", Prompt: "p", Status: models.TaskInProgress, Priority: models.PriorityLow, Assignee: "lace_20250801_abc123"},
		{ID: "t3", SessionID: "sess-2", Title: "c", Prompt: "p", Status: models.TaskPending, Priority: models.PriorityHigh},
	}
	for _, task := range tasks {
		if err := store.SaveTask(ctx, task); err != nil {
			t.Fatalf("SaveTask(%s) error = %v", task.ID, err)
		}
	}

	all, err := store.ListTasks(ctx, "sess-1", TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListTasks(sess-1) = %d tasks, want 2", len(all))
	}

	pending, err := store.ListTasks(ctx, "sess-1", TaskFilter{Status: models.TaskPending})
	if err != nil {
		t.Fatalf("ListTasks(status) error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "t1" {
		t.Fatalf("ListTasks(status=pending) = %d tasks", len(pending))
	}

	assigned, err := store.ListTasks(ctx, "sess-1", TaskFilter{Assignee: "lace_20250801_abc123"})
	if err != nil {
		t.Fatalf("ListTasks(assignee) error = %v", err)
	}
	if len(assigned) != 1 || assigned[0].ID != "t2" {
		t.Fatalf("ListTasks(assignee) = %d tasks", len(assigned))
	}
}

func TestMemoryStoreTaskNotes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	task := &models.Task{ID: "t1", SessionID: "sess-1", Title: "a", Prompt: "p", Status: models.TaskPending}
	if err := store.SaveTask(ctx, task); err != nil {
		t.Fatalf("SaveTask() error = %v", err)
	}
	note := models.TaskNote{ID: "n1", Author: "human", Content: "looks good", CreatedAt: time.Now()}
	if err := store.AddTaskNote(ctx, "t1", note); err != nil {
		t.Fatalf("AddTaskNote() error = %v", err)
	}
	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if len(got.Notes) != 1 || got.Notes[0].Content != "looks good" {
		t.Fatalf("notes = %+v", got.Notes)
	}

	if err := store.AddTaskNote(ctx, "missing", note); err != ErrNotFound {
		t.Fatalf("AddTaskNote(missing) error = %v, want ErrNotFound", err)
	}
}
