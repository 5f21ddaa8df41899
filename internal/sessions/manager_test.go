package sessions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lacekit/lace/internal/agent"
	"github.com/lacekit/lace/internal/bus"
	"github.com/lacekit/lace/internal/compaction"
	"github.com/lacekit/lace/internal/persistence"
	"github.com/lacekit/lace/internal/tasks"
	"github.com/lacekit/lace/internal/threads"
	"github.com/lacekit/lace/pkg/models"
)

// ackProvider answers every request with a single canned message.
type ackProvider struct {
	name string

	mu       sync.Mutex
	requests []*agent.Request
}

func (p *ackProvider) Name() string                   { return p.name }
func (p *ackProvider) DefaultModel() string           { return "ack-default" }
func (p *ackProvider) ContextWindow(string) int       { return 100000 }
func (p *ackProvider) MaxCompletionTokens(string) int { return 1024 }

func (p *ackProvider) CreateResponse(ctx context.Context, req *agent.Request) (<-chan agent.Chunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	ch := make(chan agent.Chunk, 2)
	ch <- agent.Chunk{Text: "ack"}
	ch <- agent.Chunk{Done: true, Usage: &models.TokenUsage{OutputTokens: 1}, StopReason: "end_turn"}
	close(ch)
	return ch, nil
}

func (p *ackProvider) lastRequest() *agent.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	return p.requests[len(p.requests)-1]
}

type sessionFixture struct {
	manager  *Manager
	store    *threads.Store
	persist  persistence.Store
	provider *ackProvider
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	persist := persistence.NewMemoryStore()
	events := bus.New(nil)
	store := threads.NewStore(persist, compaction.NewRegistry(), events, nil)
	manager := NewManager(Config{
		Persist: persist,
		Threads: store,
		Events:  events,
	})
	manager.Start(context.Background())
	t.Cleanup(manager.StopAll)

	provider := &ackProvider{name: "anthropic"}
	manager.RegisterProvider(provider)
	return &sessionFixture{manager: manager, store: store, persist: persist, provider: provider}
}

func (f *sessionFixture) createSession(t *testing.T) *models.Session {
	t.Helper()
	session, err := f.manager.CreateSession(context.Background(), "proj-1", "workbench", nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	return session
}

// waitForUserMessage polls the thread until a USER_MESSAGE appears.
func (f *sessionFixture) waitForUserMessage(t *testing.T, threadID string) models.MessageData {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		history, err := f.store.GetAllEvents(context.Background(), threadID)
		if err != nil {
			t.Fatalf("GetAllEvents() error = %v", err)
		}
		for _, e := range history {
			if e.Type == models.EventUserMessage {
				d, err := models.DecodeMessage(e)
				if err != nil {
					t.Fatalf("DecodeMessage() error = %v", err)
				}
				return d
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("no USER_MESSAGE appeared on the thread")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	f := newSessionFixture(t)
	if _, err := f.manager.CreateSession(context.Background(), "proj-1", "", nil); err == nil {
		t.Fatal("CreateSession() accepted empty name")
	}

	session := f.createSession(t)
	if session.Status != models.SessionActive {
		t.Fatalf("status = %q, want active", session.Status)
	}
	if !strings.HasPrefix(session.ID, "sess_") {
		t.Fatalf("session id = %q", session.ID)
	}

	got, err := f.manager.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Name != "workbench" || got.ProjectID != "proj-1" {
		t.Fatalf("session = %+v", got)
	}
}

func TestSpawnAgent(t *testing.T) {
	f := newSessionFixture(t)
	session := f.createSession(t)

	a, err := f.manager.SpawnAgent(context.Background(), session.ID, "anthropic", "")
	if err != nil {
		t.Fatalf("SpawnAgent() error = %v", err)
	}
	if a.Model() != "ack-default" {
		t.Fatalf("model = %q, want provider default", a.Model())
	}
	if !threads.ValidThreadID(a.ThreadID()) {
		t.Fatalf("thread id = %q", a.ThreadID())
	}

	live, ok := f.manager.AgentFor(a.ThreadID())
	if !ok || live != a {
		t.Fatal("AgentFor() does not return the spawned agent")
	}

	thread, err := f.store.GetThread(context.Background(), a.ThreadID())
	if err != nil {
		t.Fatalf("GetThread() error = %v", err)
	}
	if thread.SessionID != session.ID {
		t.Fatalf("thread session = %q, want %q", thread.SessionID, session.ID)
	}
}

func TestSpawnAgentUnknownProvider(t *testing.T) {
	f := newSessionFixture(t)
	session := f.createSession(t)

	_, err := f.manager.SpawnAgent(context.Background(), session.ID, "mistral", "")
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("SpawnAgent() error = %v, want ErrUnknownProvider", err)
	}
}

func TestResumeAgentReusesLiveAgent(t *testing.T) {
	f := newSessionFixture(t)
	session := f.createSession(t)
	ctx := context.Background()

	a, err := f.manager.SpawnAgent(ctx, session.ID, "anthropic", "")
	if err != nil {
		t.Fatalf("SpawnAgent() error = %v", err)
	}
	resumed, err := f.manager.ResumeAgent(ctx, a.ThreadID(), "anthropic", "")
	if err != nil {
		t.Fatalf("ResumeAgent() error = %v", err)
	}
	if resumed != a {
		t.Fatal("ResumeAgent() created a second agent for a live thread")
	}

	if _, err := f.manager.ResumeAgent(ctx, "lace_20250801_zzzzzz", "anthropic", ""); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("ResumeAgent(unknown thread) error = %v, want ErrNotFound", err)
	}
}

func TestSpawnForTaskDeliversPrompt(t *testing.T) {
	f := newSessionFixture(t)
	session := f.createSession(t)

	task := &models.Task{
		ID:          "task-1",
		SessionID:   session.ID,
		Title:       "investigate crash",
		Description: "stack trace attached",
		Prompt:      "find the null deref",
	}
	threadID, err := f.manager.SpawnForTask(context.Background(), task, "anthropic", "")
	if err != nil {
		t.Fatalf("SpawnForTask() error = %v", err)
	}

	msg := f.waitForUserMessage(t, threadID)
	if !strings.HasPrefix(msg.Text, "[LACE TASK SYSTEM] ") {
		t.Fatalf("task prompt = %q, want system marker prefix", msg.Text)
	}
	if !strings.Contains(msg.Text, "task-1") || !strings.Contains(msg.Text, "investigate crash") {
		t.Fatalf("task prompt = %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "stack trace attached") || !strings.Contains(msg.Text, "find the null deref") {
		t.Fatalf("task prompt = %q", msg.Text)
	}
}

func TestTaskAssignmentReachesLiveAgent(t *testing.T) {
	f := newSessionFixture(t)
	session := f.createSession(t)

	worker, err := f.manager.SpawnAgent(context.Background(), session.ID, "anthropic", "")
	if err != nil {
		t.Fatalf("SpawnAgent() error = %v", err)
	}

	taskManager := tasks.NewManager(f.persist, nil, nil)
	taskManager.SetAgents(f.manager)

	task, err := taskManager.Create(context.Background(), tasks.CreateRequest{
		SessionID: session.ID,
		Title:     "triage",
		Prompt:    "look at CI",
		Assignee:  worker.ThreadID(),
	}, "human", true)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	msg := f.waitForUserMessage(t, worker.ThreadID())
	if !strings.HasPrefix(msg.Text, "[LACE TASK SYSTEM] ") {
		t.Fatalf("notification = %q, want system marker prefix", msg.Text)
	}
	if !strings.Contains(msg.Text, task.ID) || !strings.Contains(msg.Text, "look at CI") {
		t.Fatalf("notification = %q, want task id and prompt", msg.Text)
	}
}

func TestNotifyPrefixesMessage(t *testing.T) {
	f := newSessionFixture(t)
	session := f.createSession(t)

	a, err := f.manager.SpawnAgent(context.Background(), session.ID, "anthropic", "")
	if err != nil {
		t.Fatalf("SpawnAgent() error = %v", err)
	}
	if err := f.manager.Notify(a.ThreadID(), "task task-1 is now blocked"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	msg := f.waitForUserMessage(t, a.ThreadID())
	if msg.Text != "[LACE TASK SYSTEM] task task-1 is now blocked" {
		t.Fatalf("notification = %q", msg.Text)
	}

	if err := f.manager.Notify("lace_20250801_zzzzzz", "hello"); err == nil {
		t.Fatal("Notify() succeeded for a thread with no live agent")
	}
}

func TestUpdateStatusStopsAgents(t *testing.T) {
	f := newSessionFixture(t)
	session := f.createSession(t)
	ctx := context.Background()

	a, err := f.manager.SpawnAgent(ctx, session.ID, "anthropic", "")
	if err != nil {
		t.Fatalf("SpawnAgent() error = %v", err)
	}

	updated, err := f.manager.UpdateStatus(ctx, session.ID, models.SessionArchived)
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if updated.Status != models.SessionArchived {
		t.Fatalf("status = %q, want archived", updated.Status)
	}

	if _, ok := f.manager.AgentFor(a.ThreadID()); ok {
		t.Fatal("agent still registered after session archived")
	}
	if err := a.SendMessage("hello"); !errors.Is(err, agent.ErrTerminated) {
		t.Fatalf("SendMessage() error = %v, want ErrTerminated", err)
	}
}

func TestStopAll(t *testing.T) {
	f := newSessionFixture(t)
	session := f.createSession(t)
	ctx := context.Background()

	first, err := f.manager.SpawnAgent(ctx, session.ID, "anthropic", "")
	if err != nil {
		t.Fatalf("SpawnAgent() error = %v", err)
	}
	second, err := f.manager.SpawnAgent(ctx, session.ID, "anthropic", "")
	if err != nil {
		t.Fatalf("SpawnAgent() error = %v", err)
	}

	f.manager.StopAll()
	for _, a := range []*agent.Agent{first, second} {
		if _, ok := f.manager.AgentFor(a.ThreadID()); ok {
			t.Fatal("agent still registered after StopAll")
		}
		if a.State() != agent.StateTerminated {
			t.Fatalf("state = %q, want terminated", a.State())
		}
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	f := newSessionFixture(t)
	session := f.createSession(t)
	ctx := context.Background()

	a, err := f.manager.SpawnAgent(ctx, session.ID, "anthropic", "")
	if err != nil {
		t.Fatalf("SpawnAgent() error = %v", err)
	}

	if err := f.manager.DeleteSession(ctx, session.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := f.manager.GetSession(ctx, session.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("GetSession() after delete error = %v, want ErrNotFound", err)
	}
	if _, err := f.store.GetThread(ctx, a.ThreadID()); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("GetThread() after delete error = %v, want ErrNotFound", err)
	}
}
