// Package sessions coordinates the runtime's long-lived state: session CRUD,
// the registry of live agents, spawn-on-demand for task assignment, and
// notification delivery into agent inboxes.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lacekit/lace/internal/agent"
	"github.com/lacekit/lace/internal/bus"
	"github.com/lacekit/lace/internal/observability"
	"github.com/lacekit/lace/internal/persistence"
	"github.com/lacekit/lace/internal/threads"
	"github.com/lacekit/lace/internal/tools"
	"github.com/lacekit/lace/pkg/models"
)

// notificationPrefix marks runtime-generated user messages so agents can
// distinguish coordination traffic from the human operator.
const notificationPrefix = "[LACE TASK SYSTEM] "

// ErrUnknownProvider is returned when a spawn names an unregistered provider.
var ErrUnknownProvider = errors.New("unknown provider")

// Config assembles a session manager.
type Config struct {
	Persist  persistence.Store
	Threads  *threads.Store
	Events   *bus.Bus
	Executor *tools.Executor
	Logger   *slog.Logger
	Metrics  *observability.Metrics

	// SystemPrompt seeds every spawned agent.
	SystemPrompt string

	// CompactionStrategy is passed to spawned agents; empty disables
	// automatic compaction.
	CompactionStrategy string
}

// Manager owns sessions and the agents running inside them. Agents are
// process-local; the sessions and threads they operate on are durable.
type Manager struct {
	persist  persistence.Store
	threads  *threads.Store
	events   *bus.Bus
	executor *tools.Executor
	logger   *slog.Logger
	metrics  *observability.Metrics
	system   string
	strategy string

	mu        sync.RWMutex
	providers map[string]agent.Provider
	agents    map[string]*agent.Agent // keyed by thread id
	baseCtx   context.Context
}

// NewManager creates a session manager. Start must run before agents spawn.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		persist:   cfg.Persist,
		threads:   cfg.Threads,
		events:    cfg.Events,
		executor:  cfg.Executor,
		logger:    logger,
		metrics:   cfg.Metrics,
		system:    cfg.SystemPrompt,
		strategy:  cfg.CompactionStrategy,
		providers: make(map[string]agent.Provider),
		agents:    make(map[string]*agent.Agent),
		baseCtx:   context.Background(),
	}
}

// Start binds the lifetime context for spawned agents.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// RegisterProvider makes a model backend available for spawning.
func (m *Manager) RegisterProvider(p agent.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.Name()] = p
}

// Provider returns a registered backend by name.
func (m *Manager) Provider(name string) (agent.Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[name]
	return p, ok
}

// CreateSession creates a durable session under a project.
func (m *Manager) CreateSession(ctx context.Context, projectID, name string, config map[string]any) (*models.Session, error) {
	if name == "" {
		return nil, fmt.Errorf("session name is required")
	}
	now := time.Now().UTC()
	session := &models.Session{
		ID:        "sess_" + uuid.New().String(),
		ProjectID: projectID,
		Name:      name,
		Status:    models.SessionActive,
		Config:    config,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.persist.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	m.logger.Info("session created", "session_id", session.ID, "project_id", projectID, "name", name)
	return session, nil
}

// GetSession returns a session by id.
func (m *Manager) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return m.persist.GetSession(ctx, id)
}

// ListSessions returns sessions, optionally scoped to a project.
func (m *Manager) ListSessions(ctx context.Context, projectID string) ([]*models.Session, error) {
	return m.persist.ListSessions(ctx, projectID)
}

// UpdateStatus moves a session between active, archived, and completed.
// Leaving active stops the session's agents.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status models.SessionStatus) (*models.Session, error) {
	session, err := m.persist.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	session.Status = status
	session.UpdatedAt = time.Now().UTC()
	if err := m.persist.UpdateSession(ctx, session); err != nil {
		return nil, err
	}
	if status != models.SessionActive {
		m.stopSessionAgents(id)
	}
	return session, nil
}

// DeleteSession stops the session's agents and cascades the delete through
// threads, events, and tasks.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	m.stopSessionAgents(id)
	return m.persist.DeleteSession(ctx, id)
}

// SpawnAgent creates a thread in the session and starts an agent on it.
// model may be empty for the provider default.
func (m *Manager) SpawnAgent(ctx context.Context, sessionID, providerName, model string) (*agent.Agent, error) {
	provider, ok := m.Provider(providerName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
	}

	threadID, err := m.threads.CreateThread(ctx, threads.CreateOptions{SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("create agent thread: %w", err)
	}
	return m.startAgent(threadID, provider, model)
}

// ResumeAgent starts an agent on an existing thread, repairing any turn the
// previous process left unfinished.
func (m *Manager) ResumeAgent(ctx context.Context, threadID, providerName, model string) (*agent.Agent, error) {
	m.mu.RLock()
	if existing, ok := m.agents[threadID]; ok {
		m.mu.RUnlock()
		return existing, nil
	}
	m.mu.RUnlock()

	provider, ok := m.Provider(providerName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
	}
	if _, err := m.threads.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	return m.startAgent(threadID, provider, model)
}

func (m *Manager) startAgent(threadID string, provider agent.Provider, model string) (*agent.Agent, error) {
	a, err := agent.New(agent.Config{
		ThreadID:           threadID,
		Provider:           provider,
		Model:              model,
		SystemPrompt:       m.system,
		Store:              m.threads,
		Executor:           m.executor,
		Events:             m.events,
		Logger:             m.logger,
		Metrics:            m.metrics,
		CompactionStrategy: m.strategy,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	baseCtx := m.baseCtx
	m.agents[threadID] = a
	m.mu.Unlock()

	if err := a.Start(baseCtx); err != nil {
		m.mu.Lock()
		delete(m.agents, threadID)
		m.mu.Unlock()
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.ActiveAgents.Inc()
	}
	m.logger.Info("agent started", "thread_id", threadID, "provider", provider.Name(), "model", a.Model())
	return a, nil
}

// AgentFor returns the live agent on a thread, if any.
func (m *Manager) AgentFor(threadID string) (*agent.Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[threadID]
	return a, ok
}

// SpawnForTask materializes an agent for a "new:<provider>/<model>" task
// assignee and delivers the task prompt, prefix-marked like every other
// runtime notification, as its first message.
func (m *Manager) SpawnForTask(ctx context.Context, task *models.Task, providerName, model string) (string, error) {
	a, err := m.SpawnAgent(ctx, task.SessionID, providerName, model)
	if err != nil {
		return "", err
	}
	if err := a.SendMessage(notificationPrefix + task.AssignmentPrompt()); err != nil {
		return "", fmt.Errorf("deliver task prompt: %w", err)
	}
	return a.ThreadID(), nil
}

// Notify delivers a runtime notification into an agent's inbox. The agent
// picks it up as a prefix-marked USER_MESSAGE when it goes idle; a busy agent
// queues it in arrival order.
func (m *Manager) Notify(threadID, message string) error {
	a, ok := m.AgentFor(threadID)
	if !ok {
		return fmt.Errorf("no live agent on thread %s", threadID)
	}
	return a.SendMessage(notificationPrefix + message)
}

// StopAll terminates every live agent. Used at shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	agents := make([]*agent.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	m.agents = make(map[string]*agent.Agent)
	m.mu.Unlock()

	for _, a := range agents {
		a.Stop()
		if m.metrics != nil {
			m.metrics.ActiveAgents.Dec()
		}
	}
}

func (m *Manager) stopSessionAgents(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m.mu.Lock()
	var stopping []*agent.Agent
	for threadID, a := range m.agents {
		thread, err := m.threads.GetThread(ctx, threadID)
		if err != nil || thread.SessionID != sessionID {
			continue
		}
		stopping = append(stopping, a)
		delete(m.agents, threadID)
	}
	m.mu.Unlock()

	for _, a := range stopping {
		a.Stop()
		if m.metrics != nil {
			m.metrics.ActiveAgents.Dec()
		}
	}
}
