// Package approvals implements the protocol that gates tool execution on an
// external decision. The coordinator writes TOOL_APPROVAL_REQUEST events,
// waits for the matching response, applies the 30-second deny timeout, and
// tracks session-scoped auto-approval. At-most-once response semantics come
// from the persistence unique index, not from in-process locks.
package approvals

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lacekit/lace/internal/bus"
	"github.com/lacekit/lace/internal/observability"
	"github.com/lacekit/lace/internal/persistence"
	"github.com/lacekit/lace/internal/threads"
	"github.com/lacekit/lace/pkg/models"
)

// DefaultTimeout is how long a request waits before collapsing to deny.
const DefaultTimeout = 30 * time.Second

// Coordinator mediates between the tool executor and whoever answers
// approval requests (a UI over the event bus, or a policy).
type Coordinator struct {
	store   *threads.Store
	persist persistence.Store
	events  *bus.Bus
	logger  *slog.Logger
	metrics *observability.Metrics
	timeout time.Duration

	mu      sync.Mutex
	waiters map[string]chan models.ApprovalDecision
	// sessionAllowed holds process-local allow-session grants, keyed by
	// session id then tool name. Not persisted across restarts.
	sessionAllowed map[string]map[string]bool
}

// NewCoordinator creates a coordinator with the default timeout.
func NewCoordinator(store *threads.Store, persist persistence.Store, events *bus.Bus, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:          store,
		persist:        persist,
		events:         events,
		logger:         logger,
		timeout:        DefaultTimeout,
		waiters:        make(map[string]chan models.ApprovalDecision),
		sessionAllowed: make(map[string]map[string]bool),
	}
}

// SetMetrics enables decision counters.
func (c *Coordinator) SetMetrics(m *observability.Metrics) {
	c.metrics = m
}

// SetTimeout overrides the approval wait timeout.
func (c *Coordinator) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// RequestApproval blocks until a decision exists for the call. Session-wide
// grants and previously stored decisions short-circuit the wait; otherwise a
// request event is appended and the coordinator waits for the response, the
// timeout, or cancellation — the latter two collapse to deny.
func (c *Coordinator) RequestApproval(ctx context.Context, threadID string, call models.ToolCallData) (models.ApprovalDecision, error) {
	thread, err := c.store.GetThread(ctx, threadID)
	if err != nil {
		return models.ApprovalDeny, fmt.Errorf("approval for unknown thread %s: %w", threadID, err)
	}

	if c.isSessionAllowed(thread.SessionID, call.Name) {
		return models.ApprovalAllowOnce, nil
	}

	// A decision may already be stored (process restart mid-wait).
	if stored, err := c.persist.ApprovalDecision(ctx, call.CallID); err != nil {
		return models.ApprovalDeny, err
	} else if stored != nil {
		return stored.Decision, nil
	}

	waiter := make(chan models.ApprovalDecision, 1)
	c.mu.Lock()
	c.waiters[call.CallID] = waiter
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, call.CallID)
		c.mu.Unlock()
	}()

	if _, err := c.store.AddEvent(ctx, threadID, models.EventApprovalRequest,
		models.ApprovalRequestData{CallID: call.CallID}); err != nil {
		return models.ApprovalDeny, fmt.Errorf("append approval request: %w", err)
	}

	c.events.Publish(models.BusEvent{
		ID:        call.CallID,
		Timestamp: time.Now().UTC(),
		Scope: models.EventScope{
			SessionID: thread.SessionID,
			ThreadID:  threadID,
			CallID:    call.CallID,
		},
		Kind:      models.KindApprovalPending,
		Payload:   call,
		Transient: true,
	})

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case decision := <-waiter:
		return decision, nil
	case <-timer.C:
		return c.collapseToDeny(threadID, call.CallID, "timeout")
	case <-ctx.Done():
		return c.collapseToDeny(threadID, call.CallID, "cancelled")
	}
}

// Resolve records a decision for a pending call. It returns false when a
// decision already exists; the persistence unique index makes concurrent
// resolves race-safe, so double-clicks and competing approval paths collapse
// to exactly one stored response.
func (c *Coordinator) Resolve(ctx context.Context, threadID, callID string, decision models.ApprovalDecision, reason string) (bool, error) {
	event, err := c.store.AddEvent(ctx, threadID, models.EventApprovalResponse, models.ApprovalResponseData{
		CallID:   callID,
		Decision: decision,
		Reason:   reason,
	})
	if err != nil {
		return false, err
	}
	if event == nil {
		// Duplicate: someone answered first.
		return false, nil
	}
	if c.metrics != nil {
		c.metrics.ApprovalDecisions.WithLabelValues(string(decision)).Inc()
	}

	if decision == models.ApprovalAllowSession {
		c.grantSession(ctx, threadID, callID)
	}

	c.mu.Lock()
	if waiter, ok := c.waiters[callID]; ok {
		waiter <- decision
		delete(c.waiters, callID)
	}
	c.mu.Unlock()
	return true, nil
}

// Pending lists the thread's unanswered approval requests.
func (c *Coordinator) Pending(ctx context.Context, threadID string) ([]models.PendingApproval, error) {
	return c.persist.PendingApprovals(ctx, threadID)
}

// AllowForSession pre-approves a tool name for the rest of the session.
func (c *Coordinator) AllowForSession(sessionID, toolName string) {
	if sessionID == "" || toolName == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionAllowed[sessionID] == nil {
		c.sessionAllowed[sessionID] = make(map[string]bool)
	}
	c.sessionAllowed[sessionID][toolName] = true
}

func (c *Coordinator) isSessionAllowed(sessionID, toolName string) bool {
	if sessionID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionAllowed[sessionID][toolName]
}

// collapseToDeny writes a deny response for an unanswered request. A real
// response racing the deny wins or loses at the unique index; either way the
// stored decision is returned.
func (c *Coordinator) collapseToDeny(threadID, callID, reason string) (models.ApprovalDecision, error) {
	// The turn context may already be cancelled; the write uses its own.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	saved, err := c.Resolve(ctx, threadID, callID, models.ApprovalDeny, reason)
	if err != nil {
		return models.ApprovalDeny, err
	}
	if !saved {
		if stored, err := c.persist.ApprovalDecision(ctx, callID); err == nil && stored != nil {
			return stored.Decision, nil
		}
	}
	c.logger.Info("approval collapsed to deny", "thread_id", threadID, "call_id", callID, "reason", reason)
	return models.ApprovalDeny, nil
}

// grantSession resolves the tool name behind an allow-session decision and
// records the grant.
func (c *Coordinator) grantSession(ctx context.Context, threadID, callID string) {
	thread, err := c.store.GetThread(ctx, threadID)
	if err != nil || thread.SessionID == "" {
		return
	}
	events, err := c.store.GetAllEvents(ctx, threadID)
	if err != nil {
		return
	}
	for _, e := range events {
		if e.Type != models.EventToolCall {
			continue
		}
		d, err := models.DecodeToolCall(e)
		if err != nil || d.CallID != callID {
			continue
		}
		c.AllowForSession(thread.SessionID, d.Name)
		return
	}
}
