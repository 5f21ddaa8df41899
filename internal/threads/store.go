package threads

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lacekit/lace/internal/bus"
	"github.com/lacekit/lace/internal/compaction"
	"github.com/lacekit/lace/internal/observability"
	"github.com/lacekit/lace/internal/persistence"
	"github.com/lacekit/lace/pkg/models"
)

// Store is the only writer of thread events. It assigns thread and event
// identifiers, keeps a process-local cache of hydrated histories, and
// derives the working conversation on every read. SQLite remains the
// authority across processes; the cache is read-through.
type Store struct {
	persist    persistence.Store
	strategies *compaction.Registry
	events     *bus.Bus
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu    sync.RWMutex
	cache map[string][]models.ThreadEvent // complete history per thread
}

// CreateOptions scope a new thread. A non-empty Parent produces a delegate
// thread `<parent>.<n>` that inherits the parent's session and project.
type CreateOptions struct {
	Parent    string
	SessionID string
	ProjectID string
	Metadata  map[string]string
}

// NewStore creates a thread store over the given persistence layer. Every
// successfully appended event is also published on events when non-nil.
func NewStore(persist persistence.Store, strategies *compaction.Registry, events *bus.Bus, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if strategies == nil {
		strategies = compaction.NewRegistry()
	}
	return &Store{
		persist:    persist,
		strategies: strategies,
		events:     events,
		logger:     logger,
		cache:      make(map[string][]models.ThreadEvent),
	}
}

// SetMetrics enables append and compaction counters.
func (s *Store) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// CreateThread creates a thread and returns its identifier.
func (s *Store) CreateThread(ctx context.Context, opts CreateOptions) (string, error) {
	var id string
	sessionID := opts.SessionID
	projectID := opts.ProjectID

	if opts.Parent != "" {
		parent, err := s.persist.GetThread(ctx, opts.Parent)
		if err != nil {
			return "", fmt.Errorf("delegate parent %s: %w", opts.Parent, err)
		}
		next, err := s.nextChildIndex(ctx, opts.Parent)
		if err != nil {
			return "", err
		}
		id = fmt.Sprintf("%s.%d", opts.Parent, next)
		// Delegates inherit scope from the parent.
		if sessionID == "" {
			sessionID = parent.SessionID
		}
		if projectID == "" {
			projectID = parent.ProjectID
		}
	} else {
		id = NewThreadID()
	}

	now := time.Now().UTC()
	thread := &models.Thread{
		ID:        id,
		SessionID: sessionID,
		ProjectID: projectID,
		Metadata:  opts.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.persist.SaveThread(ctx, thread); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.cache[id] = nil
	s.mu.Unlock()
	return id, nil
}

func (s *Store) nextChildIndex(ctx context.Context, parent string) (int, error) {
	ids, err := s.persist.ListThreadIDs(ctx, parent+".")
	if err != nil {
		return 0, fmt.Errorf("list delegates of %s: %w", parent, err)
	}
	max := 0
	for _, id := range ids {
		if n := ChildIndex(parent, id); n > max {
			max = n
		}
	}
	return max + 1, nil
}

// GetThread returns thread metadata.
func (s *Store) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	return s.persist.GetThread(ctx, id)
}

// CanonicalID returns the identifier external callers should hold for a
// thread. Compaction appends events instead of rewriting threads, so the
// mapping is the identity; the method exists so callers never assume that.
func (s *Store) CanonicalID(id string) string {
	return id
}

// AddEvent appends an event to a thread and returns it. A duplicate approval
// response is ignored: persistence reports the unique-index hit, AddEvent
// returns (nil, nil), and the cache is not touched.
func (s *Store) AddEvent(ctx context.Context, threadID string, eventType models.EventType, data any) (*models.ThreadEvent, error) {
	event := models.ThreadEvent{
		ID:        NewEventID(),
		ThreadID:  threadID,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      models.EncodeData(data),
	}

	var saved bool
	var thread *models.Thread
	err := s.persist.Transact(ctx, func(ctx context.Context, st persistence.Store) error {
		var err error
		thread, err = st.GetThread(ctx, threadID)
		if err != nil {
			return fmt.Errorf("thread %s: %w", threadID, err)
		}
		saved, err = st.SaveEvent(ctx, &event)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !saved {
		return nil, nil
	}
	if s.metrics != nil {
		s.metrics.EventsAppended.WithLabelValues(string(eventType)).Inc()
	}

	// Memory is updated only after the write committed, so the cache can
	// never disagree with a rolled-back transaction.
	s.mu.Lock()
	if cached, ok := s.cache[threadID]; ok {
		s.cache[threadID] = append(cached, event)
	}
	s.mu.Unlock()

	if s.events != nil {
		s.events.Publish(models.BusEvent{
			ID:        event.ID,
			Timestamp: event.Timestamp,
			Scope: models.EventScope{
				ProjectID: thread.ProjectID,
				SessionID: thread.SessionID,
				ThreadID:  threadID,
				CallID:    event.CallID(),
			},
			Kind:    models.KindThreadEvent,
			Payload: event,
		})
	}
	return &event, nil
}

// GetAllEvents returns the complete raw history, including compaction events.
func (s *Store) GetAllEvents(ctx context.Context, threadID string) ([]models.ThreadEvent, error) {
	s.mu.RLock()
	cached, ok := s.cache[threadID]
	s.mu.RUnlock()
	if ok && cached != nil {
		out := make([]models.ThreadEvent, len(cached))
		copy(out, cached)
		return out, nil
	}

	if _, err := s.persist.GetThread(ctx, threadID); err != nil {
		return nil, fmt.Errorf("thread %s: %w", threadID, err)
	}
	events, err := s.persist.LoadEvents(ctx, threadID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	// A concurrent append may have landed after our load; never shrink the
	// cached history.
	if existing, ok := s.cache[threadID]; !ok || len(existing) < len(events) {
		s.cache[threadID] = events
	} else {
		events = existing
	}
	s.mu.Unlock()

	out := make([]models.ThreadEvent, len(events))
	copy(out, events)
	return out, nil
}

// GetEvents returns the working conversation: the raw history with the
// latest compaction applied and tool results deduplicated.
func (s *Store) GetEvents(ctx context.Context, threadID string) ([]models.ThreadEvent, error) {
	raw, err := s.GetAllEvents(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return BuildWorkingConversation(raw), nil
}

// DeleteThread removes a thread and cascades its events.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	if err := s.persist.DeleteThread(ctx, threadID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.cache, threadID)
	s.mu.Unlock()
	return nil
}

// Compact runs the named strategy over the complete history and appends the
// resulting COMPACTION event. The thread identifier is unchanged.
func (s *Store) Compact(ctx context.Context, threadID, strategyID string, params compaction.Params) error {
	strategy, err := s.strategies.Get(strategyID)
	if err != nil {
		return err
	}
	events, err := s.GetAllEvents(ctx, threadID)
	if err != nil {
		return err
	}
	data, err := strategy.Compact(ctx, events, params)
	if err != nil {
		return fmt.Errorf("compaction strategy %s: %w", strategyID, err)
	}
	if _, err := s.AddEvent(ctx, threadID, models.EventCompaction, data); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.Compactions.WithLabelValues(strategyID).Inc()
	}
	s.logger.Info("thread compacted",
		"thread_id", threadID,
		"strategy", strategyID,
		"original_events", data.OriginalEventCount,
		"compacted_events", len(data.CompactedEvents))
	return nil
}

// PendingApprovals lists approval requests in the thread lacking a response.
func (s *Store) PendingApprovals(ctx context.Context, threadID string) ([]models.PendingApproval, error) {
	return s.persist.PendingApprovals(ctx, threadID)
}
