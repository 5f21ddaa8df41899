// Package compaction rewrites thread history under token pressure. Strategies
// are pure at their boundary: given an event list and a parameter bag they
// return a candidate COMPACTION payload containing the rewritten prefix. The
// thread store appends the single COMPACTION event; originals are never
// deleted and the thread identifier external callers hold is not altered.
package compaction

import (
	"context"
	"fmt"
	"sync"

	"github.com/lacekit/lace/pkg/models"
)

// Params is the strategy parameter bag.
type Params map[string]any

// Int reads an integer parameter, accepting JSON-decoded float64 values.
func (p Params) Int(key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

// String reads a string parameter.
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return def
}

// Strategy produces a candidate compaction payload for an event list.
type Strategy interface {
	ID() string
	Compact(ctx context.Context, events []models.ThreadEvent, params Params) (models.CompactionData, error)
}

// Registry holds compaction strategies keyed by identifier.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy, replacing any existing strategy with the same id.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.ID()] = s
}

// Get returns the strategy registered under id.
func (r *Registry) Get(id string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[id]
	if !ok {
		return nil, fmt.Errorf("unknown compaction strategy %q", id)
	}
	return s, nil
}

// IDs lists the registered strategy identifiers.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.strategies))
	for id := range r.strategies {
		ids = append(ids, id)
	}
	return ids
}
