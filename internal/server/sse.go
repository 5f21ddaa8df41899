package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lacekit/lace/internal/bus"
	"github.com/lacekit/lace/pkg/models"
)

// keepaliveInterval is how often an idle stream emits a comment so proxies
// and clients know the connection is alive.
const keepaliveInterval = 30 * time.Second

// handleEventStream serves the bus over server-sent events. The filter is
// fixed at connect time from query parameters: project_id, session_id,
// thread_id, task_id, and kinds (comma-separated). Slow clients lose events
// rather than slowing publishers; they reconcile by refetching thread
// history and task lists.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	query := r.URL.Query()
	filter := bus.Filter{
		Scope: models.EventScope{
			ProjectID: query.Get("project_id"),
			SessionID: query.Get("session_id"),
			ThreadID:  query.Get("thread_id"),
			TaskID:    query.Get("task_id"),
		},
	}
	if kinds := query.Get("kinds"); kinds != "" {
		for _, kind := range strings.Split(kinds, ",") {
			if kind = strings.TrimSpace(kind); kind != "" {
				filter.Kinds = append(filter.Kinds, kind)
			}
		}
	}

	sub := s.cfg.Bus.Subscribe(filter)
	defer sub.Close()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SSEClients.Inc()
		defer s.cfg.Metrics.SSEClients.Dec()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug("event stream connected", "filter", filter.Scope, "kinds", filter.Kinds)

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Warn("encode stream event", "kind", event.Kind, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", event.Kind, event.ID, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
