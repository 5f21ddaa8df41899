package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lacekit/lace/internal/agent"
	"github.com/lacekit/lace/internal/persistence"
	"github.com/lacekit/lace/internal/tasks"
	"github.com/lacekit/lace/pkg/models"
)

// actor identifies who performed a mutation, for task bus events. The API is
// the human-facing surface; agents mutate tasks through their own path.
const humanActor = "human"

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// --- projects ---

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		WorkingDir  string `json:"working_dir"`
		Description string `json:"description"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "project name is required")
		return
	}
	now := time.Now().UTC()
	project := &models.Project{
		ID:          "proj_" + uuid.New().String(),
		Name:        req.Name,
		WorkingDir:  req.WorkingDir,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.cfg.Persist.SaveProject(r.Context(), project); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.cfg.Persist.ListProjects(r.Context())
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// --- sessions ---

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string         `json:"project_id"`
		Name      string         `json:"name"`
		Config    map[string]any `json:"config"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.cfg.Sessions.CreateSession(r.Context(), req.ProjectID, req.Name, req.Config)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.cfg.Sessions.ListSessions(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.cfg.Sessions.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.SessionStatus `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch req.Status {
	case models.SessionActive, models.SessionArchived, models.SessionCompleted:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid session status %q", req.Status))
		return
	}
	session, err := s.cfg.Sessions.UpdateStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Sessions.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSpawnAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := s.cfg.Sessions.SpawnAgent(r.Context(), r.PathValue("id"), req.Provider, req.Model)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"thread_id": a.ThreadID(),
		"model":     a.Model(),
		"state":     string(a.State()),
	})
}

// --- threads ---

func (s *Server) handleThreadEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.cfg.Threads.GetEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleThreadHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.cfg.Threads.GetAllEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	threadID := r.PathValue("id")
	a, ok := s.cfg.Sessions.AgentFor(threadID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no live agent on thread %s", threadID))
		return
	}
	if err := a.SendMessage(req.Text); err != nil {
		if err == agent.ErrQueueFull {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"thread_id": threadID,
		"state":     string(a.State()),
	})
}

func (s *Server) handleCancelTurn(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	a, ok := s.cfg.Sessions.AgentFor(threadID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no live agent on thread %s", threadID))
		return
	}
	a.Cancel()
	w.WriteHeader(http.StatusAccepted)
}

// --- approvals ---

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.cfg.Approvals.Pending(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ThreadID string                  `json:"thread_id"`
		Decision models.ApprovalDecision `json:"decision"`
		Reason   string                  `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch req.Decision {
	case models.ApprovalAllowOnce, models.ApprovalAllowSession, models.ApprovalDeny:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid decision %q", req.Decision))
		return
	}
	if req.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "thread_id is required")
		return
	}

	saved, err := s.cfg.Approvals.Resolve(r.Context(), req.ThreadID, r.PathValue("callID"), req.Decision, req.Reason)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if !saved {
		// A decision already exists; the caller lost the race.
		writeJSON(w, http.StatusConflict, map[string]string{"error": "approval already resolved"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"call_id": r.PathValue("callID"), "decision": string(req.Decision)})
}

// --- tasks ---

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string              `json:"title"`
		Description string              `json:"description"`
		Prompt      string              `json:"prompt"`
		Priority    models.TaskPriority `json:"priority"`
		Assignee    string              `json:"assignee"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := s.cfg.Tasks.Create(r.Context(), tasks.CreateRequest{
		SessionID:   r.PathValue("id"),
		Title:       req.Title,
		Description: req.Description,
		Prompt:      req.Prompt,
		Priority:    req.Priority,
		Assignee:    req.Assignee,
		CreatedBy:   humanActor,
	}, humanActor, true)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := persistence.TaskFilter{
		Status:   models.TaskStatus(query.Get("status")),
		Priority: models.TaskPriority(query.Get("priority")),
		Assignee: query.Get("assignee"),
	}
	list, err := s.cfg.Tasks.List(r.Context(), r.PathValue("id"), filter)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleTaskSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.cfg.Tasks.Summary(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.cfg.Tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       *string              `json:"title"`
		Description *string              `json:"description"`
		Prompt      *string              `json:"prompt"`
		Status      *models.TaskStatus   `json:"status"`
		Priority    *models.TaskPriority `json:"priority"`
		Assignee    *string              `json:"assignee"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := s.cfg.Tasks.Update(r.Context(), r.PathValue("id"), tasks.Updates{
		Title:       req.Title,
		Description: req.Description,
		Prompt:      req.Prompt,
		Status:      req.Status,
		Priority:    req.Priority,
		Assignee:    req.Assignee,
	}, humanActor, true)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Tasks.Delete(r.Context(), r.PathValue("id"), humanActor, true); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddTaskNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Author  string `json:"author"`
		Content string `json:"content"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Author == "" {
		req.Author = humanActor
	}
	task, err := s.cfg.Tasks.AddNote(r.Context(), r.PathValue("id"), req.Author, req.Content, true)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}
