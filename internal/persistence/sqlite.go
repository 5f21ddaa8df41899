package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lacekit/lace/pkg/models"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so store methods run
// unchanged inside Transact.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
	q  dbtx
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; serialize access through a single connection
	// so concurrent appends queue instead of returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, q: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA foreign_keys = ON`,
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS projects (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			working_dir TEXT,
			description TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			project_id TEXT REFERENCES projects(id) ON DELETE CASCADE,
			name       TEXT,
			status     TEXT NOT NULL DEFAULT 'active',
			config     TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS threads (
			id         TEXT PRIMARY KEY,
			session_id TEXT REFERENCES sessions(id) ON DELETE CASCADE,
			project_id TEXT,
			metadata   TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id        TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			type      TEXT NOT NULL,
			call_id   TEXT,
			timestamp TEXT NOT NULL,
			data      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_thread ON events(thread_id)`,
		// At-most-one approval response per tool call. Duplicate writes hit
		// this index and are reported as benign no-ops by SaveEvent.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_approval_response
			ON events(thread_id, call_id)
			WHERE type = 'TOOL_APPROVAL_RESPONSE'`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			title       TEXT NOT NULL,
			description TEXT,
			prompt      TEXT,
			status      TEXT NOT NULL,
			priority    TEXT NOT NULL,
			assignee    TEXT,
			created_by  TEXT,
			thread_id   TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id)`,
		`CREATE TABLE IF NOT EXISTS task_notes (
			id         TEXT PRIMARY KEY,
			task_id    TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			author     TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Transact runs fn inside a single transaction. The store passed to fn shares
// the transaction; nested Transact calls run in the outer transaction.
func (s *SQLiteStore) Transact(ctx context.Context, fn func(ctx context.Context, st Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	txStore := &SQLiteStore{db: s.db, q: tx}
	if err := fn(ctx, txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveThread(ctx context.Context, thread *models.Thread) error {
	if thread == nil || thread.ID == "" {
		return fmt.Errorf("thread id is required")
	}
	metadata, err := marshalNullable(thread.Metadata)
	if err != nil {
		return fmt.Errorf("marshal thread metadata: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO threads (id, session_id, project_id, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			project_id = excluded.project_id,
			metadata   = excluded.metadata,
			updated_at = excluded.updated_at`,
		thread.ID, nullString(thread.SessionID), nullString(thread.ProjectID),
		metadata, formatTime(thread.CreatedAt), formatTime(thread.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save thread %s: %w", thread.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, session_id, project_id, metadata, created_at, updated_at
		FROM threads WHERE id = ?`, id)

	var t models.Thread
	var sessionID, projectID, metadata sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&t.ID, &sessionID, &projectID, &metadata, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", id, err)
	}
	t.SessionID = sessionID.String
	t.ProjectID = projectID.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode thread metadata: %w", err)
		}
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func (s *SQLiteStore) ListThreadIDs(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id FROM threads WHERE id LIKE ? || '%' ORDER BY id`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) DeleteThread(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete thread %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveEvent(ctx context.Context, event *models.ThreadEvent) (bool, error) {
	if event == nil || event.ID == "" || event.ThreadID == "" {
		return false, fmt.Errorf("event id and thread id are required")
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO events (id, thread_id, type, call_id, timestamp, data)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.ThreadID, string(event.Type), nullString(event.CallID()),
		formatTime(event.Timestamp), string(event.Data))
	if err != nil {
		if event.Type == models.EventApprovalResponse && isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("save event %s: %w", event.ID, err)
	}
	return true, nil
}

func (s *SQLiteStore) LoadEvents(ctx context.Context, threadID string) ([]models.ThreadEvent, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, thread_id, type, timestamp, data
		FROM events WHERE thread_id = ? ORDER BY rowid`, threadID)
	if err != nil {
		return nil, fmt.Errorf("load events for %s: %w", threadID, err)
	}
	defer rows.Close()

	var events []models.ThreadEvent
	for rows.Next() {
		var e models.ThreadEvent
		var typ, timestamp, data string
		if err := rows.Scan(&e.ID, &e.ThreadID, &typ, &timestamp, &data); err != nil {
			return nil, err
		}
		e.Type = models.EventType(typ)
		e.Timestamp = parseTime(timestamp)
		e.Data = json.RawMessage(data)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) PendingApprovals(ctx context.Context, threadID string) ([]models.PendingApproval, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT e.call_id, e.timestamp,
			(SELECT c.data FROM events c
			 WHERE c.thread_id = e.thread_id AND c.type = 'TOOL_CALL' AND c.call_id = e.call_id
			 LIMIT 1)
		FROM events e
		WHERE e.thread_id = ? AND e.type = 'TOOL_APPROVAL_REQUEST'
		AND NOT EXISTS (
			SELECT 1 FROM events r
			WHERE r.thread_id = e.thread_id AND r.type = 'TOOL_APPROVAL_RESPONSE'
			AND r.call_id = e.call_id
		)
		ORDER BY e.rowid`, threadID)
	if err != nil {
		return nil, fmt.Errorf("pending approvals for %s: %w", threadID, err)
	}
	defer rows.Close()

	var pending []models.PendingApproval
	for rows.Next() {
		var p models.PendingApproval
		var callID sql.NullString
		var timestamp string
		var callData sql.NullString
		if err := rows.Scan(&callID, &timestamp, &callData); err != nil {
			return nil, err
		}
		p.CallID = callID.String
		p.RequestedAt = parseTime(timestamp)
		if callData.Valid {
			if err := json.Unmarshal([]byte(callData.String), &p.ToolCall); err != nil {
				return nil, fmt.Errorf("decode tool call for %s: %w", p.CallID, err)
			}
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

func (s *SQLiteStore) ApprovalDecision(ctx context.Context, callID string) (*models.ApprovalResponseData, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT data FROM events
		WHERE type = 'TOOL_APPROVAL_RESPONSE' AND call_id = ?
		LIMIT 1`, callID)

	var data string
	err := row.Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("approval decision for %s: %w", callID, err)
	}
	var d models.ApprovalResponseData
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, fmt.Errorf("decode approval response for %s: %w", callID, err)
	}
	return &d, nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session id is required")
	}
	config, err := marshalNullable(session.Config)
	if err != nil {
		return fmt.Errorf("marshal session config: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, name, status, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, nullString(session.ProjectID), session.Name, string(session.Status),
		config, formatTime(session.CreatedAt), formatTime(session.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, project_id, name, status, config, created_at, updated_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *SQLiteStore) ListSessions(ctx context.Context, projectID string) ([]*models.Session, error) {
	query := `SELECT id, project_id, name, status, config, created_at, updated_at
		FROM sessions`
	args := []any{}
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, session *models.Session) error {
	config, err := marshalNullable(session.Config)
	if err != nil {
		return fmt.Errorf("marshal session config: %w", err)
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE sessions SET name = ?, status = ?, config = ?, updated_at = ?
		WHERE id = ?`,
		session.Name, string(session.Status), config, formatTime(time.Now().UTC()), session.ID)
	if err != nil {
		return fmt.Errorf("update session %s: %w", session.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveProject(ctx context.Context, project *models.Project) error {
	if project == nil || project.ID == "" {
		return fmt.Errorf("project id is required")
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO projects (id, name, working_dir, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		project.ID, project.Name, project.WorkingDir, project.Description,
		formatTime(project.CreatedAt), formatTime(project.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("save project %s: %w", project.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, working_dir, description, created_at, updated_at
		FROM projects WHERE id = ?`, id)

	var p models.Project
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &p.WorkingDir, &p.Description, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, working_dir, description, created_at, updated_at
		FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		var p models.Project
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.WorkingDir, &p.Description, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(createdAt)
		p.UpdatedAt = parseTime(updatedAt)
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) SaveTask(ctx context.Context, task *models.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task id is required")
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO tasks (id, session_id, title, description, prompt, status, priority,
			assignee, created_by, thread_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.SessionID, task.Title, task.Description, task.Prompt,
		string(task.Status), string(task.Priority), task.Assignee, task.CreatedBy,
		task.ThreadID, formatTime(task.CreatedAt), formatTime(task.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, session_id, title, description, prompt, status, priority,
			assignee, created_by, thread_id, created_at, updated_at
		FROM tasks WHERE id = ?`, id)

	task, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	notes, err := s.loadTaskNotes(ctx, id)
	if err != nil {
		return nil, err
	}
	task.Notes = notes
	return task, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, sessionID string, filter TaskFilter) ([]*models.Task, error) {
	query := `SELECT id, session_id, title, description, prompt, status, priority,
		assignee, created_by, thread_id, created_at, updated_at FROM tasks WHERE session_id = ?`
	args := []any{sessionID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, string(filter.Priority))
	}
	if filter.Assignee != "" {
		query += ` AND assignee = ?`
		args = append(args, filter.Assignee)
	}
	query += ` ORDER BY rowid`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, task := range tasks {
		notes, err := s.loadTaskNotes(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		task.Notes = notes
	}
	return tasks, nil
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, task *models.Task) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, prompt = ?, status = ?,
			priority = ?, assignee = ?, updated_at = ?
		WHERE id = ?`,
		task.Title, task.Description, task.Prompt, string(task.Status),
		string(task.Priority), task.Assignee, formatTime(time.Now().UTC()), task.ID)
	if err != nil {
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AddTaskNote(ctx context.Context, taskID string, note models.TaskNote) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO task_notes (id, task_id, author, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		note.ID, taskID, note.Author, note.Content, formatTime(note.CreatedAt))
	if err != nil {
		return fmt.Errorf("add note to task %s: %w", taskID, err)
	}
	return nil
}

func (s *SQLiteStore) loadTaskNotes(ctx context.Context, taskID string) ([]models.TaskNote, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, author, content, created_at FROM task_notes
		WHERE task_id = ? ORDER BY rowid`, taskID)
	if err != nil {
		return nil, fmt.Errorf("load notes for %s: %w", taskID, err)
	}
	defer rows.Close()

	var notes []models.TaskNote
	for rows.Next() {
		var n models.TaskNote
		var createdAt string
		if err := rows.Scan(&n.ID, &n.Author, &n.Content, &createdAt); err != nil {
			return nil, err
		}
		n.CreatedAt = parseTime(createdAt)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var projectID, config sql.NullString
	var status, createdAt, updatedAt string
	err := row.Scan(&sess.ID, &projectID, &sess.Name, &status, &config, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.ProjectID = projectID.String
	sess.Status = models.SessionStatus(status)
	if config.Valid && config.String != "" {
		if err := json.Unmarshal([]byte(config.String), &sess.Config); err != nil {
			return nil, fmt.Errorf("decode session config: %w", err)
		}
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return &sess, nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var status, priority, createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.SessionID, &t.Title, &t.Description, &t.Prompt,
		&status, &priority, &t.Assignee, &t.CreatedBy, &t.ThreadID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Status = models.TaskStatus(status)
	t.Priority = models.TaskPriority(priority)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func marshalNullable(v any) (sql.NullString, error) {
	switch m := v.(type) {
	case map[string]string:
		if len(m) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]any:
		if len(m) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
