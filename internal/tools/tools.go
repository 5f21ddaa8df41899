// Package tools implements the tool registry and the schema-validated
// executor that dispatches provider tool calls, gates side-effecting tools on
// approval, and converts outcomes into TOOL_RESULT payloads.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lacekit/lace/pkg/models"
)

// Annotations describe tool behavior for approval policy and providers.
type Annotations struct {
	// ReadOnly tools run without approval.
	ReadOnly bool `json:"read_only,omitempty"`

	// Idempotent tools can be retried safely.
	Idempotent bool `json:"idempotent,omitempty"`

	// Destructive tools modify or delete state irreversibly.
	Destructive bool `json:"destructive,omitempty"`
}

// Definition is the static declaration of a tool: what providers see and
// what the executor validates against.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
	Annotations Annotations     `json:"annotations,omitempty"`

	// Timeout bounds a single execution; zero falls back to the executor
	// default.
	Timeout time.Duration `json:"-"`
}

// Context carries the identifiers and working directory a tool handler may
// need. The cancellation signal rides on the context.Context passed to
// Execute.
type Context struct {
	ThreadID   string
	SessionID  string
	ProjectID  string
	WorkingDir string
}

// Tool is an executable capability. Metadata returns the static declaration;
// Execute receives schema-validated arguments and returns content blocks.
// A non-nil error marks the result failed; handlers observing ctx
// cancellation should return ctx.Err().
type Tool interface {
	Metadata() Definition
	Execute(ctx context.Context, args json.RawMessage, tc Context) ([]models.ContentBlock, error)
}

// Approver gates non-read-only tool calls on an external decision.
// Implementations write the approval request event and block until a
// response arrives, the timeout elapses, or ctx is cancelled.
type Approver interface {
	RequestApproval(ctx context.Context, threadID string, call models.ToolCallData) (models.ApprovalDecision, error)
}
