package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/lacekit/lace/internal/observability"
	"github.com/lacekit/lace/pkg/models"
)

// DefaultToolTimeout bounds a single tool execution unless the tool declares
// its own timeout.
const DefaultToolTimeout = 2 * time.Minute

// deniedMessage is the fixed content of an aborted result after a deny.
const deniedMessage = "Tool execution denied."

// Executor validates arguments, gates execution on approval, and converts
// every outcome into a TOOL_RESULT payload. The caller always gets a result;
// errors are encoded in the status so the agent can let the provider react.
type Executor struct {
	registry       *Registry
	approver       Approver
	logger         *slog.Logger
	metrics        *observability.Metrics
	defaultTimeout time.Duration
}

// NewExecutor creates an executor over the registry. approver may be nil, in
// which case non-read-only tools are denied outright.
func NewExecutor(registry *Registry, approver Approver, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:       registry,
		approver:       approver,
		logger:         logger,
		defaultTimeout: DefaultToolTimeout,
	}
}

// SetMetrics enables execution counters and timings.
func (e *Executor) SetMetrics(m *observability.Metrics) {
	e.metrics = m
}

// SetDefaultTimeout overrides the fallback per-tool timeout.
func (e *Executor) SetDefaultTimeout(d time.Duration) {
	if d > 0 {
		e.defaultTimeout = d
	}
}

// Registry exposes the underlying registry for provider advertisement.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs a tool call to completion and returns its result payload.
func (e *Executor) Execute(ctx context.Context, call models.ToolCallData, tc Context) models.ToolResultData {
	start := time.Now()
	result := e.execute(ctx, call, tc)
	if e.metrics != nil {
		e.metrics.ToolExecutions.WithLabelValues(call.Name, string(result.Status)).Inc()
		e.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	}
	return result
}

func (e *Executor) execute(ctx context.Context, call models.ToolCallData, tc Context) models.ToolResultData {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return failedResult(call.CallID, fmt.Sprintf("tool not found: %s", call.Name))
	}
	def := tool.Metadata()

	if msg, ok := e.validateArgs(call); !ok {
		return failedResult(call.CallID, msg)
	}

	if !def.Annotations.ReadOnly {
		decision, err := e.requestApproval(ctx, call, tc)
		if err != nil {
			if ctx.Err() != nil {
				return abortedResult(call.CallID, deniedMessage)
			}
			return failedResult(call.CallID, fmt.Sprintf("approval failed: %v", err))
		}
		if decision == models.ApprovalDeny {
			return abortedResult(call.CallID, deniedMessage)
		}
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	content, err := e.invoke(execCtx, tool, call, tc)
	elapsed := time.Since(start)

	if err != nil {
		// A cancelled turn aborts the tool; everything else is a failure the
		// provider gets to see.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			e.logger.Info("tool aborted", "tool", call.Name, "call_id", call.CallID, "elapsed", elapsed)
			return abortedResult(call.CallID, fmt.Sprintf("tool %s aborted: %v", call.Name, err))
		}
		e.logger.Warn("tool failed", "tool", call.Name, "call_id", call.CallID, "error", err, "elapsed", elapsed)
		return failedResult(call.CallID, err.Error())
	}

	e.logger.Debug("tool completed", "tool", call.Name, "call_id", call.CallID, "elapsed", elapsed)
	return models.ToolResultData{
		CallID:  call.CallID,
		Content: content,
		Status:  models.ResultCompleted,
	}
}

func (e *Executor) requestApproval(ctx context.Context, call models.ToolCallData, tc Context) (models.ApprovalDecision, error) {
	if e.approver == nil {
		return models.ApprovalDeny, nil
	}
	return e.approver.RequestApproval(ctx, tc.ThreadID, call)
}

// validateArgs checks the call arguments against the tool's compiled schema.
func (e *Executor) validateArgs(call models.ToolCallData) (string, bool) {
	schema := e.registry.schema(call.Name)
	if schema == nil {
		return "", true
	}
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Sprintf("invalid arguments for %s: %v", call.Name, err), false
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Sprintf("invalid arguments for %s: %v", call.Name, err), false
	}
	return "", true
}

// invoke runs the handler with panic containment.
func (e *Executor) invoke(ctx context.Context, tool Tool, call models.ToolCallData, tc Context) (content []models.ContentBlock, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool handler panicked",
				"tool", call.Name, "call_id", call.CallID,
				"panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("tool %s panicked: %v", call.Name, r)
		}
	}()
	return tool.Execute(ctx, call.Arguments, tc)
}

func failedResult(callID, message string) models.ToolResultData {
	return models.ToolResultData{
		CallID:  callID,
		Content: []models.ContentBlock{models.TextBlock(message)},
		Status:  models.ResultFailed,
	}
}

func abortedResult(callID, message string) models.ToolResultData {
	return models.ToolResultData{
		CallID:  callID,
		Content: []models.ContentBlock{models.TextBlock(message)},
		Status:  models.ResultAborted,
	}
}
