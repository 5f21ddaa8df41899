package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lacekit/lace/internal/bus"
	"github.com/lacekit/lace/internal/compaction"
	"github.com/lacekit/lace/internal/observability"
	"github.com/lacekit/lace/internal/threads"
	"github.com/lacekit/lace/internal/tools"
	"github.com/lacekit/lace/pkg/models"
)

// State is the agent's externally visible lifecycle phase.
type State string

const (
	StateIdle        State = "idle"
	StateThinking    State = "thinking"
	StateStreaming   State = "streaming"
	StateToolWaiting State = "tool_waiting"
	StateToolRunning State = "tool_running"
	StateTerminated  State = "terminated"
)

const (
	// DefaultQueueSize bounds messages waiting for an idle agent.
	DefaultQueueSize = 32

	// DefaultMaxIterations bounds provider round-trips within one turn.
	DefaultMaxIterations = 10
)

// ErrQueueFull is returned by SendMessage when the inbox is at capacity.
var ErrQueueFull = errors.New("agent message queue full")

// ErrTerminated is returned once the agent has been stopped.
var ErrTerminated = errors.New("agent terminated")

// Config assembles an agent over an existing thread.
type Config struct {
	ThreadID string
	Provider Provider

	// Model selects the provider model; empty uses the provider default.
	Model string

	// SystemPrompt seeds the provider system string; thread SYSTEM_PROMPT
	// events are appended after it.
	SystemPrompt string

	Store    *threads.Store
	Executor *tools.Executor
	Events   *bus.Bus
	Logger   *slog.Logger
	Metrics  *observability.Metrics

	// CompactionStrategy runs when the estimated context use crosses the
	// threshold. Empty disables automatic compaction.
	CompactionStrategy string

	QueueSize     int
	MaxIterations int
}

// Agent drives one thread: it owns the turn loop, the bounded inbox, and the
// state machine. One goroutine processes messages serially; concurrent sends
// only enqueue.
type Agent struct {
	threadID   string
	provider   Provider
	model      string
	system     string
	store      *threads.Store
	executor   *tools.Executor
	events     *bus.Bus
	logger     *slog.Logger
	metrics    *observability.Metrics
	strategy   string
	maxIters   int
	sessionID  string
	projectID  string

	queue chan string
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	started bool
	stopped bool
}

// New assembles an agent. Start must be called before SendMessage is useful.
func New(cfg Config) (*Agent, error) {
	if cfg.ThreadID == "" {
		return nil, errors.New("agent: thread id is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("agent: provider is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("agent: thread store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = cfg.Provider.DefaultModel()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	maxIters := cfg.MaxIterations
	if maxIters <= 0 {
		maxIters = DefaultMaxIterations
	}
	return &Agent{
		threadID: cfg.ThreadID,
		provider: cfg.Provider,
		model:    model,
		system:   cfg.SystemPrompt,
		store:    cfg.Store,
		executor: cfg.Executor,
		events:   cfg.Events,
		logger:   logger.With("thread_id", cfg.ThreadID),
		metrics:  cfg.Metrics,
		strategy: cfg.CompactionStrategy,
		maxIters: maxIters,
		queue:    make(chan string, queueSize),
		done:     make(chan struct{}),
		state:    StateIdle,
	}, nil
}

// ThreadID returns the thread this agent drives.
func (a *Agent) ThreadID() string { return a.threadID }

// Model returns the provider model in use.
func (a *Agent) Model() string { return a.model }

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// QueueLength reports messages waiting in the inbox.
func (a *Agent) QueueLength() int { return len(a.queue) }

// Start repairs any interrupted turn left in the thread and begins draining
// the inbox. ctx bounds the agent's lifetime; cancelling it terminates the
// agent after the in-flight turn observes the cancellation.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("agent: already started")
	}
	a.started = true
	a.mu.Unlock()

	if thread, err := a.store.GetThread(ctx, a.threadID); err != nil {
		return fmt.Errorf("agent thread %s: %w", a.threadID, err)
	} else {
		a.sessionID = thread.SessionID
		a.projectID = thread.ProjectID
	}

	if err := a.repairDanglingCalls(ctx); err != nil {
		return err
	}

	a.wg.Add(1)
	go a.run(ctx)
	return nil
}

// SendMessage enqueues user input. The message becomes a USER_MESSAGE event
// when its turn starts; a full inbox rejects rather than blocks.
func (a *Agent) SendMessage(text string) error {
	a.mu.Lock()
	stopped := a.stopped
	a.mu.Unlock()
	if stopped {
		return ErrTerminated
	}
	select {
	case a.queue <- text:
		return nil
	default:
		return ErrQueueFull
	}
}

// Cancel aborts the in-flight turn, if any. Queued messages are unaffected.
func (a *Agent) Cancel() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop terminates the agent: the in-flight turn is cancelled and the loop
// exits once it returns. Stop is idempotent.
func (a *Agent) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	close(a.done)
	a.wg.Wait()
}

func (a *Agent) run(ctx context.Context) {
	defer a.wg.Done()
	defer a.setState(StateTerminated)
	for {
		select {
		case <-a.done:
			return
		case <-ctx.Done():
			return
		case text := <-a.queue:
			turnCtx, cancel := context.WithCancel(ctx)
			a.mu.Lock()
			a.cancel = cancel
			a.mu.Unlock()

			a.runTurn(turnCtx, text)

			cancel()
			a.mu.Lock()
			a.cancel = nil
			a.mu.Unlock()
			a.setState(StateIdle)
		}
	}
}

// runTurn executes one full turn: append the user message, compact when the
// context is near full, then loop provider calls and tool executions until
// the provider stops asking for tools or the iteration cap is hit.
func (a *Agent) runTurn(ctx context.Context, text string) {
	if _, err := a.appendEvent(ctx, models.EventUserMessage, models.MessageData{Text: text}); err != nil {
		a.logger.Error("append user message", "error", err)
		return
	}

	a.maybeCompact(ctx)

	for iter := 0; iter < a.maxIters; iter++ {
		a.setState(StateThinking)

		events, err := a.store.GetEvents(ctx, a.threadID)
		if err != nil {
			a.logger.Error("load working conversation", "error", err)
			return
		}

		var defs []tools.Definition
		if a.executor != nil {
			defs = a.executor.Registry().List()
		}
		req := buildRequest(events, a.model, a.system, defs, a.provider.MaxCompletionTokens(a.model))

		start := time.Now()
		stream, err := a.provider.CreateResponse(ctx, req)
		if err != nil {
			a.observeProviderRequest(start, "error", nil)
			a.reportProviderFailure(err)
			return
		}

		resp, err := a.consume(ctx, stream)
		if err != nil {
			// A cancelled turn leaves no AGENT_MESSAGE behind.
			if ctx.Err() != nil {
				a.logger.Info("turn cancelled", "iteration", iter)
				return
			}
			a.observeProviderRequest(start, "error", nil)
			a.reportProviderFailure(err)
			return
		}
		a.observeProviderRequest(start, "success", &resp.Usage)
		if ctx.Err() != nil {
			a.logger.Info("turn cancelled", "iteration", iter)
			return
		}

		if _, err := a.appendEvent(ctx, models.EventAgentMessage, models.MessageData{
			Text:  resp.Text,
			Usage: &resp.Usage,
		}); err != nil {
			a.logger.Error("append agent message", "error", err)
			return
		}

		if len(resp.ToolCalls) == 0 {
			return
		}
		if !a.runToolCalls(ctx, resp.ToolCalls) {
			return
		}
	}

	a.logger.Warn("turn iteration limit reached", "max_iterations", a.maxIters)
	a.appendLocalNotice(fmt.Sprintf("Turn stopped after %d tool iterations.", a.maxIters))
}

// runToolCalls appends and executes each requested call in order. It returns
// false when the turn must end (cancellation); a cancelled call still leaves
// an aborted TOOL_RESULT behind.
func (a *Agent) runToolCalls(ctx context.Context, calls []models.ToolCallData) bool {
	for _, call := range calls {
		if _, err := a.appendEvent(ctx, models.EventToolCall, call); err != nil {
			a.logger.Error("append tool call", "call_id", call.CallID, "error", err)
			return false
		}

		a.setState(a.toolState(call.Name))
		result := a.execute(ctx, call)

		if _, err := a.appendEvent(ctx, models.EventToolResult, result); err != nil {
			a.logger.Error("append tool result", "call_id", call.CallID, "error", err)
			return false
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return true
}

func (a *Agent) execute(ctx context.Context, call models.ToolCallData) models.ToolResultData {
	if a.executor == nil {
		return models.ToolResultData{
			CallID:  call.CallID,
			Content: []models.ContentBlock{models.TextBlock("no tool executor configured")},
			Status:  models.ResultFailed,
		}
	}
	return a.executor.Execute(ctx, call, tools.Context{
		ThreadID:  a.threadID,
		SessionID: a.sessionID,
		ProjectID: a.projectID,
	})
}

// toolState distinguishes approval-gated calls from immediately runnable
// ones. The wait, if any, happens inside the executor.
func (a *Agent) toolState(name string) State {
	if a.executor == nil {
		return StateToolRunning
	}
	if tool, ok := a.executor.Registry().Get(name); ok && !tool.Metadata().Annotations.ReadOnly {
		return StateToolWaiting
	}
	return StateToolRunning
}

// consume drains the stream, publishing transient token deltas, and returns
// the accumulated response.
func (a *Agent) consume(ctx context.Context, stream <-chan Chunk) (*Response, error) {
	var (
		text      strings.Builder
		resp      Response
		streaming bool
	)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				resp.Text = text.String()
				return &resp, nil
			}
			if chunk.Err != nil {
				return nil, chunk.Err
			}
			if chunk.Text != "" {
				if !streaming {
					a.setState(StateStreaming)
					streaming = true
				}
				text.WriteString(chunk.Text)
				a.publishTokenDelta(chunk.Text)
			}
			if chunk.ToolCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
			}
			if chunk.Done {
				if chunk.Usage != nil {
					resp.Usage = *chunk.Usage
				}
				resp.StopReason = chunk.StopReason
			}
		}
	}
}

// maybeCompact runs the configured strategy when the estimated token use of
// the working conversation crosses the threshold. Compaction failures are
// logged, never fatal to the turn.
func (a *Agent) maybeCompact(ctx context.Context) {
	if a.strategy == "" {
		return
	}
	events, err := a.store.GetEvents(ctx, a.threadID)
	if err != nil {
		a.logger.Warn("compaction check skipped", "error", err)
		return
	}
	window := a.provider.ContextWindow(a.model)
	if !compaction.NeedsCompaction(events, window) {
		return
	}
	if err := a.store.Compact(ctx, a.threadID, a.strategy, nil); err != nil {
		a.logger.Warn("automatic compaction failed", "strategy", a.strategy, "error", err)
	}
}

// repairDanglingCalls appends aborted results for tool calls left without a
// result by an interrupted process, so the next provider request sees a
// well-formed transcript.
func (a *Agent) repairDanglingCalls(ctx context.Context) error {
	events, err := a.store.GetEvents(ctx, a.threadID)
	if err != nil {
		return err
	}

	answered := make(map[string]bool)
	var dangling []models.ToolCallData
	for _, e := range events {
		switch e.Type {
		case models.EventToolCall:
			if d, err := models.DecodeToolCall(e); err == nil {
				dangling = append(dangling, d)
			}
		case models.EventToolResult:
			if d, ok, err := models.DecodeToolResult(e); err == nil && ok {
				answered[d.CallID] = true
			}
		}
	}

	for _, call := range dangling {
		if answered[call.CallID] {
			continue
		}
		a.logger.Info("repairing dangling tool call", "call_id", call.CallID, "tool", call.Name)
		if _, err := a.appendEvent(ctx, models.EventToolResult, models.ToolResultData{
			CallID:  call.CallID,
			Content: []models.ContentBlock{models.TextBlock("Tool execution interrupted by process restart.")},
			Status:  models.ResultAborted,
		}); err != nil {
			return fmt.Errorf("repair call %s: %w", call.CallID, err)
		}
	}
	return nil
}

func (a *Agent) observeProviderRequest(start time.Time, status string, usage *models.TokenUsage) {
	if a.metrics == nil {
		return
	}
	name := a.provider.Name()
	a.metrics.ProviderRequestDuration.WithLabelValues(name, a.model).Observe(time.Since(start).Seconds())
	a.metrics.ProviderRequestCounter.WithLabelValues(name, a.model, status).Inc()
	if usage != nil {
		a.metrics.TokensUsed.WithLabelValues(name, a.model, "input").Add(float64(usage.InputTokens))
		a.metrics.TokensUsed.WithLabelValues(name, a.model, "output").Add(float64(usage.OutputTokens))
	}
}

func (a *Agent) reportProviderFailure(err error) {
	a.logger.Error("provider request failed", "provider", a.provider.Name(), "model", a.model, "error", err)
	a.appendLocalNotice(fmt.Sprintf("Provider request failed: %v", err))
}

// appendLocalNotice records a UI-only message. It must land even when the
// turn context is gone, so it writes with its own deadline.
func (a *Agent) appendLocalNotice(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := a.store.AddEvent(ctx, a.threadID, models.EventLocalSystemMessage, models.MessageData{Text: text}); err != nil {
		a.logger.Error("append local notice", "error", err)
	}
}

// appendEvent writes through the thread store. Cleanup writes after a
// cancelled turn (aborted tool results) get a detached context so the record
// is not lost with the turn.
func (a *Agent) appendEvent(ctx context.Context, eventType models.EventType, data any) (*models.ThreadEvent, error) {
	if ctx.Err() != nil {
		detached, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctx = detached
	}
	return a.store.AddEvent(ctx, a.threadID, eventType, data)
}

func (a *Agent) setState(next State) {
	a.mu.Lock()
	if a.state == next || a.state == StateTerminated {
		a.mu.Unlock()
		return
	}
	a.state = next
	a.mu.Unlock()

	if a.events != nil {
		ev := models.NewBusEvent(models.KindAgentState, models.EventScope{
			ProjectID: a.projectID,
			SessionID: a.sessionID,
			ThreadID:  a.threadID,
		}, models.AgentStateChange{ThreadID: a.threadID, State: string(next)})
		ev.Transient = true
		a.events.Publish(ev)
	}
}

func (a *Agent) publishTokenDelta(delta string) {
	if a.events == nil {
		return
	}
	ev := models.NewBusEvent(models.KindTokenDelta, models.EventScope{
		ProjectID: a.projectID,
		SessionID: a.sessionID,
		ThreadID:  a.threadID,
	}, models.TokenDelta{ThreadID: a.threadID, Delta: delta})
	ev.Transient = true
	a.events.Publish(ev)
}
