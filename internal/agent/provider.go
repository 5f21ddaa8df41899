// Package agent implements the conversational turn loop: it projects a
// thread's working conversation into a provider request, streams the
// response, executes tool calls through the executor, and appends every
// outcome back onto the thread.
package agent

import (
	"context"

	"github.com/lacekit/lace/internal/tools"
	"github.com/lacekit/lace/pkg/models"
)

// Provider is a streaming model backend. Implementations must be safe for
// concurrent use; the runtime may drive several agents over one provider.
type Provider interface {
	// Name returns the provider identifier ("anthropic", "openai").
	Name() string

	// DefaultModel returns the model used when none is configured.
	DefaultModel() string

	// ContextWindow returns the context window in tokens for a model.
	ContextWindow(model string) int

	// MaxCompletionTokens returns the response token cap for a model.
	MaxCompletionTokens(model string) int

	// CreateResponse opens a streaming completion. The returned channel
	// delivers text deltas and complete tool calls, then a final chunk with
	// Done set and usage populated, and is closed. A chunk with Err set
	// terminates the stream.
	CreateResponse(ctx context.Context, req *Request) (<-chan Chunk, error)
}

// Request is a provider-neutral completion request built from the working
// conversation.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []tools.Definition
	MaxTokens int
}

// Message is one conversation entry in provider-neutral form. Role is
// "user", "assistant", or "tool".
type Message struct {
	Role        string
	Content     string
	ToolCalls   []models.ToolCallData
	ToolResults []models.ToolResultData
}

// Chunk is one unit of a streaming response.
type Chunk struct {
	// Text is a partial response delta.
	Text string

	// ToolCall is a complete tool invocation request.
	ToolCall *models.ToolCallData

	// Done marks the final chunk; Usage and StopReason are populated here.
	Done       bool
	Usage      *models.TokenUsage
	StopReason string

	// Err terminates the stream.
	Err error
}

// Response is the accumulated outcome of one streamed completion.
type Response struct {
	Text       string
	ToolCalls  []models.ToolCallData
	Usage      models.TokenUsage
	StopReason string
}

// buildRequest projects working-conversation events into provider messages.
// SYSTEM_PROMPT and USER_SYSTEM_PROMPT events feed the system string;
// LOCAL_SYSTEM_MESSAGE events are UI-only and never reach the provider.
func buildRequest(events []models.ThreadEvent, model, systemPrompt string, defs []tools.Definition, maxTokens int) *Request {
	req := &Request{
		Model:     model,
		System:    systemPrompt,
		Tools:     defs,
		MaxTokens: maxTokens,
	}

	appendSystem := func(text string) {
		if text == "" {
			return
		}
		if req.System != "" {
			req.System += "\n\n"
		}
		req.System += text
	}

	for _, e := range events {
		switch e.Type {
		case models.EventSystemPrompt, models.EventUserSystemPrompt:
			if d, err := models.DecodeMessage(e); err == nil {
				appendSystem(d.Text)
			}
		case models.EventUserMessage:
			if d, err := models.DecodeMessage(e); err == nil {
				req.Messages = append(req.Messages, Message{Role: "user", Content: d.Text})
			}
		case models.EventAgentMessage:
			if d, err := models.DecodeMessage(e); err == nil {
				req.Messages = append(req.Messages, Message{Role: "assistant", Content: d.Text})
			}
		case models.EventToolCall:
			d, err := models.DecodeToolCall(e)
			if err != nil {
				continue
			}
			// Tool calls ride on the preceding assistant message.
			if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == "assistant" && len(req.Messages[n-1].ToolResults) == 0 {
				req.Messages[n-1].ToolCalls = append(req.Messages[n-1].ToolCalls, d)
			} else {
				req.Messages = append(req.Messages, Message{Role: "assistant", ToolCalls: []models.ToolCallData{d}})
			}
		case models.EventToolResult:
			d, ok, err := models.DecodeToolResult(e)
			if err != nil || !ok {
				continue
			}
			req.Messages = append(req.Messages, Message{Role: "tool", ToolResults: []models.ToolResultData{d}})
		}
	}
	return req
}
