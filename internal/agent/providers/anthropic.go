// Package providers implements streaming model backends for the agent
// runtime: Anthropic's Messages API and OpenAI's chat completions API,
// converted to and from the provider-neutral request and chunk types.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/lacekit/lace/internal/agent"
	"github.com/lacekit/lace/internal/backoff"
	"github.com/lacekit/lace/internal/tools"
	"github.com/lacekit/lace/pkg/models"
)

const (
	defaultAnthropicModel  = "claude-sonnet-4-20250514"
	anthropicContextWindow = 200000
	defaultMaxTokens       = 4096
)

// AnthropicConfig configures an Anthropic provider. Only APIKey is required.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string

	// MaxRetries bounds retry attempts for transient failures; RetryDelay is
	// the base of the exponential backoff.
	MaxRetries int
	RetryDelay time.Duration
}

// AnthropicProvider streams completions from the Anthropic Messages API.
// Safe for concurrent use; each CreateResponse call owns its stream.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	backoff      backoff.Policy
}

// NewAnthropicProvider validates the config and builds the SDK client.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultAnthropicModel
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	policy := backoff.Default()
	policy.Initial = cfg.RetryDelay

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		backoff:      policy,
	}, nil
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

// ContextWindow returns the model's context window. Every currently served
// Claude model carries a 200K window.
func (p *AnthropicProvider) ContextWindow(model string) int {
	return anthropicContextWindow
}

func (p *AnthropicProvider) MaxCompletionTokens(model string) int {
	return defaultMaxTokens
}

// CreateResponse opens a streaming completion and converts SSE events to
// chunks. Retries with exponential backoff apply only to opening the stream.
func (p *AnthropicProvider) CreateResponse(ctx context.Context, req *agent.Request) (<-chan agent.Chunk, error) {
	chunks := make(chan agent.Chunk)

	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.createStream(ctx, req)
			if err == nil {
				break
			}
			if !isRetryable(err) {
				sendChunk(ctx, chunks, agent.Chunk{Err: fmt.Errorf("anthropic: %w", err)})
				return
			}
			if attempt < p.maxRetries {
				if err := backoff.Sleep(ctx, p.backoff, attempt+1); err != nil {
					sendChunk(ctx, chunks, agent.Chunk{Err: err})
					return
				}
			}
		}
		if err != nil {
			sendChunk(ctx, chunks, agent.Chunk{Err: fmt.Errorf("anthropic: max retries exceeded: %w", err)})
			return
		}

		p.processStream(ctx, stream, chunks)
	}()

	return chunks, nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req *agent.Request) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("convert messages: %w", err)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		converted, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("convert tools: %w", err)
		}
		params.Tools = converted
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// maxEmptyStreamEvents guards against streams flooding empty events.
const maxEmptyStreamEvents = 300

func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- agent.Chunk) {
	defer stream.Close()

	var (
		currentCall  *models.ToolCallData
		currentInput strings.Builder
		usage        models.TokenUsage
		stopReason   string
		emptyEvents  int
	)

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				usage.InputTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentCall = &models.ToolCallData{CallID: toolUse.ID, Name: toolUse.Name}
				currentInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !sendChunk(ctx, chunks, agent.Chunk{Text: delta.Text}) {
						return
					}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if currentCall != nil {
				args := currentInput.String()
				if args == "" {
					args = "{}"
				}
				currentCall.Arguments = json.RawMessage(args)
				if !sendChunk(ctx, chunks, agent.Chunk{ToolCall: currentCall}) {
					return
				}
				currentCall = nil
				processed = true
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(delta.Usage.OutputTokens)
			}
			if delta.Delta.StopReason != "" {
				stopReason = string(delta.Delta.StopReason)
			}
			processed = true

		case "message_stop":
			sendChunk(ctx, chunks, agent.Chunk{Done: true, Usage: &usage, StopReason: stopReason})
			return

		case "error":
			sendChunk(ctx, chunks, agent.Chunk{Err: errors.New("anthropic: stream error")})
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				sendChunk(ctx, chunks, agent.Chunk{Err: fmt.Errorf("anthropic: malformed stream: %d consecutive empty events", emptyEvents)})
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		sendChunk(ctx, chunks, agent.Chunk{Err: fmt.Errorf("anthropic: %w", err)})
		return
	}
	// Stream ended without message_stop; report what we have.
	sendChunk(ctx, chunks, agent.Chunk{Done: true, Usage: &usage, StopReason: stopReason})
}

func convertAnthropicMessages(messages []agent.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(
				tr.CallID,
				tr.Text(),
				tr.Status != models.ResultCompleted,
			))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Arguments, &input); err != nil {
				return nil, fmt.Errorf("tool call %s arguments: %w", tc.CallID, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.CallID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			// Tool results ride on user messages in the Messages API.
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(defs []tools.Definition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", def.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("tool %s: missing tool definition", def.Name)
		}
		param.OfTool.Description = anthropic.String(def.Description)
		result = append(result, param)
	}
	return result, nil
}

// sendChunk delivers c unless ctx ends first. A false return means the
// consumer abandoned the stream; the producer must stop rather than block
// forever on the unbuffered channel.
func sendChunk(ctx context.Context, chunks chan<- agent.Chunk, c agent.Chunk) bool {
	select {
	case chunks <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// isRetryable classifies transport-level failures worth another attempt:
// rate limits, 5xx responses, timeouts, and connection resets.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
