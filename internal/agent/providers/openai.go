package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lacekit/lace/internal/agent"
	"github.com/lacekit/lace/internal/backoff"
	"github.com/lacekit/lace/internal/tools"
	"github.com/lacekit/lace/pkg/models"
)

const defaultOpenAIModel = "gpt-4o"

// openaiContextWindows maps known models to their context windows; unknown
// models fall back to the gpt-4o window.
var openaiContextWindows = map[string]int{
	"gpt-4o":        128000,
	"gpt-4o-mini":   128000,
	"gpt-4-turbo":   128000,
	"gpt-4":         8192,
	"gpt-3.5-turbo": 16385,
}

// OpenAIConfig configures an OpenAI provider. Only APIKey is required.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAIProvider streams completions from the OpenAI chat completions API.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	backoff      backoff.Policy
}

// NewOpenAIProvider validates the config and builds the SDK client.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultOpenAIModel
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	policy := backoff.Default()
	policy.Initial = cfg.RetryDelay

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		backoff:      policy,
	}, nil
}

func (p *OpenAIProvider) Name() string         { return "openai" }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) ContextWindow(model string) int {
	if window, ok := openaiContextWindows[model]; ok {
		return window
	}
	return openaiContextWindows[defaultOpenAIModel]
}

func (p *OpenAIProvider) MaxCompletionTokens(model string) int {
	return defaultMaxTokens
}

// CreateResponse opens a streaming chat completion. Linear backoff applies to
// opening the stream only.
func (p *OpenAIProvider) CreateResponse(ctx context.Context, req *agent.Request) (<-chan agent.Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			if err := backoff.Sleep(ctx, p.backoff, attempt); err != nil {
				return nil, err
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("openai: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
	}

	chunks := make(chan agent.Chunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

// processStream converts streamed deltas into chunks. Tool calls arrive as
// fragments indexed by position and are emitted once complete.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- agent.Chunk) {
	defer close(chunks)
	defer stream.Close()

	pending := make(map[int]*models.ToolCallData)
	var usage models.TokenUsage
	var stopReason string
	flushed := false

	flush := func() bool {
		if flushed {
			return true
		}
		flushed = true
		for i := 0; i < len(pending); i++ {
			tc := pending[i]
			if tc != nil && tc.CallID != "" && tc.Name != "" {
				if len(tc.Arguments) == 0 {
					tc.Arguments = json.RawMessage(`{}`)
				}
				if !sendChunk(ctx, chunks, agent.Chunk{ToolCall: tc}) {
					return false
				}
			}
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !flush() {
					return
				}
				sendChunk(ctx, chunks, agent.Chunk{Done: true, Usage: &usage, StopReason: stopReason})
				return
			}
			sendChunk(ctx, chunks, agent.Chunk{Err: fmt.Errorf("openai: %w", err)})
			return
		}

		if response.Usage != nil {
			usage.InputTokens = response.Usage.PromptTokens
			usage.OutputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			if !sendChunk(ctx, chunks, agent.Chunk{Text: choice.Delta.Content}) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if pending[index] == nil {
				pending[index] = &models.ToolCallData{}
			}
			if tc.ID != "" {
				pending[index].CallID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pending[index].Arguments = append(pending[index].Arguments, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason != "" {
			stopReason = string(choice.FinishReason)
			if choice.FinishReason == openai.FinishReasonToolCalls {
				if !flush() {
					return
				}
			}
		}
	}
}

func convertOpenAIMessages(messages []agent.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			// Each tool result is its own message in the chat API.
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Text(),
					ToolCallID: tr.CallID,
				})
			}
		case "assistant":
			out := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:   tc.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			result = append(result, out)
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}
	return result
}

func convertOpenAITools(defs []tools.Definition) []openai.Tool {
	result := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		schema := def.Schema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schema,
			},
		})
	}
	return result
}
