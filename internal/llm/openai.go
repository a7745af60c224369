package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/conductorhq/conductor/pkg/models"
)

// OpenAIProvider implements Provider against any OpenAI-compatible endpoint:
// OpenAI itself, Groq, Together, OpenRouter, or a local Ollama server.
//
// Transient failures (rate limits, 5xx) are retried with linear backoff.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	// MaxRetries bounds retry attempts for retryable errors. Default 3.
	MaxRetries int
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible API.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.Model,
		maxRetries:   retries,
		retryDelay:   time.Second,
	}
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string { return "openai" }

// Complete sends a request and blocks for the full response.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := withTimeout(ctx, req)
	defer cancel()

	chatReq := p.buildRequest(req, false)

	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, models.NewError(models.KindOf(ctx.Err()), ctx.Err())
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		resp, lastErr = p.client.CreateChatCompletion(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, models.NewError(models.ErrUpstream, lastErr)
		}
	}
	if lastErr != nil {
		return nil, models.Errorf(models.ErrUpstream, "max retries exceeded: %w", lastErr)
	}
	if len(resp.Choices) == 0 {
		return nil, models.Errorf(models.ErrUpstream, "empty completion response")
	}

	choice := resp.Choices[0]
	out := &Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// Stream sends a request and returns chunks as they are produced. Tool call
// fragments are accumulated and delivered as complete calls.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	callCtx, cancel := withTimeout(ctx, req)

	stream, err := p.client.CreateChatCompletionStream(callCtx, p.buildRequest(req, true))
	if err != nil {
		cancel()
		return nil, models.NewError(models.ErrUpstream, err)
	}

	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)
		defer cancel()
		defer stream.Close()

		// Tool calls stream incrementally keyed by index.
		toolCalls := make(map[int]*models.ToolCall)

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				for i := 0; i < len(toolCalls); i++ {
					if tc := toolCalls[i]; tc != nil {
						chunks <- &Chunk{ToolCall: tc}
					}
				}
				chunks <- &Chunk{Done: true}
				return
			}
			if err != nil {
				chunks <- &Chunk{Error: models.NewError(models.KindOf(err), err), Done: true}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				select {
				case chunks <- &Chunk{Text: delta.Content}:
				case <-callCtx.Done():
					return
				}
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				cur := toolCalls[idx]
				if cur == nil {
					cur = &models.ToolCall{}
					toolCalls[idx] = cur
				}
				if tc.ID != "" {
					cur.ID = tc.ID
				}
				if tc.Function.Name != "" {
					cur.Name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					cur.Input = append(cur.Input, []byte(tc.Function.Arguments)...)
				}
			}
		}
	}()
	return chunks, nil
}

func (p *OpenAIProvider) buildRequest(req *Request, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Stream:      stream,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.System != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		chatReq.Messages = append(chatReq.Messages, toOpenAIMessage(msg))
	}
	for _, tool := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return chatReq
}

func toOpenAIMessage(msg models.Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{
		Role:    string(msg.Role),
		Content: msg.Content,
		Name:    msg.Name,
	}
	if msg.Role == models.RoleTool {
		out.ToolCallID = msg.ToolCallID
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: string(tc.Input),
			},
		})
	}
	return out
}

// isRetryable reports whether err suggests a retry may succeed: rate limits
// and server-side errors are retryable, everything else is not.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	// Transient network errors are worth one more try.
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
