// Package llm defines the inference backend capability consumed by the
// conductor core, plus concrete providers for OpenAI-compatible and
// Anthropic APIs and a deterministic mock for tests.
package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/conductorhq/conductor/pkg/models"
)

// Provider is the narrow inference capability the core consumes.
//
// Implementations must be safe for concurrent use; multiple goroutines may
// call Complete and Stream simultaneously for different requests.
type Provider interface {
	// Complete sends a request and blocks for the full response.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream sends a request and returns response chunks as they are
	// produced. The channel is closed after the final chunk; a chunk with
	// a non-nil Error terminates the stream.
	Stream(ctx context.Context, req *Request) (<-chan *Chunk, error)

	// Name returns the provider name for logging and metrics.
	Name() string
}

// ToolDef describes one callable tool exposed to the model.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request contains all parameters for an inference call.
type Request struct {
	// Model overrides the provider default when set.
	Model string `json:"model,omitempty"`

	// System is the system prompt, handled separately from messages.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []models.Message `json:"messages"`

	// Tools defines callable tools; empty disables tool calling.
	Tools []ToolDef `json:"tools,omitempty"`

	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Timeout     time.Duration `json:"-"`
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Response is a complete, non-streamed model reply.
type Response struct {
	Content      string            `json:"content"`
	ToolCalls    []models.ToolCall `json:"tool_calls,omitempty"`
	Usage        Usage             `json:"usage"`
	FinishReason string            `json:"finish_reason,omitempty"`
}

// Chunk is one unit of a streamed reply. Text chunks arrive as they are
// generated; a complete ToolCall is delivered once fully accumulated.
type Chunk struct {
	Text     string           `json:"text,omitempty"`
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`
	Done     bool             `json:"done,omitempty"`
	Usage    *Usage           `json:"usage,omitempty"`
	Error    error            `json:"-"`
}

// DefaultTimeout bounds an LLM call when the request does not set one.
const DefaultTimeout = 60 * time.Second

// withTimeout derives a call context from the request timeout.
func withTimeout(ctx context.Context, req *Request) (context.Context, context.CancelFunc) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
