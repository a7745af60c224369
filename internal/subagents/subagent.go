// Package subagents implements the role-specialized LLM wrappers dispatched
// by the orchestrator: planner, researcher, analyzer, executor, and
// synthesizer. Each consumes the blackboard, prompts the model with a
// role-tuned temperature, and writes typed outputs back.
package subagents

import (
	"context"
	"time"

	"github.com/conductorhq/conductor/internal/blackboard"
	"github.com/conductorhq/conductor/internal/knowledge"
	"github.com/conductorhq/conductor/internal/llm"
	"github.com/conductorhq/conductor/internal/observability"
	"github.com/conductorhq/conductor/pkg/models"
)

// Result is the typed outcome of one sub-agent invocation.
type Result struct {
	Success    bool   `json:"success"`
	Output     string `json:"output"`
	TokensUsed int    `json:"tokens_used"`
	Error      string `json:"error,omitempty"`

	// AwaitingApproval marks an executor invocation that parked one or more
	// tool calls on human confirmation. Interactions lists them.
	AwaitingApproval bool                         `json:"awaiting_approval,omitempty"`
	Interactions     []*models.PendingInteraction `json:"-"`
}

// SubAgent is the contract every role implements.
type SubAgent interface {
	// Type names the role for dispatch.
	Type() models.SubAgentType

	// Execute runs one plan step against the blackboard.
	Execute(ctx context.Context, bb *blackboard.Blackboard, step *models.PlanStep, systemPrompt string) (*Result, error)
}

// Config tunes one sub-agent role.
type Config struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// base carries the pieces every sub-agent shares.
type base struct {
	provider  llm.Provider
	retriever *knowledge.Retriever
	cfg       Config
	logger    *observability.Logger
}

func newBase(provider llm.Provider, retriever *knowledge.Retriever, cfg Config, logger *observability.Logger) base {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	return base{provider: provider, retriever: retriever, cfg: cfg, logger: logger}
}

// complete runs one inference call and records it as a generation on the
// request trace when one is attached to the context.
func (b *base) complete(ctx context.Context, system string, messages []models.Message, tools []llm.ToolDef) (*llm.Response, error) {
	req := &llm.Request{
		Model:       b.cfg.Model,
		System:      system,
		Messages:    messages,
		Tools:       tools,
		Temperature: b.cfg.Temperature,
		MaxTokens:   b.cfg.MaxTokens,
		Timeout:     b.cfg.Timeout,
	}
	start := time.Now()
	resp, err := b.provider.Complete(ctx, req)
	if tc := observability.TraceFromContext(ctx); tc != nil {
		gen := observability.Generation{
			Model: b.cfg.Model,
			Input: messages,
			Parameters: map[string]any{
				"temperature": b.cfg.Temperature,
				"max_tokens":  b.cfg.MaxTokens,
			},
			DurationMS: time.Since(start).Milliseconds(),
		}
		if resp != nil {
			gen.Output = resp.Content
			gen.PromptTokens = resp.Usage.PromptTokens
			gen.CompletionTokens = resp.Usage.CompletionTokens
		}
		tc.RecordGeneration(ctx, gen)
	}
	return resp, err
}

// userMessage wraps content as a single user turn.
func userMessage(content string) []models.Message {
	return []models.Message{{Role: models.RoleUser, Content: content}}
}

// failure builds a failed result from an error.
func failure(err error) *Result {
	return &Result{Success: false, Error: err.Error()}
}
