package subagents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/conductorhq/conductor/internal/blackboard"
	"github.com/conductorhq/conductor/internal/knowledge"
	"github.com/conductorhq/conductor/internal/llm"
	"github.com/conductorhq/conductor/internal/observability"
	"github.com/conductorhq/conductor/pkg/models"
)

// Synthesizer writes the final user-facing answer from the blackboard and
// offers follow-up suggestion generation.
type Synthesizer struct {
	base
}

// Synthesis context windows, wider than the generic blackboard view.
const (
	synthFindings    = 15
	synthToolResults = 10
)

// NewSynthesizer creates the synthesis sub-agent. Temperature defaults to 0.7.
func NewSynthesizer(provider llm.Provider, retriever *knowledge.Retriever, cfg Config, logger *observability.Logger) *Synthesizer {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	return &Synthesizer{base: newBase(provider, retriever, cfg, logger)}
}

// Type returns the synthesizer role.
func (s *Synthesizer) Type() models.SubAgentType { return models.SubAgentSynthesizer }

// Execute produces the final Markdown answer.
func (s *Synthesizer) Execute(ctx context.Context, bb *blackboard.Blackboard, step *models.PlanStep, systemPrompt string) (*Result, error) {
	if systemPrompt == "" {
		systemPrompt = synthesizerSystemPrompt
	}
	resp, err := s.complete(ctx, systemPrompt, userMessage(s.buildPrompt(bb, step)), nil)
	if err != nil {
		return failure(err), nil
	}
	return &Result{
		Success:    true,
		Output:     resp.Content,
		TokensUsed: resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
	}, nil
}

// Stream produces the final answer as it is generated. The returned channel
// closes after the last chunk.
func (s *Synthesizer) Stream(ctx context.Context, bb *blackboard.Blackboard, step *models.PlanStep, systemPrompt string) (<-chan *llm.Chunk, error) {
	if systemPrompt == "" {
		systemPrompt = synthesizerSystemPrompt
	}
	return s.provider.Stream(ctx, &llm.Request{
		Model:       s.cfg.Model,
		System:      systemPrompt,
		Messages:    userMessage(s.buildPrompt(bb, step)),
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
		Timeout:     s.cfg.Timeout,
	})
}

// GenerateSuggestions proposes up to n short follow-up queries. The model
// reply is parsed as a JSON string array; anything unparseable yields nil.
func (s *Synthesizer) GenerateSuggestions(ctx context.Context, query, response string, n int) []string {
	if n <= 0 {
		n = 3
	}
	prompt := fmt.Sprintf(
		"The user asked: %s\n\nThe answer was:\n%s\n\nPropose %d short follow-up questions the user might ask next. Respond with a JSON array of strings only.",
		query, truncateTo(response, 1500), n)

	resp, err := s.complete(ctx, "You suggest concise follow-up questions.", userMessage(prompt), nil)
	if err != nil {
		s.logger.Warn(ctx, "suggestion generation failed", "error", err)
		return nil
	}

	start := strings.Index(resp.Content, "[")
	end := strings.LastIndex(resp.Content, "]")
	if start < 0 || end <= start {
		return nil
	}
	var suggestions []string
	if err := json.Unmarshal([]byte(resp.Content[start:end+1]), &suggestions); err != nil {
		return nil
	}
	if len(suggestions) > n {
		suggestions = suggestions[:n]
	}
	return suggestions
}

// Summarize caps content at maxLen characters with an ellipsis.
func (s *Synthesizer) Summarize(content string, maxLen int) string {
	if maxLen <= 3 || len(content) <= maxLen {
		return content
	}
	return content[:maxLen-3] + "..."
}

// buildPrompt assembles the synthesis view: the original request, the last
// findings, compacted tool results, and current variables.
func (s *Synthesizer) buildPrompt(bb *blackboard.Blackboard, step *models.PlanStep) string {
	var sb strings.Builder
	sb.WriteString(stepHeader(step))

	findings := bb.Findings()
	if n := len(findings); n > 0 {
		start := n - synthFindings
		if start < 0 {
			start = 0
		}
		sb.WriteString("\n## Findings\n")
		for _, f := range findings[start:] {
			sb.WriteString(fmt.Sprintf("- [%s] %s\n", f.Source, f.Content))
		}
	}

	results := bb.ToolResults()
	if n := len(results); n > 0 {
		start := n - synthToolResults
		if start < 0 {
			start = 0
		}
		sb.WriteString("\n## Tool Results\n")
		for _, r := range results[start:] {
			if r.Error != "" {
				sb.WriteString(fmt.Sprintf("- %s failed: %s\n", r.ToolName, r.Error))
				continue
			}
			value := r.Result
			if r.CompactResult != nil {
				value = r.CompactResult
			}
			data, err := json.Marshal(value)
			if err != nil {
				data = []byte(fmt.Sprintf("%v", value))
			}
			sb.WriteString(fmt.Sprintf("- %s: %s\n", r.ToolName, truncateTo(string(data), 500)))
		}
	}

	if vars := bb.AllVariables(); len(vars) > 0 {
		data, err := json.Marshal(vars)
		if err == nil {
			sb.WriteString("\n## Variables\n" + truncateTo(string(data), 2000) + "\n")
		}
	}
	return sb.String()
}
