package subagents

import (
	"context"
	"strings"

	"github.com/conductorhq/conductor/internal/blackboard"
	"github.com/conductorhq/conductor/internal/knowledge"
	"github.com/conductorhq/conductor/internal/llm"
	"github.com/conductorhq/conductor/internal/observability"
	"github.com/conductorhq/conductor/pkg/models"
)

// Analyzer interprets findings and tool results already on the blackboard.
// It calls no tools.
type Analyzer struct {
	base
}

// NewAnalyzer creates the analysis sub-agent. Temperature defaults to 0.4.
func NewAnalyzer(provider llm.Provider, retriever *knowledge.Retriever, cfg Config, logger *observability.Logger) *Analyzer {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.4
	}
	return &Analyzer{base: newBase(provider, retriever, cfg, logger)}
}

// Type returns the analyzer role.
func (a *Analyzer) Type() models.SubAgentType { return models.SubAgentAnalyzer }

// Execute analyzes workspace contents. Conclusions land as findings with
// source "analyzer"; "VAR name=value" lines become derived variables.
func (a *Analyzer) Execute(ctx context.Context, bb *blackboard.Blackboard, step *models.PlanStep, systemPrompt string) (*Result, error) {
	if systemPrompt == "" {
		systemPrompt = analyzerSystemPrompt
	}

	var prompt strings.Builder
	prompt.WriteString(stepHeader(step))
	if bbCtx := bb.ContextForLLM(contextTokenBudget); bbCtx != "" {
		prompt.WriteString("\n## Workspace\n" + bbCtx + "\n")
	}

	resp, err := a.complete(ctx, systemPrompt, userMessage(prompt.String()), nil)
	if err != nil {
		return failure(err), nil
	}

	for _, finding := range extractFindings(resp.Content) {
		bb.AddFinding(&models.Finding{
			Source:     string(models.SubAgentAnalyzer),
			Content:    finding,
			Confidence: 0.7,
		})
	}
	for key, value := range extractVars(resp.Content) {
		bb.Set(key, value, string(models.SubAgentAnalyzer))
	}

	return &Result{
		Success:    true,
		Output:     resp.Content,
		TokensUsed: resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
	}, nil
}

// extractVars pulls "VAR name=value" lines out of a reply.
func extractVars(content string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(trimmed, "VAR ")
		if !ok {
			continue
		}
		name, value, found := strings.Cut(rest, "=")
		name = strings.TrimSpace(name)
		if found && name != "" {
			out[name] = strings.TrimSpace(value)
		}
	}
	return out
}
