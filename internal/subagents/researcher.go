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

// Researcher gathers information for a step and records findings on the
// blackboard.
type Researcher struct {
	base
}

// NewResearcher creates the research sub-agent. Temperature defaults to 0.5.
func NewResearcher(provider llm.Provider, retriever *knowledge.Retriever, cfg Config, logger *observability.Logger) *Researcher {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.5
	}
	return &Researcher{base: newBase(provider, retriever, cfg, logger)}
}

// Type returns the researcher role.
func (r *Researcher) Type() models.SubAgentType { return models.SubAgentResearcher }

// Execute researches the step instruction. Every reported finding lands on
// the blackboard with source "researcher".
func (r *Researcher) Execute(ctx context.Context, bb *blackboard.Blackboard, step *models.PlanStep, systemPrompt string) (*Result, error) {
	if systemPrompt == "" {
		systemPrompt = researcherSystemPrompt
	}

	var prompt strings.Builder
	prompt.WriteString(stepHeader(step))
	if r.retriever != nil {
		bundle := r.retriever.GetBundle(ctx, step.Instruction, 5, "")
		prompt.WriteString(bundleSection("Schemas", bundle.Schemas))
		prompt.WriteString(bundleSection("FAQs", bundle.FAQs))
	}
	if bbCtx := bb.ContextForLLM(contextTokenBudget); bbCtx != "" {
		prompt.WriteString("\n## Workspace\n" + bbCtx + "\n")
	}

	resp, err := r.complete(ctx, systemPrompt, userMessage(prompt.String()), nil)
	if err != nil {
		return failure(err), nil
	}

	for _, finding := range extractFindings(resp.Content) {
		bb.AddFinding(&models.Finding{
			Source:     string(models.SubAgentResearcher),
			Content:    finding,
			Confidence: 0.8,
		})
	}

	return &Result{
		Success:    true,
		Output:     resp.Content,
		TokensUsed: resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
	}, nil
}

// extractFindings pulls "FINDING:"-prefixed lines out of a reply. A reply
// with no prefixed lines yields the whole reply as one finding.
func extractFindings(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "FINDING:"); ok {
			if rest = strings.TrimSpace(rest); rest != "" {
				out = append(out, rest)
			}
		}
	}
	if len(out) == 0 && strings.TrimSpace(content) != "" {
		out = append(out, strings.TrimSpace(content))
	}
	return out
}
