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

// Planner decomposes a query into an execution plan and revises plans after
// step failures.
type Planner struct {
	base
}

// NewPlanner creates the planning sub-agent. Temperature defaults to 0.3.
func NewPlanner(provider llm.Provider, retriever *knowledge.Retriever, cfg Config, logger *observability.Logger) *Planner {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	return &Planner{base: newBase(provider, retriever, cfg, logger)}
}

// Type returns the planner role.
func (p *Planner) Type() models.SubAgentType { return models.SubAgentPlanner }

// Execute satisfies the SubAgent contract: it plans for the step instruction
// and returns the plan as JSON output.
func (p *Planner) Execute(ctx context.Context, bb *blackboard.Blackboard, step *models.PlanStep, systemPrompt string) (*Result, error) {
	plan, err := p.Plan(ctx, bb, step.Instruction, "")
	if err != nil {
		return failure(err), nil
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return failure(err), nil
	}
	return &Result{Success: true, Output: string(data)}, nil
}

// Plan produces an execution plan for query. The model reply is parsed as
// JSON between the first "{" and the last "}"; when parsing or validation
// fails, a two-step fallback plan is returned instead of an error so a
// malformed model reply never takes down the request.
func (p *Planner) Plan(ctx context.Context, bb *blackboard.Blackboard, query, replanReason string) (*models.ExecutionPlan, error) {
	if strings.TrimSpace(query) == "" {
		return fallbackPlan(query), nil
	}

	var prompt strings.Builder
	prompt.WriteString("## Request\n" + query + "\n")
	if replanReason != "" {
		prompt.WriteString("\n## Previous attempt failed\n" + replanReason + "\n")
	}
	if p.retriever != nil {
		bundle := p.retriever.GetBundle(ctx, query, 5, "")
		prompt.WriteString(bundleSection("Playbooks", bundle.Playbooks))
		prompt.WriteString(bundleSection("Concepts", bundle.Concepts))
	}
	if bb != nil {
		if bbCtx := bb.ContextForLLM(contextTokenBudget); bbCtx != "" {
			prompt.WriteString("\n## Workspace\n" + bbCtx + "\n")
		}
	}

	resp, err := p.complete(ctx, plannerSystemPrompt, userMessage(prompt.String()), nil)
	if err != nil {
		return nil, err
	}

	plan := parsePlan(resp.Content, query)
	if plan == nil {
		p.logger.Warn(ctx, "plan parsing failed, using fallback plan")
		return fallbackPlan(query), nil
	}
	if err := plan.Validate(); err != nil {
		p.logger.Warn(ctx, "planner produced an invalid plan, using fallback", "error", err)
		return fallbackPlan(query), nil
	}
	return plan, nil
}

// Replan revises a plan after failures. Completed steps are retained with
// their results; only non-completed steps are replaced by the model's new
// steps.
func (p *Planner) Replan(ctx context.Context, bb *blackboard.Blackboard, plan *models.ExecutionPlan, reason string) (*models.ExecutionPlan, error) {
	var prompt strings.Builder
	prompt.WriteString("## Goal\n" + plan.Goal + "\n")
	prompt.WriteString("\n## Failure\n" + reason + "\n")

	var completed []*models.PlanStep
	prompt.WriteString("\n## Completed steps (keep these, do not repeat them)\n")
	for _, s := range plan.Steps {
		if s.Status == models.StepCompleted {
			completed = append(completed, s)
			prompt.WriteString(fmt.Sprintf("- %s (%s): %s\n", s.ID, s.SubAgent, truncateTo(s.Result, 200)))
		}
	}
	prompt.WriteString("\n## Failed or pending steps\n")
	for _, s := range plan.Steps {
		if s.Status != models.StepCompleted {
			line := fmt.Sprintf("- %s (%s): %s", s.ID, s.SubAgent, s.Description)
			if s.Error != "" {
				line += " [error: " + s.Error + "]"
			}
			prompt.WriteString(line + "\n")
		}
	}
	prompt.WriteString("\nProduce a plan containing only the remaining steps. Completed step ids may appear in depends_on.\n")
	if bb != nil {
		if bbCtx := bb.ContextForLLM(contextTokenBudget); bbCtx != "" {
			prompt.WriteString("\n## Workspace\n" + bbCtx + "\n")
		}
	}

	resp, err := p.complete(ctx, plannerSystemPrompt, userMessage(prompt.String()), nil)
	if err != nil {
		return nil, err
	}

	revised := parsePlan(resp.Content, plan.Query)
	if revised == nil {
		return nil, models.Errorf(models.ErrUpstream, "replan reply was not a valid plan")
	}

	merged := &models.ExecutionPlan{Query: plan.Query, Goal: plan.Goal}
	if revised.Goal != "" {
		merged.Goal = revised.Goal
	}
	merged.Steps = append(merged.Steps, completed...)
	seen := make(map[string]bool, len(completed))
	for _, s := range completed {
		seen[s.ID] = true
	}
	for _, s := range revised.Steps {
		if seen[s.ID] {
			continue
		}
		s.Status = models.StepPending
		s.Result = ""
		s.Error = ""
		merged.Steps = append(merged.Steps, s)
		seen[s.ID] = true
	}
	if err := merged.Validate(); err != nil {
		return nil, models.Errorf(models.ErrUpstream, "replan produced an invalid plan: %v", err)
	}
	return merged, nil
}

// planReply is the wire shape the planner prompt asks for.
type planReply struct {
	Goal  string `json:"goal"`
	Steps []struct {
		ID          string   `json:"id"`
		Description string   `json:"description"`
		SubAgent    string   `json:"sub_agent"`
		Instruction string   `json:"instruction"`
		DependsOn   []string `json:"depends_on"`
	} `json:"steps"`
}

// parsePlan extracts the JSON object between the first "{" and the last "}"
// and converts it to an ExecutionPlan. Returns nil when no plan can be
// recovered.
func parsePlan(content, query string) *models.ExecutionPlan {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil
	}
	var reply planReply
	if err := json.Unmarshal([]byte(content[start:end+1]), &reply); err != nil {
		return nil
	}
	if len(reply.Steps) == 0 {
		return nil
	}

	plan := &models.ExecutionPlan{Query: query, Goal: reply.Goal}
	for i, s := range reply.Steps {
		id := s.ID
		if id == "" {
			id = fmt.Sprintf("step_%d", i+1)
		}
		agent := models.SubAgentType(s.SubAgent)
		if !models.ValidSubAgent(agent) {
			return nil
		}
		deps := s.DependsOn
		if deps == nil {
			deps = []string{}
		}
		plan.Steps = append(plan.Steps, &models.PlanStep{
			ID:          id,
			Order:       i + 1,
			Description: s.Description,
			SubAgent:    agent,
			Instruction: s.Instruction,
			DependsOn:   deps,
			Status:      models.StepPending,
		})
	}
	return plan
}

// fallbackPlan is the two-step plan used when the model reply is unusable.
func fallbackPlan(query string) *models.ExecutionPlan {
	return &models.ExecutionPlan{
		Query: query,
		Goal:  "Answer the request",
		Steps: []*models.PlanStep{
			{
				ID:          "step_1",
				Order:       1,
				Description: "Gather relevant information",
				SubAgent:    models.SubAgentResearcher,
				Instruction: query,
				DependsOn:   []string{},
				Status:      models.StepPending,
			},
			{
				ID:          "step_2",
				Order:       2,
				Description: "Compose the final answer",
				SubAgent:    models.SubAgentSynthesizer,
				Instruction: query,
				DependsOn:   []string{"step_1"},
				Status:      models.StepPending,
			},
		},
	}
}

func truncateTo(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
