package subagents

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/conductorhq/conductor/internal/blackboard"
	"github.com/conductorhq/conductor/internal/knowledge"
	"github.com/conductorhq/conductor/internal/llm"
	"github.com/conductorhq/conductor/internal/observability"
	"github.com/conductorhq/conductor/internal/tools"
	"github.com/conductorhq/conductor/pkg/models"
)

// Executor is the action sub-agent: it prompts the model with the tool list
// and runs the requested calls through the tool executor. Calls gated on
// human approval park the step and surface pending interactions.
type Executor struct {
	base
	registry *tools.Registry
	toolExec *tools.Executor
}

// NewExecutor creates the action sub-agent. Temperature defaults to 0.2.
func NewExecutor(provider llm.Provider, retriever *knowledge.Retriever, registry *tools.Registry, toolExec *tools.Executor, cfg Config, logger *observability.Logger) *Executor {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	return &Executor{
		base:     newBase(provider, retriever, cfg, logger),
		registry: registry,
		toolExec: toolExec,
	}
}

// Type returns the executor role.
func (e *Executor) Type() models.SubAgentType { return models.SubAgentExecutor }

// toolSummary is the step output shape after tool execution.
type toolSummary struct {
	Total      int               `json:"total"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Results    []toolSummaryItem `json:"results"`
}

type toolSummaryItem struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Execute runs the step. A reply with no tool calls is returned as plain
// output; otherwise the calls are executed and summarised. When any call is
// parked for approval, the result carries the pending interactions and the
// step must be resumed through ExecuteApprovedAction.
func (e *Executor) Execute(ctx context.Context, bb *blackboard.Blackboard, step *models.PlanStep, systemPrompt string) (*Result, error) {
	if systemPrompt == "" {
		systemPrompt = executorSystemPrompt
	}
	rc := models.RequestContextFrom(ctx)
	var user *models.User
	if rc != nil {
		user = &rc.User
	}

	var prompt strings.Builder
	prompt.WriteString(stepHeader(step))
	if bbCtx := bb.ContextForLLM(contextTokenBudget); bbCtx != "" {
		prompt.WriteString("\n## Workspace\n" + bbCtx + "\n")
	}

	resp, err := e.complete(ctx, systemPrompt, userMessage(prompt.String()), e.registry.Defs(user))
	if err != nil {
		return failure(err), nil
	}
	tokens := resp.Usage.PromptTokens + resp.Usage.CompletionTokens

	if len(resp.ToolCalls) == 0 {
		return &Result{Success: true, Output: resp.Content, TokensUsed: tokens}, nil
	}

	results, pending := e.toolExec.ExecuteMany(ctx, rc, resp.ToolCalls)
	if tc := observability.TraceFromContext(ctx); tc != nil {
		for range resp.ToolCalls {
			tc.RecordTool(ctx)
		}
	}

	for _, r := range results {
		if err := bb.AddToolResult(r); err != nil {
			e.logger.Warn(ctx, "dropping duplicate tool result", "call_id", r.CallID, "error", err)
		}
	}

	if len(pending) > 0 {
		// Remember which call each interaction gates so approval can resume it.
		byInteraction := make(map[string]models.ToolCall)
		for _, r := range results {
			if r.AwaitingApproval() {
				for _, call := range resp.ToolCalls {
					if call.ID == r.CallID {
						byInteraction[r.InteractionID] = call
					}
				}
			}
		}
		for _, in := range pending {
			bb.AddPendingInteraction(in)
			if call, ok := byInteraction[in.ID]; ok {
				parkCall(bb, in.ID, call)
			}
		}
		return &Result{
			Success:          false,
			AwaitingApproval: true,
			Interactions:     pending,
			TokensUsed:       tokens,
		}, nil
	}

	summary := summarise(results)
	data, err := json.Marshal(summary)
	if err != nil {
		return failure(err), nil
	}
	return &Result{
		Success:    summary.Failed == 0,
		Output:     string(data),
		TokensUsed: tokens,
	}, nil
}

// ExecuteApprovedAction resumes the tool call gated by interactionID after
// the human response has been recorded on the blackboard. The sentinel
// result is replaced with the real outcome; a rejection yields a failed
// result without running the tool.
func (e *Executor) ExecuteApprovedAction(ctx context.Context, bb *blackboard.Blackboard, interactionID string) (*models.ToolResult, error) {
	interaction, ok := bb.GetInteraction(interactionID)
	if !ok {
		return nil, models.Errorf(models.ErrNotFound, "interaction %s not found", interactionID)
	}
	call, ok := parkedCall(bb, interactionID)
	if !ok {
		return nil, models.Errorf(models.ErrNotFound, "no parked tool call for interaction %s", interactionID)
	}

	rc := models.RequestContextFrom(ctx)
	result := e.toolExec.ExecuteApproved(ctx, rc, call, interaction)
	if err := bb.ReplaceToolResult(result); err != nil {
		return nil, err
	}
	return result, nil
}

// summarise folds tool results into the step output shape.
func summarise(results []*models.ToolResult) toolSummary {
	summary := toolSummary{Total: len(results)}
	for _, r := range results {
		item := toolSummaryItem{Tool: r.ToolName, Success: r.Success}
		if r.Success {
			summary.Successful++
			item.Result = r.Result
			if r.CompactResult != nil {
				item.Result = r.CompactResult
			}
		} else {
			summary.Failed++
			item.Error = r.Error
		}
		summary.Results = append(summary.Results, item)
	}
	return summary
}

// parkedCallKey namespaces blackboard variables holding gated tool calls.
const parkedCallKey = "hil."

func parkCall(bb *blackboard.Blackboard, interactionID string, call models.ToolCall) {
	bb.Set(parkedCallKey+interactionID, call, string(models.SubAgentExecutor))
}

// parkedCall recovers the gated call. The value may have passed through a
// JSON snapshot, so it is normalized through a marshal round trip.
func parkedCall(bb *blackboard.Blackboard, interactionID string) (models.ToolCall, bool) {
	raw, ok := bb.Get(parkedCallKey + interactionID)
	if !ok {
		return models.ToolCall{}, false
	}
	if call, ok := raw.(models.ToolCall); ok {
		return call, true
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return models.ToolCall{}, false
	}
	var call models.ToolCall
	if err := json.Unmarshal(data, &call); err != nil {
		return models.ToolCall{}, false
	}
	return call, call.Name != ""
}
