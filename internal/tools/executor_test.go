package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/conductorhq/conductor/pkg/models"
)

func echoSpec(name string) *Spec {
	return &Spec{
		Name:        name,
		Description: "echoes its arguments",
		Parameters:  json.RawMessage(`{"type":"object"}`),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return args, nil
		},
	}
}

func testRC(perms ...string) *models.RequestContext {
	return &models.RequestContext{
		User:      models.User{ID: "u1", Username: "tester", Permissions: perms},
		SessionID: "s1",
		RequestID: "r1",
	}
}

func newTestExecutor(t *testing.T, specs ...*Spec) *Executor {
	t.Helper()
	reg := NewRegistry()
	for _, s := range specs {
		if err := reg.Register(s); err != nil {
			t.Fatalf("Register(%s): %v", s.Name, err)
		}
	}
	return NewExecutor(reg, DefaultExecConfig(), nil, nil, nil)
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoSpec("echo")); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	err := reg.Register(echoSpec("echo"))
	if err == nil {
		t.Fatal("duplicate Register succeeded")
	}
	if models.KindOf(err) != models.ErrValidation {
		t.Errorf("error kind = %s, want %s", models.KindOf(err), models.ErrValidation)
	}
}

func TestExecuteSuccess(t *testing.T) {
	e := newTestExecutor(t, echoSpec("echo"))
	result, interaction := e.Execute(context.Background(), testRC(), models.ToolCall{
		ID:    "c1",
		Name:  "echo",
		Input: json.RawMessage(`{"msg":"hi"}`),
	})
	if interaction != nil {
		t.Fatal("unexpected interaction for safe tool")
	}
	if !result.Success {
		t.Fatalf("Execute failed: %s", result.Error)
	}
	if result.ToolName != "echo" || result.CallID != "c1" {
		t.Errorf("result identity = %s/%s", result.ToolName, result.CallID)
	}
}

func TestExecuteNotFound(t *testing.T) {
	e := newTestExecutor(t)
	result, _ := e.Execute(context.Background(), testRC(), models.ToolCall{ID: "c1", Name: "missing"})
	if result.Success {
		t.Fatal("expected failure for unknown tool")
	}
	if !strings.Contains(result.Error, "tool not found") {
		t.Errorf("error = %q, want tool not found", result.Error)
	}
}

func TestExecutePermissionDenied(t *testing.T) {
	spec := echoSpec("crm_lookup")
	spec.Permissions = []string{"crm:read"}
	e := newTestExecutor(t, spec)

	result, _ := e.Execute(context.Background(), testRC(), models.ToolCall{ID: "c1", Name: "crm_lookup"})
	if result.Success {
		t.Fatal("expected permission failure")
	}
	if !strings.Contains(result.Error, "permission denied") {
		t.Errorf("error = %q, want permission denied", result.Error)
	}

	result, _ = e.Execute(context.Background(), testRC("crm:read"), models.ToolCall{ID: "c2", Name: "crm_lookup"})
	if !result.Success {
		t.Fatalf("authorized call failed: %s", result.Error)
	}
}

func TestExecuteSchemaValidation(t *testing.T) {
	spec := echoSpec("typed")
	spec.Parameters = json.RawMessage(`{
		"type": "object",
		"properties": {"count": {"type": "integer"}},
		"required": ["count"]
	}`)
	e := newTestExecutor(t, spec)

	result, _ := e.Execute(context.Background(), testRC(), models.ToolCall{
		ID: "c1", Name: "typed", Input: json.RawMessage(`{"count":"three"}`),
	})
	if result.Success {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(result.Error, string(models.ErrValidation)) {
		t.Errorf("error = %q, want %s", result.Error, models.ErrValidation)
	}

	result, _ = e.Execute(context.Background(), testRC(), models.ToolCall{
		ID: "c2", Name: "typed", Input: json.RawMessage(`{"count":3}`),
	})
	if !result.Success {
		t.Fatalf("valid call failed: %s", result.Error)
	}
}

// Destructive and high-value calls must never run before approval.
func TestExecuteApprovalGating(t *testing.T) {
	tests := []struct {
		name  string
		tool  string
		input string
		gated bool
	}{
		{"destructive verb", "delete_record", `{}`, true},
		{"destructive verb mid-name", "crm_cancel_order", `{}`, true},
		{"verb as substring only", "undelete_record", `{}`, false},
		{"large amount", "transfer_funds", `{"amount": 50000}`, true},
		{"amount at threshold", "transfer_funds", `{"amount": 10000}`, false},
		{"small amount", "transfer_funds", `{"amount": 10}`, false},
		{"safe tool", "lookup_record", `{}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ran := false
			spec := &Spec{
				Name:       tt.tool,
				Parameters: json.RawMessage(`{"type":"object"}`),
				Handler: func(ctx context.Context, args map[string]any) (any, error) {
					ran = true
					return "ok", nil
				},
			}
			e := newTestExecutor(t, spec)
			result, interaction := e.Execute(context.Background(), testRC(), models.ToolCall{
				ID: "c1", Name: tt.tool, Input: json.RawMessage(tt.input),
			})
			if tt.gated {
				if ran {
					t.Fatal("gated tool executed before approval")
				}
				if !result.AwaitingApproval() {
					t.Fatalf("status = %q, want awaiting_approval", result.Status)
				}
				if interaction == nil {
					t.Fatal("no interaction returned for gated call")
				}
				if interaction.Type != models.InteractionConfirm {
					t.Errorf("interaction type = %s, want confirm", interaction.Type)
				}
				if result.InteractionID != interaction.ID {
					t.Error("sentinel does not reference the interaction")
				}
			} else {
				if interaction != nil {
					t.Fatal("unexpected interaction for safe call")
				}
				if !ran {
					t.Fatal("safe tool did not execute")
				}
			}
		})
	}
}

func TestApprovalPolicyPerToolOverrides(t *testing.T) {
	policy := DefaultApprovalPolicy{}

	wire := &Spec{Name: "wire_transfer", HILThreshold: 100}
	if _, gated := policy.RequiresApproval(wire, models.ToolCall{
		Name: "wire_transfer", Input: json.RawMessage(`{"amount": 500}`),
	}); !gated {
		t.Error("amount above the per-tool threshold not gated")
	}
	if _, gated := policy.RequiresApproval(wire, models.ToolCall{
		Name: "wire_transfer", Input: json.RawMessage(`{"amount": 50}`),
	}); gated {
		t.Error("amount below the per-tool threshold gated")
	}

	del := &Spec{Name: "delete_record", ConfirmationPrompt: "Really erase the record?"}
	prompt, gated := policy.RequiresApproval(del, models.ToolCall{Name: "delete_record"})
	if !gated {
		t.Fatal("destructive tool not gated")
	}
	if prompt != "Really erase the record?" {
		t.Errorf("prompt = %q, want the spec's own wording", prompt)
	}
}

func TestExecuteApproved(t *testing.T) {
	ran := false
	spec := &Spec{
		Name:       "delete_record",
		Parameters: json.RawMessage(`{"type":"object"}`),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			ran = true
			return "deleted", nil
		},
	}
	e := newTestExecutor(t, spec)
	call := models.ToolCall{ID: "c1", Name: "delete_record", Input: json.RawMessage(`{}`)}

	_, interaction := e.Execute(context.Background(), testRC(), call)
	if interaction == nil {
		t.Fatal("expected a pending interaction")
	}

	// Approval runs the tool.
	now := time.Now()
	interaction.Response = map[string]any{"approved": true}
	interaction.ResolvedAt = &now
	result := e.ExecuteApproved(context.Background(), testRC(), call, interaction)
	if !result.Success || !ran {
		t.Fatalf("approved call did not run: %s", result.Error)
	}

	// Rejection fails without running.
	ran = false
	rejected := &models.PendingInteraction{
		ID:        "i2",
		Response:  map[string]any{"approved": false},
		CreatedAt: now,
	}
	result = e.ExecuteApproved(context.Background(), testRC(), call, rejected)
	if result.Success || ran {
		t.Fatal("rejected call executed")
	}
	if !strings.Contains(result.Error, "user rejected") {
		t.Errorf("error = %q, want user rejected", result.Error)
	}
}

func TestExecuteTimeout(t *testing.T) {
	spec := &Spec{
		Name:       "slow",
		Parameters: json.RawMessage(`{"type":"object"}`),
		Timeout:    20 * time.Millisecond,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			select {
			case <-time.After(5 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	e := newTestExecutor(t, spec)
	result, _ := e.Execute(context.Background(), testRC(), models.ToolCall{ID: "c1", Name: "slow"})
	if result.Success {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(result.Error, "timed out after") {
		t.Errorf("error = %q, want timed out after", result.Error)
	}
}

func TestExecuteHandlerError(t *testing.T) {
	spec := &Spec{
		Name:       "flaky",
		Parameters: json.RawMessage(`{"type":"object"}`),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("upstream exploded")
		},
	}
	e := newTestExecutor(t, spec)
	result, _ := e.Execute(context.Background(), testRC(), models.ToolCall{ID: "c1", Name: "flaky"})
	if result.Success {
		t.Fatal("expected handler failure")
	}
	if result.Error != "upstream exploded" {
		t.Errorf("error = %q", result.Error)
	}
}

func TestExecuteManyPreservesOrder(t *testing.T) {
	e := newTestExecutor(t, echoSpec("echo"))
	calls := make([]models.ToolCall, 8)
	for i := range calls {
		calls[i] = models.ToolCall{
			ID:    "c" + string(rune('0'+i)),
			Name:  "echo",
			Input: json.RawMessage(`{}`),
		}
	}
	results, pending := e.ExecuteMany(context.Background(), testRC(), calls)
	if len(pending) != 0 {
		t.Fatalf("unexpected pending interactions: %d", len(pending))
	}
	if len(results) != len(calls) {
		t.Fatalf("got %d results, want %d", len(results), len(calls))
	}
	for i, r := range results {
		if r.CallID != calls[i].ID {
			t.Errorf("result %d has call id %s, want %s", i, r.CallID, calls[i].ID)
		}
	}
}

func TestCompaction(t *testing.T) {
	items := make([]any, 50)
	for i := range items {
		items[i] = i
	}
	spec := &Spec{
		Name:       "list_records",
		Parameters: json.RawMessage(`{"type":"object"}`),
		Compact:    ListCompactor(5),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return items, nil
		},
	}
	e := newTestExecutor(t, spec)
	result, _ := e.Execute(context.Background(), testRC(), models.ToolCall{ID: "c1", Name: "list_records"})
	if !result.Success {
		t.Fatalf("Execute: %s", result.Error)
	}
	compact, ok := result.CompactResult.(map[string]any)
	if !ok {
		t.Fatalf("CompactResult type %T", result.CompactResult)
	}
	if compact["total"] != 50 {
		t.Errorf("total = %v, want 50", compact["total"])
	}
	if got := compact["items"].([]any); len(got) != 5 {
		t.Errorf("kept %d items, want 5", len(got))
	}
	if full, ok := result.Result.([]any); !ok || len(full) != 50 {
		t.Error("full result was altered by compaction")
	}
}
