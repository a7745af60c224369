package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/conductorhq/conductor/internal/blackboard"
	"github.com/conductorhq/conductor/internal/embeddings"
	"github.com/conductorhq/conductor/internal/knowledge"
	"github.com/conductorhq/conductor/internal/llm"
	"github.com/conductorhq/conductor/internal/observability"
	"github.com/conductorhq/conductor/internal/sessions"
	"github.com/conductorhq/conductor/internal/subagents"
	"github.com/conductorhq/conductor/internal/tools"
	"github.com/conductorhq/conductor/pkg/models"
)

func testRC() *models.RequestContext {
	return &models.RequestContext{
		User:      models.User{ID: "u1", Username: "tester"},
		SessionID: "s1",
		RequestID: "r1",
	}
}

func planJSON(steps string) *llm.Response {
	return &llm.Response{
		Content: `{"goal": "answer", "steps": [` + steps + `]}`,
		Usage:   llm.Usage{PromptTokens: 20, CompletionTokens: 40},
	}
}

// newHarness wires an orchestrator against in-process fakes. The returned
// store observes session and checkpoint writes.
func newHarness(t *testing.T, provider llm.Provider, cfg Config, specs ...*tools.Spec) (*Orchestrator, *sessions.MemoryStore) {
	t.Helper()
	return newHarnessExec(t, provider, cfg, tools.DefaultExecConfig(), specs...)
}

func newHarnessExec(t *testing.T, provider llm.Provider, cfg Config, execCfg tools.ExecConfig, specs ...*tools.Spec) (*Orchestrator, *sessions.MemoryStore) {
	t.Helper()
	logger := observability.NewNopLogger()
	retriever := knowledge.NewRetriever(knowledge.NewGraph(), embeddings.NewMockProvider(), logger)

	registry := tools.NewRegistry()
	for _, spec := range specs {
		if err := registry.Register(spec); err != nil {
			t.Fatalf("Register(%s): %v", spec.Name, err)
		}
	}
	toolExec := tools.NewExecutor(registry, execCfg, tools.DefaultApprovalPolicy{}, logger, nil)

	agentCfg := subagents.Config{Model: "mock"}
	planner := subagents.NewPlanner(provider, retriever, agentCfg, logger)
	executor := subagents.NewExecutor(provider, retriever, registry, toolExec, agentCfg, logger)
	synthesizer := subagents.NewSynthesizer(provider, retriever, agentCfg, logger)

	store := sessions.NewMemoryStore(0)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	orch := New(planner, synthesizer, executor, store, cfg, logger, metrics, nil)
	orch.RegisterSubAgent(subagents.NewResearcher(provider, retriever, agentCfg, logger))
	orch.RegisterSubAgent(subagents.NewAnalyzer(provider, retriever, agentCfg, logger))
	return orch, store
}

func TestHandleQueryHappyPath(t *testing.T) {
	provider := &llm.MockProvider{Script: []*llm.Response{
		planJSON(`{"id": "step_1", "description": "Research", "sub_agent": "researcher", "instruction": "look up"},
			{"id": "step_2", "description": "Synthesize", "sub_agent": "synthesizer", "instruction": "answer", "depends_on": ["step_1"]}`),
		{Content: "FINDING: the answer is 42", Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 10}},
		{Content: "The answer is 42."},
		{Content: `["What else?", "How does it work?", "Why 42?", "One too many"]`},
	}}
	orch, store := newHarness(t, provider, DefaultConfig())
	stream := &MemoryStream{}

	if err := orch.HandleQuery(context.Background(), testRC(), "what is the answer", stream); err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}

	if got := stream.MarkdownText(); got != "The answer is 42." {
		t.Errorf("markdown = %q", got)
	}
	if len(stream.SuggestionSets) != 1 || len(stream.SuggestionSets[0]) != 3 {
		t.Errorf("suggestions = %v, want one set of 3", stream.SuggestionSets)
	}
	if len(stream.Errors) != 0 {
		t.Errorf("unexpected error frames: %v", stream.Errors)
	}

	progress := stream.ProgressEvents
	if len(progress) == 0 || progress[0] != StatusThinking {
		t.Errorf("first progress = %v, want %s", progress, StatusThinking)
	}
	if progress[len(progress)-1] != StatusSynthesisComplete {
		t.Errorf("last progress = %s, want %s", progress[len(progress)-1], StatusSynthesisComplete)
	}

	msgs, err := store.GetMessages(context.Background(), "s1", 0, time.Time{})
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Errorf("conversation = %v", msgs)
	}
	if msgs[1].Content != "The answer is 42." {
		t.Errorf("assistant message = %q", msgs[1].Content)
	}
	session, err := store.Get(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if session.State["phase"] != string(StateComplete) {
		t.Errorf("session phase = %v", session.State)
	}
	if provider.CallCount() != 4 {
		t.Errorf("LLM calls = %d, want 4", provider.CallCount())
	}
}

func deleteRecordSpec() *tools.Spec {
	return &tools.Spec{
		Name:        "delete_record",
		Description: "deletes a record by id",
		Parameters:  json.RawMessage(`{"type":"object"}`),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"deleted": true}, nil
		},
	}
}

func gatedCallScript() []*llm.Response {
	return []*llm.Response{
		planJSON(`{"id": "step_1", "description": "Delete the record", "sub_agent": "executor", "instruction": "delete it"}`),
		{
			Content: "",
			ToolCalls: []models.ToolCall{
				{ID: "c1", Name: "delete_record", Input: json.RawMessage(`{"id": "r1"}`)},
			},
		},
	}
}

func TestHandleQueryHILSuspendAndResume(t *testing.T) {
	provider := &llm.MockProvider{Script: append(gatedCallScript(),
		&llm.Response{Content: "Record r1 was deleted."},
		&llm.Response{Content: "no suggestions"},
	)}
	orch, store := newHarness(t, provider, DefaultConfig(), deleteRecordSpec())
	ctx := context.Background()
	stream := &MemoryStream{}

	if err := orch.HandleQuery(ctx, testRC(), "delete record r1", stream); err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if len(stream.Interactions) != 1 {
		t.Fatalf("interactions surfaced = %d, want 1", len(stream.Interactions))
	}
	interaction := stream.Interactions[0]
	if interaction.Type != models.InteractionConfirm {
		t.Errorf("interaction type = %s", interaction.Type)
	}
	if interaction.Timeout <= 0 {
		t.Error("interaction has no timeout")
	}
	if len(stream.MarkdownChunks) != 0 {
		t.Errorf("markdown before approval: %v", stream.MarkdownChunks)
	}

	session, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if session.State["phase"] != string(StateAwaitingHIL) {
		t.Errorf("session phase = %v", session.State)
	}
	cp, err := store.GetLatestCheckpoint(ctx, "s1", checkpointThread)
	if err != nil || cp == nil {
		t.Fatalf("checkpoint = %v, %v", cp, err)
	}
	if cp.State["parked_step"] != "step_1" {
		t.Errorf("parked step = %v", cp.State["parked_step"])
	}

	resumed := &MemoryStream{}
	err = orch.ResumeHumanInput(ctx, testRC(), interaction.ID, map[string]any{"approved": true}, resumed)
	if err != nil {
		t.Fatalf("ResumeHumanInput: %v", err)
	}
	if got := resumed.MarkdownText(); got != "Record r1 was deleted." {
		t.Errorf("markdown after approval = %q", got)
	}
	if len(resumed.Errors) != 0 {
		t.Errorf("error frames after approval: %v", resumed.Errors)
	}
}

func TestResumeHumanInputRejection(t *testing.T) {
	provider := &llm.MockProvider{Script: gatedCallScript()}
	cfg := DefaultConfig()
	cfg.ReplanBudget = 0
	orch, _ := newHarness(t, provider, cfg, deleteRecordSpec())
	ctx := context.Background()
	stream := &MemoryStream{}

	if err := orch.HandleQuery(ctx, testRC(), "delete record r1", stream); err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if len(stream.Interactions) != 1 {
		t.Fatalf("interactions surfaced = %d, want 1", len(stream.Interactions))
	}

	resumed := &MemoryStream{}
	err := orch.ResumeHumanInput(ctx, testRC(), stream.Interactions[0].ID, map[string]any{"approved": false}, resumed)
	if err == nil {
		t.Fatal("expected failure after rejection with no replan budget")
	}
	if len(resumed.Errors) != 1 || !strings.Contains(resumed.Errors[0].Message, "user rejected") {
		t.Errorf("error frames = %v", resumed.Errors)
	}
	if len(resumed.MarkdownChunks) != 0 {
		t.Errorf("markdown after rejection: %v", resumed.MarkdownChunks)
	}
}

func TestResumeHumanInputExpiredApproval(t *testing.T) {
	executions := 0
	spec := deleteRecordSpec()
	spec.Handler = func(ctx context.Context, args map[string]any) (any, error) {
		executions++
		return map[string]any{"deleted": true}, nil
	}
	provider := &llm.MockProvider{Script: gatedCallScript()}
	cfg := DefaultConfig()
	cfg.ReplanBudget = 0
	execCfg := tools.DefaultExecConfig()
	execCfg.ApprovalTimeout = 30 * time.Millisecond
	orch, _ := newHarnessExec(t, provider, cfg, execCfg, spec)
	ctx := context.Background()
	stream := &MemoryStream{}

	if err := orch.HandleQuery(ctx, testRC(), "delete record r1", stream); err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if len(stream.Interactions) != 1 {
		t.Fatalf("interactions surfaced = %d, want 1", len(stream.Interactions))
	}

	time.Sleep(60 * time.Millisecond)

	resumed := &MemoryStream{}
	err := orch.ResumeHumanInput(ctx, testRC(), stream.Interactions[0].ID, map[string]any{"approved": true}, resumed)
	if err == nil {
		t.Fatal("expected failure for an approval arriving after the window closed")
	}
	if executions != 0 {
		t.Errorf("tool ran %d times on an expired approval", executions)
	}
	if len(resumed.Errors) != 1 || !strings.Contains(resumed.Errors[0].Message, "expired") {
		t.Errorf("error frames = %v", resumed.Errors)
	}
	if len(resumed.MarkdownChunks) != 0 {
		t.Errorf("markdown after expiry: %v", resumed.MarkdownChunks)
	}
}

func TestResumeHumanInputSiblingApprovals(t *testing.T) {
	executions := 0
	spec := deleteRecordSpec()
	spec.Handler = func(ctx context.Context, args map[string]any) (any, error) {
		executions++
		return map[string]any{"deleted": true}, nil
	}
	provider := &llm.MockProvider{Script: []*llm.Response{
		planJSON(`{"id": "step_1", "description": "Delete both records", "sub_agent": "executor", "instruction": "delete them"}`),
		{ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "delete_record", Input: json.RawMessage(`{"id": "r1"}`)},
			{ID: "c2", Name: "delete_record", Input: json.RawMessage(`{"id": "r2"}`)},
		}},
		{Content: "Both records were deleted."},
		{Content: "no suggestions"},
	}}
	orch, _ := newHarness(t, provider, DefaultConfig(), spec)
	ctx := context.Background()
	stream := &MemoryStream{}

	if err := orch.HandleQuery(ctx, testRC(), "delete r1 and r2", stream); err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if len(stream.Interactions) != 2 {
		t.Fatalf("interactions surfaced = %d, want 2", len(stream.Interactions))
	}

	// Approving one gated call must not finish the step while its sibling
	// still waits; the request suspends again on the remaining interaction.
	first := &MemoryStream{}
	if err := orch.ResumeHumanInput(ctx, testRC(), stream.Interactions[0].ID, map[string]any{"approved": true}, first); err != nil {
		t.Fatalf("first ResumeHumanInput: %v", err)
	}
	if executions != 1 {
		t.Fatalf("executions after first approval = %d, want 1", executions)
	}
	if len(first.MarkdownChunks) != 0 {
		t.Errorf("markdown while a sibling approval is outstanding: %v", first.MarkdownChunks)
	}
	if len(first.Interactions) != 1 || first.Interactions[0].ID != stream.Interactions[1].ID {
		t.Fatalf("re-suspension surfaced %v", first.Interactions)
	}

	second := &MemoryStream{}
	if err := orch.ResumeHumanInput(ctx, testRC(), stream.Interactions[1].ID, map[string]any{"approved": true}, second); err != nil {
		t.Fatalf("second ResumeHumanInput: %v", err)
	}
	if executions != 2 {
		t.Errorf("executions = %d, want 2", executions)
	}
	if got := second.MarkdownText(); got != "Both records were deleted." {
		t.Errorf("markdown = %q", got)
	}
}

func TestResumeHumanInputUnknownSession(t *testing.T) {
	orch, _ := newHarness(t, llm.NewMockProvider(), DefaultConfig())
	stream := &MemoryStream{}
	err := orch.ResumeHumanInput(context.Background(), testRC(), "in-1", map[string]any{"approved": true}, stream)
	if models.KindOf(err) != models.ErrNotFound {
		t.Errorf("error kind = %s, want %s", models.KindOf(err), models.ErrNotFound)
	}
}

func TestReplanAfterStepFailure(t *testing.T) {
	boom := &tools.Spec{
		Name:        "lookup",
		Description: "always fails",
		Parameters:  json.RawMessage(`{"type":"object"}`),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("backend unavailable")
		},
	}
	provider := &llm.MockProvider{Script: []*llm.Response{
		planJSON(`{"id": "step_1", "description": "Look it up", "sub_agent": "executor", "instruction": "call lookup"}`),
		{ToolCalls: []models.ToolCall{{ID: "c1", Name: "lookup", Input: json.RawMessage(`{}`)}}},
		planJSON(`{"id": "step_2", "description": "Research instead", "sub_agent": "researcher", "instruction": "look up"}`),
		{Content: "FINDING: found it elsewhere"},
		{Content: "Done."},
		{Content: "no suggestions"},
	}}
	orch, _ := newHarness(t, provider, DefaultConfig(), boom)
	stream := &MemoryStream{}

	if err := orch.HandleQuery(context.Background(), testRC(), "find the thing", stream); err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if got := stream.MarkdownText(); got != "Done." {
		t.Errorf("markdown = %q", got)
	}
	if len(stream.Errors) != 0 {
		t.Errorf("error frames = %v", stream.Errors)
	}
	if provider.CallCount() != 6 {
		t.Errorf("LLM calls = %d, want 6", provider.CallCount())
	}
}

// stallProvider answers the first call from the inner provider, then blocks
// until the caller's context expires.
type stallProvider struct {
	inner *llm.MockProvider
	calls int
}

func (p *stallProvider) Name() string { return "stall" }

func (p *stallProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	p.calls++
	if p.calls == 1 {
		return p.inner.Complete(ctx, req)
	}
	<-ctx.Done()
	return nil, models.NewError(models.ErrTimeout, ctx.Err())
}

func (p *stallProvider) Stream(ctx context.Context, req *llm.Request) (<-chan *llm.Chunk, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	chunks := make(chan *llm.Chunk, 1)
	chunks <- &llm.Chunk{Text: resp.Content}
	close(chunks)
	return chunks, nil
}

func TestStepTimeoutFailsRequest(t *testing.T) {
	provider := &stallProvider{inner: &llm.MockProvider{Script: []*llm.Response{
		planJSON(`{"id": "step_1", "description": "Research", "sub_agent": "researcher", "instruction": "look up"}`),
	}}}
	cfg := DefaultConfig()
	cfg.ReplanBudget = 0
	cfg.StepTimeout = 20 * time.Millisecond
	orch, _ := newHarness(t, provider, cfg)
	stream := &MemoryStream{}

	err := orch.HandleQuery(context.Background(), testRC(), "find the thing", stream)
	if err == nil {
		t.Fatal("expected failure when the only step times out")
	}
	if len(stream.Errors) != 1 || !strings.Contains(stream.Errors[0].Message, "step_1") {
		t.Errorf("error frames = %v", stream.Errors)
	}
	if len(stream.MarkdownChunks) != 0 {
		t.Errorf("markdown emitted after failure: %v", stream.MarkdownChunks)
	}
}

func TestHandleQueryCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := &llm.MockProvider{RespondFunc: func(req *llm.Request) *llm.Response {
		cancel()
		return planJSON(`{"id": "step_1", "description": "Research", "sub_agent": "researcher", "instruction": "look up"}`)
	}}
	orch, _ := newHarness(t, provider, DefaultConfig())
	stream := &MemoryStream{}

	err := orch.HandleQuery(ctx, testRC(), "find the thing", stream)
	if models.KindOf(err) != models.ErrCancelled {
		t.Errorf("error kind = %s, want %s", models.KindOf(err), models.ErrCancelled)
	}
	if len(stream.Errors) != 1 || stream.Errors[0].Kind != models.ErrCancelled {
		t.Errorf("error frames = %v", stream.Errors)
	}
}

func TestRunnableStepsHoldsBackSynthesizer(t *testing.T) {
	plan := &models.ExecutionPlan{Steps: []*models.PlanStep{
		{ID: "a", SubAgent: models.SubAgentResearcher, Status: models.StepCompleted},
		{ID: "b", SubAgent: models.SubAgentAnalyzer, Status: models.StepPending, DependsOn: []string{"a"}},
		{ID: "c", SubAgent: models.SubAgentExecutor, Status: models.StepPending, DependsOn: []string{"b"}},
		{ID: "d", SubAgent: models.SubAgentSynthesizer, Status: models.StepPending, DependsOn: []string{"a"}},
	}}
	runnable := runnableSteps(plan)
	if len(runnable) != 1 || runnable[0].ID != "b" {
		t.Errorf("runnable = %v", runnable)
	}
}

func TestPropagateSkips(t *testing.T) {
	plan := &models.ExecutionPlan{Steps: []*models.PlanStep{
		{ID: "a", SubAgent: models.SubAgentResearcher, Status: models.StepFailed, Error: "boom"},
		{ID: "b", SubAgent: models.SubAgentAnalyzer, Status: models.StepPending, DependsOn: []string{"a"}},
		{ID: "c", SubAgent: models.SubAgentExecutor, Status: models.StepPending, DependsOn: []string{"b"}},
		{ID: "d", SubAgent: models.SubAgentSynthesizer, Status: models.StepPending, DependsOn: []string{"c"}},
	}}
	propagateSkips(plan)
	if plan.Step("b").Status != models.StepSkipped {
		t.Errorf("b status = %s", plan.Step("b").Status)
	}
	if plan.Step("c").Status != models.StepSkipped {
		t.Errorf("c status = %s, want skip through transitive dependency", plan.Step("c").Status)
	}
	if plan.Step("d").Status != models.StepPending {
		t.Errorf("synthesizer step status = %s, want pending", plan.Step("d").Status)
	}
}

func TestDispatchWaveStopsAfterCancel(t *testing.T) {
	provider := llm.NewMockProvider()
	orch, _ := newHarness(t, provider, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plan := &models.ExecutionPlan{Query: "q", Steps: []*models.PlanStep{
		{ID: "a", SubAgent: models.SubAgentResearcher, Status: models.StepPending},
	}}
	if parked := orch.dispatchWave(ctx, blackboard.New(), runnableSteps(plan)); parked != "" {
		t.Errorf("parked = %q", parked)
	}
	if provider.CallCount() != 0 {
		t.Errorf("LLM calls after cancellation = %d, want 0", provider.CallCount())
	}
	if plan.Step("a").Status != models.StepFailed {
		t.Errorf("step status = %s, want failed", plan.Step("a").Status)
	}
}

func TestDispatchWaveParallelism(t *testing.T) {
	provider := llm.NewMockProvider()
	cfg := DefaultConfig()
	cfg.MaxStepParallelism = 2
	orch, _ := newHarness(t, provider, cfg)

	var steps []*models.PlanStep
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		steps = append(steps, &models.PlanStep{
			ID:       id,
			SubAgent: models.SubAgentResearcher,
			Status:   models.StepPending,
		})
	}
	plan := &models.ExecutionPlan{Query: "q", Steps: steps}

	bb := blackboard.New()
	parked := orch.dispatchWave(context.Background(), bb, runnableSteps(plan))
	if parked != "" {
		t.Errorf("parked = %q", parked)
	}
	for _, step := range steps {
		if step.Status != models.StepCompleted {
			t.Errorf("step %s status = %s", step.ID, step.Status)
		}
		if _, ok := bb.Get("step." + step.ID); !ok {
			t.Errorf("step %s output missing from workspace", step.ID)
		}
	}
}
