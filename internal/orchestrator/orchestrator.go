// Package orchestrator implements the request loop: plan a query, dispatch
// steps to sub-agents across the blackboard, replan on failure, suspend for
// human approval, and synthesize the final streamed answer.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/conductorhq/conductor/internal/blackboard"
	"github.com/conductorhq/conductor/internal/observability"
	"github.com/conductorhq/conductor/internal/sessions"
	"github.com/conductorhq/conductor/internal/subagents"
	"github.com/conductorhq/conductor/pkg/models"
)

// State is the request lifecycle phase, persisted on the session while a
// request is suspended.
type State string

const (
	StateAdmitted     State = "ADMITTED"
	StatePlanning     State = "PLANNING"
	StateDispatching  State = "DISPATCHING"
	StateAwaitingDeps State = "AWAITING_DEPS"
	StateAwaitingHIL  State = "AWAITING_HIL"
	StateReplan       State = "REPLAN"
	StateSynthesizing State = "SYNTHESIZING"
	StateComplete     State = "COMPLETE"
	StateFailed       State = "FAILED"
	StateCancelled    State = "CANCELLED"
)

// checkpointThread names the thread under which request resumption
// checkpoints are stored for a session.
const checkpointThread = "orchestrator"

// Config bounds the loop.
type Config struct {
	// MaxStepParallelism caps concurrent step workers. Default 4.
	MaxStepParallelism int

	// ReplanBudget is the number of replans allowed per request. Default 2.
	ReplanBudget int

	// StepTimeout is the soft deadline for one step. Default 120 seconds.
	StepTimeout time.Duration

	// HILTimeout is stamped onto surfaced interactions. Default 300 seconds.
	HILTimeout time.Duration

	// SessionTTL is applied to sessions created at admission.
	SessionTTL time.Duration

	// SamplingRate is the trace sampling probability. Default 1.0.
	SamplingRate float64
}

// DefaultConfig returns the standard loop limits.
func DefaultConfig() Config {
	return Config{
		MaxStepParallelism: 4,
		ReplanBudget:       2,
		StepTimeout:        120 * time.Second,
		HILTimeout:         300 * time.Second,
		SamplingRate:       1.0,
	}
}

// Orchestrator coordinates one request at a time per call; a single instance
// serves many concurrent requests.
type Orchestrator struct {
	planner     *subagents.Planner
	synthesizer *subagents.Synthesizer
	executor    *subagents.Executor
	agents      map[models.SubAgentType]subagents.SubAgent

	store   sessions.Store
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics
	sink    observability.TraceSink
}

// New creates an orchestrator. The planner, synthesizer, and executor are
// required; researcher and analyzer register through RegisterSubAgent.
func New(planner *subagents.Planner, synthesizer *subagents.Synthesizer, executor *subagents.Executor, store sessions.Store, cfg Config, logger *observability.Logger, metrics *observability.Metrics, sink observability.TraceSink) *Orchestrator {
	if cfg.MaxStepParallelism <= 0 {
		cfg.MaxStepParallelism = 4
	}
	if cfg.ReplanBudget < 0 {
		cfg.ReplanBudget = 2
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 120 * time.Second
	}
	if cfg.HILTimeout <= 0 {
		cfg.HILTimeout = 300 * time.Second
	}
	if cfg.SamplingRate == 0 {
		cfg.SamplingRate = 1.0
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	o := &Orchestrator{
		planner:     planner,
		synthesizer: synthesizer,
		executor:    executor,
		agents:      make(map[models.SubAgentType]subagents.SubAgent),
		store:       store,
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		sink:        sink,
	}
	o.agents[models.SubAgentPlanner] = planner
	o.agents[models.SubAgentSynthesizer] = synthesizer
	o.agents[models.SubAgentExecutor] = executor
	return o
}

// RegisterSubAgent adds a role implementation to the dispatch table.
func (o *Orchestrator) RegisterSubAgent(agent subagents.SubAgent) {
	o.agents[agent.Type()] = agent
}

// HandleQuery runs one request end to end: plan, dispatch, synthesize. It
// returns nil both on completion and on HIL suspension; the suspended case
// leaves a checkpoint behind for ResumeHumanInput.
func (o *Orchestrator) HandleQuery(ctx context.Context, rc *models.RequestContext, query string, stream Stream) error {
	if o.metrics != nil {
		o.metrics.ActiveRequests.Inc()
		defer o.metrics.ActiveRequests.Dec()
	}
	tc := observability.StartTrace(ctx, observability.TraceOptions{
		SessionID:    rc.SessionID,
		UserID:       rc.User.ID,
		SamplingRate: o.cfg.SamplingRate,
		Sink:         o.sink,
		Logger:       o.logger,
	})
	ctx = observability.WithTrace(ctx, tc)
	ctx = models.WithRequestContext(ctx, rc)
	defer tc.End(ctx)
	span := tc.StartSpan(ctx, "handle_message", map[string]any{"request_id": rc.RequestID})
	defer func() { tc.EndSpan(ctx, span, nil) }()

	o.recordAdmission(ctx, rc, query)

	bb := blackboard.New()
	bb.Set("query", query, "orchestrator")
	bb.AddMessage(models.Message{Role: models.RoleUser, Content: query, CreatedAt: time.Now()})
	o.emitProgress(ctx, stream, StatusThinking)

	plan, err := o.planner.Plan(ctx, bb, query, "")
	if err != nil {
		o.logger.Error(ctx, "planning failed", "error", err)
		o.countRequest("failed")
		stream.Error(ctx, models.KindOf(err), "planning failed: "+err.Error())
		return err
	}
	o.emitProgress(ctx, stream, StatusPlanningComplete)
	tc.LogDecision(ctx, "plan_created", map[string]any{"steps": len(plan.Steps)})

	return o.runPlan(ctx, rc, bb, plan, stream, 0)
}

// ResumeHumanInput rehydrates a suspended request, records the human
// response, finishes the parked step, and resumes the loop.
func (o *Orchestrator) ResumeHumanInput(ctx context.Context, rc *models.RequestContext, interactionID string, values map[string]any, stream Stream) error {
	tc := observability.StartTrace(ctx, observability.TraceOptions{
		SessionID:    rc.SessionID,
		UserID:       rc.User.ID,
		SamplingRate: o.cfg.SamplingRate,
		Sink:         o.sink,
		Logger:       o.logger,
	})
	ctx = observability.WithTrace(ctx, tc)
	ctx = models.WithRequestContext(ctx, rc)
	defer tc.End(ctx)

	bb, plan, parkedStepID, replans, err := o.rehydrate(ctx, rc.SessionID)
	if err != nil {
		stream.Error(ctx, models.KindOf(err), err.Error())
		return err
	}

	step := plan.Step(parkedStepID)
	if step == nil {
		err := models.Errorf(models.ErrNotFound, "parked step %s not found in plan", parkedStepID)
		stream.Error(ctx, models.ErrNotFound, err.Error())
		return err
	}

	if _, err := bb.ResolveInteraction(interactionID, values); err != nil {
		if models.KindOf(err) != models.ErrTimeout {
			stream.Error(ctx, models.KindOf(err), err.Error())
			return err
		}
		// The response window closed; the approval no longer counts and the
		// gated call never runs.
		failPendingApprovals(bb, "approval window expired")
		o.finishStep(step, models.StepFailed, "", err.Error())
		return o.runPlan(ctx, rc, bb, plan, stream, replans)
	}
	tc.LogDecision(ctx, "hil_resolved", map[string]any{"interaction_id": interactionID})

	result, err := o.executor.ExecuteApprovedAction(ctx, bb, interactionID)
	switch {
	case err != nil:
		failPendingApprovals(bb, "step failed: "+err.Error())
		o.finishStep(step, models.StepFailed, "", err.Error())
	case result.Success:
		if bb.HasPendingInteractions() {
			// Sibling gated calls from the same step still wait on a human.
			return o.suspend(ctx, rc, bb, plan, stream, parkedStepID, replans)
		}
		o.finishStep(step, models.StepCompleted, renderToolOutcome(result), "")
		bb.Set("step."+step.ID, step.Result, string(step.SubAgent))
	case strings.Contains(result.Error, "user rejected"):
		failPendingApprovals(bb, "step rejected")
		o.finishStep(step, models.StepFailed, "", "user rejected")
	default:
		failPendingApprovals(bb, "step failed: "+result.Error)
		o.finishStep(step, models.StepFailed, "", result.Error)
	}

	return o.runPlan(ctx, rc, bb, plan, stream, replans)
}

// runPlan drives dispatch waves until the plan is terminal, then hands off
// to synthesis. replans counts budget already spent.
func (o *Orchestrator) runPlan(ctx context.Context, rc *models.RequestContext, bb *blackboard.Blackboard, plan *models.ExecutionPlan, stream Stream, replans int) error {
	tc := observability.TraceFromContext(ctx)
	for {
		if ctx.Err() != nil {
			return o.cancelled(ctx, rc, plan, stream)
		}

		propagateSkips(plan)
		runnable := runnableSteps(plan)
		if len(runnable) == 0 {
			failed := failedSteps(plan)
			if len(failed) > 0 && replans < o.cfg.ReplanBudget {
				replans++
				reason := joinErrors(failed)
				o.logger.Info(ctx, "replanning after step failures", "failed", len(failed), "replan", replans)
				if tc != nil {
					tc.LogDecision(ctx, "replan", map[string]any{"attempt": replans, "reason": reason})
				}
				revised, err := o.planner.Replan(ctx, bb, plan, reason)
				if err != nil {
					o.logger.Warn(ctx, "replan failed", "error", err)
					break
				}
				plan = revised
				continue
			}
			break
		}

		o.emitProgress(ctx, stream, StatusProcessing)
		parked := o.dispatchWave(ctx, bb, runnable)
		if parked != "" {
			return o.suspend(ctx, rc, bb, plan, stream, parked, replans)
		}
	}

	if ctx.Err() != nil {
		return o.cancelled(ctx, rc, plan, stream)
	}
	if completedCount(plan) == 0 {
		err := models.Errorf(models.ErrInternal, "all plan steps failed")
		o.countRequest("failed")
		stream.Error(ctx, models.ErrInternal, joinErrors(failedSteps(plan)))
		return err
	}
	return o.synthesize(ctx, rc, bb, plan, stream)
}

// dispatchWave runs the runnable steps concurrently up to the parallelism
// cap. It returns the id of a step parked on human approval, or "".
func (o *Orchestrator) dispatchWave(ctx context.Context, bb *blackboard.Blackboard, wave []*models.PlanStep) string {
	tc := observability.TraceFromContext(ctx)
	sem := make(chan struct{}, o.cfg.MaxStepParallelism)
	var wg sync.WaitGroup
	var mu sync.Mutex
	parked := ""

	for _, step := range wave {
		wg.Add(1)
		go func(step *models.PlanStep) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				step.Status = models.StepFailed
				step.Error = "cancelled"
				return
			}
			if ctx.Err() != nil {
				step.Status = models.StepFailed
				step.Error = "cancelled"
				return
			}

			start := time.Now()
			step.Status = models.StepRunning
			step.StartedAt = &start

			agent, ok := o.agents[step.SubAgent]
			if !ok {
				o.finishStep(step, models.StepFailed, "", fmt.Sprintf("unknown sub-agent %q", step.SubAgent))
				return
			}

			var span string
			if tc != nil {
				span = tc.StartSpan(ctx, "step:"+step.ID, map[string]any{"sub_agent": string(step.SubAgent)})
			}

			stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
			result, err := agent.Execute(stepCtx, bb, step, "")
			cancel()

			switch {
			case err != nil && stepCtx.Err() == context.DeadlineExceeded:
				o.finishStep(step, models.StepFailed, "", "step timed out")
			case err != nil:
				o.finishStep(step, models.StepFailed, "", err.Error())
			case result.AwaitingApproval:
				// Parked: stays running until the human responds.
				mu.Lock()
				if parked == "" {
					parked = step.ID
				}
				mu.Unlock()
			case result.Success:
				o.finishStep(step, models.StepCompleted, result.Output, "")
				bb.Set("step."+step.ID, result.Output, string(step.SubAgent))
			default:
				o.finishStep(step, models.StepFailed, "", result.Error)
			}

			if tc != nil {
				var spanErr error
				if step.Status == models.StepFailed {
					spanErr = fmt.Errorf("%s", step.Error)
				}
				tc.EndSpan(ctx, span, spanErr)
			}
			if o.metrics != nil && step.Status.Terminal() {
				o.metrics.StepCounter.WithLabelValues(string(step.SubAgent), string(step.Status)).Inc()
				o.metrics.StepDuration.WithLabelValues(string(step.SubAgent)).Observe(time.Since(start).Seconds())
			}
		}(step)
	}
	wg.Wait()
	return parked
}

func (o *Orchestrator) finishStep(step *models.PlanStep, status models.StepStatus, result, errMsg string) {
	now := time.Now()
	step.Status = status
	step.Result = result
	step.Error = errMsg
	step.CompletedAt = &now
}

// suspend persists the request for later resumption and surfaces every
// unresolved interaction. The worker returns; no compute is held while the
// human decides.
func (o *Orchestrator) suspend(ctx context.Context, rc *models.RequestContext, bb *blackboard.Blackboard, plan *models.ExecutionPlan, stream Stream, parkedStepID string, replans int) error {
	for _, in := range bb.PendingInteractions() {
		if in.Timeout <= 0 {
			in.Timeout = o.cfg.HILTimeout
		}
		if err := stream.UIInteraction(ctx, in); err != nil {
			o.logger.Warn(ctx, "failed to surface interaction", "interaction_id", in.ID, "error", err)
		}
	}

	snapshot, err := bb.Snapshot()
	if err != nil {
		stream.Error(ctx, models.ErrInternal, "failed to persist request state")
		return err
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		stream.Error(ctx, models.ErrInternal, "failed to persist request state")
		return err
	}

	session, err := o.store.GetOrCreate(ctx, rc.SessionID, rc.User.ID, "conductor", o.cfg.SessionTTL)
	if err != nil {
		stream.Error(ctx, models.KindOf(err), "failed to persist request state")
		return err
	}
	state := map[string]any{
		"blackboard":  string(snapshot),
		"plan":        string(planJSON),
		"parked_step": parkedStepID,
		"replans":     replans,
	}
	if _, err := o.store.CreateCheckpoint(ctx, session.ID, checkpointThread, state, latestCheckpointID(ctx, o.store, session.ID), map[string]any{"phase": string(StateAwaitingHIL)}); err != nil {
		stream.Error(ctx, models.KindOf(err), "failed to persist request state")
		return err
	}
	session.State = map[string]any{"phase": string(StateAwaitingHIL)}
	if err := o.store.Save(ctx, session); err != nil {
		o.logger.Warn(ctx, "failed to update session phase", "error", err)
	}

	if tc := observability.TraceFromContext(ctx); tc != nil {
		tc.LogDecision(ctx, "hil_suspend", map[string]any{"step": parkedStepID})
	}
	o.countRequest("suspended")
	o.logger.Info(ctx, "request suspended for human input",
		"session_id", rc.SessionID, "step", parkedStepID)
	return nil
}

// rehydrate restores the blackboard and plan from the latest checkpoint.
func (o *Orchestrator) rehydrate(ctx context.Context, sessionID string) (*blackboard.Blackboard, *models.ExecutionPlan, string, int, error) {
	cp, err := o.store.GetLatestCheckpoint(ctx, sessionID, checkpointThread)
	if err != nil {
		return nil, nil, "", 0, err
	}
	if cp == nil {
		return nil, nil, "", 0, models.Errorf(models.ErrNotFound, "no suspended request for session %s", sessionID)
	}

	bbJSON, _ := cp.State["blackboard"].(string)
	planJSON, _ := cp.State["plan"].(string)
	parkedStep, _ := cp.State["parked_step"].(string)
	replans := 0
	switch v := cp.State["replans"].(type) {
	case int:
		replans = v
	case float64:
		replans = int(v)
	}

	bb := blackboard.New()
	if err := bb.Restore([]byte(bbJSON)); err != nil {
		return nil, nil, "", 0, models.Errorf(models.ErrInternal, "corrupt blackboard checkpoint: %v", err)
	}
	var plan models.ExecutionPlan
	if err := json.Unmarshal([]byte(planJSON), &plan); err != nil {
		return nil, nil, "", 0, models.Errorf(models.ErrInternal, "corrupt plan checkpoint: %v", err)
	}
	return bb, &plan, parkedStep, replans, nil
}

// synthesize streams the final answer, emits suggestions, and completes the
// request.
func (o *Orchestrator) synthesize(ctx context.Context, rc *models.RequestContext, bb *blackboard.Blackboard, plan *models.ExecutionPlan, stream Stream) error {
	tc := observability.TraceFromContext(ctx)
	var span string
	if tc != nil {
		span = tc.StartSpan(ctx, "synthesize", nil)
	}

	step := pendingSynthesizerStep(plan)
	synthetic := step == nil
	if synthetic {
		step = &models.PlanStep{
			ID:          "synthesis",
			Description: "Compose the final answer",
			SubAgent:    models.SubAgentSynthesizer,
			Instruction: plan.Query,
			Status:      models.StepPending,
		}
	}
	now := time.Now()
	step.Status = models.StepRunning
	step.StartedAt = &now

	chunks, err := o.synthesizer.Stream(ctx, bb, step, "")
	if err != nil {
		o.finishStep(step, models.StepFailed, "", err.Error())
		o.countRequest("failed")
		stream.Error(ctx, models.KindOf(err), "synthesis failed: "+err.Error())
		if tc != nil {
			tc.EndSpan(ctx, span, err)
		}
		return err
	}

	var final strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			o.finishStep(step, models.StepFailed, "", chunk.Error.Error())
			o.countRequest("failed")
			stream.Error(ctx, models.KindOf(chunk.Error), "synthesis failed: "+chunk.Error.Error())
			if tc != nil {
				tc.EndSpan(ctx, span, chunk.Error)
			}
			return chunk.Error
		}
		if chunk.Text != "" {
			final.WriteString(chunk.Text)
			if err := stream.Markdown(ctx, chunk.Text); err != nil {
				o.logger.Warn(ctx, "markdown frame dropped", "error", err)
			}
		}
	}

	o.finishStep(step, models.StepCompleted, final.String(), "")
	plan.FinalResult = final.String()
	if !synthetic {
		bb.Set("step."+step.ID, final.String(), string(models.SubAgentSynthesizer))
	}
	if suggestions := o.synthesizer.GenerateSuggestions(ctx, plan.Query, plan.FinalResult, 3); len(suggestions) > 0 {
		if err := stream.Suggestions(ctx, suggestions); err != nil {
			o.logger.Warn(ctx, "suggestions frame dropped", "error", err)
		}
	}
	o.emitProgress(ctx, stream, StatusSynthesisComplete)

	o.recordCompletion(ctx, rc, plan)
	o.countRequest("complete")
	if tc != nil {
		tc.EndSpan(ctx, span, nil)
	}
	return nil
}

func (o *Orchestrator) cancelled(ctx context.Context, rc *models.RequestContext, plan *models.ExecutionPlan, stream Stream) error {
	plan.Cancelled = true
	o.countRequest("cancelled")
	o.logger.Info(context.WithoutCancel(ctx), "request cancelled", "session_id", rc.SessionID)
	// Best effort; the channel is usually gone already.
	stream.Error(context.WithoutCancel(ctx), models.ErrCancelled, "request cancelled")
	return models.NewError(models.ErrCancelled, ctx.Err())
}

// recordAdmission persists the user turn; store failures never block the
// request.
func (o *Orchestrator) recordAdmission(ctx context.Context, rc *models.RequestContext, query string) {
	session, err := o.store.GetOrCreate(ctx, rc.SessionID, rc.User.ID, "conductor", o.cfg.SessionTTL)
	if err != nil {
		o.logger.Warn(ctx, "session admission failed", "error", err)
		return
	}
	if _, err := o.store.AddMessage(ctx, session.ID, &models.Message{Role: models.RoleUser, Content: query}); err != nil {
		o.logger.Warn(ctx, "failed to record user message", "error", err)
	}
}

func (o *Orchestrator) recordCompletion(ctx context.Context, rc *models.RequestContext, plan *models.ExecutionPlan) {
	session, err := o.store.Get(ctx, rc.SessionID)
	if err != nil {
		return
	}
	if _, err := o.store.AddMessage(ctx, session.ID, &models.Message{Role: models.RoleAssistant, Content: plan.FinalResult}); err != nil {
		o.logger.Warn(ctx, "failed to record assistant message", "error", err)
	}
	session.State = map[string]any{"phase": string(StateComplete)}
	if err := o.store.Save(ctx, session); err != nil {
		o.logger.Warn(ctx, "failed to update session phase", "error", err)
	}
}

func (o *Orchestrator) emitProgress(ctx context.Context, stream Stream, status string) {
	if err := stream.Progress(ctx, status); err != nil {
		o.logger.Warn(ctx, "progress frame dropped", "status", status, "error", err)
	}
}

func (o *Orchestrator) countRequest(status string) {
	if o.metrics != nil {
		o.metrics.RequestCounter.WithLabelValues(status).Inc()
	}
}

// runnableSteps returns pending steps whose dependencies all completed.
// Synthesizer steps are held back for the synthesis phase.
func runnableSteps(plan *models.ExecutionPlan) []*models.PlanStep {
	var out []*models.PlanStep
	for _, step := range plan.Steps {
		if step.Status != models.StepPending || step.SubAgent == models.SubAgentSynthesizer {
			continue
		}
		ready := true
		for _, dep := range step.DependsOn {
			if d := plan.Step(dep); d == nil || d.Status != models.StepCompleted {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, step)
		}
	}
	return out
}

// propagateSkips marks pending steps unreachable through failed or skipped
// dependencies. Synthesizer steps are exempt; synthesis runs on whatever
// succeeded.
func propagateSkips(plan *models.ExecutionPlan) {
	for changed := true; changed; {
		changed = false
		for _, step := range plan.Steps {
			if step.Status != models.StepPending || step.SubAgent == models.SubAgentSynthesizer {
				continue
			}
			for _, dep := range step.DependsOn {
				d := plan.Step(dep)
				if d != nil && (d.Status == models.StepFailed || d.Status == models.StepSkipped) {
					now := time.Now()
					step.Status = models.StepSkipped
					step.Error = "dependency " + dep + " did not complete"
					step.CompletedAt = &now
					changed = true
					break
				}
			}
		}
	}
}

func failedSteps(plan *models.ExecutionPlan) []*models.PlanStep {
	var out []*models.PlanStep
	for _, step := range plan.Steps {
		if step.Status == models.StepFailed {
			out = append(out, step)
		}
	}
	return out
}

func completedCount(plan *models.ExecutionPlan) int {
	n := 0
	for _, step := range plan.Steps {
		if step.Status == models.StepCompleted {
			n++
		}
	}
	return n
}

func pendingSynthesizerStep(plan *models.ExecutionPlan) *models.PlanStep {
	for _, step := range plan.Steps {
		if step.SubAgent == models.SubAgentSynthesizer && !step.Status.Terminal() {
			return step
		}
	}
	return nil
}

func joinErrors(steps []*models.PlanStep) string {
	var parts []string
	for _, step := range steps {
		parts = append(parts, fmt.Sprintf("%s: %s", step.ID, step.Error))
	}
	return strings.Join(parts, "; ")
}

func latestCheckpointID(ctx context.Context, store sessions.Store, sessionID string) string {
	cp, err := store.GetLatestCheckpoint(ctx, sessionID, checkpointThread)
	if err != nil || cp == nil {
		return ""
	}
	return cp.CheckpointID
}

// failPendingApprovals resolves interactions orphaned by a terminal parked
// step and fails their sentinel results, so no awaiting_approval entry
// outlives the step that created it.
func failPendingApprovals(bb *blackboard.Blackboard, reason string) {
	for _, in := range bb.PendingInteractions() {
		bb.ResolveInteraction(in.ID, map[string]any{"cancelled": true})
	}
	for _, r := range bb.ToolResults() {
		if r.AwaitingApproval() {
			bb.ReplaceToolResult(&models.ToolResult{
				CallID:        r.CallID,
				ToolName:      r.ToolName,
				InteractionID: r.InteractionID,
				Error:         string(models.ErrCancelled) + ": " + reason,
				Timestamp:     time.Now(),
			})
		}
	}
}

// renderToolOutcome flattens an approved tool result into step output text.
func renderToolOutcome(result *models.ToolResult) string {
	value := result.Result
	if result.CompactResult != nil {
		value = result.CompactResult
	}
	data, err := json.Marshal(map[string]any{
		"tool":    result.ToolName,
		"success": result.Success,
		"result":  value,
	})
	if err != nil {
		return fmt.Sprintf("%s: %v", result.ToolName, value)
	}
	return string(data)
}
