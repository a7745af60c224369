package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conductorhq/conductor/internal/observability"
	"github.com/conductorhq/conductor/pkg/models"
)

// ExecConfig configures tool execution behavior.
type ExecConfig struct {
	// DefaultTimeout bounds tools that declare no timeout of their own.
	// Default: 30 seconds.
	DefaultTimeout time.Duration

	// Concurrency limits parallel executions in ExecuteMany. Default: 4.
	Concurrency int

	// ApprovalTimeout is stamped onto pending interactions. Default: 5 minutes.
	ApprovalTimeout time.Duration
}

// DefaultExecConfig returns the standard execution limits.
func DefaultExecConfig() ExecConfig {
	return ExecConfig{
		DefaultTimeout:  30 * time.Second,
		Concurrency:     4,
		ApprovalTimeout: 5 * time.Minute,
	}
}

// Executor runs tool calls against a registry, enforcing permissions,
// argument schemas, approval gating, and timeouts. Execution problems are
// reported inside the ToolResult so a failed tool never aborts the request.
type Executor struct {
	registry *Registry
	config   ExecConfig
	approval ApprovalPolicy
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewExecutor creates an executor. A nil approval policy uses the default
// safety rules; metrics may be nil.
func NewExecutor(registry *Registry, config ExecConfig, approval ApprovalPolicy, logger *observability.Logger, metrics *observability.Metrics) *Executor {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.ApprovalTimeout <= 0 {
		config.ApprovalTimeout = 5 * time.Minute
	}
	if approval == nil {
		approval = DefaultApprovalPolicy{}
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Executor{
		registry: registry,
		config:   config,
		approval: approval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Execute runs one tool call. When the call is gated on human approval the
// returned result is the awaiting_approval sentinel and the second return
// value describes the interaction to surface; the tool has not run.
func (e *Executor) Execute(ctx context.Context, rc *models.RequestContext, call models.ToolCall) (*models.ToolResult, *models.PendingInteraction) {
	reg, ok := e.registry.lookup(call.Name)
	if !ok {
		return e.errorResult(call, models.ErrNotFound, "tool not found: "+call.Name), nil
	}
	spec := reg.spec

	var user *models.User
	if rc != nil {
		user = &rc.User
	}
	if !allowed(user, spec.Permissions) {
		return e.errorResult(call, models.ErrPermissionDenied, "permission denied for tool "+call.Name), nil
	}

	if err := e.validateArgs(reg, call.Input); err != nil {
		return e.errorResult(call, models.ErrValidation, err.Error()), nil
	}

	if prompt, gated := e.approval.RequiresApproval(spec, call); gated {
		interaction := &models.PendingInteraction{
			ID:        uuid.NewString(),
			Type:      models.InteractionConfirm,
			Prompt:    prompt,
			Options:   []string{"Approve", "Reject"},
			Timeout:   e.config.ApprovalTimeout,
			CreatedAt: time.Now(),
		}
		e.count(call.Name, "awaiting_approval")
		e.logger.Info(ctx, "tool call parked for approval",
			"tool", call.Name, "call_id", call.ID, "interaction_id", interaction.ID)
		return &models.ToolResult{
			CallID:        call.ID,
			ToolName:      call.Name,
			Status:        models.ToolStatusAwaitingApproval,
			InteractionID: interaction.ID,
			Timestamp:     time.Now(),
		}, interaction
	}

	return e.run(ctx, spec, call), nil
}

// ExecuteMany runs calls concurrently up to the configured limit. Results
// are returned in input order; gated calls yield sentinel results and their
// interactions are collected in call order.
func (e *Executor) ExecuteMany(ctx context.Context, rc *models.RequestContext, calls []models.ToolCall) ([]*models.ToolResult, []*models.PendingInteraction) {
	results := make([]*models.ToolResult, len(calls))
	interactions := make([]*models.PendingInteraction, len(calls))

	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = e.errorResult(tc, models.ErrCancelled, "cancelled before execution")
				return
			}
			results[idx], interactions[idx] = e.Execute(ctx, rc, tc)
		}(i, call)
	}
	wg.Wait()

	pending := make([]*models.PendingInteraction, 0)
	for _, in := range interactions {
		if in != nil {
			pending = append(pending, in)
		}
	}
	return results, pending
}

// ExecuteApproved resumes a gated call after its interaction resolved. A
// rejection produces a failed result without running the tool.
func (e *Executor) ExecuteApproved(ctx context.Context, rc *models.RequestContext, call models.ToolCall, interaction *models.PendingInteraction) *models.ToolResult {
	if interaction == nil || !interaction.Resolved() {
		return e.errorResult(call, models.ErrValidation, "interaction is not resolved")
	}
	if !interaction.Approved() {
		e.count(call.Name, "rejected")
		return e.errorResult(call, models.ErrPermissionDenied, "user rejected "+call.Name)
	}

	reg, ok := e.registry.lookup(call.Name)
	if !ok {
		return e.errorResult(call, models.ErrNotFound, "tool not found: "+call.Name)
	}
	return e.run(ctx, reg.spec, call)
}

// run executes the tool handler under its timeout.
func (e *Executor) run(ctx context.Context, spec *Spec, call models.ToolCall) *models.ToolResult {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := map[string]any{}
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &args); err != nil {
			return e.errorResult(call, models.ErrValidation, "tool arguments are not a JSON object: "+err.Error())
		}
	}

	start := time.Now()
	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := spec.Handler(toolCtx, args)
		done <- outcome{value: value, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-toolCtx.Done():
		elapsed := time.Since(start)
		if toolCtx.Err() == context.DeadlineExceeded {
			e.count(call.Name, "error")
			e.observe(call.Name, elapsed)
			return e.errorResult(call, models.ErrTimeout,
				fmt.Sprintf("%s timed out after %s", call.Name, formatSeconds(timeout)))
		}
		e.count(call.Name, "error")
		return e.errorResult(call, models.ErrCancelled, "cancelled during execution")
	}
	elapsed := time.Since(start)
	e.observe(call.Name, elapsed)

	if out.err != nil {
		e.count(call.Name, "error")
		e.logger.Warn(ctx, "tool execution failed",
			"tool", call.Name, "call_id", call.ID, "error", out.err, "duration_ms", elapsed.Milliseconds())
		return &models.ToolResult{
			CallID:     call.ID,
			ToolName:   call.Name,
			Error:      out.err.Error(),
			DurationMS: elapsed.Milliseconds(),
			Timestamp:  time.Now(),
		}
	}

	result := &models.ToolResult{
		CallID:     call.ID,
		ToolName:   call.Name,
		Success:    true,
		Result:     out.value,
		DurationMS: elapsed.Milliseconds(),
		Timestamp:  time.Now(),
	}
	if spec.Compact != nil {
		result.CompactResult = spec.Compact(out.value)
	}
	e.count(call.Name, "success")
	return result
}

// validateArgs checks call input against the compiled schema, when present.
func (e *Executor) validateArgs(reg *registered, input json.RawMessage) error {
	if reg.schema == nil {
		return nil
	}
	var decoded any
	raw := input
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("tool arguments are not valid JSON: %w", err)
	}
	if err := reg.schema.Validate(decoded); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", reg.spec.Name, err)
	}
	return nil
}

func (e *Executor) errorResult(call models.ToolCall, kind models.ErrorKind, msg string) *models.ToolResult {
	return &models.ToolResult{
		CallID:    call.ID,
		ToolName:  call.Name,
		Error:     string(kind) + ": " + msg,
		Timestamp: time.Now(),
	}
}

func (e *Executor) count(tool, status string) {
	if e.metrics != nil {
		e.metrics.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	}
}

func (e *Executor) observe(tool string, elapsed time.Duration) {
	if e.metrics != nil {
		e.metrics.ToolExecutionDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
	}
}

// formatSeconds renders a duration as whole seconds, e.g. "30s".
func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.0fs", d.Seconds())
}
