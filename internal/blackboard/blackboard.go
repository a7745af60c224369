// Package blackboard implements the shared workspace sub-agents read and
// write during one orchestrated request: variables with write history, tool
// results, findings, pending human interactions, and the message transcript.
package blackboard

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conductorhq/conductor/pkg/models"
)

// Blackboard is scoped to a single request. All methods are safe for
// concurrent use by parallel plan steps.
type Blackboard struct {
	mu sync.RWMutex

	variables map[string]*models.VariableEntry
	history   []*models.VariableEntry

	toolResults map[string]*models.ToolResult
	toolOrder   []string

	findings []*models.Finding

	interactions map[string]*models.PendingInteraction

	messages []models.Message
}

// New creates an empty blackboard.
func New() *Blackboard {
	return &Blackboard{
		variables:    make(map[string]*models.VariableEntry),
		toolResults:  make(map[string]*models.ToolResult),
		interactions: make(map[string]*models.PendingInteraction),
	}
}

// Set writes a variable. Every write is appended to history; the current
// value is the latest write.
func (b *Blackboard) Set(key string, value any, source string) {
	entry := &models.VariableEntry{
		Key:       key,
		Value:     value,
		Source:    source,
		Timestamp: time.Now(),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.variables[key] = entry
	b.history = append(b.history, entry)
}

// Get returns the current value of a variable.
func (b *Blackboard) Get(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.variables[key]
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// Has reports whether a variable has been written.
func (b *Blackboard) Has(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.variables[key]
	return ok
}

// AllVariables returns a snapshot of current variable values.
func (b *Blackboard) AllVariables() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.variables))
	for k, entry := range b.variables {
		out[k] = entry.Value
	}
	return out
}

// VariableHistory returns every write to key, oldest first. An empty key
// returns the full write log across all variables.
func (b *Blackboard) VariableHistory(key string) []*models.VariableEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if key == "" {
		out := make([]*models.VariableEntry, len(b.history))
		copy(out, b.history)
		return out
	}
	var out []*models.VariableEntry
	for _, entry := range b.history {
		if entry.Key == key {
			out = append(out, entry)
		}
	}
	return out
}

// AddToolResult records a tool result. Each call id is recorded once; a
// duplicate write is rejected.
func (b *Blackboard) AddToolResult(result *models.ToolResult) error {
	if result == nil || result.CallID == "" {
		return models.Errorf(models.ErrValidation, "tool result requires a call id")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.toolResults[result.CallID]; exists {
		return models.Errorf(models.ErrValidation, "tool result for call %s already recorded", result.CallID)
	}
	b.toolResults[result.CallID] = result
	b.toolOrder = append(b.toolOrder, result.CallID)
	return nil
}

// ReplaceToolResult overwrites the result for a call id. Used when a parked
// call finally runs after approval.
func (b *Blackboard) ReplaceToolResult(result *models.ToolResult) error {
	if result == nil || result.CallID == "" {
		return models.Errorf(models.ErrValidation, "tool result requires a call id")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.toolResults[result.CallID]; !exists {
		b.toolOrder = append(b.toolOrder, result.CallID)
	}
	b.toolResults[result.CallID] = result
	return nil
}

// GetToolResult returns the result for a call id.
func (b *Blackboard) GetToolResult(callID string) (*models.ToolResult, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.toolResults[callID]
	return r, ok
}

// ToolResults returns all results in recording order.
func (b *Blackboard) ToolResults() []*models.ToolResult {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*models.ToolResult, 0, len(b.toolOrder))
	for _, id := range b.toolOrder {
		out = append(out, b.toolResults[id])
	}
	return out
}

// AddFinding records a finding from a sub-agent.
func (b *Blackboard) AddFinding(f *models.Finding) {
	if f == nil {
		return
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.findings = append(b.findings, f)
}

// Findings returns all findings in recording order.
func (b *Blackboard) Findings() []*models.Finding {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*models.Finding, len(b.findings))
	copy(out, b.findings)
	return out
}

// FindingsBySource returns findings recorded by one source.
func (b *Blackboard) FindingsBySource(source string) []*models.Finding {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*models.Finding
	for _, f := range b.findings {
		if f.Source == source {
			out = append(out, f)
		}
	}
	return out
}

// AddPendingInteraction registers a human-in-the-loop checkpoint.
func (b *Blackboard) AddPendingInteraction(in *models.PendingInteraction) {
	if in == nil || in.ID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interactions[in.ID] = in
}

// ResolveInteraction records a human response. Resolving an unknown or
// already-resolved interaction fails. A response arriving after the
// interaction's timeout resolves it as timed out and returns a TIMEOUT error;
// the late response is discarded.
func (b *Blackboard) ResolveInteraction(id string, response map[string]any) (*models.PendingInteraction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	in, ok := b.interactions[id]
	if !ok {
		return nil, models.Errorf(models.ErrNotFound, "interaction %s not found", id)
	}
	if in.Resolved() {
		return nil, models.Errorf(models.ErrValidation, "interaction %s is already resolved", id)
	}
	now := time.Now()
	if in.Expired(now) {
		in.Response = map[string]any{"timed_out": true}
		in.ResolvedAt = &now
		return nil, models.Errorf(models.ErrTimeout, "interaction %s expired after %s", id, in.Timeout)
	}
	in.Response = response
	in.ResolvedAt = &now
	return in, nil
}

// GetInteraction returns an interaction by id.
func (b *Blackboard) GetInteraction(id string) (*models.PendingInteraction, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	in, ok := b.interactions[id]
	return in, ok
}

// HasPendingInteractions reports whether any interaction is unresolved.
func (b *Blackboard) HasPendingInteractions() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, in := range b.interactions {
		if !in.Resolved() {
			return true
		}
	}
	return false
}

// PendingInteractions returns unresolved interactions, oldest first.
func (b *Blackboard) PendingInteractions() []*models.PendingInteraction {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*models.PendingInteraction
	for _, in := range b.interactions {
		if !in.Resolved() {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// AddMessage appends to the request transcript.
func (b *Blackboard) AddMessage(msg models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
}

// Messages returns the transcript.
func (b *Blackboard) Messages() []models.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// Token estimation for context assembly: roughly four characters per token.
const charsPerToken = 4

// Per-item character caps when assembling LLM context.
const (
	variableValueChars = 200
	findingChars       = 300
	toolResultChars    = 500

	contextFindings    = 10
	contextToolResults = 5
)

// ContextForLLM renders the blackboard as prompt text within a token budget:
// current variables, the most recent findings, and the most recent tool
// results (compact form when available). Output exceeding the budget is cut
// with a truncation marker.
func (b *Blackboard) ContextForLLM(maxTokens int) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var sb strings.Builder

	if len(b.variables) > 0 {
		sb.WriteString("## Variables\n")
		keys := make([]string, 0, len(b.variables))
		for k := range b.variables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", k, renderValue(b.variables[k].Value, variableValueChars)))
		}
	}

	if n := len(b.findings); n > 0 {
		sb.WriteString("\n## Findings\n")
		start := n - contextFindings
		if start < 0 {
			start = 0
		}
		for _, f := range b.findings[start:] {
			sb.WriteString(fmt.Sprintf("- [%s] %s\n", f.Source, truncate(f.Content, findingChars)))
		}
	}

	if n := len(b.toolOrder); n > 0 {
		sb.WriteString("\n## Tool Results\n")
		start := n - contextToolResults
		if start < 0 {
			start = 0
		}
		for _, id := range b.toolOrder[start:] {
			r := b.toolResults[id]
			switch {
			case r.AwaitingApproval():
				sb.WriteString(fmt.Sprintf("- %s: awaiting approval\n", r.ToolName))
			case r.Error != "":
				sb.WriteString(fmt.Sprintf("- %s: error: %s\n", r.ToolName, truncate(r.Error, toolResultChars)))
			default:
				value := r.Result
				if r.CompactResult != nil {
					value = r.CompactResult
				}
				sb.WriteString(fmt.Sprintf("- %s: %s\n", r.ToolName, renderValue(value, toolResultChars)))
			}
		}
	}

	out := sb.String()
	if maxTokens > 0 && len(out) > maxTokens*charsPerToken {
		out = out[:maxTokens*charsPerToken] + "\n[Context truncated]"
	}
	return out
}

// Summary renders a one-line account of blackboard contents for progress
// reporting.
func (b *Blackboard) Summary() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pending := 0
	for _, in := range b.interactions {
		if !in.Resolved() {
			pending++
		}
	}
	return fmt.Sprintf("%d variables, %d findings, %d tool results, %d pending interactions",
		len(b.variables), len(b.findings), len(b.toolOrder), pending)
}

// snapshot is the serialized form persisted into session checkpoints.
type snapshot struct {
	Variables    map[string]*models.VariableEntry      `json:"variables"`
	History      []*models.VariableEntry               `json:"history"`
	ToolResults  map[string]*models.ToolResult         `json:"tool_results"`
	ToolOrder    []string                              `json:"tool_order"`
	Findings     []*models.Finding                     `json:"findings"`
	Interactions map[string]*models.PendingInteraction `json:"interactions"`
	Messages     []models.Message                      `json:"messages"`
}

// Snapshot serializes the blackboard for checkpointing.
func (b *Blackboard) Snapshot() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return json.Marshal(snapshot{
		Variables:    b.variables,
		History:      b.history,
		ToolResults:  b.toolResults,
		ToolOrder:    b.toolOrder,
		Findings:     b.findings,
		Interactions: b.interactions,
		Messages:     b.messages,
	})
}

// Restore replaces the blackboard contents from a snapshot.
func (b *Blackboard) Restore(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return models.NewError(models.ErrValidation, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.variables = snap.Variables
	if b.variables == nil {
		b.variables = make(map[string]*models.VariableEntry)
	}
	b.history = snap.History
	b.toolResults = snap.ToolResults
	if b.toolResults == nil {
		b.toolResults = make(map[string]*models.ToolResult)
	}
	b.toolOrder = snap.ToolOrder
	b.findings = snap.Findings
	b.interactions = snap.Interactions
	if b.interactions == nil {
		b.interactions = make(map[string]*models.PendingInteraction)
	}
	b.messages = snap.Messages
	return nil
}

// renderValue formats a value for prompt text, bounded to maxChars.
func renderValue(v any, maxChars int) string {
	switch val := v.(type) {
	case string:
		return truncate(val, maxChars)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return truncate(fmt.Sprintf("%v", v), maxChars)
		}
		return truncate(string(data), maxChars)
	}
}

func truncate(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	return s[:maxChars] + "..."
}
