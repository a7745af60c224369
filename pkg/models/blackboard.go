package models

import "time"

// VariableEntry is one write to a blackboard variable. Variables are
// append-only to history; the current map holds the latest write per key.
type VariableEntry struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"ts"`
}

// Finding is a unit of evidence produced by a sub-agent.
type Finding struct {
	Source     string    `json:"source"`
	Content    string    `json:"content"`
	Evidence   string    `json:"evidence,omitempty"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"ts"`
}

// InteractionType classifies a pending human interaction.
type InteractionType string

const (
	InteractionConfirm InteractionType = "confirm"
	InteractionInput   InteractionType = "input"
	InteractionForm    InteractionType = "form"
)

// PendingInteraction is a human-in-the-loop checkpoint. It is unresolved
// while Response is nil.
type PendingInteraction struct {
	ID         string          `json:"id"`
	Type       InteractionType `json:"type"`
	Prompt     string          `json:"prompt"`
	Options    []string        `json:"options,omitempty"`
	FormSchema map[string]any  `json:"form_schema,omitempty"`
	Timeout    time.Duration   `json:"timeout"`
	CreatedAt  time.Time       `json:"created_at"`
	Response   map[string]any  `json:"response,omitempty"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// Resolved reports whether a response has been recorded.
func (p *PendingInteraction) Resolved() bool {
	return p.Response != nil
}

// Expired reports whether the response window closed before now. Interactions
// without a timeout never expire.
func (p *PendingInteraction) Expired(now time.Time) bool {
	return p.Timeout > 0 && !p.CreatedAt.IsZero() && now.After(p.CreatedAt.Add(p.Timeout))
}

// Approved reports whether the recorded response approves the gated action.
func (p *PendingInteraction) Approved() bool {
	if p.Response == nil {
		return false
	}
	if v, ok := p.Response["approved"].(bool); ok {
		return v
	}
	if v, ok := p.Response["confirm"].(string); ok {
		return v == "Approve" || v == "approve" || v == "yes"
	}
	return false
}
