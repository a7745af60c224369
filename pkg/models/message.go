package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the unified conversation message format.
//
// Assistant messages may carry tool-call requests, in which case Content may
// be empty. Tool messages carry the string result bound to a call id.
type Message struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id,omitempty"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultStatus marks tool results that did not run to completion.
type ToolResultStatus string

const (
	// ToolStatusAwaitingApproval marks a gated call that was parked for
	// human confirmation instead of being executed.
	ToolStatusAwaitingApproval ToolResultStatus = "awaiting_approval"
)

// ToolResult represents the outcome of a single tool execution.
//
// Exactly one of Result or Error is set. A result whose Status is
// ToolStatusAwaitingApproval was never executed; InteractionID names the
// pending interaction that must be resolved before execution.
type ToolResult struct {
	CallID        string           `json:"call_id"`
	ToolName      string           `json:"tool_name"`
	Success       bool             `json:"success"`
	Result        any              `json:"result,omitempty"`
	CompactResult any              `json:"compact_result,omitempty"`
	Error         string           `json:"error,omitempty"`
	Status        ToolResultStatus `json:"status,omitempty"`
	InteractionID string           `json:"interaction_id,omitempty"`
	DurationMS    int64            `json:"duration_ms"`
	Timestamp     time.Time        `json:"ts"`
}

// AwaitingApproval reports whether the result is the HIL sentinel.
func (r ToolResult) AwaitingApproval() bool {
	return r.Status == ToolStatusAwaitingApproval
}

// User represents an authenticated caller.
type User struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Token       string   `json:"-"`
}

// HasPermission reports whether the user's permission set contains perm.
func (u User) HasPermission(perm string) bool {
	for _, p := range u.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Locale carries the caller's timezone and language.
type Locale struct {
	Timezone string `json:"timezone,omitempty"`
	Language string `json:"language,omitempty"`
}

// RequestContext is immutable for the life of a request. It is created at
// request admission and destroyed when the response stream ends.
type RequestContext struct {
	User      User   `json:"user"`
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	Locale    Locale `json:"locale"`
}
