package models

import "time"

// Session represents a persisted conversation thread together with the
// state needed to resume a suspended request.
type Session struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	AgentType      string         `json:"agent_type"`
	State          map[string]any `json:"state,omitempty"`
	BlackboardData map[string]any `json:"blackboard_data,omitempty"`
	CreatedAt      time.Time      `json:"created"`
	UpdatedAt      time.Time      `json:"updated"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
}

// Expired reports whether the session's TTL has elapsed at now.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && s.ExpiresAt.Before(now)
}

// Checkpoint is a persisted snapshot of session state enabling resumption.
// For each (session_id, thread_id) pair checkpoints form a linear history
// via ParentCheckpointID.
type Checkpoint struct {
	ID                 string         `json:"id"`
	SessionID          string         `json:"session_id"`
	ThreadID           string         `json:"thread_id"`
	CheckpointID       string         `json:"checkpoint_id"`
	ParentCheckpointID string         `json:"parent_checkpoint_id,omitempty"`
	State              map[string]any `json:"state"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created"`
}
