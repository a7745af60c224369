package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conductorhq/conductor/pkg/models"
)

// MemoryStore is the in-process Store used in tests and the --mock harness.
// Semantics match the Postgres backend.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*models.Session
	messages    map[string][]*models.Message
	checkpoints map[string][]*models.Checkpoint // key: sessionID + "\x00" + threadID
	maxMessages int
}

// NewMemoryStore creates an empty store. maxMessages bounds each session's
// transcript; zero or negative applies the default of 1000.
func NewMemoryStore(maxMessages int) *MemoryStore {
	if maxMessages <= 0 {
		maxMessages = 1000
	}
	return &MemoryStore{
		sessions:    make(map[string]*models.Session),
		messages:    make(map[string][]*models.Message),
		checkpoints: make(map[string][]*models.Checkpoint),
		maxMessages: maxMessages,
	}
}

// Get returns a session by id.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, models.Errorf(models.ErrNotFound, "session %s not found", sessionID)
	}
	clone := *session
	return &clone, nil
}

// GetOrCreate returns the existing session or creates one.
func (s *MemoryStore) GetOrCreate(ctx context.Context, sessionID, userID, agentType string, ttl time.Duration) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[sessionID]; ok {
		clone := *session
		return &clone, nil
	}
	now := time.Now()
	session := &models.Session{
		ID:        sessionID,
		UserID:    userID,
		AgentType: agentType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		session.ExpiresAt = &expires
	}
	s.sessions[session.ID] = session
	clone := *session
	return &clone, nil
}

// Save upserts a session.
func (s *MemoryStore) Save(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return models.Errorf(models.ErrValidation, "session requires an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *session
	clone.UpdatedAt = time.Now()
	if existing, ok := s.sessions[session.ID]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = clone.UpdatedAt
	}
	s.sessions[session.ID] = &clone
	return nil
}

// AddMessage appends to the transcript, enforcing the per-session cap.
func (s *MemoryStore) AddMessage(ctx context.Context, sessionID string, msg *models.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return "", models.Errorf(models.ErrNotFound, "session %s not found", sessionID)
	}
	if len(s.messages[sessionID]) >= s.maxMessages {
		return "", models.Errorf(models.ErrValidation, "session %s reached the message limit of %d", sessionID, s.maxMessages)
	}
	clone := *msg
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.SessionID = sessionID
	s.messages[sessionID] = append(s.messages[sessionID], &clone)
	session.UpdatedAt = time.Now()
	return clone.ID, nil
}

// GetMessages returns messages ascending; a positive limit keeps the most
// recent limit entries.
func (s *MemoryStore) GetMessages(ctx context.Context, sessionID string, limit int, since time.Time) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, models.Errorf(models.ErrNotFound, "session %s not found", sessionID)
	}
	var out []*models.Message
	for _, msg := range s.messages[sessionID] {
		if !since.IsZero() && !msg.CreatedAt.After(since) {
			continue
		}
		out = append(out, msg)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Delete removes a session and its dependents.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return false, nil
	}
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	for key := range s.checkpoints {
		if len(key) > len(sessionID) && key[:len(sessionID)] == sessionID && key[len(sessionID)] == '\x00' {
			delete(s.checkpoints, key)
		}
	}
	return true, nil
}

// CleanupExpired removes sessions past their TTL.
func (s *MemoryStore) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, id)
			delete(s.messages, id)
			removed++
		}
	}
	return removed, nil
}

// CreateCheckpoint appends a checkpoint to the (session, thread) history.
func (s *MemoryStore) CreateCheckpoint(ctx context.Context, sessionID, threadID string, state map[string]any, parentID string, metadata map[string]any) (*models.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, models.Errorf(models.ErrNotFound, "session %s not found", sessionID)
	}
	cp := &models.Checkpoint{
		ID:                 uuid.NewString(),
		SessionID:          sessionID,
		ThreadID:           threadID,
		CheckpointID:       uuid.NewString(),
		ParentCheckpointID: parentID,
		State:              state,
		Metadata:           metadata,
		CreatedAt:          time.Now(),
	}
	key := sessionID + "\x00" + threadID
	s.checkpoints[key] = append(s.checkpoints[key], cp)
	clone := *cp
	return &clone, nil
}

// GetLatestCheckpoint returns the newest checkpoint for (session, thread).
func (s *MemoryStore) GetLatestCheckpoint(ctx context.Context, sessionID, threadID string) (*models.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.checkpoints[sessionID+"\x00"+threadID]
	if len(history) == 0 {
		return nil, nil
	}
	clone := *history[len(history)-1]
	return &clone, nil
}

// ListSessions returns sessions most recently updated first.
func (s *MemoryStore) ListSessions(ctx context.Context, userID, agentType string, limit int) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Session
	for _, session := range s.sessions {
		if userID != "" && session.UserID != userID {
			continue
		}
		if agentType != "" && session.AgentType != agentType {
			continue
		}
		clone := *session
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
