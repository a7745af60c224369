// Package sessions implements the durable session store: sessions, bounded
// message transcripts, and resumption checkpoints, with in-memory and
// Postgres backends sharing one contract.
package sessions

import (
	"context"
	"time"

	"github.com/conductorhq/conductor/internal/observability"
	"github.com/conductorhq/conductor/pkg/models"
)

// Store is the session persistence contract. Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns a session, or a NOT_FOUND error.
	Get(ctx context.Context, sessionID string) (*models.Session, error)

	// GetOrCreate returns the existing session or creates one with the given
	// TTL. A zero ttl disables expiry.
	GetOrCreate(ctx context.Context, sessionID, userID, agentType string, ttl time.Duration) (*models.Session, error)

	// Save upserts a session and bumps its updated timestamp.
	Save(ctx context.Context, session *models.Session) error

	// AddMessage appends to the session transcript and returns the message
	// id. Appends beyond the per-session message cap are rejected with a
	// VALIDATION_ERROR.
	AddMessage(ctx context.Context, sessionID string, msg *models.Message) (string, error)

	// GetMessages returns messages in ascending creation order. A positive
	// limit returns the most recent limit messages; a non-zero since filters
	// to messages created after it.
	GetMessages(ctx context.Context, sessionID string, limit int, since time.Time) ([]*models.Message, error)

	// Delete removes a session with its messages and checkpoints. Returns
	// whether the session existed.
	Delete(ctx context.Context, sessionID string) (bool, error)

	// CleanupExpired deletes sessions whose TTL elapsed and returns the count.
	CleanupExpired(ctx context.Context) (int, error)

	// CreateCheckpoint appends a resumption checkpoint for (session, thread).
	CreateCheckpoint(ctx context.Context, sessionID, threadID string, state map[string]any, parentID string, metadata map[string]any) (*models.Checkpoint, error)

	// GetLatestCheckpoint returns the newest checkpoint for (session, thread),
	// or nil when none exists.
	GetLatestCheckpoint(ctx context.Context, sessionID, threadID string) (*models.Checkpoint, error)

	// ListSessions returns sessions most recently updated first, optionally
	// filtered by user and agent type.
	ListSessions(ctx context.Context, userID, agentType string, limit int) ([]*models.Session, error)

	// Close releases backend resources.
	Close() error
}

// CleanupLoop purges expired sessions on the given interval until ctx is
// cancelled. Intended to run as a background goroutine from main.
func CleanupLoop(ctx context.Context, store Store, interval time.Duration, logger *observability.Logger) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.CleanupExpired(ctx)
			if err != nil {
				logger.Warn(ctx, "session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info(ctx, "expired sessions removed", "count", n)
			}
		}
	}
}
