package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/conductorhq/conductor/pkg/models"
)

// PostgresStore implements Store on Postgres.
type PostgresStore struct {
	db          *sql.DB
	maxMessages int

	stmtGetSession       *sql.Stmt
	stmtUpsertSession    *sql.Stmt
	stmtDeleteSession    *sql.Stmt
	stmtCountMessages    *sql.Stmt
	stmtInsertMessage    *sql.Stmt
	stmtInsertCheckpoint *sql.Stmt
	stmtLatestCheckpoint *sql.Stmt
}

// PostgresConfig holds connection settings.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration

	// MaxMessagesPerSession bounds each transcript. Default 1000.
	MaxMessagesPerSession int
}

// Schema is the session store DDL, applied by deployment tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	agent_type  TEXT NOT NULL DEFAULT '',
	state       JSONB,
	blackboard  JSONB,
	created     TIMESTAMPTZ NOT NULL,
	updated     TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions (user_id, updated DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions (expires_at) WHERE expires_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL DEFAULT '',
	name         TEXT,
	tool_call_id TEXT,
	tool_calls   JSONB,
	metadata     JSONB,
	created      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, created);

CREATE TABLE IF NOT EXISTS checkpoints (
	id                   TEXT PRIMARY KEY,
	session_id           TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	thread_id            TEXT NOT NULL,
	checkpoint_id        TEXT NOT NULL,
	parent_checkpoint_id TEXT,
	state                JSONB NOT NULL,
	metadata             JSONB,
	created              TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_thread ON checkpoints (session_id, thread_id, created DESC);
`

// NewPostgresStore opens the database and prepares statements.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, models.Errorf(models.ErrValidation, "postgres dsn is required")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.MaxMessagesPerSession <= 0 {
		cfg.MaxMessagesPerSession = 1000
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PostgresStore{db: db, maxMessages: cfg.MaxMessagesPerSession}
	if err := store.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// newPostgresStoreWithDB wires a store over an existing connection. Tests
// use this with sqlmock.
func newPostgresStoreWithDB(db *sql.DB, maxMessages int) (*PostgresStore, error) {
	if maxMessages <= 0 {
		maxMessages = 1000
	}
	store := &PostgresStore{db: db, maxMessages: maxMessages}
	if err := store.prepare(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) prepare() error {
	var err error
	s.stmtGetSession, err = s.db.Prepare(`
		SELECT id, user_id, agent_type, state, blackboard, created, updated, expires_at
		FROM sessions WHERE id = $1`)
	if err != nil {
		return fmt.Errorf("prepare get session: %w", err)
	}
	s.stmtUpsertSession, err = s.db.Prepare(`
		INSERT INTO sessions (id, user_id, agent_type, state, blackboard, created, updated, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			blackboard = EXCLUDED.blackboard,
			updated = EXCLUDED.updated,
			expires_at = EXCLUDED.expires_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert session: %w", err)
	}
	s.stmtDeleteSession, err = s.db.Prepare(`DELETE FROM sessions WHERE id = $1`)
	if err != nil {
		return fmt.Errorf("prepare delete session: %w", err)
	}
	s.stmtCountMessages, err = s.db.Prepare(`SELECT COUNT(*) FROM messages WHERE session_id = $1`)
	if err != nil {
		return fmt.Errorf("prepare count messages: %w", err)
	}
	s.stmtInsertMessage, err = s.db.Prepare(`
		INSERT INTO messages (id, session_id, role, content, name, tool_call_id, tool_calls, metadata, created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return fmt.Errorf("prepare insert message: %w", err)
	}
	s.stmtInsertCheckpoint, err = s.db.Prepare(`
		INSERT INTO checkpoints (id, session_id, thread_id, checkpoint_id, parent_checkpoint_id, state, metadata, created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return fmt.Errorf("prepare insert checkpoint: %w", err)
	}
	s.stmtLatestCheckpoint, err = s.db.Prepare(`
		SELECT id, session_id, thread_id, checkpoint_id, parent_checkpoint_id, state, metadata, created
		FROM checkpoints WHERE session_id = $1 AND thread_id = $2
		ORDER BY created DESC LIMIT 1`)
	if err != nil {
		return fmt.Errorf("prepare latest checkpoint: %w", err)
	}
	return nil
}

// Get returns a session by id.
func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	row := s.stmtGetSession.QueryRowContext(ctx, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Errorf(models.ErrNotFound, "session %s not found", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// GetOrCreate returns the existing session or inserts a fresh one.
func (s *PostgresStore) GetOrCreate(ctx context.Context, sessionID, userID, agentType string, ttl time.Duration) (*models.Session, error) {
	if sessionID != "" {
		session, err := s.Get(ctx, sessionID)
		if err == nil {
			return session, nil
		}
		if models.KindOf(err) != models.ErrNotFound {
			return nil, err
		}
	} else {
		sessionID = uuid.NewString()
	}

	now := time.Now()
	session := &models.Session{
		ID:        sessionID,
		UserID:    userID,
		AgentType: agentType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		session.ExpiresAt = &expires
	}
	if err := s.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Save upserts a session.
func (s *PostgresStore) Save(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return models.Errorf(models.ErrValidation, "session requires an id")
	}
	state, err := marshalJSON(session.State)
	if err != nil {
		return err
	}
	bb, err := marshalJSON(session.BlackboardData)
	if err != nil {
		return err
	}
	created := session.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	session.UpdatedAt = time.Now()
	_, err = s.stmtUpsertSession.ExecContext(ctx,
		session.ID, session.UserID, session.AgentType, state, bb,
		created, session.UpdatedAt, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// AddMessage appends to the transcript, enforcing the per-session cap.
func (s *PostgresStore) AddMessage(ctx context.Context, sessionID string, msg *models.Message) (string, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return "", err
	}
	var count int
	if err := s.stmtCountMessages.QueryRowContext(ctx, sessionID).Scan(&count); err != nil {
		return "", fmt.Errorf("count messages: %w", err)
	}
	if count >= s.maxMessages {
		return "", models.Errorf(models.ErrValidation, "session %s reached the message limit of %d", sessionID, s.maxMessages)
	}

	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	toolCalls, err := marshalJSON(msg.ToolCalls)
	if err != nil {
		return "", err
	}
	metadata, err := marshalJSON(msg.Metadata)
	if err != nil {
		return "", err
	}
	_, err = s.stmtInsertMessage.ExecContext(ctx,
		id, sessionID, string(msg.Role), msg.Content,
		nullable(msg.Name), nullable(msg.ToolCallID), toolCalls, metadata, created)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

// GetMessages returns messages ascending; a positive limit keeps the most
// recent limit entries.
func (s *PostgresStore) GetMessages(ctx context.Context, sessionID string, limit int, since time.Time) ([]*models.Message, error) {
	query := `
		SELECT id, session_id, role, content, name, tool_call_id, tool_calls, metadata, created
		FROM messages WHERE session_id = $1`
	args := []any{sessionID}
	if !since.IsZero() {
		query += ` AND created > $2`
		args = append(args, since)
	}
	query += ` ORDER BY created DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	// Fetched newest-first for the LIMIT; callers get ascending order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Delete removes a session; messages and checkpoints cascade.
func (s *PostgresStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.stmtDeleteSession.ExecContext(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return n > 0, nil
}

// CleanupExpired deletes sessions past their TTL.
func (s *PostgresStore) CleanupExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at < $1`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup expired: %w", err)
	}
	return int(n), nil
}

// CreateCheckpoint appends a resumption checkpoint.
func (s *PostgresStore) CreateCheckpoint(ctx context.Context, sessionID, threadID string, state map[string]any, parentID string, metadata map[string]any) (*models.Checkpoint, error) {
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
	stateJSON, err := marshalJSON(state)
	if err != nil {
		return nil, err
	}
	metaJSON, err := marshalJSON(metadata)
	if err != nil {
		return nil, err
	}
	_, err = s.stmtInsertCheckpoint.ExecContext(ctx,
		cp.ID, cp.SessionID, cp.ThreadID, cp.CheckpointID,
		nullable(cp.ParentCheckpointID), stateJSON, metaJSON, cp.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert checkpoint: %w", err)
	}
	return cp, nil
}

// GetLatestCheckpoint returns the newest checkpoint for (session, thread).
func (s *PostgresStore) GetLatestCheckpoint(ctx context.Context, sessionID, threadID string) (*models.Checkpoint, error) {
	row := s.stmtLatestCheckpoint.QueryRowContext(ctx, sessionID, threadID)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	return cp, nil
}

// ListSessions returns sessions most recently updated first.
func (s *PostgresStore) ListSessions(ctx context.Context, userID, agentType string, limit int) ([]*models.Session, error) {
	query := `
		SELECT id, user_id, agent_type, state, blackboard, created, updated, expires_at
		FROM sessions WHERE 1=1`
	var args []any
	if userID != "" {
		args = append(args, userID)
		query += fmt.Sprintf(` AND user_id = $%d`, len(args))
	}
	if agentType != "" {
		args = append(args, agentType)
		query += fmt.Sprintf(` AND agent_type = $%d`, len(args))
	}
	query += ` ORDER BY updated DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Close releases prepared statements and the pool.
func (s *PostgresStore) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmtGetSession, s.stmtUpsertSession, s.stmtDeleteSession,
		s.stmtCountMessages, s.stmtInsertMessage,
		s.stmtInsertCheckpoint, s.stmtLatestCheckpoint,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*models.Session, error) {
	var (
		session   models.Session
		state     []byte
		bb        []byte
		expiresAt sql.NullTime
	)
	err := row.Scan(&session.ID, &session.UserID, &session.AgentType,
		&state, &bb, &session.CreatedAt, &session.UpdatedAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		session.ExpiresAt = &expiresAt.Time
	}
	if err := unmarshalJSON(state, &session.State); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(bb, &session.BlackboardData); err != nil {
		return nil, err
	}
	return &session, nil
}

func scanMessage(row scanner) (*models.Message, error) {
	var (
		msg        models.Message
		role       string
		name       sql.NullString
		toolCallID sql.NullString
		toolCalls  []byte
		metadata   []byte
	)
	err := row.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content,
		&name, &toolCallID, &toolCalls, &metadata, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	msg.Role = models.Role(role)
	msg.Name = name.String
	msg.ToolCallID = toolCallID.String
	if err := unmarshalJSON(toolCalls, &msg.ToolCalls); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &msg.Metadata); err != nil {
		return nil, err
	}
	return &msg, nil
}

func scanCheckpoint(row scanner) (*models.Checkpoint, error) {
	var (
		cp       models.Checkpoint
		parent   sql.NullString
		state    []byte
		metadata []byte
	)
	err := row.Scan(&cp.ID, &cp.SessionID, &cp.ThreadID, &cp.CheckpointID,
		&parent, &state, &metadata, &cp.CreatedAt)
	if err != nil {
		return nil, err
	}
	cp.ParentCheckpointID = parent.String
	if err := unmarshalJSON(state, &cp.State); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &cp.Metadata); err != nil {
		return nil, err
	}
	return &cp, nil
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return data, nil
}

func unmarshalJSON(data []byte, dest any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal json column: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
