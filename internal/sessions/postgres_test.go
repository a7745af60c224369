package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/conductorhq/conductor/pkg/models"
)

func newMockStore(t *testing.T, maxMessages int) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock.ExpectPrepare(`SELECT id, user_id, agent_type`)
	mock.ExpectPrepare(`INSERT INTO sessions`)
	mock.ExpectPrepare(`DELETE FROM sessions WHERE id`)
	mock.ExpectPrepare(`SELECT COUNT\(\*\) FROM messages`)
	mock.ExpectPrepare(`INSERT INTO messages`)
	mock.ExpectPrepare(`INSERT INTO checkpoints`)
	mock.ExpectPrepare(`SELECT id, session_id, thread_id`)

	store, err := newPostgresStoreWithDB(db, maxMessages)
	if err != nil {
		t.Fatalf("newPostgresStoreWithDB: %v", err)
	}
	return store, mock
}

func sessionRows(id, userID string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "user_id", "agent_type", "state", "blackboard", "created", "updated", "expires_at",
	}).AddRow(id, userID, "conductor", []byte(`{"phase":"idle"}`), nil, now, now, nil)
}

func TestPostgresGet(t *testing.T) {
	store, mock := newMockStore(t, 0)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT id, user_id, agent_type`).
		WithArgs("s1").
		WillReturnRows(sessionRows("s1", "u1"))

	session, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if session.ID != "s1" || session.UserID != "u1" {
		t.Errorf("session = %+v", session)
	}
	if session.State["phase"] != "idle" {
		t.Errorf("state = %v", session.State)
	}

	mock.ExpectQuery(`SELECT id, user_id, agent_type`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "agent_type", "state", "blackboard", "created", "updated", "expires_at",
		}))
	_, err = store.Get(ctx, "missing")
	if models.KindOf(err) != models.ErrNotFound {
		t.Errorf("missing session kind = %v", models.KindOf(err))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresSaveUpsert(t *testing.T) {
	store, mock := newMockStore(t, 0)

	mock.ExpectExec(`INSERT INTO sessions`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Save(context.Background(), &models.Session{
		ID:     "s1",
		UserID: "u1",
		State:  map[string]any{"phase": "planning"},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(context.Background(), &models.Session{}); models.KindOf(err) != models.ErrValidation {
		t.Errorf("empty id kind = %v", models.KindOf(err))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresAddMessageCap(t *testing.T) {
	store, mock := newMockStore(t, 2)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT id, user_id, agent_type`).
		WithArgs("s1").
		WillReturnRows(sessionRows("s1", "u1"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM messages`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	_, err := store.AddMessage(ctx, "s1", &models.Message{Role: models.RoleUser, Content: "hi"})
	if models.KindOf(err) != models.ErrValidation {
		t.Errorf("over-cap kind = %v, want VALIDATION_ERROR", models.KindOf(err))
	}

	mock.ExpectQuery(`SELECT id, user_id, agent_type`).
		WithArgs("s1").
		WillReturnRows(sessionRows("s1", "u1"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM messages`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(`INSERT INTO messages`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := store.AddMessage(ctx, "s1", &models.Message{Role: models.RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if id == "" {
		t.Error("no message id returned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresCleanupExpired(t *testing.T) {
	store, mock := newMockStore(t, 0)

	mock.ExpectExec(`DELETE FROM sessions WHERE expires_at`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.CleanupExpired(context.Background())
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 3 {
		t.Errorf("removed = %d, want 3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresCheckpoints(t *testing.T) {
	store, mock := newMockStore(t, 0)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO checkpoints`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	cp, err := store.CreateCheckpoint(ctx, "s1", "t1", map[string]any{"plan": "p"}, "", map[string]any{"step": "s2"})
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}
	if cp.SessionID != "s1" || cp.ThreadID != "t1" || cp.CheckpointID == "" {
		t.Errorf("checkpoint = %+v", cp)
	}

	mock.ExpectQuery(`SELECT id, session_id, thread_id`).
		WithArgs("s1", "t1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "session_id", "thread_id", "checkpoint_id", "parent_checkpoint_id", "state", "metadata", "created",
		}).AddRow(cp.ID, "s1", "t1", cp.CheckpointID, nil, []byte(`{"plan":"p"}`), []byte(`{"step":"s2"}`), time.Now()))

	latest, err := store.GetLatestCheckpoint(ctx, "s1", "t1")
	if err != nil {
		t.Fatalf("GetLatestCheckpoint: %v", err)
	}
	if latest == nil || latest.State["plan"] != "p" {
		t.Errorf("latest = %+v", latest)
	}

	mock.ExpectQuery(`SELECT id, session_id, thread_id`).
		WithArgs("s1", "t2").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "session_id", "thread_id", "checkpoint_id", "parent_checkpoint_id", "state", "metadata", "created",
		}))
	none, err := store.GetLatestCheckpoint(ctx, "s1", "t2")
	if err != nil {
		t.Fatalf("GetLatestCheckpoint empty: %v", err)
	}
	if none != nil {
		t.Error("expected nil for empty history")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresDelete(t *testing.T) {
	store, mock := newMockStore(t, 0)

	mock.ExpectExec(`DELETE FROM sessions WHERE id`).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := store.Delete(context.Background(), "s1")
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}

	mock.ExpectExec(`DELETE FROM sessions WHERE id`).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = store.Delete(context.Background(), "gone")
	if err != nil || ok {
		t.Errorf("Delete missing = %v, %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
