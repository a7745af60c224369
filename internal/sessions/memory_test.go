package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/conductorhq/conductor/pkg/models"
)

func TestMemoryGetOrCreate(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	created, err := store.GetOrCreate(ctx, "s1", "u1", "conductor", time.Hour)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if created.ID != "s1" || created.UserID != "u1" {
		t.Errorf("session = %+v", created)
	}
	if created.ExpiresAt == nil {
		t.Error("ttl not applied")
	}

	again, err := store.GetOrCreate(ctx, "s1", "other", "other", 0)
	if err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	if again.UserID != "u1" {
		t.Error("existing session was replaced")
	}

	if _, err := store.Get(ctx, "missing"); models.KindOf(err) != models.ErrNotFound {
		t.Errorf("Get missing kind = %v", models.KindOf(err))
	}
}

func TestMemoryMessages(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()
	if _, err := store.GetOrCreate(ctx, "s1", "u1", "conductor", 0); err != nil {
		t.Fatal(err)
	}

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		_, err := store.AddMessage(ctx, "s1", &models.Message{
			Role:      models.RoleUser,
			Content:   string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AddMessage %d: %v", i, err)
		}
	}

	// Cap reached.
	_, err := store.AddMessage(ctx, "s1", &models.Message{Role: models.RoleUser, Content: "d"})
	if models.KindOf(err) != models.ErrValidation {
		t.Errorf("over-cap kind = %v, want VALIDATION_ERROR", models.KindOf(err))
	}

	// Unknown session.
	if _, err := store.AddMessage(ctx, "nope", &models.Message{}); models.KindOf(err) != models.ErrNotFound {
		t.Errorf("unknown session kind = %v", models.KindOf(err))
	}

	msgs, err := store.GetMessages(ctx, "s1", 0, time.Time{})
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 3 || msgs[0].Content != "a" || msgs[2].Content != "c" {
		t.Errorf("messages = %v", msgs)
	}

	recent, err := store.GetMessages(ctx, "s1", 2, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Content != "b" {
		t.Errorf("limited messages start at %q, want b", recent[0].Content)
	}

	since, err := store.GetMessages(ctx, "s1", 0, base.Add(500*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if len(since) != 2 {
		t.Errorf("since filter kept %d, want 2", len(since))
	}
}

func TestMemoryCleanupExpired(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	expired, _ := store.GetOrCreate(ctx, "old", "u1", "conductor", time.Millisecond)
	past := time.Now().Add(-time.Hour)
	expired.ExpiresAt = &past
	if err := store.Save(ctx, expired); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetOrCreate(ctx, "live", "u1", "conductor", time.Hour); err != nil {
		t.Fatal(err)
	}

	n, err := store.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
	if _, err := store.Get(ctx, "old"); models.KindOf(err) != models.ErrNotFound {
		t.Error("expired session survived cleanup")
	}
	if _, err := store.Get(ctx, "live"); err != nil {
		t.Error("live session was removed")
	}
}

func TestMemoryCheckpoints(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	if _, err := store.GetOrCreate(ctx, "s1", "u1", "conductor", 0); err != nil {
		t.Fatal(err)
	}

	if cp, err := store.GetLatestCheckpoint(ctx, "s1", "t1"); err != nil || cp != nil {
		t.Fatalf("empty history = %v, %v", cp, err)
	}

	first, err := store.CreateCheckpoint(ctx, "s1", "t1", map[string]any{"n": 1}, "", nil)
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}
	second, err := store.CreateCheckpoint(ctx, "s1", "t1", map[string]any{"n": 2}, first.CheckpointID, map[string]any{"step": "s2"})
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	latest, err := store.GetLatestCheckpoint(ctx, "s1", "t1")
	if err != nil {
		t.Fatalf("GetLatestCheckpoint: %v", err)
	}
	if latest.ID != second.ID {
		t.Error("latest checkpoint is not the newest")
	}
	if latest.ParentCheckpointID != first.CheckpointID {
		t.Error("checkpoint lineage broken")
	}

	// Other threads are independent.
	if cp, _ := store.GetLatestCheckpoint(ctx, "s1", "t2"); cp != nil {
		t.Error("checkpoint leaked across threads")
	}
}

func TestMemoryDeleteAndList(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "a", "u1", "conductor", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetOrCreate(ctx, "b", "u2", "conductor", 0); err != nil {
		t.Fatal(err)
	}

	all, err := store.ListSessions(ctx, "", "", 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("listed %d, want 2", len(all))
	}

	mine, err := store.ListSessions(ctx, "u1", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].ID != "a" {
		t.Errorf("filtered list = %v", mine)
	}

	ok, err := store.Delete(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	ok, err = store.Delete(ctx, "a")
	if err != nil || ok {
		t.Errorf("second Delete = %v, %v", ok, err)
	}
}
