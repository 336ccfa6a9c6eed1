package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func setupSessionTestDB(t *testing.T) (*SessionStore, *UserStore) {
	t.Helper()
	db := openTestDB(t)
	return NewSessionStore(db), NewUserStore(db)
}

func TestSessionCreate(t *testing.T) {
	ss, us := setupSessionTestDB(t)
	ctx := context.Background()

	if _, err := us.Upsert(ctx, "ph_1", "alice@example.com"); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	sess, err := ss.Create(ctx, "ph_1", "alice@example.com", 14*24*time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(sess.ID) != 48 { // 24 bytes hex-encoded
		t.Errorf("id length = %d, want 48", len(sess.ID))
	}

	got, err := ss.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.UserID != "ph_1" {
		t.Errorf("user_id = %q, want %q", got.UserID, "ph_1")
	}
	if got.Email != "alice@example.com" {
		t.Errorf("email = %q, want %q", got.Email, "alice@example.com")
	}
}

func TestSessionRequiresUser(t *testing.T) {
	ss, _ := setupSessionTestDB(t)

	if _, err := ss.Create(context.Background(), "ghost", "g@example.com", time.Hour); err == nil {
		t.Fatal("expected foreign key error for unknown user")
	}
}

func TestSessionGetNotFound(t *testing.T) {
	ss, _ := setupSessionTestDB(t)

	if _, err := ss.Get(context.Background(), "nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSessionExpiredIsPurgedOnRead(t *testing.T) {
	ss, us := setupSessionTestDB(t)
	ctx := context.Background()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ss.now = func() time.Time { return now }

	us.Upsert(ctx, "ph_1", "alice@example.com")
	sess, _ := ss.Create(ctx, "ph_1", "alice@example.com", time.Hour)

	now = now.Add(2 * time.Hour)
	if _, err := ss.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	var count int
	ss.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sess.ID).Scan(&count)
	if count != 0 {
		t.Errorf("expired session rows = %d, want 0", count)
	}
}

func TestSessionDelete(t *testing.T) {
	ss, us := setupSessionTestDB(t)
	ctx := context.Background()

	us.Upsert(ctx, "ph_1", "alice@example.com")
	sess, _ := ss.Create(ctx, "ph_1", "alice@example.com", time.Hour)

	if err := ss.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := ss.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSessionDeleteExpired(t *testing.T) {
	ss, us := setupSessionTestDB(t)
	ctx := context.Background()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ss.now = func() time.Time { return now }

	us.Upsert(ctx, "ph_1", "alice@example.com")
	ss.Create(ctx, "ph_1", "alice@example.com", time.Minute)
	ss.Create(ctx, "ph_1", "alice@example.com", time.Minute)
	live, _ := ss.Create(ctx, "ph_1", "alice@example.com", 24*time.Hour)

	now = now.Add(time.Hour)
	n, err := ss.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	if _, err := ss.Get(ctx, live.ID); err != nil {
		t.Errorf("live session: %v", err)
	}
}

func TestUserUpsertUpdatesEmail(t *testing.T) {
	_, us := setupSessionTestDB(t)
	ctx := context.Background()

	if _, err := us.Upsert(ctx, "ph_1", "old@example.com"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	u, err := us.Upsert(ctx, "ph_1", "new@example.com")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if u.Email != "new@example.com" {
		t.Errorf("email = %q, want %q", u.Email, "new@example.com")
	}

	if _, err := us.Get(ctx, "ph_2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
