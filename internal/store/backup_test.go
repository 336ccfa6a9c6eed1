package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/fufnotes/internal/model"
)

func setupBackupTestDB(t *testing.T) *BackupStore {
	t.Helper()
	return NewBackupStore(openTestDB(t))
}

func TestBackupCreate(t *testing.T) {
	bs := setupBackupTestDB(t)
	ctx := context.Background()

	b, err := bs.Create(ctx, "fufnotes-20250101.db.enc", "backups/fufnotes-20250101.db.enc")
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if b.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if b.Filename != "fufnotes-20250101.db.enc" {
		t.Errorf("filename = %q, want %q", b.Filename, "fufnotes-20250101.db.enc")
	}
	if b.Status != model.BackupStatusPending {
		t.Errorf("status = %q, want %q", b.Status, model.BackupStatusPending)
	}
	if b.StartedAt == nil {
		t.Error("expected started_at to be set")
	}
}

func TestBackupUpdateStatus(t *testing.T) {
	bs := setupBackupTestDB(t)
	ctx := context.Background()

	b, _ := bs.Create(ctx, "test.db.enc", "backups/test.db.enc")

	if err := bs.UpdateStatus(ctx, b.ID, model.BackupStatusUploading, ""); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, _ := bs.Get(ctx, b.ID)
	if got.Status != model.BackupStatusUploading {
		t.Errorf("status = %q, want %q", got.Status, model.BackupStatusUploading)
	}

	if err := bs.UpdateStatus(ctx, b.ID, model.BackupStatusFailed, "upload failed"); err != nil {
		t.Fatalf("update status with error: %v", err)
	}
	got, _ = bs.Get(ctx, b.ID)
	if got.Status != model.BackupStatusFailed {
		t.Errorf("status = %q, want %q", got.Status, model.BackupStatusFailed)
	}
	if got.ErrorMessage != "upload failed" {
		t.Errorf("error_message = %q, want %q", got.ErrorMessage, "upload failed")
	}
}

func TestBackupUpdateCompleted(t *testing.T) {
	bs := setupBackupTestDB(t)
	ctx := context.Background()

	b, _ := bs.Create(ctx, "test.db.enc", "backups/test.db.enc")
	if err := bs.UpdateCompleted(ctx, b.ID, 1024*1024); err != nil {
		t.Fatalf("update completed: %v", err)
	}

	got, _ := bs.Get(ctx, b.ID)
	if got.Status != model.BackupStatusCompleted {
		t.Errorf("status = %q, want %q", got.Status, model.BackupStatusCompleted)
	}
	if got.SizeBytes != 1024*1024 {
		t.Errorf("size_bytes = %d, want %d", got.SizeBytes, 1024*1024)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestBackupGetNotFound(t *testing.T) {
	bs := setupBackupTestDB(t)

	if _, err := bs.Get(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBackupListOrderAndLimit(t *testing.T) {
	bs := setupBackupTestDB(t)
	ctx := context.Background()

	bs.Create(ctx, "first.db.enc", "backups/first.db.enc")
	time.Sleep(10 * time.Millisecond)
	bs.Create(ctx, "second.db.enc", "backups/second.db.enc")
	time.Sleep(10 * time.Millisecond)
	bs.Create(ctx, "third.db.enc", "backups/third.db.enc")

	all, err := bs.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Filename != "third.db.enc" {
		t.Errorf("first entry = %q, want %q", all[0].Filename, "third.db.enc")
	}

	limited, err := bs.List(ctx, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("len = %d, want 2", len(limited))
	}
}

func TestBackupDeleteOlderThan(t *testing.T) {
	bs := setupBackupTestDB(t)
	ctx := context.Background()

	bs.Create(ctx, "old.db.enc", "backups/old.db.enc")
	time.Sleep(50 * time.Millisecond)
	cutoff := time.Now().UTC()
	time.Sleep(50 * time.Millisecond)
	bs.Create(ctx, "new.db.enc", "backups/new.db.enc")

	keys, err := bs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("deleted keys = %d, want 1", len(keys))
	}
	if keys[0] != "backups/old.db.enc" {
		t.Errorf("deleted key = %q, want %q", keys[0], "backups/old.db.enc")
	}

	remaining, _ := bs.List(ctx, 10)
	if len(remaining) != 1 {
		t.Fatalf("remaining = %d, want 1", len(remaining))
	}
	if remaining[0].Filename != "new.db.enc" {
		t.Errorf("remaining = %q, want %q", remaining[0].Filename, "new.db.enc")
	}
}

func TestBackupLatestCompleted(t *testing.T) {
	bs := setupBackupTestDB(t)
	ctx := context.Background()

	if _, err := bs.LatestCompleted(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound on empty table", err)
	}

	b1, _ := bs.Create(ctx, "first.db.enc", "backups/first.db.enc")
	bs.UpdateCompleted(ctx, b1.ID, 100)
	time.Sleep(10 * time.Millisecond)
	b2, _ := bs.Create(ctx, "second.db.enc", "backups/second.db.enc")
	bs.UpdateCompleted(ctx, b2.ID, 200)

	b3, _ := bs.Create(ctx, "failed.db.enc", "backups/failed.db.enc")
	bs.UpdateStatus(ctx, b3.ID, model.BackupStatusFailed, "error")

	latest, err := bs.LatestCompleted(ctx)
	if err != nil {
		t.Fatalf("latest completed: %v", err)
	}
	if latest.Filename != "second.db.enc" {
		t.Errorf("filename = %q, want %q", latest.Filename, "second.db.enc")
	}
}
