package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/fufnotes/internal/database"
	"github.com/dukerupert/fufnotes/internal/model"
	"github.com/dukerupert/fufnotes/internal/store"
)

// mockS3Client keeps objects in memory.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	delErr  error
	deleted []string
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, *input.Key)
	if m.delErr != nil {
		return nil, m.delErr
	}
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

var enabledConfig = Config{
	S3:         S3Config{Bucket: "notes", AccessKey: "key", SecretKey: "secret", Region: "auto"},
	Prefix:     "fufnotes",
	Passphrase: "pass",
	Interval:   time.Hour,
	Retention:  24 * time.Hour,
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestManager wires an enabled manager to an in-memory database and a
// mock bucket.
func newTestManager(t *testing.T, cb StatusCallback) (*Manager, *mockS3Client, *sql.DB) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := NewManager(enabledConfig, db, store.NewBackupStore(db), cb, quietLogger())
	mock := newMockS3()
	m.client = mock
	return m, mock, db
}

func TestManagerDisabled(t *testing.T) {
	for _, cfg := range []Config{
		{},
		{S3: S3Config{Bucket: "b", AccessKey: "k", SecretKey: "s"}},
		{S3: S3Config{Bucket: "b", AccessKey: "k"}, Passphrase: "p"},
	} {
		m := NewManager(cfg, nil, nil, nil, quietLogger())
		if m.Status().State != StateDisabled {
			t.Errorf("%+v: state = %q, want %q", cfg, m.Status().State, StateDisabled)
		}
		if _, err := m.RunNow(context.Background()); !errors.Is(err, ErrDisabled) {
			t.Errorf("RunNow err = %v, want ErrDisabled", err)
		}
		if err := m.Run(context.Background()); err != nil {
			t.Errorf("Run on a disabled manager = %v, want nil", err)
		}
	}

	m := NewManager(enabledConfig, nil, nil, nil, quietLogger())
	if m.Status().State != StateIdle {
		t.Errorf("enabled state = %q, want %q", m.Status().State, StateIdle)
	}
}

func TestRunNowUploadsSealedSnapshot(t *testing.T) {
	var mu sync.Mutex
	var states []State
	m, mock, db := newTestManager(t, func(s Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})
	ctx := context.Background()

	if _, err := store.NewNoteStore(db).Create(ctx, "u1", "Backed up"); err != nil {
		t.Fatalf("create note: %v", err)
	}

	b, err := m.RunNow(ctx)
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	if b.Status != model.BackupStatusCompleted || b.SizeBytes == 0 || b.CompletedAt == nil {
		t.Errorf("backup = %+v, want completed with a size", b)
	}
	if filepath.Dir(b.ObjectKey) != "fufnotes" || b.ObjectKey != "fufnotes/"+b.Filename {
		t.Errorf("s3 key = %q, want it under the prefix", b.ObjectKey)
	}

	sealed, ok := mock.objects[b.ObjectKey]
	if !ok {
		t.Fatalf("object %q not uploaded", b.ObjectKey)
	}
	if int64(len(sealed)) != b.SizeBytes {
		t.Errorf("size = %d, object is %d bytes", b.SizeBytes, len(sealed))
	}
	plain, err := Open(sealed, "pass")
	if err != nil {
		t.Fatalf("open uploaded object: %v", err)
	}
	if !bytes.HasPrefix(plain, []byte("SQLite format 3")) {
		t.Error("decrypted object is not a SQLite database")
	}

	st := m.Status()
	if st.State != StateIdle || st.LastBackup == nil {
		t.Errorf("status = %+v, want idle with a last backup time", st)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != StateRunning || states[1] != StateIdle {
		t.Errorf("states = %v, want [running idle]", states)
	}
}

func TestRunNowUploadFailure(t *testing.T) {
	m, mock, db := newTestManager(t, nil)
	mock.putErr = errors.New("bucket gone")
	ctx := context.Background()

	if _, err := m.RunNow(ctx); err == nil {
		t.Fatal("expected an upload error")
	}
	if st := m.Status(); st.State != StateError || st.Error == "" {
		t.Errorf("status = %+v, want error state", st)
	}

	list, err := store.NewBackupStore(db).List(ctx, 10)
	if err != nil {
		t.Fatalf("list backups: %v", err)
	}
	if len(list) != 1 || list[0].Status != model.BackupStatusFailed || list[0].ErrorMessage == "" {
		t.Errorf("backups = %+v, want one failed row with a message", list)
	}
}

func TestRunNowSingleFlight(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	m.running = true

	if _, err := m.RunNow(context.Background()); !errors.Is(err, ErrInProgress) {
		t.Errorf("err = %v, want ErrInProgress", err)
	}
}

func TestCleanupRetention(t *testing.T) {
	m, mock, db := newTestManager(t, nil)
	ctx := context.Background()

	b, err := m.RunNow(ctx)
	if err != nil {
		t.Fatalf("run now: %v", err)
	}

	// Still inside the retention window.
	if err := m.Cleanup(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, ok := mock.objects[b.ObjectKey]; !ok {
		t.Fatal("fresh backup was pruned")
	}

	m.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	mock.delErr = errors.New("transient")
	if err := m.Cleanup(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(mock.deleted) != 1 || mock.deleted[0] != b.ObjectKey {
		t.Errorf("deleted = %v, want [%s]", mock.deleted, b.ObjectKey)
	}
	if _, err := store.NewBackupStore(db).Get(ctx, b.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("row after cleanup: err = %v, want ErrNotFound", err)
	}
}

func TestRestore(t *testing.T) {
	m, _, db := newTestManager(t, nil)
	ctx := context.Background()

	n, err := store.NewNoteStore(db).Create(ctx, "u1", "Keep me")
	if err != nil {
		t.Fatalf("create note: %v", err)
	}
	b, err := m.RunNow(ctx)
	if err != nil {
		t.Fatalf("run now: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "restored.db")
	if err := m.Restore(ctx, b.ID, dst); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if err := m.Restore(ctx, b.ID, dst); err == nil {
		t.Error("restoring over an existing file should fail")
	}

	restored, err := sql.Open("sqlite", dst)
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	defer restored.Close()
	var title string
	if err := restored.QueryRow(`SELECT title FROM notes WHERE id = ?`, n.ID).Scan(&title); err != nil {
		t.Fatalf("query restored note: %v", err)
	}
	if title != "Keep me" {
		t.Errorf("title = %q, want %q", title, "Keep me")
	}

	if err := m.Restore(ctx, 9999, filepath.Join(t.TempDir(), "x.db")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown backup: err = %v, want ErrNotFound", err)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
