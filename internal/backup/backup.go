// Package backup takes encrypted snapshots of the notes database and keeps
// them in S3-compatible object storage.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/fufnotes/internal/metrics"
	"github.com/dukerupert/fufnotes/internal/model"
	"github.com/dukerupert/fufnotes/internal/store"

	_ "modernc.org/sqlite"
)

var (
	ErrDisabled   = errors.New("backup: not configured")
	ErrInProgress = errors.New("backup: already running")
)

// s3Client is the subset of *s3.Client the manager uses.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

type Config struct {
	S3         S3Config
	Prefix     string
	Passphrase string
	Interval   time.Duration
	Retention  time.Duration
}

// Enabled reports whether uploads can happen at all.
func (c Config) Enabled() bool {
	return c.S3.Bucket != "" && c.S3.AccessKey != "" && c.S3.SecretKey != "" && c.Passphrase != ""
}

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// StatusCallback observes every state change.
type StatusCallback func(Status)

type Manager struct {
	mu       sync.Mutex
	cfg      Config
	status   Status
	callback StatusCallback
	running  bool

	db      *sql.DB
	backups *store.BackupStore
	client  s3Client
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager builds a manager. Without complete S3 settings and a passphrase
// it stays disabled and every operation returns ErrDisabled.
func NewManager(cfg Config, db *sql.DB, backups *store.BackupStore, callback StatusCallback, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		db:       db,
		backups:  backups,
		callback: callback,
		logger:   logger,
		now:      time.Now,
		status:   Status{State: StateDisabled},
	}
	if cfg.Enabled() {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if s.LastBackup == nil {
		s.LastBackup = m.status.LastBackup
	}
	m.status = s
	m.mu.Unlock()
	if m.callback != nil {
		m.callback(s)
	}
}

// Run takes a backup and applies retention every Interval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	if m.client == nil {
		m.logger.Info("backups disabled")
		return nil
	}
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.RunNow(ctx); err != nil && !errors.Is(err, ErrInProgress) {
				m.logger.Error("scheduled backup failed", "error", err)
			}
			if err := m.Cleanup(ctx); err != nil {
				m.logger.Error("backup retention failed", "error", err)
			}
		}
	}
}

func (m *Manager) objectKey(filename string) string {
	if m.cfg.Prefix == "" {
		return filename
	}
	return path.Join(m.cfg.Prefix, filename)
}

// RunNow snapshots the database with VACUUM INTO, seals it and uploads it.
// Only one backup runs at a time.
func (m *Manager) RunNow(ctx context.Context) (*model.Backup, error) {
	if m.client == nil {
		return nil, ErrDisabled
	}
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil, ErrInProgress
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	m.setStatus(Status{State: StateRunning})

	filename := fmt.Sprintf("fufnotes-%s.db.enc", m.now().UTC().Format("2006-01-02T150405Z"))
	record, err := m.backups.Create(ctx, filename, m.objectKey(filename))
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		metrics.RecordBackup(string(model.BackupStatusFailed))
		return nil, err
	}

	size, err := m.upload(ctx, record)
	if err != nil {
		if uerr := m.backups.UpdateStatus(ctx, record.ID, model.BackupStatusFailed, err.Error()); uerr != nil {
			m.logger.Warn("mark backup failed", "backup_id", record.ID, "error", uerr)
		}
		m.setStatus(Status{State: StateError, Error: err.Error()})
		metrics.RecordBackup(string(model.BackupStatusFailed))
		return nil, err
	}

	if err := m.backups.UpdateCompleted(ctx, record.ID, size); err != nil {
		return nil, err
	}
	done := m.now().UTC()
	m.setStatus(Status{State: StateIdle, LastBackup: &done})
	metrics.RecordBackup(string(model.BackupStatusCompleted))
	m.logger.Info("backup uploaded", "backup_id", record.ID, "key", record.ObjectKey, "size", size)
	return m.backups.Get(ctx, record.ID)
}

func (m *Manager) upload(ctx context.Context, record *model.Backup) (int64, error) {
	if err := m.backups.UpdateStatus(ctx, record.ID, model.BackupStatusUploading, ""); err != nil {
		return 0, err
	}

	snapshot, err := m.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	sealed, err := Seal(snapshot, m.cfg.Passphrase)
	if err != nil {
		return 0, fmt.Errorf("seal snapshot: %w", err)
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(record.ObjectKey),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return 0, fmt.Errorf("upload to s3: %w", err)
	}
	return int64(len(sealed)), nil
}

// snapshot returns a consistent copy of the live database.
func (m *Manager) snapshot(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "fufnotes-backup-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if _, err := m.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("wal checkpoint: %w", err)
	}
	dst := filepath.Join(dir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, "VACUUM INTO ?", dst); err != nil {
		return nil, fmt.Errorf("vacuum into: %w", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// Cleanup deletes backups older than the retention period, rows first.
// Objects that fail to delete are logged and left behind.
func (m *Manager) Cleanup(ctx context.Context) error {
	if m.client == nil {
		return ErrDisabled
	}
	if m.cfg.Retention <= 0 {
		return nil
	}
	keys, err := m.backups.DeleteOlderThan(ctx, m.now().Add(-m.cfg.Retention))
	if err != nil {
		return err
	}
	for _, key := range keys {
		_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			m.logger.Warn("delete backup object", "key", key, "error", err)
		}
	}
	if len(keys) > 0 {
		m.logger.Info("pruned backups", "count", len(keys))
	}
	return nil
}

// Restore downloads backup id, decrypts it and writes it to dst after an
// integrity check. The live database is never touched.
func (m *Manager) Restore(ctx context.Context, id int64, dst string) error {
	if m.client == nil {
		return ErrDisabled
	}
	record, err := m.backups.Get(ctx, id)
	if err != nil {
		return err
	}
	if !record.Restorable() {
		return fmt.Errorf("backup %d is %s", id, record.Status)
	}

	obj, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(record.ObjectKey),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	sealed, err := io.ReadAll(obj.Body)
	obj.Body.Close()
	if err != nil {
		return fmt.Errorf("read backup object: %w", err)
	}

	plain, err := Open(sealed, m.cfg.Passphrase)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("restore target %s already exists", dst)
	}
	if err := os.WriteFile(dst, plain, 0o600); err != nil {
		return fmt.Errorf("write restored db: %w", err)
	}
	if err := integrityCheck(ctx, dst); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}

func integrityCheck(ctx context.Context, file string) error {
	db, err := sql.Open("sqlite", file)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}
