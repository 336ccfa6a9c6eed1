package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/fufnotes/internal/model"
	"github.com/google/uuid"
)

// ConflictError is returned by a non-forced Save whose base revision is stale.
// Current holds the note as it is stored now.
type ConflictError struct {
	Current *model.Note
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("note %s: revision conflict (current revision %d)", e.Current.ID, e.Current.Revision)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

type NoteStore struct {
	db  DBTX
	now func() time.Time
}

func NewNoteStore(db DBTX) *NoteStore {
	return &NoteStore{db: db, now: time.Now}
}

// WithTx returns a NoteStore bound to tx.
func (s *NoteStore) WithTx(tx *sql.Tx) *NoteStore {
	return &NoteStore{db: tx, now: s.now}
}

func scanNote(scanner interface{ Scan(...any) error }) (*model.Note, error) {
	var n model.Note
	err := scanner.Scan(
		&n.ID, &n.OwnerUserID, &n.Title, &n.Content,
		&n.Revision, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	return &n, nil
}

const noteCols = `id, owner_user_id, title, content, revision, created_at, updated_at`

// List returns the owner's note metadata, most recently updated first.
func (s *NoteStore) List(ctx context.Context, owner string) ([]model.NoteMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, revision, updated_at FROM notes
		 WHERE owner_user_id = ?
		 ORDER BY updated_at DESC`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	notes := []model.NoteMeta{}
	for rows.Next() {
		var m model.NoteMeta
		if err := rows.Scan(&m.ID, &m.Title, &m.Revision, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		m.UpdatedAt = m.UpdatedAt.UTC()
		notes = append(notes, m)
	}
	return notes, rows.Err()
}

func (s *NoteStore) Get(ctx context.Context, owner, id string) (*model.Note, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+noteCols+` FROM notes WHERE id = ? AND owner_user_id = ?`, id, owner)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	return n, nil
}

// Create inserts an empty note at revision 1. A blank title becomes "Untitled".
func (s *NoteStore) Create(ctx context.Context, owner, title string) (*model.Note, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	now := s.now().UTC()
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO notes (id, owner_user_id, title, content, revision, created_at, updated_at)
		 VALUES (?, ?, ?, '', 1, ?, ?)
		 RETURNING `+noteCols,
		uuid.NewString(), owner, title, now, now,
	)
	n, err := scanNote(row)
	if err != nil {
		return nil, fmt.Errorf("insert note: %w", err)
	}
	return n, nil
}

// Save writes title and content. Unless force is set, the write only applies
// when the stored revision equals baseRevision; the check and the increment
// happen in a single UPDATE. A stale base revision yields a *ConflictError
// carrying the current note.
func (s *NoteStore) Save(ctx context.Context, owner, id, title, content string, baseRevision int64, force bool) (*model.Note, error) {
	now := s.now().UTC()

	var row *sql.Row
	if force {
		row = s.db.QueryRowContext(ctx,
			`UPDATE notes SET title = ?, content = ?, revision = revision + 1, updated_at = ?
			 WHERE id = ? AND owner_user_id = ?
			 RETURNING `+noteCols,
			title, content, now, id, owner,
		)
	} else {
		if baseRevision < 0 {
			return nil, ErrBadRevision
		}
		row = s.db.QueryRowContext(ctx,
			`UPDATE notes SET title = ?, content = ?, revision = revision + 1, updated_at = ?
			 WHERE id = ? AND owner_user_id = ? AND revision = ?
			 RETURNING `+noteCols,
			title, content, now, id, owner, baseRevision,
		)
	}

	n, err := scanNote(row)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("save note: %w", err)
	}

	current, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	return nil, &ConflictError{Current: current}
}

// SetTitle unconditionally renames a note and bumps its revision. It is the
// write path used by managed-title sync and never competes on the revision
// check the editor uses.
func (s *NoteStore) SetTitle(ctx context.Context, owner, id, title string) (*model.Note, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE notes SET title = ?, revision = revision + 1, updated_at = ?
		 WHERE id = ? AND owner_user_id = ?
		 RETURNING `+noteCols,
		title, s.now().UTC(), id, owner,
	)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set note title: %w", err)
	}
	return n, nil
}

// Delete removes a note. Deleting a missing note is not an error.
func (s *NoteStore) Delete(ctx context.Context, owner, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ? AND owner_user_id = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// Exists reports whether the owner has a note with the given id.
func (s *NoteStore) Exists(ctx context.Context, owner, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM notes WHERE id = ? AND owner_user_id = ?`, id, owner).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("note exists: %w", err)
	}
	return true, nil
}
