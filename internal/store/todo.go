package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/fufnotes/internal/model"
	"github.com/google/uuid"
)

type TodoStore struct {
	db  DBTX
	now func() time.Time
}

func NewTodoStore(db DBTX) *TodoStore {
	return &TodoStore{db: db, now: time.Now}
}

func (s *TodoStore) WithTx(tx *sql.Tx) *TodoStore {
	return &TodoStore{db: tx, now: s.now}
}

// TodoPatch lists the fields an update changes. Nil fields keep their value.
// Setting DueAt to a nil pointer clears the due date; an empty LinkedNoteID
// unlinks the note.
type TodoPatch struct {
	Title        *string
	Done         *bool
	DueAt        **time.Time
	LinkedNoteID *string
}

func scanTodo(scanner interface{ Scan(...any) error }) (*model.Todo, error) {
	var t model.Todo
	var dueAt sql.NullTime
	var linked, linkedTitle sql.NullString
	var done, managed int
	err := scanner.Scan(
		&t.ID, &t.ProjectID, &t.Title, &dueAt, &done, &linked, &managed,
		&t.CreatedAt, &t.UpdatedAt, &linkedTitle,
	)
	if err != nil {
		return nil, err
	}
	t.DueAt = timePtr(dueAt)
	t.Done = done != 0
	t.NoteManagedTitle = managed != 0
	t.LinkedNoteID = linked.String
	t.LinkedNoteTitle = linkedTitle.String
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

const todoSelect = `SELECT pt.id, pt.project_id, pt.title, pt.due_at, pt.done, pt.linked_note_id,
	pt.note_managed_title, pt.created_at, pt.updated_at, n.title
	FROM project_todos pt
	LEFT JOIN notes n ON n.id = pt.linked_note_id AND n.owner_user_id = pt.owner_user_id`

// List returns a project's todos in creation order with linked note titles.
func (s *TodoStore) List(ctx context.Context, owner, projectID string) ([]model.Todo, error) {
	rows, err := s.db.QueryContext(ctx,
		todoSelect+` WHERE pt.project_id = ? AND pt.owner_user_id = ? ORDER BY pt.created_at ASC, pt.rowid ASC`,
		projectID, owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer rows.Close()

	todos := []model.Todo{}
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		todos = append(todos, *t)
	}
	return todos, rows.Err()
}

func (s *TodoStore) Get(ctx context.Context, owner, id string) (*model.Todo, error) {
	row := s.db.QueryRowContext(ctx, todoSelect+` WHERE pt.id = ? AND pt.owner_user_id = ?`, id, owner)
	t, err := scanTodo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get todo: %w", err)
	}
	return t, nil
}

func (s *TodoStore) Create(ctx context.Context, owner, projectID, title string, dueAt *time.Time) (*model.Todo, error) {
	id := uuid.NewString()
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_todos (id, project_id, owner_user_id, title, due_at, done, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		id, projectID, owner, title, nullTime(dueAt), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert todo: %w", err)
	}
	return s.Get(ctx, owner, id)
}

// Update applies patch and returns the todo before and after the write.
func (s *TodoStore) Update(ctx context.Context, owner, id string, patch TodoPatch) (prev, next *model.Todo, err error) {
	prev, err = s.Get(ctx, owner, id)
	if err != nil {
		return nil, nil, err
	}

	n := *prev
	if patch.Title != nil {
		n.Title = *patch.Title
	}
	if patch.Done != nil {
		n.Done = *patch.Done
	}
	if patch.DueAt != nil {
		n.DueAt = *patch.DueAt
	}
	if patch.LinkedNoteID != nil {
		n.LinkedNoteID = *patch.LinkedNoteID
	}

	var linked sql.NullString
	if n.LinkedNoteID != "" {
		linked = sql.NullString{String: n.LinkedNoteID, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE project_todos SET title = ?, due_at = ?, done = ?, linked_note_id = ?, updated_at = ?
		 WHERE id = ? AND owner_user_id = ?`,
		n.Title, nullTime(n.DueAt), boolInt(n.Done), linked, s.now().UTC(), id, owner,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("update todo: %w", err)
	}
	next, err = s.Get(ctx, owner, id)
	if err != nil {
		return nil, nil, err
	}
	return prev, next, nil
}

// LinkNote attaches noteID to an unlinked todo and marks the note title as
// managed. It returns ErrAlreadyLinked if the todo has a link already, or
// ErrNotFound if there is no such todo.
func (s *TodoStore) LinkNote(ctx context.Context, owner, id, noteID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE project_todos SET linked_note_id = ?, note_managed_title = 1, updated_at = ?
		 WHERE id = ? AND owner_user_id = ? AND linked_note_id IS NULL`,
		noteID, s.now().UTC(), id, owner,
	)
	if err != nil {
		return fmt.Errorf("link note: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("link note: %w", err)
	} else if n == 1 {
		return nil
	}

	var linked sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT linked_note_id FROM project_todos WHERE id = ? AND owner_user_id = ?`, id, owner,
	).Scan(&linked)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("link note: %w", err)
	}
	return ErrAlreadyLinked
}

func (s *TodoStore) Delete(ctx context.Context, owner, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM project_todos WHERE id = ? AND owner_user_id = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	return nil
}

// ManagedLinked returns the project's todos whose linked note title follows
// the project and todo titles.
func (s *TodoStore) ManagedLinked(ctx context.Context, owner, projectID string) ([]model.Todo, error) {
	rows, err := s.db.QueryContext(ctx,
		todoSelect+` WHERE pt.project_id = ? AND pt.owner_user_id = ?
		 AND pt.note_managed_title = 1 AND pt.linked_note_id IS NOT NULL
		 ORDER BY pt.created_at ASC`,
		projectID, owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list managed todos: %w", err)
	}
	defer rows.Close()

	var todos []model.Todo
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		todos = append(todos, *t)
	}
	return todos, rows.Err()
}

// BackfillLegacy converts a project's legacy todos into project todos when the
// project has none yet. Each title is the first non-blank line of the legacy
// notes field. It is a no-op once any project todo exists, so repeated calls
// never duplicate rows. The number of todos created is returned.
func (s *TodoStore) BackfillLegacy(ctx context.Context, owner, projectID string) (int, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM project_todos WHERE project_id = ? AND owner_user_id = ? LIMIT 1`,
		projectID, owner,
	).Scan(&one)
	if err == nil {
		return 0, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("check project todos: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT due_at, notes, created_at FROM todos
		 WHERE project_id = ? AND owner_user_id = ?
		 ORDER BY created_at ASC`,
		projectID, owner,
	)
	if err != nil {
		return 0, fmt.Errorf("list legacy todos: %w", err)
	}
	type legacy struct {
		dueAt     sql.NullTime
		notes     string
		createdAt time.Time
	}
	var items []legacy
	for rows.Next() {
		var l legacy
		if err := rows.Scan(&l.dueAt, &l.notes, &l.createdAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan legacy todo: %w", err)
		}
		items = append(items, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now := s.now().UTC()
	for _, l := range items {
		title := model.FirstLine(l.notes)
		if title == "" {
			title = "Todo"
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO project_todos (id, project_id, owner_user_id, title, due_at, done, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
			uuid.NewString(), projectID, owner, model.Truncate(title, model.MaxTitleLen),
			l.dueAt, l.createdAt.UTC(), now,
		)
		if err != nil {
			return 0, fmt.Errorf("backfill todo: %w", err)
		}
	}
	return len(items), nil
}
