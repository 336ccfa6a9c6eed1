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

type ProjectStore struct {
	db  DBTX
	now func() time.Time
}

func NewProjectStore(db DBTX) *ProjectStore {
	return &ProjectStore{db: db, now: time.Now}
}

func (s *ProjectStore) WithTx(tx *sql.Tx) *ProjectStore {
	return &ProjectStore{db: tx, now: s.now}
}

func scanProject(scanner interface{ Scan(...any) error }) (*model.Project, error) {
	var p model.Project
	var dueAt sql.NullTime
	err := scanner.Scan(&p.ID, &p.Title, &dueAt, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.DueAt = timePtr(dueAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

const projectCols = `id, title, due_at, description, created_at, updated_at`

// List returns the owner's projects, most recently updated first.
func (s *ProjectStore) List(ctx context.Context, owner string) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectCols+` FROM projects WHERE owner_user_id = ? ORDER BY updated_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := []model.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

func (s *ProjectStore) Get(ctx context.Context, owner, id string) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectCols+` FROM projects WHERE id = ? AND owner_user_id = ?`, id, owner)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *ProjectStore) Create(ctx context.Context, owner, title, description string, dueAt *time.Time) (*model.Project, error) {
	now := s.now().UTC()
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO projects (id, owner_user_id, title, due_at, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 RETURNING `+projectCols,
		uuid.NewString(), owner, title, nullTime(dueAt), description, now, now,
	)
	p, err := scanProject(row)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

// Update replaces the project's title, description and due date.
func (s *ProjectStore) Update(ctx context.Context, owner, id, title, description string, dueAt *time.Time) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE projects SET title = ?, due_at = ?, description = ?, updated_at = ?
		 WHERE id = ? AND owner_user_id = ?
		 RETURNING `+projectCols,
		title, nullTime(dueAt), description, s.now().UTC(), id, owner,
	)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	return p, nil
}

// Touch bumps updated_at so the project sorts first after a todo change.
func (s *ProjectStore) Touch(ctx context.Context, owner, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET updated_at = ? WHERE id = ? AND owner_user_id = ?`,
		s.now().UTC(), id, owner,
	)
	if err != nil {
		return fmt.Errorf("touch project: %w", err)
	}
	return nil
}

// Delete removes a project and its todos. Linked notes are kept.
func (s *ProjectStore) Delete(ctx context.Context, owner, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ? AND owner_user_id = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

// LegacyLists returns the project's lists from the multi-list model with
// their todos attached.
func (s *ProjectStore) LegacyLists(ctx context.Context, owner, projectID string) ([]model.LegacyList, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at FROM project_lists
		 WHERE project_id = ? AND owner_user_id = ?
		 ORDER BY created_at ASC`,
		projectID, owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list legacy lists: %w", err)
	}
	lists := []model.LegacyList{}
	for rows.Next() {
		l := model.LegacyList{Todos: []model.LegacyTodo{}}
		if err := rows.Scan(&l.ID, &l.Title, &l.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan legacy list: %w", err)
		}
		lists = append(lists, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	todos, err := s.legacyTodos(ctx, owner, projectID)
	if err != nil {
		return nil, err
	}
	byList := make(map[string][]model.LegacyTodo)
	for _, t := range todos {
		byList[t.ListID] = append(byList[t.ListID], t)
	}
	for i := range lists {
		if ts, ok := byList[lists[i].ID]; ok {
			lists[i].Todos = ts
		}
	}
	return lists, nil
}

func (s *ProjectStore) legacyTodos(ctx context.Context, owner, projectID string) ([]model.LegacyTodo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, list_id, due_at, recurring, notes, created_at FROM todos
		 WHERE project_id = ? AND owner_user_id = ?
		 ORDER BY created_at ASC`,
		projectID, owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list legacy todos: %w", err)
	}
	defer rows.Close()

	var todos []model.LegacyTodo
	for rows.Next() {
		var t model.LegacyTodo
		var dueAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.ListID, &dueAt, &t.Recurring, &t.Notes, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan legacy todo: %w", err)
		}
		t.DueAt = timePtr(dueAt)
		todos = append(todos, t)
	}
	return todos, rows.Err()
}
