package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/fufnotes/internal/metrics"
	"github.com/dukerupert/fufnotes/internal/model"
	"github.com/dukerupert/fufnotes/internal/store"
)

// ErrLinkedNoteNotFound is returned when a todo update references a note the
// owner does not have.
var ErrLinkedNoteNotFound = errors.New("linked note not found")

// ProjectDetail is a project with its todo list and, for older clients, the
// legacy multi-list data.
type ProjectDetail struct {
	Project *model.Project     `json:"project"`
	Todos   []model.Todo       `json:"todos"`
	Lists   []model.LegacyList `json:"lists"`
}

func (s *Service) ListProjects(ctx context.Context, owner string) ([]model.Project, error) {
	return s.projects.List(ctx, owner)
}

func (s *Service) CreateProject(ctx context.Context, owner, title, description string, dueAt *time.Time) (*model.Project, error) {
	return s.projects.Create(ctx, owner, title, description, dueAt)
}

// ProjectDetail loads a project. Legacy todos are converted first when the
// project has no todos of its own.
func (s *Service) ProjectDetail(ctx context.Context, owner, id string) (*ProjectDetail, error) {
	p, err := s.projects.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	err = store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		n, err := s.todos.WithTx(tx).BackfillLegacy(ctx, owner, id)
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Info("backfilled legacy todos", "project_id", id, "count", n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	todos, err := s.todos.List(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	lists, err := s.projects.LegacyLists(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	return &ProjectDetail{Project: p, Todos: todos, Lists: lists}, nil
}

// UpdateProject replaces the project fields. When the title changes, every
// managed linked note is renamed in the same transaction.
func (s *Service) UpdateProject(ctx context.Context, owner, id, title, description string, dueAt *time.Time) (*model.Project, error) {
	var updated *model.Project
	var synced []model.NoteMeta

	err := store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		projects := s.projects.WithTx(tx)
		prev, err := projects.Get(ctx, owner, id)
		if err != nil {
			return err
		}
		updated, err = projects.Update(ctx, owner, id, title, description, dueAt)
		if err != nil {
			return err
		}
		if prev.Title == updated.Title {
			return nil
		}

		managed, err := s.todos.WithTx(tx).ManagedLinked(ctx, owner, id)
		if err != nil {
			return err
		}
		notes := s.notes.WithTx(tx)
		for _, t := range managed {
			n, err := notes.SetTitle(ctx, owner, t.LinkedNoteID, model.ManagedNoteTitle(updated.Title, t.Title))
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			synced = append(synced, n.Meta())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishSynced(owner, synced)
	return updated, nil
}

func (s *Service) DeleteProject(ctx context.Context, owner, id string) error {
	return s.projects.Delete(ctx, owner, id)
}

// CreateTodo appends a todo to the project and bumps the project's updated_at.
func (s *Service) CreateTodo(ctx context.Context, owner, projectID, title string, dueAt *time.Time) (*model.Todo, error) {
	var todo *model.Todo
	err := store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		projects := s.projects.WithTx(tx)
		if _, err := projects.Get(ctx, owner, projectID); err != nil {
			return err
		}
		var err error
		todo, err = s.todos.WithTx(tx).Create(ctx, owner, projectID, title, dueAt)
		if err != nil {
			return err
		}
		return projects.Touch(ctx, owner, projectID)
	})
	if err != nil {
		return nil, err
	}
	return todo, nil
}

// UpdateTodo applies patch. A rename of a todo with a managed linked note
// renames the note through the unconditional bump path.
func (s *Service) UpdateTodo(ctx context.Context, owner, id string, patch store.TodoPatch) (*model.Todo, error) {
	var next *model.Todo
	var synced []model.NoteMeta

	err := store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		notes := s.notes.WithTx(tx)
		if patch.LinkedNoteID != nil && *patch.LinkedNoteID != "" {
			ok, err := notes.Exists(ctx, owner, *patch.LinkedNoteID)
			if err != nil {
				return err
			}
			if !ok {
				return ErrLinkedNoteNotFound
			}
		}

		todos := s.todos.WithTx(tx)
		projects := s.projects.WithTx(tx)
		prev, n, err := todos.Update(ctx, owner, id, patch)
		if err != nil {
			return err
		}
		next = n
		if err := projects.Touch(ctx, owner, next.ProjectID); err != nil {
			return err
		}

		if !prev.NoteManagedTitle || next.LinkedNoteID == "" || prev.Title == next.Title {
			return nil
		}
		p, err := projects.Get(ctx, owner, next.ProjectID)
		if err != nil {
			return err
		}
		renamed, err := notes.SetTitle(ctx, owner, next.LinkedNoteID, model.ManagedNoteTitle(p.Title, next.Title))
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		next.LinkedNoteTitle = renamed.Title
		synced = append(synced, renamed.Meta())
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishSynced(owner, synced)
	return next, nil
}

func (s *Service) DeleteTodo(ctx context.Context, owner, id string) error {
	return store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		todos := s.todos.WithTx(tx)
		t, err := todos.Get(ctx, owner, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := todos.Delete(ctx, owner, id); err != nil {
			return err
		}
		return s.projects.WithTx(tx).Touch(ctx, owner, t.ProjectID)
	})
}

// AttachNote gives the todo a linked note titled "<project> — <todo>". If the
// todo is already linked, the existing note is returned and created is false.
// When a concurrent attach wins the race, its note is returned instead.
func (s *Service) AttachNote(ctx context.Context, owner, todoID string) (meta model.NoteMeta, created bool, err error) {
	meta, created, err = s.attachNote(ctx, owner, todoID)
	if errors.Is(err, store.ErrAlreadyLinked) {
		// Our note was rolled back with the transaction; read the winner's.
		meta, created, err = s.attachNote(ctx, owner, todoID)
	}
	if err != nil {
		return model.NoteMeta{}, false, fmt.Errorf("attach note: %w", err)
	}
	if created {
		s.events.NoteEvent(owner, ActionCreated, meta)
	}
	return meta, created, nil
}

func (s *Service) attachNote(ctx context.Context, owner, todoID string) (meta model.NoteMeta, created bool, err error) {
	err = store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		todos := s.todos.WithTx(tx)
		projects := s.projects.WithTx(tx)
		notes := s.notes.WithTx(tx)

		t, err := todos.Get(ctx, owner, todoID)
		if err != nil {
			return err
		}
		if t.LinkedNoteID != "" {
			meta = model.NoteMeta{ID: t.LinkedNoteID}
			if n, err := notes.Get(ctx, owner, t.LinkedNoteID); err == nil {
				meta = n.Meta()
			}
			return nil
		}

		p, err := projects.Get(ctx, owner, t.ProjectID)
		if err != nil {
			return err
		}
		n, err := notes.Create(ctx, owner, model.ManagedNoteTitle(p.Title, t.Title))
		if err != nil {
			return err
		}
		if err := todos.LinkNote(ctx, owner, todoID, n.ID); err != nil {
			return err
		}
		if err := projects.Touch(ctx, owner, t.ProjectID); err != nil {
			return err
		}
		meta, created = n.Meta(), true
		return nil
	})
	return meta, created, err
}

func (s *Service) publishSynced(owner string, synced []model.NoteMeta) {
	if len(synced) > 0 {
		metrics.RecordTitleSync(len(synced))
	}
	for _, m := range synced {
		s.events.NoteEvent(owner, ActionTitleSynced, m)
	}
}
