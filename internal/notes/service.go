// Package notes coordinates note writes with the project/todo linkage and
// publishes change events for live clients.
package notes

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/dukerupert/fufnotes/internal/metrics"
	"github.com/dukerupert/fufnotes/internal/model"
	"github.com/dukerupert/fufnotes/internal/store"
)

// Event actions published through Events.
const (
	ActionCreated     = "created"
	ActionSaved       = "saved"
	ActionDeleted     = "deleted"
	ActionTitleSynced = "title_synced"
)

// Events receives note changes after they are committed.
type Events interface {
	NoteEvent(owner, action string, meta model.NoteMeta)
}

type nopEvents struct{}

func (nopEvents) NoteEvent(string, string, model.NoteMeta) {}

// Service is the write path for notes, projects and todos.
type Service struct {
	db       *sql.DB
	notes    *store.NoteStore
	projects *store.ProjectStore
	todos    *store.TodoStore
	events   Events
	logger   *slog.Logger
}

func NewService(db *sql.DB, events Events, logger *slog.Logger) *Service {
	if events == nil {
		events = nopEvents{}
	}
	return &Service{
		db:       db,
		notes:    store.NewNoteStore(db),
		projects: store.NewProjectStore(db),
		todos:    store.NewTodoStore(db),
		events:   events,
		logger:   logger,
	}
}

func (s *Service) List(ctx context.Context, owner string) ([]model.NoteMeta, error) {
	return s.notes.List(ctx, owner)
}

func (s *Service) Get(ctx context.Context, owner, id string) (*model.Note, error) {
	return s.notes.Get(ctx, owner, id)
}

func (s *Service) Create(ctx context.Context, owner, title string) (*model.Note, error) {
	n, err := s.notes.Create(ctx, owner, title)
	if err != nil {
		return nil, err
	}
	s.events.NoteEvent(owner, ActionCreated, n.Meta())
	return n, nil
}

// Save performs the optimistic (or forced) write. Conflicts surface as
// *store.ConflictError.
func (s *Service) Save(ctx context.Context, owner, id, title, content string, baseRevision int64, force bool) (*model.Note, error) {
	n, err := s.notes.Save(ctx, owner, id, title, content, baseRevision, force)
	metrics.RecordSave(saveOutcome(err), force)
	if err != nil {
		return nil, err
	}
	s.events.NoteEvent(owner, ActionSaved, n.Meta())
	return n, nil
}

func saveOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrBadRevision):
		return "bad_revision"
	default:
		return "error"
	}
}

func (s *Service) Delete(ctx context.Context, owner, id string) error {
	if err := s.notes.Delete(ctx, owner, id); err != nil {
		return err
	}
	s.events.NoteEvent(owner, ActionDeleted, model.NoteMeta{ID: id})
	return nil
}
