// Package savecoord drives autosave for one open note: debounced and
// periodic saves, at most one save request in flight, and the conflict
// freeze with its three resolutions.
package savecoord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/fufnotes/internal/model"
	"github.com/dukerupert/fufnotes/internal/notesapi"
)

const (
	DefaultDebounce = 800 * time.Millisecond
	DefaultPeriod   = 20 * time.Second
)

// ErrFrozen is returned by RequestSave while a conflict awaits resolution.
var ErrFrozen = errors.New("savecoord: autosave frozen by conflict")

// ErrNoConflict is returned by the resolvers when there is nothing to resolve.
var ErrNoConflict = errors.New("savecoord: no conflict pending")

// API is the part of the notes client the coordinator needs.
type API interface {
	Create(ctx context.Context, title string) (model.NoteMeta, error)
	Save(ctx context.Context, id string, req notesapi.SaveRequest) (model.NoteMeta, error)
}

type State string

const (
	StateIdle     State = "idle"
	StateDirty    State = "dirty"
	StateSaving   State = "saving"
	StateSaved    State = "saved"
	StateConflict State = "conflict"
	StateError    State = "error"
)

// Conflict is the server's version of the note at the time of a 409.
type Conflict struct {
	Meta    model.NoteMeta
	Content string
}

type Status struct {
	State        State
	NoteID       string
	Title        string
	BaseRevision int64
	Dirty        bool
	Frozen       bool
	// Banner is the user-facing text for the last failure, empty when healthy.
	Banner   string
	Conflict *Conflict
}

type Option func(*Coordinator)

func WithClock(c Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

func WithDelays(debounce, period time.Duration) Option {
	return func(co *Coordinator) {
		co.debounce = debounce
		co.period = period
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// WithOnChange registers a callback invoked after every state change. It
// runs without the coordinator's lock held.
func WithOnChange(f func(Status)) Option {
	return func(co *Coordinator) { co.onChange = f }
}

type Coordinator struct {
	api      API
	clock    Clock
	logger   *slog.Logger
	onChange func(Status)
	debounce time.Duration
	period   time.Duration

	root   context.Context
	closeR context.CancelFunc

	mu           sync.Mutex
	generation   uint64
	noteID       string
	baseRevision int64
	title        string
	content      string
	dirty        bool
	editSeq      uint64
	state        State
	banner       string
	frozen       bool
	conflict     *Conflict

	saving       bool
	pending      bool
	pendingForce bool
	cancel       context.CancelFunc
	inflight     chan struct{}

	debounceTimer Timer
	periodicTimer Timer
	closed        bool
}

// New starts a coordinator on an empty, unsaved buffer. Call Open to load an
// existing note and Close when done.
func New(api API, opts ...Option) *Coordinator {
	c := &Coordinator{
		api:      api,
		clock:    realClock{},
		logger:   slog.Default(),
		debounce: DefaultDebounce,
		period:   DefaultPeriod,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.root, c.closeR = context.WithCancel(context.Background())
	c.mu.Lock()
	c.armPeriodic()
	c.mu.Unlock()
	return c
}

// Open makes note the current note, discarding any unsaved buffer and
// aborting a save in flight for the previous one.
func (c *Coordinator) Open(note *model.Note) {
	c.mu.Lock()
	c.resetLocked()
	c.noteID = note.ID
	c.baseRevision = note.Revision
	c.title = note.Title
	c.content = note.Content
	c.state = StateSaved
	c.mu.Unlock()
	c.notify()
}

func (c *Coordinator) resetLocked() {
	c.generation++
	if c.cancel != nil {
		c.cancel()
	}
	c.stopDebounceLocked()
	c.pending, c.pendingForce = false, false
	c.dirty = false
	c.frozen = false
	c.conflict = nil
	c.banner = ""
}

// Close stops the timers and aborts any save in flight.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.resetLocked()
	if c.periodicTimer != nil {
		c.periodicTimer.Stop()
	}
	c.mu.Unlock()
	c.closeR()
}

// Buffer returns the local title and content.
func (c *Coordinator) Buffer() (title, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title, c.content
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Coordinator) statusLocked() Status {
	s := Status{
		State:        c.state,
		NoteID:       c.noteID,
		Title:        c.title,
		BaseRevision: c.baseRevision,
		Dirty:        c.dirty,
		Frozen:       c.frozen,
		Banner:       c.banner,
	}
	if c.conflict != nil {
		cp := *c.conflict
		s.Conflict = &cp
	}
	return s
}

func (c *Coordinator) notify() {
	if c.onChange != nil {
		c.onChange(c.Status())
	}
}

// Edit replaces the local buffer. Unless autosave is frozen it marks the
// note dirty and restarts the trailing debounce.
func (c *Coordinator) Edit(title, content string) {
	c.mu.Lock()
	c.title, c.content = title, content
	if c.frozen || c.closed {
		c.mu.Unlock()
		return
	}
	c.dirty = true
	c.editSeq++
	if !c.saving {
		c.state = StateDirty
	}
	c.stopDebounceLocked()
	c.debounceTimer = c.clock.AfterFunc(c.debounce, c.autosave)
	c.mu.Unlock()
	c.notify()
}

// Blur saves immediately, skipping the debounce.
func (c *Coordinator) Blur(ctx context.Context) error {
	c.mu.Lock()
	c.stopDebounceLocked()
	c.mu.Unlock()
	return c.RequestSave(ctx, false)
}

// Flush waits for any save in flight, then saves whatever is still dirty.
func (c *Coordinator) Flush(ctx context.Context) error {
	for {
		c.mu.Lock()
		if !c.saving {
			c.stopDebounceLocked()
			c.mu.Unlock()
			return c.RequestSave(ctx, false)
		}
		done := c.inflight
		c.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Coordinator) stopDebounceLocked() {
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
	}
}

func (c *Coordinator) autosave() {
	if err := c.RequestSave(c.root, false); err != nil && !errors.Is(err, ErrFrozen) && !errors.Is(err, context.Canceled) {
		c.logger.Warn("autosave failed", "error", err)
	}
}

func (c *Coordinator) armPeriodic() {
	if c.closed || c.period <= 0 {
		return
	}
	c.periodicTimer = c.clock.AfterFunc(c.period, c.tick)
}

func (c *Coordinator) tick() {
	c.mu.Lock()
	c.armPeriodic()
	due := c.dirty && !c.frozen && !c.closed
	c.mu.Unlock()
	if due {
		c.autosave()
	}
}

// RequestSave saves the buffer now. With no note yet, an empty buffer is
// left alone unless force is set; otherwise the note is created first.
// If a save is already in flight the request is remembered and replayed
// once that save finishes. A forced request also aborts the save in flight.
func (c *Coordinator) RequestSave(ctx context.Context, force bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return context.Canceled
	}
	if c.frozen {
		c.mu.Unlock()
		return ErrFrozen
	}
	if c.noteID == "" && !force && blank(c.title) && blank(c.content) {
		c.dirty = false
		c.state = StateIdle
		c.mu.Unlock()
		return nil
	}
	if !c.dirty && !force {
		c.mu.Unlock()
		return nil
	}
	if c.saving {
		c.pending = true
		if force {
			c.pendingForce = true
			c.cancel()
		}
		c.mu.Unlock()
		return nil
	}

	c.saving = true
	c.pending = false
	c.state = StateSaving
	c.inflight = make(chan struct{})
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	gen := c.generation
	c.mu.Unlock()
	c.notify()

	err := c.save(ctx, gen, force)
	cancel()

	c.mu.Lock()
	c.saving = false
	c.cancel = nil
	close(c.inflight)
	replay := c.pending && !c.frozen && !c.closed && (c.dirty || c.pendingForce)
	replayForce := c.pendingForce
	c.pending, c.pendingForce = false, false
	c.mu.Unlock()
	c.notify()

	if replay {
		if rerr := c.RequestSave(c.root, replayForce); rerr != nil {
			c.logger.Warn("replayed save failed", "error", rerr)
		}
	}
	return err
}

func (c *Coordinator) save(ctx context.Context, gen uint64, force bool) error {
	c.mu.Lock()
	id := c.noteID
	title, content := c.title, c.content
	seq := c.editSeq
	c.mu.Unlock()

	if id == "" {
		createTitle := strings.TrimSpace(title)
		if createTitle == "" {
			createTitle = "Untitled"
		}
		meta, err := c.api.Create(ctx, createTitle)
		if err != nil {
			return c.finish(gen, seq, model.NoteMeta{}, err, "Create")
		}
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return context.Canceled
		}
		c.noteID = meta.ID
		c.baseRevision = meta.Revision
		c.mu.Unlock()
		id = meta.ID
	}

	c.mu.Lock()
	base := c.baseRevision
	c.mu.Unlock()

	meta, err := c.api.Save(ctx, id, notesapi.SaveRequest{
		Title:        title,
		Content:      content,
		BaseRevision: base,
		Force:        force,
	})
	return c.finish(gen, seq, meta, err, "Save")
}

// finish applies the outcome of a save unless the note was switched or
// closed while it ran.
func (c *Coordinator) finish(gen, seq uint64, meta model.NoteMeta, err error, verb string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		if err == nil {
			return nil
		}
		return err
	}

	var conflict *notesapi.ConflictError
	switch {
	case err == nil:
		c.baseRevision = meta.Revision
		c.banner = ""
		if c.editSeq == seq {
			c.dirty = false
			c.state = StateSaved
		} else {
			c.state = StateDirty
		}
	case errors.As(err, &conflict):
		c.frozen = true
		c.stopDebounceLocked()
		c.conflict = &Conflict{Meta: conflict.Meta, Content: conflict.Content}
		c.state = StateConflict
		c.banner = "Conflict: choose how to resolve."
	case errors.Is(err, context.Canceled):
		c.state = StateDirty
	default:
		c.state = StateError
		c.banner = fmt.Sprintf("%s failed: %s", verb, Describe(err))
	}
	return err
}

// Describe formats a request failure for the banner.
func Describe(err error) string {
	var apiErr *notesapi.APIError
	switch {
	case errors.Is(err, notesapi.ErrTimeout):
		return "timeout. Request timed out (server hung or network issue)."
	case errors.As(err, &apiErr):
		return fmt.Sprintf("%s (HTTP %d)", apiErr.Code, apiErr.Status)
	default:
		return err.Error()
	}
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// UseServer drops the local buffer and adopts the server's version from
// the pending conflict.
func (c *Coordinator) UseServer() error {
	c.mu.Lock()
	if c.conflict == nil {
		c.mu.Unlock()
		return ErrNoConflict
	}
	c.title = c.conflict.Meta.Title
	c.content = c.conflict.Content
	c.baseRevision = c.conflict.Meta.Revision
	c.dirty = false
	c.frozen = false
	c.conflict = nil
	c.banner = ""
	c.state = StateSaved
	c.mu.Unlock()
	c.notify()
	return nil
}

// OverwriteMine force-saves the local buffer on top of the server's version.
func (c *Coordinator) OverwriteMine(ctx context.Context) error {
	c.mu.Lock()
	if c.conflict == nil {
		c.mu.Unlock()
		return ErrNoConflict
	}
	c.baseRevision = c.conflict.Meta.Revision
	c.dirty = true
	c.editSeq++
	c.frozen = false
	c.conflict = nil
	c.banner = ""
	c.state = StateDirty
	c.mu.Unlock()
	c.notify()
	return c.RequestSave(ctx, true)
}

// SaveAsCopy leaves the server's note alone and saves the local buffer as a
// new note titled "<title> (copy)", which becomes the current note.
func (c *Coordinator) SaveAsCopy(ctx context.Context) error {
	c.mu.Lock()
	if c.conflict == nil {
		c.mu.Unlock()
		return ErrNoConflict
	}
	title, content := c.title, c.content
	c.mu.Unlock()

	copyTitle := strings.TrimSpace(title)
	if copyTitle == "" {
		copyTitle = "Untitled"
	}
	copyTitle += " (copy)"

	meta, err := c.api.Create(ctx, copyTitle)
	if err != nil {
		c.mu.Lock()
		c.banner = "Create failed: " + Describe(err)
		c.mu.Unlock()
		c.notify()
		return err
	}

	c.mu.Lock()
	c.generation++
	c.noteID = meta.ID
	c.baseRevision = meta.Revision
	c.title = copyTitle
	c.content = content
	c.frozen = false
	c.conflict = nil
	c.banner = ""
	c.dirty = true
	c.editSeq++
	c.state = StateDirty
	c.mu.Unlock()
	c.notify()
	return c.RequestSave(ctx, false)
}
