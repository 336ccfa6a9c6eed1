package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dukerupert/fufnotes/internal/model"
	"github.com/dukerupert/fufnotes/internal/notesapi"
	"github.com/dukerupert/fufnotes/internal/savecoord"
)

const (
	maxTitleRunes = 200
	flushTimeout  = notesapi.DefaultSaveTimeout
)

var errUnresolved = errors.New("conflict with the server version; rerun with --on-conflict server, mine or copy")

var (
	watchID         string
	watchTitle      string
	watchOnConflict string
)

var watchCmd = &cobra.Command{
	Use:   "watch <file>",
	Short: "Autosave a local Markdown file to a note as it changes",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchID, "id", "", "existing note to sync with (default: create one on first non-empty save)")
	watchCmd.Flags().StringVar(&watchTitle, "title", "", "note title (default: the file's first line)")
	watchCmd.Flags().StringVar(&watchOnConflict, "on-conflict", "ask", "ask, server, mine or copy")
}

// titleFor derives a note title from the first line of Markdown content.
func titleFor(content string) string {
	line := strings.TrimSpace(strings.TrimLeft(model.FirstLine(content), "#"))
	return model.Truncate(line, maxTitleRunes)
}

// nextTitle keeps the current title while the file's heading is
// unchanged since the last edit.
func nextTitle(current, prevHeading, content string) string {
	h := titleFor(content)
	if current == "" || h != prevHeading {
		return h
	}
	return current
}

func runWatch(cmd *cobra.Command, args []string) error {
	switch watchOnConflict {
	case "ask", "server", "mine", "copy":
	default:
		return fmt.Errorf("--on-conflict must be ask, server, mine or copy, got %q", watchOnConflict)
	}

	c, logger, err := newClient()
	if err != nil {
		return err
	}
	if c.Session() == "" {
		return errNotSignedIn
	}
	file, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conflicts := make(chan struct{}, 1)
	coord := savecoord.New(c,
		savecoord.WithLogger(logger),
		savecoord.WithOnChange(statusReporter(logger, conflicts)),
	)
	defer coord.Close()

	// heading is the title last derived from the file, so a title the
	// server or a conflict resolution picked survives until it changes.
	var heading string
	if watchID != "" {
		note, err := c.Get(ctx, watchID)
		if err != nil {
			return fmt.Errorf("load note %s: %w", watchID, err)
		}
		coord.Open(note)
		heading = titleFor(note.Content)
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			if err := os.WriteFile(file, []byte(note.Content), 0o644); err != nil {
				return err
			}
		}
	}

	pull := func() {
		data, err := os.ReadFile(file)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.Warn("read watched file", "file", file, "error", err)
			}
			return
		}
		content := string(data)
		if _, cur := coord.Buffer(); cur == content {
			return
		}
		t := watchTitle
		if t == "" {
			t = nextTitle(coord.Status().Title, heading, content)
			heading = titleFor(content)
		}
		coord.Edit(t, content)
	}
	pull()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	// Editors often replace the file on save, so watch its directory.
	if err := watcher.Add(filepath.Dir(file)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(file), err)
	}
	logger.Info("watching", "file", file, "server", serverURL)

	for {
		select {
		case <-ctx.Done():
			return flush(coord, logger)

		case ev, ok := <-watcher.Events:
			if !ok {
				return flush(coord, logger)
			}
			if filepath.Clean(ev.Name) != file {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				pull()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return flush(coord, logger)
			}
			logger.Warn("watcher error", "error", err)

		case <-conflicts:
			if err := resolve(ctx, cmd, coord, file); err != nil {
				if errors.Is(err, errUnresolved) {
					return err
				}
				logger.Error("resolve conflict", "error", err)
			}
		}
	}
}

// statusReporter logs state transitions and signals conflicts to the
// watch loop.
func statusReporter(logger *slog.Logger, conflicts chan<- struct{}) func(savecoord.Status) {
	var mu sync.Mutex
	var last savecoord.State
	return func(st savecoord.Status) {
		mu.Lock()
		changed := st.State != last
		last = st.State
		mu.Unlock()
		if !changed {
			return
		}
		switch st.State {
		case savecoord.StateSaved:
			logger.Info("saved", "note", st.NoteID, "revision", st.BaseRevision)
		case savecoord.StateError:
			logger.Error(st.Banner, "note", st.NoteID)
		case savecoord.StateConflict:
			logger.Warn("note changed on the server", "note", st.NoteID, "server_revision", st.Conflict.Meta.Revision)
			select {
			case conflicts <- struct{}{}:
			default:
			}
		default:
			logger.Debug("save state", "state", st.State)
		}
	}
}

func resolve(ctx context.Context, cmd *cobra.Command, coord *savecoord.Coordinator, file string) error {
	choice := watchOnConflict
	if choice == "ask" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return errUnresolved
		}
		st := coord.Status()
		in := bufio.NewReader(cmd.InOrStdin())
		answer, err := prompt(in, cmd.OutOrStdout(), fmt.Sprintf(
			"Note %s was changed elsewhere (server revision %d). Keep [s]erver, [o]verwrite with mine, or save as [c]opy? ",
			st.NoteID, st.Conflict.Meta.Revision))
		if err != nil {
			return err
		}
		switch strings.ToLower(answer) {
		case "s", "server":
			choice = "server"
		case "o", "overwrite", "mine":
			choice = "mine"
		default:
			choice = "copy"
		}
	}

	switch choice {
	case "server":
		if err := coord.UseServer(); err != nil {
			return err
		}
		_, content := coord.Buffer()
		return os.WriteFile(file, []byte(content), 0o644)
	case "mine":
		return coord.OverwriteMine(ctx)
	default:
		return coord.SaveAsCopy(ctx)
	}
}

func flush(coord *savecoord.Coordinator, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	err := coord.Flush(ctx)
	if errors.Is(err, savecoord.ErrFrozen) {
		logger.Warn("exiting with an unresolved conflict; local file kept")
		return nil
	}
	if err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	return nil
}

