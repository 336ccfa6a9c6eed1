// Command notesync signs in to a fufnotes server and keeps a local Markdown
// file in sync with a note.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/fufnotes/internal/logging"
	"github.com/dukerupert/fufnotes/internal/notesapi"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	serverURL   string
	sessionFile string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:          "notesync",
	Short:        "Terminal client for a fufnotes server",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("NOTESYNC_SERVER", "http://localhost:8080"), "fufnotes base URL")
	rootCmd.PersistentFlags().StringVar(&sessionFile, "session-file", "", "where the session is kept (default <user config dir>/notesync/session)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("NOTESYNC_LOG_LEVEL", "info"), "debug, info, warn or error")
	rootCmd.AddCommand(loginCmd, listCmd, watchCmd, logoutCmd)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// newClient builds an API client seeded with the stored session, if any.
func newClient() (*notesapi.Client, *slog.Logger, error) {
	logger := logging.Setup(logLevel, "text")
	path, err := sessionPath(sessionFile)
	if err != nil {
		return nil, nil, err
	}
	id, err := readSession(path)
	if err != nil {
		return nil, nil, err
	}
	c, err := notesapi.New(serverURL, notesapi.WithSession(id))
	if err != nil {
		return nil, nil, err
	}
	return c, logger, nil
}
