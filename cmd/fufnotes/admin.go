package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dukerupert/fufnotes/internal/backup"
	"github.com/dukerupert/fufnotes/internal/database"
	"github.com/dukerupert/fufnotes/internal/server"
	"github.com/dukerupert/fufnotes/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		applied, err := database.Migrate(cmd.Context(), cfg.DBPath)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", "db", cfg.DBPath, "versions", applied)
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired sessions and backups past retention",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := store.NewSessionStore(db).DeleteExpired(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info("pruned sessions", "count", n)

		err = server.NewBackupManager(db, cfg.Backup, logger).Cleanup(cmd.Context())
		if err != nil && !errors.Is(err, backup.ErrDisabled) {
			return err
		}
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Upload one encrypted backup now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		b, err := server.NewBackupManager(db, cfg.Backup, logger).RunNow(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "backup %d uploaded to %s (%d bytes)\n", b.ID, b.ObjectKey, b.SizeBytes)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent backups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		backups, err := store.NewBackupStore(db).List(cmd.Context(), 50)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tSIZE\tCREATED\tKEY")
		for _, b := range backups {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", b.ID, b.Status, b.SizeBytes, b.CreatedAt.Format("2006-01-02 15:04"), b.ObjectKey)
		}
		return tw.Flush()
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <id> <dest.db>",
	Short: "Download and decrypt a backup into a new database file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("backup id %q: %w", args[0], err)
		}
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := server.NewBackupManager(db, cfg.Backup, logger).Restore(cmd.Context(), id, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored backup %d to %s\n", id, args[1])
		return nil
	},
}

func init() {
	backupCmd.AddCommand(backupListCmd, backupRestoreCmd)
}
