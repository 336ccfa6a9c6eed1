// Package database opens the SQLite store and applies the embedded schema.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Connection pragmas: WAL for concurrent readers during backups, enforced
// foreign keys for the cascades, and a busy timeout instead of SQLITE_BUSY.
const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_time_format=sqlite"

// Open opens the database at dbPath and brings its schema up to date.
// ":memory:" gives a private database, which is what the tests use.
func Open(dbPath string) (*sql.DB, error) {
	db, _, err := open(context.Background(), dbPath)
	return db, err
}

// Migrate applies pending migrations and closes the handle. It returns the
// versions that were applied, oldest first.
func Migrate(ctx context.Context, dbPath string) ([]int64, error) {
	db, applied, err := open(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	return applied, db.Close()
}

func open(ctx context.Context, dbPath string) (*sql.DB, []int64, error) {
	db, err := sql.Open("sqlite", dbPath+"?"+pragmas)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	// Each connection to ":memory:" would be a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping db: %w", err)
	}

	applied, err := up(ctx, db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, applied, nil
}

func up(ctx context.Context, db *sql.DB) ([]int64, error) {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose up: %w", err)
	}
	versions := make([]int64, 0, len(results))
	for _, r := range results {
		versions = append(versions, r.Source.Version)
	}
	return versions, nil
}
