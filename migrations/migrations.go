// Package migrations embeds SQL migration files and provides a function to apply them.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
)

// Supported dialects; the names match the subdirectories of FS.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// FS contains the embedded SQL migration files.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// Setup points goose at the migrations of dialect and returns the directory
// to pass to goose commands. Callers holding the returned unlock func must
// release it when done.
func Setup(dialect string) (dir string, unlock func(), err error) {
	gooseDialect, err := gooseDialectFor(dialect)
	if err != nil {
		return "", nil, err
	}
	if _, err := fs.Stat(FS, dialect); err != nil {
		return "", nil, fmt.Errorf("migrations for %s: %w", dialect, err)
	}

	gooseMu.Lock()
	goose.SetBaseFS(FS)
	if err := goose.SetDialect(gooseDialect); err != nil {
		gooseMu.Unlock()
		return "", nil, fmt.Errorf("set dialect: %w", err)
	}
	return dialect, gooseMu.Unlock, nil
}

// Run applies all pending migrations to the given database.
func Run(db *sql.DB, dialect string) error {
	dir, unlock, err := Setup(dialect)
	if err != nil {
		return err
	}
	defer unlock()

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func gooseDialectFor(dialect string) (string, error) {
	switch dialect {
	case SQLite:
		return "sqlite3", nil
	case Postgres:
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported migration dialect %q", dialect)
	}
}
