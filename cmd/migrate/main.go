// Command migrate manages the score store schema.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the sqlite driver

	"github.com/okian/spotted/migrations"
	"github.com/okian/spotted/pkg/logger"
)

const usage = `Usage: migrate [-driver sqlite|postgres] [-dsn dsn] <command>

Commands:
  up          Migrate to the latest version
  up-one      Migrate one version up
  down        Roll back one version
  status      Show migration status
  version     Show current version
  reset       Roll back all migrations
`

func main() {
	driver := flag.String("driver", envOrDefault("SPOTTED_STORE_DRIVER", migrations.SQLite), "store driver: sqlite or postgres")
	dsn := flag.String("dsn", envOrDefault("SPOTTED_STORE_DSN", "spotted.db"), "database DSN or sqlite path")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	ctx := context.Background()
	log := logger.Named("migrate")

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	db, err := open(*driver, *dsn)
	if err != nil {
		log.Fatal(ctx, "open database", logger.Error(err))
	}
	defer func() { _ = db.Close() }()

	if err := migrate(db, *driver, args[0]); err != nil {
		_ = db.Close()
		log.Fatal(ctx, "migration failed", logger.String("command", args[0]), logger.Error(err))
	}
	log.Info(ctx, "migration done", logger.String("command", args[0]), logger.String("driver", *driver))
}

func open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case migrations.SQLite:
		return sql.Open("sqlite", dsn)
	case migrations.Postgres:
		return sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unknown driver %q", driver)
	}
}

// migrate runs one goose command against db.
func migrate(db *sql.DB, driver, cmd string) error {
	dir, unlock, err := migrations.Setup(driver)
	if err != nil {
		return err
	}
	defer unlock()

	switch cmd {
	case "up":
		err = goose.Up(db, dir)
	case "up-one":
		err = goose.UpByOne(db, dir)
	case "down":
		err = goose.Down(db, dir)
	case "status":
		err = goose.Status(db, dir)
	case "version":
		err = goose.Version(db, dir)
	case "reset":
		err = goose.Reset(db, dir)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
