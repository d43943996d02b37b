// Command migrate manages the dashboard database: schema migrations and the
// listing change log that the dashboard tails.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"botdash/internal/storage"
	"botdash/migrations"
)

const usage = `Usage: migrate [-db path] [-older duration] <command>

Schema:
  up        apply all pending migrations
  up-one    apply the next migration
  down      roll back the latest migration
  status    list migrations and whether they are applied
  version   print the applied schema version
  reset     roll back every migration

Change log:
  prune     drop listing_changes rows older than -older
`

var errUsage = errors.New("usage")

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		log.Error("migrate failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dbPath := fs.String("db", envOrDefault("DATABASE_PATH", "./data/dashboard.db"), "path to sqlite database")
	older := fs.Duration("older", 24*time.Hour, "age of change log rows removed by prune")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 {
		return errUsage
	}

	cmd := fs.Arg(0)
	if cmd == "prune" {
		return prune(*dbPath, *older, out)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Setup(); err != nil {
		return err
	}

	switch cmd {
	case "up":
		err = goose.Up(db, ".")
	case "up-one":
		err = goose.UpByOne(db, ".")
	case "down":
		err = goose.Down(db, ".")
	case "status":
		err = goose.Status(db, ".")
	case "reset":
		err = goose.Reset(db, ".")
	case "version":
		var v int64
		if v, err = migrations.Version(db); err == nil {
			fmt.Fprintf(out, "schema version %d (%s)\n", v, *dbPath)
		}
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

// prune opens the store, which brings the schema up to date, and trims the
// change log.
func prune(path string, older time.Duration, out io.Writer) error {
	if older <= 0 {
		return fmt.Errorf("%w: -older must be positive", errUsage)
	}
	store, err := storage.NewSQLite(path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", path, err)
	}
	defer func() { _ = store.Close() }()

	n, err := store.PruneChanges(context.Background(), time.Now().Add(-older))
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	fmt.Fprintf(out, "removed %d change log rows older than %s\n", n, older)
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
