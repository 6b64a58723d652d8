// Command migrate manages the bot's SQLite schema from the command line.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"rsspush/internal/config"
	"rsspush/migrations"
)

var commands = map[string]func(db *sql.DB) error{
	"up":      func(db *sql.DB) error { return goose.Up(db, ".") },
	"up-one":  func(db *sql.DB) error { return goose.UpByOne(db, ".") },
	"down":    func(db *sql.DB) error { return goose.Down(db, ".") },
	"redo":    func(db *sql.DB) error { return goose.Redo(db, ".") },
	"status":  func(db *sql.DB) error { return goose.Status(db, ".") },
	"version": func(db *sql.DB) error { return goose.Version(db, ".") },
	"reset":   func(db *sql.DB) error { return goose.Reset(db, ".") },
}

func main() {
	dbPath := flag.String("db", envOr("DATABASE_PATH", config.DefaultDatabasePath), "sqlite database file")
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	name := flag.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "migrate: unknown command %q\n\n", name)
		usage()
		os.Exit(2)
	}

	if err := run(*dbPath, cmd); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %s: %v\n", name, err)
		os.Exit(1)
	}
}

func run(dbPath string, cmd func(*sql.DB) error) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return cmd(db)
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: migrate [-db file] <command>

Commands:
  up       apply all pending migrations
  up-one   apply the next pending migration
  down     roll back the most recent migration
  redo     roll back and re-apply the most recent migration
  status   print the status of every migration
  version  print the current schema version
  reset    roll back everything`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
