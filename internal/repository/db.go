// Package repository holds the sqlx-backed stores. Queries are written with
// "?" placeholders and rebound for the connected driver, so the same SQL runs
// on PostgreSQL (lib/pq or pgx) and SQLite.
package repository

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/evetabi/tradesim/internal/config"
	_ "github.com/jackc/pgx/v5/stdlib" // "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // "postgres" driver
	_ "github.com/mattn/go-sqlite3" // "sqlite3" driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open connects to the configured store and applies the connection pool
// limits.
func Open(ctx context.Context, cfg config.DBConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("repository.Open %s: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, in file-name order. Each file runs in its own
// transaction.
func Migrate(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	const tracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP    NOT NULL
		)`
	if _, err := db.ExecContext(ctx, tracker); err != nil {
		return fmt.Errorf("repository.Migrate: create tracker: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("repository.Migrate: read dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		var applied int
		if err := db.GetContext(ctx, &applied,
			db.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE filename = ?`), name); err != nil {
			return fmt.Errorf("repository.Migrate: check %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("repository.Migrate: read %s: %w", name, err)
		}
		if err := applyMigration(ctx, db, name, string(data)); err != nil {
			return err
		}
		logger.Info("migration applied", "file", name)
	}
	return nil
}

func applyMigration(ctx context.Context, db *sqlx.DB, name, body string) (txErr error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository.Migrate: begin %s: %w", name, err)
	}
	defer func() {
		if txErr != nil {
			_ = tx.Rollback()
		}
	}()

	// one statement per Exec
	for _, stmt := range strings.Split(body, ";") {
		if strings.TrimSpace(stripComments(stmt)) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("repository.Migrate: exec %s: %w", name, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)`),
		name, time.Now().UTC()); err != nil {
		return fmt.Errorf("repository.Migrate: record %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository.Migrate: commit %s: %w", name, err)
	}
	return nil
}

func stripComments(stmt string) string {
	var b strings.Builder
	for _, line := range strings.Split(stmt, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
