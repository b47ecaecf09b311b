// Command migrate applies the SQL files in migrations/ and records them in
// schema_migrations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/tokenswallet/wallet-backend/internal/logger"
)

// migration is one SQL file to run in the chosen direction
type migration struct {
	Version string
	Path    string
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Failed to load .env: %v", err)
	}
	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	var (
		dsn       = flag.String("dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
		dir       = flag.String("dir", "migrations", "Directory containing *.up.sql and *.down.sql files")
		direction = flag.String("direction", "up", "Migration direction: up or down")
		steps     = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	if *direction != "up" && *direction != "down" {
		log.Fatalf("direction must be 'up' or 'down', got %q", *direction)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		log.Fatal(err)
	}

	files, err := filepath.Glob(filepath.Join(resolveDir(*dir), "*"+suffixFor(*direction)))
	if err != nil {
		log.Fatalf("Failed to find migration files: %v", err)
	}

	todo := plan(files, applied, *direction, *steps)
	if len(todo) == 0 {
		slog.Info("no migrations to apply")
		return
	}

	for _, m := range todo {
		if err := run(ctx, pool, m, *direction); err != nil {
			log.Fatal(err)
		}
		slog.Info("applied migration", "version", m.Version, "direction", *direction)
	}
	slog.Info("migrations complete", "count", len(todo))
}

// resolveDir falls back to a directory next to the executable
func resolveDir(dir string) string {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if execPath, err := os.Executable(); err == nil {
			return filepath.Join(filepath.Dir(execPath), filepath.Base(dir))
		}
	}
	return dir
}

func suffixFor(direction string) string {
	if direction == "down" {
		return ".down.sql"
	}
	return ".up.sql"
}

// plan orders files and keeps the ones that still need to run: unapplied
// versions going up, applied ones (newest first) going down. steps > 0
// caps the result.
func plan(files []string, applied map[string]bool, direction string, steps int) []migration {
	suffix := suffixFor(direction)

	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	if direction == "down" {
		sort.Sort(sort.Reverse(sort.StringSlice(sorted)))
	}

	var out []migration
	for _, file := range sorted {
		version := strings.TrimSuffix(filepath.Base(file), suffix)
		if applied[version] != (direction == "down") {
			continue
		}
		if steps > 0 && len(out) >= steps {
			break
		}
		out = append(out, migration{Version: version, Path: file})
	}
	return out
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	return applied, nil
}

// run executes one file and updates schema_migrations in the same transaction
func run(ctx context.Context, pool *pgxpool.Pool, m migration, direction string) error {
	content, err := os.ReadFile(m.Path)
	if err != nil {
		return fmt.Errorf("failed to read migration file %s: %w", m.Path, err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", m.Path, err)
	}

	record := "INSERT INTO schema_migrations (version) VALUES ($1)"
	if direction == "down" {
		record = "DELETE FROM schema_migrations WHERE version = $1"
	}
	if _, err := tx.Exec(ctx, record, m.Version); err != nil {
		return fmt.Errorf("failed to update migrations table: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
	}
	return nil
}
