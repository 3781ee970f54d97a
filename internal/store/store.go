// Package store owns the SQLite database shared by all plugins.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Migration is a single schema step owned by a plugin.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// Store is the persistence surface handed to repositories.
type Store interface {
	DB() *sql.DB
	Tx(ctx context.Context, fn func(tx *sql.Tx) error) error
	Migrate(ctx context.Context, owner string, migrations []Migration) error
}

// Compile-time interface guard.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore wraps a *sql.DB opened with modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex // Serialize migrations
	once sync.Once
	err  error
}

// New opens (or creates) a SQLite database at path. The parent directory is
// created when missing. ":memory:" opens a private in-memory database.
func New(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir %q: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// One connection: writes are serialized and ":memory:" stays a single database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying *sql.DB for repositories.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Tx executes fn within a transaction, committing when fn returns nil.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}

// Migrate applies the pending migrations of owner in ascending version order.
// Applied versions are tracked in the shared _migrations table.
func (s *SQLiteStore) Migrate(ctx context.Context, owner string, migrations []Migration) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range migrations {
		applied, err := s.isMigrationApplied(ctx, owner, m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		if err := s.applyMigration(ctx, owner, m); err != nil {
			return fmt.Errorf("migration %s/%d (%s): %w", owner, m.Version, m.Description, err)
		}
	}

	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ensureMigrationsTable(ctx context.Context) error {
	s.once.Do(func() {
		_, s.err = s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS _migrations (
				owner       TEXT    NOT NULL,
				version     INTEGER NOT NULL,
				description TEXT    NOT NULL,
				applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (owner, version)
			)
		`)
	})
	if s.err != nil {
		return fmt.Errorf("create _migrations: %w", s.err)
	}
	return nil
}

func (s *SQLiteStore) isMigrationApplied(ctx context.Context, owner string, version int) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM _migrations WHERE owner = ? AND version = ?",
		owner, version,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check migration %s/%d: %w", owner, version, err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) applyMigration(ctx context.Context, owner string, m Migration) error {
	return s.Tx(ctx, func(tx *sql.Tx) error {
		if err := m.Up(tx); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			"INSERT INTO _migrations (owner, version, description) VALUES (?, ?, ?)",
			owner, m.Version, m.Description,
		)
		return err
	})
}
