package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/autofleet/internal/store"
)

// SettingsRepository stores values changed at runtime through the API so
// they survive a restart.
type SettingsRepository interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set creates or replaces the value stored under key.
	Set(ctx context.Context, key, value string) error
}

// Compile-time interface guard.
var _ SettingsRepository = (*SQLiteSettingsRepository)(nil)

// SQLiteSettingsRepository implements SettingsRepository on core_settings.
type SQLiteSettingsRepository struct {
	db *sql.DB
}

// NewSQLiteSettingsRepository creates a SettingsRepository and runs the
// core_settings migration.
func NewSQLiteSettingsRepository(ctx context.Context, s store.Store) (*SQLiteSettingsRepository, error) {
	if err := s.Migrate(ctx, "core", settingsMigrations); err != nil {
		return nil, fmt.Errorf("core settings migrations: %w", err)
	}
	return &SQLiteSettingsRepository{db: s.DB()}, nil
}

func (r *SQLiteSettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM core_settings WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (r *SQLiteSettingsRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO core_settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}
