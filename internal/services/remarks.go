package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/autofleet/internal/store"
)

// RemarkRepository stores the free-text operator remark of each device.
type RemarkRepository interface {
	// Get returns the remark of a device, or ErrNotFound.
	Get(ctx context.Context, deviceID string) (string, error)

	// GetAll returns every stored remark keyed by device ID.
	GetAll(ctx context.Context) (map[string]string, error)

	// Set creates or replaces the remark of a device.
	Set(ctx context.Context, deviceID, remark string) error

	// Delete removes the remark of a device.
	Delete(ctx context.Context, deviceID string) error
}

// Compile-time interface guard.
var _ RemarkRepository = (*SQLiteRemarkRepository)(nil)

// SQLiteRemarkRepository implements RemarkRepository on fleet_device_remarks.
type SQLiteRemarkRepository struct {
	db *sql.DB
}

// NewSQLiteRemarkRepository creates a RemarkRepository and runs the fleet
// migrations.
func NewSQLiteRemarkRepository(ctx context.Context, s store.Store) (*SQLiteRemarkRepository, error) {
	if err := s.Migrate(ctx, "fleet", fleetMigrations); err != nil {
		return nil, fmt.Errorf("fleet migrations: %w", err)
	}
	return &SQLiteRemarkRepository{db: s.DB()}, nil
}

func (r *SQLiteRemarkRepository) Get(ctx context.Context, deviceID string) (string, error) {
	var remark string
	err := r.db.QueryRowContext(ctx,
		`SELECT remark FROM fleet_device_remarks WHERE device_id = ?`, deviceID,
	).Scan(&remark)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get remark %q: %w", deviceID, err)
	}
	return remark, nil
}

func (r *SQLiteRemarkRepository) GetAll(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT device_id, remark FROM fleet_device_remarks`)
	if err != nil {
		return nil, fmt.Errorf("list remarks: %w", err)
	}
	defer rows.Close()

	remarks := make(map[string]string)
	for rows.Next() {
		var id, remark string
		if err := rows.Scan(&id, &remark); err != nil {
			return nil, fmt.Errorf("scan remark row: %w", err)
		}
		remarks[id] = remark
	}
	return remarks, rows.Err()
}

func (r *SQLiteRemarkRepository) Set(ctx context.Context, deviceID, remark string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fleet_device_remarks (device_id, remark, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET remark = excluded.remark, updated_at = excluded.updated_at`,
		deviceID, remark, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set remark %q: %w", deviceID, err)
	}
	return nil
}

func (r *SQLiteRemarkRepository) Delete(ctx context.Context, deviceID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM fleet_device_remarks WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("delete remark %q: %w", deviceID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
