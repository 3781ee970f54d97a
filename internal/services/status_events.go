package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/HerbHall/autofleet/internal/store"
	"github.com/google/uuid"
)

// StatusEvent is a persisted online/offline transition.
type StatusEvent struct {
	ID        string `json:"id"`
	DeviceID  string `json:"deviceId"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds.
	Status    string `json:"status"`
}

// StatusEventRepository is the append-only store of device status transitions.
type StatusEventRepository interface {
	// Append records a transition. If event.ID is empty, a UUID is generated.
	Append(ctx context.Context, event *StatusEvent) error

	// List returns the newest events of a device, newest first.
	List(ctx context.Context, deviceID string, limit int) ([]StatusEvent, error)

	// DeleteDevice removes every event of a device.
	DeleteDevice(ctx context.Context, deviceID string) error
}

// Compile-time interface guard.
var _ StatusEventRepository = (*SQLiteStatusEventRepository)(nil)

// SQLiteStatusEventRepository implements StatusEventRepository on the
// fleet_status_events table.
type SQLiteStatusEventRepository struct {
	db *sql.DB
}

// NewSQLiteStatusEventRepository creates a StatusEventRepository and runs the
// fleet migrations.
func NewSQLiteStatusEventRepository(ctx context.Context, s store.Store) (*SQLiteStatusEventRepository, error) {
	if err := s.Migrate(ctx, "fleet", fleetMigrations); err != nil {
		return nil, fmt.Errorf("fleet migrations: %w", err)
	}
	return &SQLiteStatusEventRepository{db: s.DB()}, nil
}

func (r *SQLiteStatusEventRepository) Append(ctx context.Context, event *StatusEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fleet_status_events (id, device_id, timestamp, status) VALUES (?, ?, ?, ?)`,
		event.ID, event.DeviceID, event.Timestamp, event.Status,
	)
	if err != nil {
		return fmt.Errorf("append status event for %q: %w", event.DeviceID, err)
	}
	return nil
}

func (r *SQLiteStatusEventRepository) List(ctx context.Context, deviceID string, limit int) ([]StatusEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, timestamp, status
		FROM fleet_status_events
		WHERE device_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?`,
		deviceID, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list status events for %q: %w", deviceID, err)
	}
	defer rows.Close()

	events := []StatusEvent{}
	for rows.Next() {
		var e StatusEvent
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Timestamp, &e.Status); err != nil {
			return nil, fmt.Errorf("scan status event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status events: %w", err)
	}
	return events, nil
}

func (r *SQLiteStatusEventRepository) DeleteDevice(ctx context.Context, deviceID string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM fleet_status_events WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("delete status events for %q: %w", deviceID, err)
	}
	return nil
}
