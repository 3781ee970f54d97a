package services

import (
	"database/sql"

	"github.com/HerbHall/autofleet/internal/store"
)

// fleetMigrations defines the schema shared by the fleet repositories.
var fleetMigrations = []store.Migration{
	{
		Version:     1,
		Description: "create fleet_device_remarks and fleet_status_events tables",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE fleet_device_remarks (
					device_id  TEXT PRIMARY KEY,
					remark     TEXT NOT NULL DEFAULT '',
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE TABLE fleet_status_events (
					id        TEXT PRIMARY KEY,
					device_id TEXT NOT NULL,
					timestamp INTEGER NOT NULL,
					status    TEXT NOT NULL
				)`,
				`CREATE INDEX idx_fleet_status_events_device_ts ON fleet_status_events(device_id, timestamp)`,
			}
			for _, stmt := range stmts {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// settingsMigrations defines the runtime settings table.
var settingsMigrations = []store.Migration{
	{
		Version:     1,
		Description: "create core_settings table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE TABLE core_settings (
				key        TEXT PRIMARY KEY,
				value      TEXT NOT NULL,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`)
			return err
		},
	},
}
