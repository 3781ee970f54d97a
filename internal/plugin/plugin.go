// Package plugin defines the module contract and the registry that drives
// module lifecycles.
package plugin

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Route represents an HTTP route exposed by a plugin.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Config is the configuration view handed to a plugin. Keys are relative to
// the plugin's own section.
type Config interface {
	Unmarshal(target any) error
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetDuration(key string) time.Duration
	IsSet(key string) bool
	Sub(key string) Config
}

// Plugin defines the interface that all Autofleet modules must implement.
type Plugin interface {
	// Name returns the plugin's unique identifier (e.g., "fleet", "gateway").
	Name() string

	// Version returns the plugin's semantic version.
	Version() string

	// Init initializes the plugin with configuration and logger.
	Init(config Config, logger *zap.Logger) error

	// Start begins the plugin's background operations.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the plugin.
	Stop() error

	// Routes returns the HTTP routes this plugin exposes under
	// /api/v1/{name}.
	Routes() []Route
}
