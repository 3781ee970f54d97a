package fleet

import (
	"fmt"
	"time"

	"github.com/HerbHall/autofleet/pkg/protocol"
)

// Config holds the fleet module configuration.
type Config struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	CheckInterval    time.Duration `mapstructure:"check_interval"`
	StatusRetention  time.Duration `mapstructure:"status_retention"`
	MaxRunHistory    int           `mapstructure:"max_run_history"`
	MaxLogTail       int           `mapstructure:"max_log_tail"`
	PersistTimeout   time.Duration `mapstructure:"persist_timeout"`
}

// DefaultConfig returns the default fleet configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout: 120 * time.Second,
		CheckInterval:    5 * time.Second,
		StatusRetention:  7 * 24 * time.Hour,
		MaxRunHistory:    50,
		MaxLogTail:       protocol.SnapshotTailLines,
		PersistTimeout:   5 * time.Second,
	}
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch {
	case c.HeartbeatTimeout <= 0:
		return fmt.Errorf("heartbeat_timeout must be positive, got %s", c.HeartbeatTimeout)
	case c.CheckInterval <= 0:
		return fmt.Errorf("check_interval must be positive, got %s", c.CheckInterval)
	case c.StatusRetention <= 0:
		return fmt.Errorf("status_retention must be positive, got %s", c.StatusRetention)
	case c.MaxRunHistory <= 0:
		return fmt.Errorf("max_run_history must be positive, got %d", c.MaxRunHistory)
	case c.MaxLogTail <= 0:
		return fmt.Errorf("max_log_tail must be positive, got %d", c.MaxLogTail)
	case c.PersistTimeout <= 0:
		return fmt.Errorf("persist_timeout must be positive, got %s", c.PersistTimeout)
	}
	return nil
}

// withDefaults fills zero settings from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.StatusRetention <= 0 {
		c.StatusRetention = d.StatusRetention
	}
	if c.MaxRunHistory <= 0 {
		c.MaxRunHistory = d.MaxRunHistory
	}
	if c.MaxLogTail <= 0 {
		c.MaxLogTail = d.MaxLogTail
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = d.PersistTimeout
	}
	return c
}
