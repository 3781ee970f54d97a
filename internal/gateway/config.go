package gateway

import (
	"fmt"
	"time"
)

// Config holds the gateway module configuration.
type Config struct {
	// MatchCode is the shared secret devices present as ?matchCode=. An
	// empty code accepts every device.
	MatchCode         string        `mapstructure:"match_code"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes"`
	MessagesPerSecond float64       `mapstructure:"messages_per_second"`
	Burst             int           `mapstructure:"burst"`
	SendQueue         int           `mapstructure:"send_queue"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		MatchCode:         "autojs6",
		MaxMessageBytes:   10 << 20,
		MessagesPerSecond: 50,
		Burst:             100,
		SendQueue:         256,
		WriteTimeout:      10 * time.Second,
	}
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch {
	case c.MaxMessageBytes <= 0:
		return fmt.Errorf("max_message_bytes must be positive, got %d", c.MaxMessageBytes)
	case c.MessagesPerSecond <= 0:
		return fmt.Errorf("messages_per_second must be positive, got %v", c.MessagesPerSecond)
	case c.Burst < 1:
		return fmt.Errorf("burst must be at least 1, got %d", c.Burst)
	case c.SendQueue < 1:
		return fmt.Errorf("send_queue must be at least 1, got %d", c.SendQueue)
	case c.WriteTimeout <= 0:
		return fmt.Errorf("write_timeout must be positive, got %s", c.WriteTimeout)
	}
	return nil
}
