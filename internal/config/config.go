// Package config loads server configuration with Viper and adapts it to the
// plugin.Config view.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/HerbHall/autofleet/internal/plugin"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g. AUTOFLEET_SERVER_PORT.
const EnvPrefix = "AUTOFLEET"

// Load reads configuration from path (optional), environment variables and
// built-in defaults, in decreasing precedence.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		return v, nil
	}

	v.SetConfigName("autofleet")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/autofleet")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// SetDefaults registers the default value of every known key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "4000")
	v.SetDefault("database.path", "data/autofleet.db")

	v.SetDefault("plugins.fleet.enabled", true)
	v.SetDefault("plugins.fleet.heartbeat_timeout", "120s")
	v.SetDefault("plugins.fleet.check_interval", "5s")
	v.SetDefault("plugins.fleet.status_retention", "168h")
	v.SetDefault("plugins.fleet.max_run_history", 50)
	v.SetDefault("plugins.fleet.max_log_tail", 500)
	v.SetDefault("plugins.fleet.persist_timeout", "5s")

	v.SetDefault("plugins.gateway.enabled", true)
	v.SetDefault("plugins.gateway.match_code", "autojs6")
	v.SetDefault("plugins.gateway.max_message_bytes", 10<<20)
	v.SetDefault("plugins.gateway.messages_per_second", 50)
	v.SetDefault("plugins.gateway.burst", 100)
	v.SetDefault("plugins.gateway.send_queue", 256)
	v.SetDefault("plugins.gateway.write_timeout", "10s")
}

// Dump writes the effective configuration of v to w as YAML.
func Dump(v *viper.Viper, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v.AllSettings()); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// Compile-time interface guard.
var _ plugin.Config = (*ViperConfig)(nil)

// ViperConfig implements plugin.Config on a *viper.Viper. A nil viper
// behaves as an empty configuration.
type ViperConfig struct {
	v *viper.Viper
}

// New wraps v.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

func (c *ViperConfig) Unmarshal(target any) error           { return c.v.Unmarshal(target) }
func (c *ViperConfig) GetString(key string) string          { return c.v.GetString(key) }
func (c *ViperConfig) GetInt(key string) int                { return c.v.GetInt(key) }
func (c *ViperConfig) GetBool(key string) bool              { return c.v.GetBool(key) }
func (c *ViperConfig) IsSet(key string) bool                { return c.v.IsSet(key) }
func (c *ViperConfig) GetDuration(key string) time.Duration { return c.v.GetDuration(key) }

// Sub returns the section under key with every source resolved, so
// defaults and environment overrides of nested keys survive. A missing
// section yields an empty config, never nil.
func (c *ViperConfig) Sub(key string) plugin.Config {
	prefix := strings.ToLower(key) + "."
	sub := viper.New()
	for _, k := range c.v.AllKeys() {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			sub.Set(rest, c.v.Get(k))
		}
	}
	return &ViperConfig{v: sub}
}

// Viper returns the wrapped instance.
func (c *ViperConfig) Viper() *viper.Viper {
	return c.v
}
