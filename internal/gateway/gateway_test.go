package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/autofleet/internal/config"
	"github.com/HerbHall/autofleet/internal/fleet"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticSource struct{ reg *fleet.Registry }

func (s staticSource) Registry() *fleet.Registry { return s.reg }

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"max message bytes", func(c *Config) { c.MaxMessageBytes = 0 }, "max_message_bytes"},
		{"rate", func(c *Config) { c.MessagesPerSecond = -1 }, "messages_per_second"},
		{"burst", func(c *Config) { c.Burst = 0 }, "burst"},
		{"send queue", func(c *Config) { c.SendQueue = 0 }, "send_queue"},
		{"write timeout", func(c *Config) { c.WriteTimeout = 0 }, "write_timeout"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestPlugin_Metadata(t *testing.T) {
	p := New(nil, nil, nil)
	assert.Equal(t, "gateway", p.Name())
	assert.NotEmpty(t, p.Version())
	assert.Equal(t, []string{"fleet"}, p.Dependencies())
	assert.Len(t, p.RootRoutes(), 1)
	assert.Equal(t, "/ws/device", p.RootRoutes()[0].Path)
}

func TestInit_RequiresRegistry(t *testing.T) {
	err := New(nil, nil, prometheus.NewRegistry()).Init(config.New(viper.New()), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no registry source")

	err = New(staticSource{}, nil, prometheus.NewRegistry()).Init(config.New(viper.New()), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestInit_RejectsInvalidConfig(t *testing.T) {
	v := viper.New()
	v.Set("burst", 0)
	reg := fleet.NewRegistry(fleet.DefaultConfig(), zap.NewNop())

	err := New(staticSource{reg}, nil, prometheus.NewRegistry()).Init(config.New(v), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "burst")
}

func TestInit_AppliesConfig(t *testing.T) {
	v := viper.New()
	v.Set("match_code", "fleet-42")
	v.Set("max_message_bytes", 2048)
	v.Set("write_timeout", "3s")
	reg := fleet.NewRegistry(fleet.DefaultConfig(), zap.NewNop())

	p := New(staticSource{reg}, nil, prometheus.NewRegistry())
	require.NoError(t, p.Init(config.New(v), zap.NewNop()))

	assert.Equal(t, "fleet-42", p.matchCode())
	assert.Equal(t, int64(2048), p.cfg.MaxMessageBytes)
	assert.Equal(t, 3*time.Second, p.cfg.WriteTimeout)
	assert.Equal(t, DefaultConfig().SendQueue, p.cfg.SendQueue)
}

func TestHealth(t *testing.T) {
	p := New(nil, nil, nil)
	assert.Equal(t, "unhealthy", p.Health(context.Background()).Status)

	reg := fleet.NewRegistry(fleet.DefaultConfig(), zap.NewNop())
	p = New(staticSource{reg}, nil, prometheus.NewRegistry())
	require.NoError(t, p.Init(config.New(viper.New()), zap.NewNop()))

	h := p.Health(context.Background())
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "0", h.Details["connections"])
}

func TestTrackUpdatesGauge(t *testing.T) {
	reg := fleet.NewRegistry(fleet.DefaultConfig(), zap.NewNop())
	p := New(staticSource{reg}, nil, prometheus.NewRegistry())
	require.NoError(t, p.Init(config.New(viper.New()), zap.NewNop()))

	a := newConn(nil, "a", "10.0.0.1:1", p.cfg, zap.NewNop())
	b := newConn(nil, "b", "10.0.0.2:1", p.cfg, zap.NewNop())
	b.connectedAt = a.connectedAt.Add(time.Second)
	p.track(b)
	p.track(a)
	assert.Equal(t, 2.0, promtest.ToFloat64(p.connections))

	snap := p.snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].deviceID, "snapshot is ordered by connect time")

	got, ok := p.conn(b.id)
	require.True(t, ok)
	assert.Same(t, b, got)

	p.untrack(a)
	assert.Equal(t, 1.0, promtest.ToFloat64(p.connections))
	assert.Equal(t, 1, p.connCount())
}

func TestConn_SendQueuesUntilFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendQueue = 2
	c := newConn(nil, "dev-1", "10.0.0.1:5000", cfg, zap.NewNop())

	assert.True(t, c.IsOpen())
	assert.NotEmpty(t, c.ID())
	require.NoError(t, c.Send([]byte("one")))
	require.NoError(t, c.Send([]byte("two")))
	assert.Equal(t, 2, c.queued())

	err := c.Send([]byte("three"))
	assert.True(t, errors.Is(err, errSendQueueFull), "got %v", err)
}

func TestConn_SendAfterClose(t *testing.T) {
	c := newConn(nil, "dev-1", "10.0.0.1:5000", DefaultConfig(), zap.NewNop())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "second close is a no-op")
	assert.False(t, c.IsOpen())
	assert.ErrorIs(t, c.Send([]byte("x")), errConnClosed)
}

func TestConn_IDsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for range 20 {
		c := newConn(nil, "dev-1", "", DefaultConfig(), zap.NewNop())
		require.False(t, seen[c.ID()], "duplicate id %s", c.ID())
		require.True(t, strings.Count(c.ID(), "-") == 4, "want a uuid, got %s", c.ID())
		seen[c.ID()] = true
	}
}
