// Package fleet tracks connected devices: their sessions and liveness, the
// online/offline ledger, script runs and log tails, and command dispatch.
package fleet

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/HerbHall/autofleet/internal/plugin"
	"github.com/HerbHall/autofleet/internal/services"
	"github.com/HerbHall/autofleet/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Module is the fleet plugin. It owns the Registry, runs the heartbeat
// sweeper and serves the device HTTP API.
type Module struct {
	store    store.Store
	promReg  prometheus.Registerer
	logger   *zap.Logger
	cfg      Config
	clock    Clock
	registry *Registry
	events   services.StatusEventRepository

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a fleet module persisting to s and registering its metrics
// with reg.
func New(s store.Store, reg prometheus.Registerer) *Module {
	return &Module{store: s, promReg: reg, clock: systemClock{}}
}

func (m *Module) Name() string    { return "fleet" }
func (m *Module) Version() string { return "0.1.0" }

func (m *Module) Init(config plugin.Config, logger *zap.Logger) error {
	m.logger = logger
	m.cfg = DefaultConfig()
	if err := config.Unmarshal(&m.cfg); err != nil {
		return fmt.Errorf("decode fleet config: %w", err)
	}
	if err := m.cfg.Validate(); err != nil {
		return fmt.Errorf("fleet config: %w", err)
	}

	ctx := context.Background()
	events, err := services.NewSQLiteStatusEventRepository(ctx, m.store)
	if err != nil {
		return err
	}
	remarks, err := services.NewSQLiteRemarkRepository(ctx, m.store)
	if err != nil {
		return err
	}
	m.events = events

	m.registry = NewRegistry(m.cfg, logger,
		WithClock(m.clock),
		WithPersister(NewRepoPersister(events, remarks)),
		WithMetrics(NewMetrics(m.promReg)),
	)
	if err := m.registry.LoadRemarks(ctx); err != nil {
		m.logger.Warn("failed to load remarks", zap.Error(err))
	}

	m.logger.Info("fleet module initialized",
		zap.Duration("heartbeat_timeout", m.cfg.HeartbeatTimeout),
		zap.Duration("check_interval", m.cfg.CheckInterval),
	)
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		m.registry.RunSweeper(ctx, m.cfg.CheckInterval)
	}()
	m.logger.Info("fleet module started")
	return nil
}

func (m *Module) Stop() error {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	if m.registry != nil {
		m.registry.Flush()
	}
	if m.logger != nil {
		m.logger.Info("fleet module stopped")
	}
	return nil
}

// Registry returns the device registry, or nil before Init.
func (m *Module) Registry() *Registry {
	return m.registry
}

// Health reports the number of known and online devices.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.registry == nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: "registry not initialized"}
	}
	total, online := m.registry.Counts()
	return plugin.HealthStatus{
		Status: "healthy",
		Details: map[string]string{
			"devices": strconv.Itoa(total),
			"online":  strconv.Itoa(online),
		},
	}
}

// RunSweeper checks heartbeats every interval until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.CheckHeartbeats(); n > 0 {
				r.logger.Debug("heartbeat sweep", zap.Int("expired", n))
			}
		}
	}
}

// Counts returns the number of known devices and how many are online.
func (r *Registry) Counts() (total, online int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices), r.online
}
