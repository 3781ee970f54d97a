// Package gateway accepts device WebSocket connections and binds them to the
// fleet registry.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/HerbHall/autofleet/internal/fleet"
	"github.com/HerbHall/autofleet/internal/plugin"
	"github.com/HerbHall/autofleet/internal/services"
	"github.com/HerbHall/autofleet/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin            = (*Plugin)(nil)
	_ plugin.HealthChecker     = (*Plugin)(nil)
	_ plugin.RootRouteProvider = (*Plugin)(nil)
	_ plugin.Dependent         = (*Plugin)(nil)
	_ Sessions                 = (*fleet.Registry)(nil)
)

// Sessions is the part of the fleet registry the gateway drives.
type Sessions interface {
	Attach(deviceID string, conn fleet.Conn)
	MarkOffline(conn fleet.Conn)
	HandleMessage(deviceID string, conn fleet.Conn, data []byte) error
}

// RegistrySource provides the fleet registry once the fleet module is
// initialized.
type RegistrySource interface {
	Registry() *fleet.Registry
}

// matchCodeKey is the settings key of a match code set through the API.
const matchCodeKey = "gateway.match_code"

// Plugin implements the device WebSocket gateway.
type Plugin struct {
	source   RegistrySource
	store    store.Store
	promReg  prometheus.Registerer
	logger   *zap.Logger
	settings services.SettingsRepository

	cfg      Config
	sessions Sessions
	ctx      context.Context // cancelled by Stop
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu    sync.RWMutex
	code  string // match code, replaceable at runtime
	conns map[string]*wsConn

	connections prometheus.Gauge
	handshakes  *prometheus.CounterVec
}

// New creates a gateway that binds connections to the registry of source and
// registers its metrics with reg. A match code changed through the API is
// persisted in s; a nil store keeps it in memory only.
func New(source RegistrySource, s store.Store, reg prometheus.Registerer) *Plugin {
	ctx, cancel := context.WithCancel(context.Background())
	return &Plugin{
		source:  source,
		store:   s,
		promReg: reg,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[string]*wsConn),
	}
}

func (p *Plugin) Name() string           { return "gateway" }
func (p *Plugin) Version() string        { return "0.1.0" }
func (p *Plugin) Dependencies() []string { return []string{"fleet"} }

func (p *Plugin) Init(config plugin.Config, logger *zap.Logger) error {
	p.logger = logger
	cfg := DefaultConfig()
	if err := config.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decode gateway config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}
	p.cfg = cfg
	p.setMatchCode(cfg.MatchCode)

	if p.store != nil {
		ctx := context.Background()
		settings, err := services.NewSQLiteSettingsRepository(ctx, p.store)
		if err != nil {
			return err
		}
		p.settings = settings

		code, err := settings.Get(ctx, matchCodeKey)
		switch {
		case err == nil:
			p.setMatchCode(code)
		case !errors.Is(err, services.ErrNotFound):
			return fmt.Errorf("load match code: %w", err)
		}
	}

	if p.sessions == nil {
		if p.source == nil {
			return errors.New("gateway: no registry source")
		}
		reg := p.source.Registry()
		if reg == nil {
			return errors.New("gateway: fleet registry not initialized")
		}
		p.sessions = reg
	}

	f := promauto.With(p.promReg)
	p.connections = f.NewGauge(prometheus.GaugeOpts{
		Namespace: "autofleet",
		Subsystem: "gateway",
		Name:      "connections",
		Help:      "Open device WebSocket connections.",
	})
	p.handshakes = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autofleet",
		Subsystem: "gateway",
		Name:      "handshakes_total",
		Help:      "Device WebSocket handshakes by result.",
	}, []string{"result"})

	p.logger.Info("gateway module initialized",
		zap.Bool("match_code_required", p.matchCode() != ""),
		zap.Int64("max_message_bytes", cfg.MaxMessageBytes),
		zap.Float64("messages_per_second", cfg.MessagesPerSecond),
	)
	return nil
}

func (p *Plugin) Start(_ context.Context) error {
	p.logger.Info("gateway module started")
	return nil
}

// Stop closes every device connection and waits for their handlers to
// return.
func (p *Plugin) Stop() error {
	p.cancel()
	p.mu.RLock()
	for _, c := range p.conns {
		_ = c.Close()
	}
	p.mu.RUnlock()
	p.wg.Wait()

	if p.logger != nil {
		p.logger.Info("gateway module stopped")
	}
	return nil
}

// Health reports the number of open device connections.
func (p *Plugin) Health(_ context.Context) plugin.HealthStatus {
	if p.sessions == nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: "fleet registry not bound"}
	}
	return plugin.HealthStatus{
		Status:  "healthy",
		Details: map[string]string{"connections": strconv.Itoa(p.connCount())},
	}
}

func (p *Plugin) matchCode() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.code
}

func (p *Plugin) setMatchCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.code = code
}

func (p *Plugin) track(c *wsConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[c.id] = c
	p.connections.Set(float64(len(p.conns)))
}

func (p *Plugin) untrack(c *wsConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, c.id)
	p.connections.Set(float64(len(p.conns)))
}

func (p *Plugin) connCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

func (p *Plugin) conn(id string) (*wsConn, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.conns[id]
	return c, ok
}

// snapshot returns the tracked connections ordered by connect time.
func (p *Plugin) snapshot() []*wsConn {
	p.mu.RLock()
	out := make([]*wsConn, 0, len(p.conns))
	for _, c := range p.conns {
		out = append(out, c)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].connectedAt.Before(out[j].connectedAt) })
	return out
}
