package plugin

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Registry manages the lifecycle of all registered plugins. Plugins are
// initialized and started in registration order and stopped in reverse.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	order   []string
	active  map[string]bool // initialized successfully
	started []string
	logger  *zap.Logger
}

// NewRegistry creates a new plugin registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
		active:  make(map[string]bool),
		logger:  logger,
	}
}

// Register adds a plugin to the registry.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if name == "" {
		return fmt.Errorf("plugin name must not be empty")
	}
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}

	r.plugins[name] = p
	r.order = append(r.order, name)
	r.logger.Info("plugin registered", zap.String("name", name), zap.String("version", p.Version()))
	return nil
}

// InitAll initializes every enabled plugin with its "plugins.<name>" config
// section. Disabled plugins, and plugins whose dependencies are not active,
// are skipped and stay inactive.
func (r *Registry) InitAll(config Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		p := r.plugins[name]

		if !config.GetBool("plugins." + name + ".enabled") {
			r.logger.Info("plugin disabled, skipping", zap.String("name", name))
			continue
		}
		if missing := r.missingDependency(p); missing != "" {
			r.logger.Warn("plugin dependency not active, skipping",
				zap.String("name", name),
				zap.String("dependency", missing),
			)
			continue
		}

		r.logger.Info("initializing plugin", zap.String("name", name))
		if err := p.Init(config.Sub("plugins."+name), r.logger.Named(name)); err != nil {
			return fmt.Errorf("failed to initialize plugin %q: %w", name, err)
		}
		r.active[name] = true
	}
	return nil
}

func (r *Registry) missingDependency(p Plugin) string {
	d, ok := p.(Dependent)
	if !ok {
		return ""
	}
	for _, dep := range d.Dependencies() {
		if !r.active[dep] {
			return dep
		}
	}
	return ""
}

// StartAll starts all initialized plugins.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		if !r.active[name] {
			continue
		}
		r.logger.Info("starting plugin", zap.String("name", name))
		if err := r.plugins[name].Start(ctx); err != nil {
			return fmt.Errorf("failed to start plugin %q: %w", name, err)
		}
		r.started = append(r.started, name)
	}
	return nil
}

// StopAll stops started plugins in reverse order.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.started) - 1; i >= 0; i-- {
		name := r.started[i]
		r.logger.Info("stopping plugin", zap.String("name", name))
		if err := r.plugins[name].Stop(); err != nil {
			r.logger.Error("failed to stop plugin", zap.String("name", name), zap.Error(err))
		}
	}
	r.started = nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// IsActive reports whether the named plugin initialized successfully.
func (r *Registry) IsActive(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[name]
}

// All returns all registered plugins in registration order.
func (r *Registry) All() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.plugins[name])
	}
	return result
}

// AllRoutes returns the routes of every active plugin, keyed by plugin name.
func (r *Registry) AllRoutes() map[string][]Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string][]Route)
	for _, name := range r.order {
		if !r.active[name] {
			continue
		}
		if pr := r.plugins[name].Routes(); len(pr) > 0 {
			routes[name] = pr
		}
	}
	return routes
}

// RootRoutes returns the unprefixed routes of every active plugin.
func (r *Registry) RootRoutes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var routes []Route
	for _, name := range r.order {
		if !r.active[name] {
			continue
		}
		if rp, ok := r.plugins[name].(RootRouteProvider); ok {
			routes = append(routes, rp.RootRoutes()...)
		}
	}
	return routes
}

// Health collects the health of every active plugin that reports one.
func (r *Registry) Health(ctx context.Context) map[string]HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]HealthStatus)
	for _, name := range r.order {
		if !r.active[name] {
			continue
		}
		if hc, ok := r.plugins[name].(HealthChecker); ok {
			out[name] = hc.Health(ctx)
		}
	}
	return out
}
