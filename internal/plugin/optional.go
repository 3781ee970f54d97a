package plugin

import "context"

// HealthStatus is a plugin's self-reported health.
type HealthStatus struct {
	Status  string            `json:"status"` // "healthy", "degraded" or "unhealthy"
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// HealthChecker is implemented by plugins that report their health status.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// RootRouteProvider is implemented by plugins that serve routes outside the
// /api/v1/{name} prefix, such as transport endpoints.
type RootRouteProvider interface {
	RootRoutes() []Route
}

// Dependent is implemented by plugins that need other plugins initialized
// first. A plugin whose dependency is disabled or failed is skipped.
type Dependent interface {
	Dependencies() []string
}
