package broadcast

import (
	"context"
	"log"

	"github.com/go-monolith/mono"
)

// BroadcastModule owns the process-wide connection registry.
type BroadcastModule struct {
	registry *Registry
}

// Compile-time interface checks.
var _ mono.Module = (*BroadcastModule)(nil)
var _ mono.HealthCheckableModule = (*BroadcastModule)(nil)

// NewModule creates a new BroadcastModule with a queue of queueSize frames
// per connection.
func NewModule(queueSize int) *BroadcastModule {
	return &BroadcastModule{
		registry: NewRegistry(queueSize),
	}
}

// Name returns the module name.
func (m *BroadcastModule) Name() string {
	return "broadcast"
}

// Start initializes the module.
func (m *BroadcastModule) Start(_ context.Context) error {
	log.Println("[broadcast] Module started - connection registry ready")
	return nil
}

// Stop closes every registered connection.
func (m *BroadcastModule) Stop(_ context.Context) error {
	closed := m.registry.CloseAll()
	log.Printf("[broadcast] Module stopped - %d connections were open", closed)
	return nil
}

// Health returns the health status.
func (m *BroadcastModule) Health(_ context.Context) mono.HealthStatus {
	stats := m.registry.Stats()
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connections":    stats.Connections,
			"channels":       stats.Channels,
			"subscriptions":  stats.Subscriptions,
			"slow_consumers": stats.SlowConsumers,
		},
	}
}

// Registry returns the connection registry for the API module to use.
func (m *BroadcastModule) Registry() *Registry {
	return m.registry
}
