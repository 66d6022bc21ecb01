// Package stats consumes chat domain events and keeps running counters of
// registrations, rooms and messages.
package stats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/yuka166/chatapp-server/events"
)

// ServiceGetStats returns the current Snapshot.
const ServiceGetStats = "get-stats"

// Module implements the stats consumer module.
type Module struct {
	counters *Counters
	logger   types.Logger
}

var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventConsumerModule   = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new stats module.
func NewModule(logger types.Logger) *Module {
	return &Module{
		counters: NewCounters(),
		logger:   logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "stats"
}

// RegisterEventConsumers subscribes to identity and chat events.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	consumers := []struct {
		name    string
		module  string
		handler func(context.Context, *mono.Msg) error
	}{
		{"UserRegistered", "identity", m.handleUserRegistered},
		{"RoomCreated", "chat", m.handleRoomCreated},
		{"MessageSent", "chat", m.handleMessageSent},
	}

	for _, c := range consumers {
		def, ok := registry.GetEventByName(c.name, "v1", c.module)
		if !ok {
			return fmt.Errorf("event %s.v1 not found", c.name)
		}
		if err := registry.RegisterEventConsumer(def, c.handler, m); err != nil {
			return fmt.Errorf("failed to register %s consumer: %w", c.name, err)
		}
	}

	m.logger.Info("Registered event consumers",
		"events", []string{"UserRegistered.v1", "RoomCreated.v1", "MessageSent.v1"})
	return nil
}

func (m *Module) handleUserRegistered(_ context.Context, msg *mono.Msg) error {
	var event events.UserRegisteredEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		m.logger.Error("Failed to unmarshal UserRegistered event", "error", err)
		return nil
	}
	m.counters.RecordUserRegistered()
	m.logger.Debug("Recorded registration", "userId", event.UserID)
	return nil
}

func (m *Module) handleRoomCreated(_ context.Context, msg *mono.Msg) error {
	var event events.RoomCreatedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		m.logger.Error("Failed to unmarshal RoomCreated event", "error", err)
		return nil
	}
	m.counters.RecordRoomCreated()
	m.logger.Debug("Recorded room creation", "roomId", event.RoomID)
	return nil
}

func (m *Module) handleMessageSent(_ context.Context, msg *mono.Msg) error {
	var event events.MessageSentEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		m.logger.Error("Failed to unmarshal MessageSent event", "error", err)
		return nil
	}
	m.counters.RecordMessageSent(event.RoomID, event.Timestamp)
	return nil
}

// RegisterServices registers the get-stats service.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceGetStats,
		json.Unmarshal,
		json.Marshal,
		m.handleGetStats,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceGetStats, err)
	}
	return nil
}

func (m *Module) handleGetStats(_ context.Context, _ GetStatsRequest, _ *mono.Msg) (Snapshot, error) {
	return m.counters.Snapshot(), nil
}

// Start initializes the stats module.
func (m *Module) Start(_ context.Context) error {
	m.logger.Info("Stats module started")
	return nil
}

// Stop logs the final counts.
func (m *Module) Stop(_ context.Context) error {
	s := m.counters.Snapshot()
	m.logger.Info("Stats module stopped",
		"users", s.UsersRegistered, "rooms", s.RoomsCreated, "messages", s.MessagesSent)
	return nil
}

// Health reports the counters.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	s := m.counters.Snapshot()
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"users_registered": s.UsersRegistered,
			"rooms_created":    s.RoomsCreated,
			"messages_sent":    s.MessagesSent,
		},
	}
}

// Counters returns the underlying counters.
func (m *Module) Counters() *Counters {
	return m.counters
}
