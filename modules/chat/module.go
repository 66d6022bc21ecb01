package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/yuka166/chatapp-server/config"
	"github.com/yuka166/chatapp-server/events"
	"github.com/yuka166/chatapp-server/modules/identity"
	"github.com/yuka166/chatapp-server/pkg/apperr"
	"github.com/yuka166/chatapp-server/pkg/database"
)

// Module implements the chat module: rooms, messages and the room list
// read model.
type Module struct {
	dbConfig       config.Database
	opts           Options
	serviceTimeout time.Duration
	logger         types.Logger

	directory Directory
	nameCache NameCache
	store     Store
	service   *Service
	eventBus  mono.EventBus
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.DependentModule       = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
)

// NewModule creates a new chat module.
func NewModule(dbConfig config.Database, opts Options, serviceTimeout time.Duration, logger types.Logger) *Module {
	return &Module{
		dbConfig:       dbConfig,
		opts:           opts,
		serviceTimeout: serviceTimeout,
		logger:         logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "chat"
}

// Dependencies returns the list of module dependencies.
func (m *Module) Dependencies() []string {
	return []string{"identity"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	if dependency == "identity" {
		m.directory = identity.NewIdentityAdapter(container, m.serviceTimeout)
	}
}

// SetNameCache sets the optional username cache (called from main.go).
func (m *Module) SetNameCache(cache NameCache) {
	m.nameCache = cache
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.RoomCreatedV1.ToBase(),
		events.MessageSentV1.ToBase(),
	}
}

// Start opens the chat store and builds the service.
func (m *Module) Start(ctx context.Context) error {
	if m.directory == nil {
		return fmt.Errorf("identity dependency not set")
	}

	store, err := m.openStore(ctx)
	if err != nil {
		return err
	}
	m.store = store

	opts := m.opts
	opts.StoreTimeout = m.dbConfig.StoreTimeout
	names := NewNameResolver(m.directory, m.nameCache, m.logger)
	m.service = NewService(store, m.directory, names, opts)

	m.logger.Info("Chat module started",
		"driver", m.dbConfig.Driver,
		"usernameCache", m.nameCache != nil)
	return nil
}

func (m *Module) openStore(ctx context.Context) (Store, error) {
	switch m.dbConfig.Driver {
	case config.DriverPostgres:
		pool, err := database.OpenPool(ctx, m.dbConfig.URL)
		if err != nil {
			return nil, err
		}
		store := NewPgStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate chat tables: %w", err)
		}
		return store, nil
	default:
		db, err := database.OpenSQLite(m.dbConfig.Path)
		if err != nil {
			return nil, err
		}
		store := NewGormStore(db)
		if err := store.Migrate(); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to migrate chat tables: %w", err)
		}
		return store, nil
	}
}

// Stop closes the chat store.
func (m *Module) Stop(_ context.Context) error {
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			m.logger.Warn("Failed to close chat store", "error", err)
		}
	}
	m.logger.Info("Chat module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	if m.service == nil {
		return mono.HealthStatus{Healthy: false, Message: "not started"}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.service.Ping(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"driver":         m.dbConfig.Driver,
			"username_cache": m.nameCache != nil,
		},
	}
}

// RegisterServices registers request-reply services in the service container.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceListRooms, json.Unmarshal, json.Marshal, m.handleListRooms,
	); err != nil {
		return fmt.Errorf("failed to register %s: %w", ServiceListRooms, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceOpenDirectRoom, json.Unmarshal, json.Marshal, m.handleOpenDirectRoom,
	); err != nil {
		return fmt.Errorf("failed to register %s: %w", ServiceOpenDirectRoom, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceJoinRoom, json.Unmarshal, json.Marshal, m.handleJoinRoom,
	); err != nil {
		return fmt.Errorf("failed to register %s: %w", ServiceJoinRoom, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceSendMessage, json.Unmarshal, json.Marshal, m.handleSendMessage,
	); err != nil {
		return fmt.Errorf("failed to register %s: %w", ServiceSendMessage, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceGetRoom, json.Unmarshal, json.Marshal, m.handleGetRoom,
	); err != nil {
		return fmt.Errorf("failed to register %s: %w", ServiceGetRoom, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceGetHistory, json.Unmarshal, json.Marshal, m.handleGetHistory,
	); err != nil {
		return fmt.Errorf("failed to register %s: %w", ServiceGetHistory, err)
	}

	m.logger.Info("Registered chat services",
		"services", []string{
			ServiceListRooms, ServiceOpenDirectRoom, ServiceJoinRoom,
			ServiceSendMessage, ServiceGetRoom, ServiceGetHistory,
		})
	return nil
}

func (m *Module) handleListRooms(ctx context.Context, req ListRoomsRequest, _ *mono.Msg) (ListRoomsResponse, error) {
	rooms, err := m.service.ListRooms(ctx, req.UserID)
	if err != nil {
		m.logFailure(ServiceListRooms, err)
		return ListRoomsResponse{Error: apperr.ToBody(err)}, nil
	}
	return ListRoomsResponse{Rooms: rooms}, nil
}

func (m *Module) handleOpenDirectRoom(ctx context.Context, req OpenDirectRoomRequest, _ *mono.Msg) (OpenDirectRoomResponse, error) {
	view, created, err := m.service.OpenDirectRoom(ctx, req.InitiatorID, req.PeerID)
	if err != nil {
		m.logFailure(ServiceOpenDirectRoom, err)
		return OpenDirectRoomResponse{Error: apperr.ToBody(err)}, nil
	}

	if created {
		m.logger.Info("Room created", "roomID", view.Room.ID, "members", view.Room.Members)
		m.publish(events.RoomCreatedV1.Publish(m.eventBus, events.RoomCreatedEvent{
			RoomID:    view.Room.ID,
			Members:   view.Room.Members,
			CreatedBy: req.InitiatorID,
			Timestamp: view.Room.CreatedAt,
		}, nil), "RoomCreated")
	}
	return OpenDirectRoomResponse{Room: &view, Created: created}, nil
}

func (m *Module) handleJoinRoom(ctx context.Context, req JoinRoomRequest, _ *mono.Msg) (JoinRoomResponse, error) {
	if err := m.service.JoinRoom(ctx, req.RoomID, req.UserID); err != nil {
		m.logFailure(ServiceJoinRoom, err)
		return JoinRoomResponse{Error: apperr.ToBody(err)}, nil
	}
	return JoinRoomResponse{Success: true}, nil
}

func (m *Module) handleSendMessage(ctx context.Context, req SendMessageRequest, _ *mono.Msg) (SendMessageResponse, error) {
	msg, err := m.service.SendMessage(ctx, req.RoomID, req.AuthorID, req.Content)
	if err != nil {
		m.logFailure(ServiceSendMessage, err)
		return SendMessageResponse{Error: apperr.ToBody(err)}, nil
	}

	m.logger.Debug("Message stored", "roomID", msg.RoomID, "messageID", msg.ID)
	m.publish(events.MessageSentV1.Publish(m.eventBus, events.MessageSentEvent{
		MessageID: msg.ID,
		RoomID:    msg.RoomID,
		AuthorID:  msg.AuthorID,
		Timestamp: msg.Timestamp,
	}, nil), "MessageSent")
	return SendMessageResponse{Message: &msg}, nil
}

func (m *Module) handleGetRoom(ctx context.Context, req GetRoomRequest, _ *mono.Msg) (GetRoomResponse, error) {
	room, err := m.service.GetRoom(ctx, req.RoomID, req.ViewerID)
	if err != nil {
		m.logFailure(ServiceGetRoom, err)
		return GetRoomResponse{Error: apperr.ToBody(err)}, nil
	}
	return GetRoomResponse{Room: &room}, nil
}

func (m *Module) handleGetHistory(ctx context.Context, req GetHistoryRequest, _ *mono.Msg) (GetHistoryResponse, error) {
	msgs, err := m.service.History(ctx, req.RoomID, req.ViewerID, req.Limit)
	if err != nil {
		m.logFailure(ServiceGetHistory, err)
		return GetHistoryResponse{Error: apperr.ToBody(err)}, nil
	}
	return GetHistoryResponse{Messages: msgs}, nil
}

func (m *Module) publish(err error, event string) {
	if err != nil {
		m.logger.Warn("Failed to publish event", "event", event, "error", err)
	}
}

func (m *Module) logFailure(service string, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindInternal, apperr.KindUnavailable:
		m.logger.Error("Chat operation failed", "service", service, "error", err)
	default:
		m.logger.Debug("Chat request rejected", "service", service, "error", err)
	}
}
