package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yuka166/chatapp-server/config"
	"github.com/yuka166/chatapp-server/events"
	"github.com/yuka166/chatapp-server/pkg/apperr"
	"github.com/yuka166/chatapp-server/pkg/database"
	"gorm.io/gorm"
)

// Module provides registration, login, token verification and user lookup
// services.
type Module struct {
	dbConfig  config.Database
	jwtConfig JWTConfig
	logger    types.Logger

	db       *gorm.DB
	pool     *pgxpool.Pool
	service  *Service
	eventBus mono.EventBus
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
)

// NewModule creates a new identity Module.
func NewModule(dbConfig config.Database, jwtConfig JWTConfig, logger types.Logger) *Module {
	return &Module{
		dbConfig:  dbConfig,
		jwtConfig: jwtConfig,
		logger:    logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "identity"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.UserRegisteredV1.ToBase(),
	}
}

// Start opens the user store and builds the service.
func (m *Module) Start(ctx context.Context) error {
	repo, err := m.openRepository(ctx)
	if err != nil {
		return err
	}

	m.service = NewService(repo, NewPasswordHasher(), NewJWTManager(m.jwtConfig), m.dbConfig.StoreTimeout)

	m.logger.Info("Identity module started", "driver", m.dbConfig.Driver)
	return nil
}

func (m *Module) openRepository(ctx context.Context) (UserRepository, error) {
	switch m.dbConfig.Driver {
	case config.DriverPostgres:
		pool, err := database.OpenPool(ctx, m.dbConfig.URL)
		if err != nil {
			return nil, err
		}
		repo := NewPgUserRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate users table: %w", err)
		}
		m.pool = pool
		return repo, nil
	default:
		db, err := database.OpenSQLite(m.dbConfig.Path)
		if err != nil {
			return nil, err
		}
		repo := NewGormUserRepository(db)
		if err := repo.Migrate(); err != nil {
			_ = database.CloseGorm(db)
			return nil, fmt.Errorf("failed to migrate users table: %w", err)
		}
		m.db = db
		return repo, nil
	}
}

// Stop closes the user store.
func (m *Module) Stop(_ context.Context) error {
	if m.pool != nil {
		m.pool.Close()
	}
	if err := database.CloseGorm(m.db); err != nil {
		m.logger.Warn("Failed to close database", "error", err)
	}
	m.logger.Info("Identity module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	if m.service == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "not started",
		}
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
			"driver": m.dbConfig.Driver,
		},
	}
}

// RegisterServices registers request-reply services in the service container.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceRegister, json.Unmarshal, json.Marshal, m.handleRegister,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceRegister, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceLogin, json.Unmarshal, json.Marshal, m.handleLogin,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceLogin, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceVerifyToken, json.Unmarshal, json.Marshal, m.handleVerifyToken,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceVerifyToken, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceGetUser, json.Unmarshal, json.Marshal, m.handleGetUser,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceGetUser, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceGetUsers, json.Unmarshal, json.Marshal, m.handleGetUsers,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceGetUsers, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceSearchUsers, json.Unmarshal, json.Marshal, m.handleSearchUsers,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceSearchUsers, err)
	}

	m.logger.Info("Registered identity services",
		"services", []string{
			ServiceRegister, ServiceLogin, ServiceVerifyToken,
			ServiceGetUser, ServiceGetUsers, ServiceSearchUsers,
		})
	return nil
}

// Failures are returned inside the response body, never as a transport
// error, so callers can recover the error kind.

func (m *Module) handleRegister(ctx context.Context, req RegisterRequest, _ *mono.Msg) (RegisterResponse, error) {
	user, err := m.service.Register(ctx, RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		m.logFailure("register", err)
		return RegisterResponse{Error: apperr.ToBody(err)}, nil
	}

	m.publishUserRegistered(user.ID, user.Username)
	m.logger.Info("User registered", "userID", user.ID, "username", user.Username)

	return RegisterResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	}, nil
}

func (m *Module) handleLogin(ctx context.Context, req LoginRequest, _ *mono.Msg) (LoginResponse, error) {
	token, user, err := m.service.Login(ctx, req.Username, req.Password, req.Remember)
	if err != nil {
		m.logFailure("login", err)
		return LoginResponse{Error: apperr.ToBody(err)}, nil
	}

	return LoginResponse{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresIn:   token.ExpiresIn,
		ExpiresAt:   token.ExpiresAt,
		UserID:      user.ID,
		Username:    user.Username,
	}, nil
}

func (m *Module) handleVerifyToken(ctx context.Context, req VerifyTokenRequest, _ *mono.Msg) (VerifyTokenResponse, error) {
	claims, err := m.service.VerifyToken(ctx, req.Token)
	if err != nil {
		return VerifyTokenResponse{Valid: false, Error: apperr.ToBody(err)}, nil
	}

	return VerifyTokenResponse{
		Valid:     true,
		UserID:    claims.UserID,
		Username:  claims.Username,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

func (m *Module) handleGetUser(ctx context.Context, req GetUserRequest, _ *mono.Msg) (GetUserResponse, error) {
	user, err := m.service.GetUser(ctx, req.UserID)
	if err != nil {
		m.logFailure("get-user", err)
		return GetUserResponse{Error: apperr.ToBody(err)}, nil
	}

	profile := user.Profile()
	return GetUserResponse{User: &profile}, nil
}

func (m *Module) handleGetUsers(ctx context.Context, req GetUsersRequest, _ *mono.Msg) (GetUsersResponse, error) {
	users, err := m.service.GetProfiles(ctx, req.UserIDs)
	if err != nil {
		m.logFailure("get-users", err)
		return GetUsersResponse{Error: apperr.ToBody(err)}, nil
	}
	return GetUsersResponse{Users: users}, nil
}

func (m *Module) handleSearchUsers(ctx context.Context, req SearchUsersRequest, _ *mono.Msg) (SearchUsersResponse, error) {
	users, err := m.service.SearchUsers(ctx, req.Prefix, req.RequesterID, req.Limit)
	if err != nil {
		m.logFailure("search-users", err)
		return SearchUsersResponse{Error: apperr.ToBody(err)}, nil
	}
	return SearchUsersResponse{Users: users}, nil
}

func (m *Module) publishUserRegistered(userID, username string) {
	if m.eventBus == nil {
		return
	}
	event := events.UserRegisteredEvent{
		UserID:    userID,
		Username:  username,
		Timestamp: time.Now().UTC(),
	}
	if err := events.UserRegisteredV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Warn("Failed to publish UserRegistered event", "userID", userID, "error", err)
	}
}

func (m *Module) logFailure(op string, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindInternal, apperr.KindUnavailable:
		m.logger.Error("Identity operation failed", "op", op, "error", err)
	default:
		m.logger.Debug("Identity request rejected", "op", op, "error", err)
	}
}
