package api

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/yuka166/chatapp-server/modules/broadcast"
	"github.com/yuka166/chatapp-server/modules/chat"
	"github.com/yuka166/chatapp-server/modules/identity"
	"github.com/yuka166/chatapp-server/modules/session"
	"github.com/yuka166/chatapp-server/modules/stats"
)

// RateLimiter admits or rejects one request for key in a named bucket.
type RateLimiter interface {
	Allow(ctx context.Context, bucket, key string) error
}

// HealthChecker is any module that reports its health.
type HealthChecker interface {
	Health(ctx context.Context) mono.HealthStatus
}

// Config configures the HTTP server.
type Config struct {
	Port           string
	AllowedOrigins string
	ServiceTimeout time.Duration
	// CookieSecure sets the Secure attribute on the auth cookie.
	CookieSecure bool
}

// APIModule serves the REST API and the WebSocket messaging protocol.
type APIModule struct {
	cfg    Config
	app    *fiber.App
	logger types.Logger

	identity identity.IdentityPort
	chat     chat.ChatPort
	stats    stats.StatsPort
	gate     *session.Gate

	registry  *broadcast.Registry
	limiter   RateLimiter
	checkers  map[string]HealthChecker
	roomLocks *keyedMutex
}

// Compile-time interface checks.
var _ mono.Module = (*APIModule)(nil)
var _ mono.DependentModule = (*APIModule)(nil)
var _ mono.HealthCheckableModule = (*APIModule)(nil)

// NewModule creates a new APIModule.
func NewModule(cfg Config, logger types.Logger) *APIModule {
	if cfg.Port == "" {
		cfg.Port = "3000"
	}
	return &APIModule{
		cfg:       cfg,
		logger:    logger,
		checkers:  make(map[string]HealthChecker),
		roomLocks: newKeyedMutex(),
	}
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *APIModule) Dependencies() []string {
	return []string{"identity", "chat", "stats"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *APIModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "identity":
		adapter := identity.NewIdentityAdapter(container, m.cfg.ServiceTimeout)
		m.identity = adapter
		m.gate = session.NewGate(adapter)
	case "chat":
		m.chat = chat.NewChatAdapter(container, m.cfg.ServiceTimeout)
	case "stats":
		m.stats = stats.NewStatsAdapter(container)
	}
}

// SetRegistry sets the connection registry (called from main.go).
func (m *APIModule) SetRegistry(registry *broadcast.Registry) {
	m.registry = registry
}

// SetRateLimiter enables rate limiting of logins and messages.
func (m *APIModule) SetRateLimiter(limiter RateLimiter) {
	m.limiter = limiter
}

// AddHealthChecker includes a module in GET /health.
func (m *APIModule) AddHealthChecker(name string, checker HealthChecker) {
	m.checkers[name] = checker
}

// Start initializes the Fiber HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	if m.identity == nil || m.gate == nil {
		return fmt.Errorf("identity adapter dependency not set")
	}
	if m.chat == nil {
		return fmt.Errorf("chat adapter dependency not set")
	}
	if m.registry == nil {
		return fmt.Errorf("connection registry dependency not set")
	}

	m.app = m.newApp()

	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listen(":" + m.cfg.Port); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	log.Printf("[api] HTTP server started on :%s", m.cfg.Port)
	return nil
}

func (m *APIModule) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "chatapp-server",
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} ${method} ${path} ${latency}\n",
		Next: func(c *fiber.Ctx) bool {
			return c.Get(fiber.HeaderUpgrade) == "websocket"
		},
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     m.cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Content-Type,Authorization",
		AllowCredentials: m.cfg.AllowedOrigins != "*",
	}))

	m.setupRoutes(app)
	return app
}

// Stop shuts down the Fiber HTTP server.
func (m *APIModule) Stop(ctx context.Context) error {
	if m.app == nil {
		return nil
	}
	log.Println("[api] Shutting down HTTP server...")
	if err := m.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Health returns the health status.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	details := map[string]any{
		"port": m.cfg.Port,
	}
	if m.registry != nil {
		details["connections"] = m.registry.Stats().Connections
	}
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: details,
	}
}
