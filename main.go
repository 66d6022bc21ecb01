package main

import (
	"context"
	"log"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
	"github.com/yuka166/chatapp-server/config"
	"github.com/yuka166/chatapp-server/modules/api"
	"github.com/yuka166/chatapp-server/modules/broadcast"
	"github.com/yuka166/chatapp-server/modules/cache"
	"github.com/yuka166/chatapp-server/modules/chat"
	"github.com/yuka166/chatapp-server/modules/identity"
	"github.com/yuka166/chatapp-server/modules/ratelimit"
	"github.com/yuka166/chatapp-server/modules/stats"
)

// outboundQueueSize is the number of frames buffered per connection before
// it is treated as a slow consumer.
const outboundQueueSize = 256

func main() {
	log.Println("=== Chat Server - Fiber + WebSocket + mono ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level := mono.LogLevelInfo
	if cfg.LogLevel == "error" {
		level = mono.LogLevelError
	}

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		mono.WithLogLevel(level),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}
	logger := app.Logger()

	if cfg.UsingDefaultSecret() {
		logger.Warn("JWT secret is the development default, set JWT_SECRET_KEY in production")
	}

	// Create modules
	identityModule := identity.NewModule(cfg.Database, identity.JWTConfig{
		SecretKey:        cfg.JWT.SecretKey,
		Issuer:           cfg.JWT.Issuer,
		TokenTTL:         cfg.JWT.TokenTTL,
		RememberTokenTTL: cfg.JWT.RememberTokenTTL,
	}, logger.WithModule("identity"))

	chatModule := chat.NewModule(cfg.Database, chat.Options{
		StoreTimeout:    cfg.Database.StoreTimeout,
		HistoryLimit:    cfg.Chat.HistoryLimit,
		MaxHistoryLimit: cfg.Chat.MaxHistoryLimit,
	}, cfg.Server.ServiceTimeout, logger.WithModule("chat"))

	broadcastModule := broadcast.NewModule(outboundQueueSize)
	statsModule := stats.NewModule(logger.WithModule("stats"))

	apiModule := api.NewModule(api.Config{
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ServiceTimeout: cfg.Server.ServiceTimeout,
		CookieSecure:   cfg.Server.CookieSecure,
	}, logger.WithModule("api"))

	// The registry and optional Redis-backed helpers are wired by hand
	// because they are not exposed through a ServiceContainer.
	apiModule.SetRegistry(broadcastModule.Registry())
	apiModule.AddHealthChecker(identityModule.Name(), identityModule)
	apiModule.AddHealthChecker(chatModule.Name(), chatModule)
	apiModule.AddHealthChecker(broadcastModule.Name(), broadcastModule)
	apiModule.AddHealthChecker(statsModule.Name(), statsModule)

	var optional []mono.Module
	if cfg.Redis.Enabled() {
		cacheModule := cache.NewModule(cfg.Redis.Addr, cfg.Redis.CacheTTL)
		chatModule.SetNameCache(cacheModule.UserNames())
		apiModule.AddHealthChecker(cacheModule.Name(), cacheModule)

		rateLimitModule := ratelimit.NewModule(cfg.Redis.Addr, map[string]ratelimit.Config{
			ratelimit.BucketMessage: {
				RequestsPerWindow: cfg.RateLimit.MessagesPerWindow,
				WindowSize:        cfg.RateLimit.Window,
			},
			ratelimit.BucketLogin: {
				RequestsPerWindow: cfg.RateLimit.LoginsPerWindow,
				WindowSize:        cfg.RateLimit.Window,
			},
		})
		apiModule.SetRateLimiter(rateLimitModule)
		apiModule.AddHealthChecker(rateLimitModule.Name(), rateLimitModule)

		optional = append(optional, cacheModule, rateLimitModule)
	} else {
		logger.Info("Redis not configured, name cache and rate limiting disabled")
	}

	// Register modules with the framework.
	// Order: independent modules first, then modules with dependencies
	// - identity: accounts and tokens (ServiceProviderModule + EventEmitterModule)
	// - chat: rooms and messages (ServiceProviderModule, depends on identity)
	// - stats: event consumer (counters over identity and chat events)
	// - broadcast: connection registry shared with the API
	// - api: driving adapter (Fiber HTTP/WebSocket server)
	for _, mod := range optional {
		app.Register(mod)
	}
	app.Register(identityModule)
	app.Register(chatModule)
	app.Register(statsModule)
	app.Register(broadcastModule)
	app.Register(apiModule)

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(cfg)

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(cfg *config.Config) {
	port := cfg.Server.Port

	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Printf("  - Database: %s", cfg.Database.Driver)
	if cfg.Redis.Enabled() {
		log.Printf("  - Redis: %s (name cache, rate limiting)", cfg.Redis.Addr)
	}
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /health                   - Health check")
	log.Println("  POST   /api/v1/auth/register     - Create an account")
	log.Println("  POST   /api/v1/auth/login        - Sign in, sets the auth cookie")
	log.Println("  POST   /api/v1/auth/logout       - Clear the auth cookie")
	log.Println("  GET    /api/v1/users/:username   - Search users by prefix")
	log.Println("  GET    /api/v1/rooms             - List your rooms")
	log.Println("  GET    /api/v1/rooms/:id         - Get one room")
	log.Println("  GET    /api/v1/chats/:id?limit=N - Message history")
	log.Println("  GET    /api/v1/stats             - Activity counters")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", port)
	log.Println("  Client events: authenticate, listRooms, createRoom, joinRoom, sendMessage")
	log.Println("  Server events: getId, allRooms, sendRoom, gotoBox, getMessage, setRoom, error")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
