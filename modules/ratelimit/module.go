package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-monolith/mono"
	"github.com/redis/go-redis/v9"
	"github.com/yuka166/chatapp-server/pkg/apperr"
)

const keyPrefix = "chatapp:ratelimit:"

// Module provides per-bucket sliding window limiters as a mono module.
type Module struct {
	client    *redis.Client
	limiters  map[string]*SlidingWindowLimiter
	redisAddr string
}

var _ mono.Module = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates a rate limiting module with one limiter per bucket.
func NewModule(redisAddr string, buckets map[string]Config) *Module {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	limiters := make(map[string]*SlidingWindowLimiter, len(buckets))
	for name, cfg := range buckets {
		limiters[name] = NewSlidingWindowLimiter(client, cfg, keyPrefix+name+":")
	}
	return &Module{
		client:    client,
		limiters:  limiters,
		redisAddr: redisAddr,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "rate-limiter"
}

// Init verifies the Redis connection.
func (m *Module) Init(_ mono.ServiceContainer) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Printf("[rate-limiter] Connected to Redis at %s", m.redisAddr)
	return nil
}

// Start starts the module.
func (m *Module) Start(_ context.Context) error {
	log.Println("[rate-limiter] Module started")
	return nil
}

// Stop closes the Redis connection.
func (m *Module) Stop(_ context.Context) error {
	if err := m.client.Close(); err != nil {
		log.Printf("[rate-limiter] Error closing Redis connection: %v", err)
	}
	log.Println("[rate-limiter] Module stopped")
	return nil
}

// Health verifies the Redis connection is healthy.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.client.Ping(ctx).Err(); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("redis ping failed: %v", err),
		}
	}

	details := make(map[string]any, len(m.limiters))
	for name, l := range m.limiters {
		cfg := l.Config()
		details[name] = fmt.Sprintf("%d per %s", cfg.RequestsPerWindow, cfg.WindowSize)
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: details,
	}
}

// Allow admits one request for key in bucket. A denied request yields a
// rate_limited error; a Redis failure yields an unavailable error. Unknown
// buckets are not limited.
func (m *Module) Allow(ctx context.Context, bucket, key string) error {
	l, ok := m.limiters[bucket]
	if !ok {
		return nil
	}
	res, err := l.Allow(ctx, key)
	if err != nil {
		return apperr.Unavailable("rate limiter", err)
	}
	if !res.Allowed {
		return apperr.RateLimited(fmt.Sprintf("rate limit exceeded, retry in %s", res.RetryAfter.Round(time.Second)))
	}
	return nil
}
