package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// breakerCooldown is how long Redis is skipped after a failure.
const breakerCooldown = 30 * time.Second

// SettingsProvider supplies the current settings.
type SettingsProvider func() SettingsConfig

// RedisClientFactory constructs a Redis client.
type RedisClientFactory func(options *redis.Options) *redis.Client

// redisTarget identifies the Redis the cached limiter talks to.
type redisTarget struct {
	addr     string
	password string
	db       int
	prefix   string
}

func targetOf(cfg SettingsConfig) redisTarget {
	return redisTarget{addr: cfg.RedisAddr, password: cfg.RedisPassword, db: cfg.RedisDB, prefix: cfg.RedisPrefix}
}

// Manager enforces per-user limits. It prefers Redis when enabled and falls back to
// the in-process limiter while Redis is failing.
type Manager struct {
	provider  SettingsProvider
	nowFn     func() time.Time
	memory    Limiter
	newClient RedisClientFactory

	mu           sync.Mutex
	redis        *RedisLimiter
	target       redisTarget
	breakerUntil time.Time
}

// NewManager constructs a Manager; nil arguments get defaults.
func NewManager(provider SettingsProvider, nowFn func() time.Time, newClient RedisClientFactory) *Manager {
	if provider == nil {
		provider = DefaultSettingsConfig
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if newClient == nil {
		newClient = redis.NewClient
	}
	return &Manager{
		provider:  provider,
		nowFn:     nowFn,
		memory:    NewMemoryLimiter(),
		newClient: newClient,
	}
}

// Limit returns the configured per-user limit per second.
func (m *Manager) Limit() int {
	if m == nil {
		return 0
	}
	return m.provider().Limit
}

// AllowUser checks the configured per-user limit for userID.
func (m *Manager) AllowUser(ctx context.Context, userID string) (Result, error) {
	limit := m.Limit()
	return m.Allow(ctx, KeyForUser(userID, limit), limit)
}

// Allow checks key against limit using the best available backend.
func (m *Manager) Allow(ctx context.Context, key string, limit int) (Result, error) {
	if m == nil || limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	now := m.nowFn()
	cfg := m.provider()
	if cfg.RedisEnabled && !m.breakerOpen(now) {
		result, err := m.allowRedis(ctx, cfg, key, limit, now)
		if err == nil {
			return result, nil
		}
		m.trip(err, now)
	}
	return m.memory.Allow(ctx, key, limit, now)
}

// Close releases the Redis client, if any.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redis == nil {
		return nil
	}
	err := m.redis.client.Close()
	m.redis = nil
	return err
}

func (m *Manager) allowRedis(ctx context.Context, cfg SettingsConfig, key string, limit int, now time.Time) (Result, error) {
	limiter, err := m.redisLimiter(ctx, cfg)
	if err != nil {
		return Result{}, err
	}
	return limiter.Allow(ctx, key, limit, now)
}

// redisLimiter returns a limiter for the configured Redis, reconnecting when the target changed.
func (m *Manager) redisLimiter(ctx context.Context, cfg SettingsConfig) (*RedisLimiter, error) {
	target := targetOf(cfg)
	if target.addr == "" {
		return nil, errors.New("rate limit redis: missing address")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redis != nil && m.target == target {
		return m.redis, nil
	}
	if m.redis != nil {
		_ = m.redis.client.Close()
		m.redis = nil
	}

	client := m.newClient(&redis.Options{Addr: target.addr, Password: target.password, DB: target.db})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	m.redis = NewRedisLimiter(client, target.prefix)
	m.target = target
	return m.redis, nil
}

func (m *Manager) breakerOpen(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return now.Before(m.breakerUntil)
}

func (m *Manager) trip(err error, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(breakerCooldown)
	log.WithError(err).Warn("rate limit: redis unavailable, using in-process limiter")
}
