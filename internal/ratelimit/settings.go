package ratelimit

import (
	"strings"

	"github.com/tipidbuddy/tipidbuddy-server/internal/config"
	internalsettings "github.com/tipidbuddy/tipidbuddy-server/internal/settings"
)

// SettingsConfig captures the rate limit settings.
type SettingsConfig struct {
	Limit         int
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// DefaultSettingsConfig returns the built-in settings: unlimited, memory backend.
func DefaultSettingsConfig() SettingsConfig {
	return SettingsConfig{
		Limit:       internalsettings.DefaultRateLimit,
		RedisPrefix: internalsettings.DefaultRateLimitRedisPrefix,
	}
}

// SettingsFromConfig derives rate limit settings from the application config.
// The Redis connection is shared with the KV backend.
func SettingsFromConfig(cfg config.AppConfig) SettingsConfig {
	out := SettingsConfig{
		Limit:         cfg.RateLimit.Limit,
		RedisEnabled:  cfg.RateLimit.RedisEnabled,
		RedisAddr:     strings.TrimSpace(cfg.Redis.Addr),
		RedisPassword: strings.TrimSpace(cfg.Redis.Password),
		RedisDB:       cfg.Redis.DB,
		RedisPrefix:   strings.TrimSpace(cfg.RateLimit.RedisPrefix),
	}
	if out.RedisPrefix == "" {
		out.RedisPrefix = internalsettings.DefaultRateLimitRedisPrefix
	}
	if out.RedisDB < 0 {
		out.RedisDB = 0
	}
	if out.Limit < 0 {
		out.Limit = 0
	}
	return out
}

// StaticSettings returns a provider that always yields cfg.
func StaticSettings(cfg SettingsConfig) SettingsProvider {
	return func() SettingsConfig { return cfg }
}
