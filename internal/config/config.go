package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	internalsettings "github.com/tipidbuddy/tipidbuddy-server/internal/settings"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvJWTSecret    = "JWT_SECRET"
	EnvKVBackend    = "KV_BACKEND"
	EnvRedisAddr    = "REDIS_ADDR"
	EnvLogLevel     = "LOG_LEVEL"
	EnvPort         = "PORT"
)

// ErrMissingJWTSecret indicates the jwt identity mode was selected without a secret.
var ErrMissingJWTSecret = errors.New("missing jwt secret (set `identity.jwt-secret` or JWT_SECRET)")

// DatabaseConfig holds the relational database connection.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// KVConfig selects and configures the key-value backend.
type KVConfig struct {
	Backend     string `yaml:"backend"`
	LevelDBPath string `yaml:"leveldb-path"`
}

// RedisConfig holds Redis connection settings shared by the KV backend and locks.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	LockTTL  time.Duration `yaml:"lock-ttl"`
}

// IdentityConfig selects how bearer tokens are verified.
type IdentityConfig struct {
	Mode         string        `yaml:"mode"`
	JWTSecret    string        `yaml:"jwt-secret"`
	RemoteURL    string        `yaml:"remote-url"`
	APIKey       string        `yaml:"api-key"`
	Retries      int           `yaml:"retries"`
	RetryBackoff time.Duration `yaml:"retry-backoff"`
	CacheTTL     time.Duration `yaml:"cache-ttl"`
}

// RateLimitConfig holds per-user request limits.
type RateLimitConfig struct {
	Limit        int    `yaml:"limit"`
	RedisEnabled bool   `yaml:"redis-enabled"`
	RedisPrefix  string `yaml:"redis-prefix"`
}

// LogConfig controls log level, format and file rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath     string          `yaml:"-"`
	Port           int             `yaml:"port"`
	RequestTimeout time.Duration   `yaml:"request-timeout"`
	Database       DatabaseConfig  `yaml:"database"`
	KV             KVConfig        `yaml:"kv"`
	Redis          RedisConfig     `yaml:"redis"`
	Identity       IdentityConfig  `yaml:"identity"`
	RateLimit      RateLimitConfig `yaml:"rate-limit"`
	Log            LogConfig       `yaml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() AppConfig {
	return AppConfig{
		Port:           internalsettings.DefaultPort,
		RequestTimeout: internalsettings.DefaultRequestTimeout,
		Database:       DatabaseConfig{DSN: internalsettings.DefaultDatabaseDSN},
		KV: KVConfig{
			Backend:     internalsettings.DefaultKVBackend,
			LevelDBPath: internalsettings.DefaultLevelDBPath,
		},
		Redis: RedisConfig{
			Prefix:  internalsettings.DefaultRedisPrefix,
			LockTTL: internalsettings.DefaultGroupLockTTL,
		},
		Identity: IdentityConfig{
			Mode:         internalsettings.DefaultIdentityMode,
			Retries:      internalsettings.DefaultIdentityRetries,
			RetryBackoff: internalsettings.DefaultIdentityRetryBackoff,
			CacheTTL:     internalsettings.DefaultProfileCacheTTL,
		},
		RateLimit: RateLimitConfig{
			Limit:       internalsettings.DefaultRateLimit,
			RedisPrefix: internalsettings.DefaultRateLimitRedisPrefix,
		},
		Log: LogConfig{
			Level:      internalsettings.DefaultLogLevel,
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// Load reads the YAML config file at configPath (if it exists) and applies env overrides.
func Load(configPath string) (AppConfig, error) {
	cfg := Default()
	cfg.ConfigPath = ResolveConfigPath(configPath)

	data, errRead := os.ReadFile(cfg.ConfigPath)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return AppConfig{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return AppConfig{}, fmt.Errorf("read config file: %w", errRead)
	}

	applyEnv(&cfg)
	normalize(&cfg)

	if cfg.Identity.Mode == "jwt" && cfg.Identity.JWTSecret == "" {
		return AppConfig{}, ErrMissingJWTSecret
	}
	return cfg, nil
}

// LoadFromEnv loads the config file named by CONFIG_PATH.
func LoadFromEnv() (AppConfig, error) {
	return Load(os.Getenv(EnvConfigPath))
}

// applyEnv overrides file values with environment variables.
func applyEnv(cfg *AppConfig) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.Identity.JWTSecret = secret
	}
	if backend := strings.TrimSpace(os.Getenv(EnvKVBackend)); backend != "" {
		cfg.KV.Backend = backend
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		cfg.Redis.Addr = addr
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		cfg.Log.Level = level
	}
	if portRaw := strings.TrimSpace(os.Getenv(EnvPort)); portRaw != "" {
		if port, errParse := strconv.Atoi(portRaw); errParse == nil {
			cfg.Port = port
		}
	}
}

// normalize trims values and restores defaults for invalid entries.
func normalize(cfg *AppConfig) {
	def := Default()
	cfg.KV.Backend = strings.ToLower(strings.TrimSpace(cfg.KV.Backend))
	if cfg.KV.Backend == "" {
		cfg.KV.Backend = def.KV.Backend
	}
	if strings.TrimSpace(cfg.KV.LevelDBPath) == "" {
		cfg.KV.LevelDBPath = def.KV.LevelDBPath
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		cfg.Database.DSN = def.Database.DSN
	}
	cfg.Redis.Addr = strings.TrimSpace(cfg.Redis.Addr)
	cfg.Redis.Prefix = strings.TrimSpace(cfg.Redis.Prefix)
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = def.Redis.Prefix
	}
	if cfg.Redis.DB < 0 {
		cfg.Redis.DB = 0
	}
	if cfg.Redis.LockTTL <= 0 {
		cfg.Redis.LockTTL = def.Redis.LockTTL
	}
	cfg.Identity.Mode = strings.ToLower(strings.TrimSpace(cfg.Identity.Mode))
	if cfg.Identity.Mode == "" {
		cfg.Identity.Mode = def.Identity.Mode
	}
	cfg.Identity.JWTSecret = strings.TrimSpace(cfg.Identity.JWTSecret)
	if cfg.Identity.Retries <= 0 {
		cfg.Identity.Retries = def.Identity.Retries
	}
	if cfg.Identity.RetryBackoff < 0 {
		cfg.Identity.RetryBackoff = def.Identity.RetryBackoff
	}
	if cfg.Identity.CacheTTL <= 0 {
		cfg.Identity.CacheTTL = def.Identity.CacheTTL
	}
	if cfg.RateLimit.Limit < 0 {
		cfg.RateLimit.Limit = 0
	}
	if strings.TrimSpace(cfg.RateLimit.RedisPrefix) == "" {
		cfg.RateLimit.RedisPrefix = def.RateLimit.RedisPrefix
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = def.Port
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
}
