package app

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/tipidbuddy/tipidbuddy-server/internal/config"
	"github.com/tipidbuddy/tipidbuddy-server/internal/db"
)

// ErrConfigExists is returned when init would overwrite an existing config file.
var ErrConfigExists = errors.New("app: config file already exists")

// InitOptions contains parameters for writing a first config file.
type InitOptions struct {
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     int
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	DatabasePath     string
	DatabaseSSLMode  string
	KVBackend        string
	RedisAddr        string
	Port             int
	Force            bool
}

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false
	}
	return true
}

// defaultSQLitePath is the default SQLite database file name.
const defaultSQLitePath = "tipidbuddy.db"

// BuildDSN builds a database DSN from the init options.
func BuildDSN(opts InitOptions) (string, error) {
	switch strings.ToLower(strings.TrimSpace(opts.DatabaseType)) {
	case "", "sqlite":
		path := strings.TrimSpace(opts.DatabasePath)
		if path == "" {
			path = defaultSQLitePath
		}
		return buildSQLiteDSN(path), nil
	case "postgres":
		if strings.TrimSpace(opts.DatabaseHost) == "" {
			return "", fmt.Errorf("database host is required")
		}
		if opts.DatabasePort <= 0 {
			return "", fmt.Errorf("invalid database port")
		}
		if strings.TrimSpace(opts.DatabaseName) == "" {
			return "", fmt.Errorf("database name is required")
		}
		sslMode := opts.DatabaseSSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			opts.DatabaseUser,
			opts.DatabasePassword,
			opts.DatabaseHost,
			opts.DatabasePort,
			opts.DatabaseName,
			sslMode,
		), nil
	default:
		return "", fmt.Errorf("unsupported database type %q", opts.DatabaseType)
	}
}

// buildSQLiteDSN constructs a file: DSN; connection pragmas are added by db.Open.
func buildSQLiteDSN(path string) string {
	dsn := strings.TrimSpace(path)
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = "file:" + dsn
	}
	return dsn
}

// CheckDatabase validates that the DSN can connect and ping.
func CheckDatabase(dsn string) error {
	conn, err := db.Open(dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if errClose := db.Close(conn); errClose != nil {
			log.Errorf("sql db close error: %v", errClose)
		}
	}()
	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql db: %w", err)
	}
	return sqlDB.Ping()
}

// generateJWTSecret returns a random hex secret for the jwt identity mode.
func generateJWTSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("app: generate jwt secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// WriteConfigFile writes a config file with defaults, the given database and a fresh JWT secret.
func WriteConfigFile(configPath string, opts InitOptions) (config.AppConfig, error) {
	if ConfigExists(configPath) && !opts.Force {
		return config.AppConfig{}, fmt.Errorf("%w: %s", ErrConfigExists, configPath)
	}
	dsn, err := BuildDSN(opts)
	if err != nil {
		return config.AppConfig{}, err
	}
	secret, err := generateJWTSecret()
	if err != nil {
		return config.AppConfig{}, err
	}

	cfg := config.Default()
	cfg.ConfigPath = configPath
	cfg.Database.DSN = dsn
	cfg.Identity.JWTSecret = secret
	if opts.Port > 0 {
		cfg.Port = opts.Port
	}
	if backend := strings.ToLower(strings.TrimSpace(opts.KVBackend)); backend != "" {
		cfg.KV.Backend = backend
	}
	cfg.Redis.Addr = strings.TrimSpace(opts.RedisAddr)
	if cfg.KV.Backend == BackendRedis && cfg.Redis.Addr == "" {
		return config.AppConfig{}, errors.New("app: redis backend needs a redis address")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return config.AppConfig{}, fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(configPath); dir != "" {
		if errMkdir := os.MkdirAll(dir, 0755); errMkdir != nil {
			return config.AppConfig{}, fmt.Errorf("failed to create config directory: %w", errMkdir)
		}
	}
	if errWrite := os.WriteFile(configPath, data, 0600); errWrite != nil {
		return config.AppConfig{}, fmt.Errorf("failed to write config file: %w", errWrite)
	}
	return cfg, nil
}
