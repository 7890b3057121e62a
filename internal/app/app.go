// Package app builds the service from configuration and runs the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/tipidbuddy/tipidbuddy-server/internal/config"
	"github.com/tipidbuddy/tipidbuddy-server/internal/db"
	"github.com/tipidbuddy/tipidbuddy-server/internal/http/api"
	"github.com/tipidbuddy/tipidbuddy-server/internal/http/api/handlers"
	"github.com/tipidbuddy/tipidbuddy-server/internal/identity"
	"github.com/tipidbuddy/tipidbuddy-server/internal/kv"
	"github.com/tipidbuddy/tipidbuddy-server/internal/ledger"
	"github.com/tipidbuddy/tipidbuddy-server/internal/metrics"
	"github.com/tipidbuddy/tipidbuddy-server/internal/ratelimit"
)

// KV backend names accepted in kv.backend.
const (
	BackendMemory   = "memory"
	BackendDatabase = "database"
	BackendRedis    = "redis"
	BackendLevelDB  = "leveldb"
)

// Identity modes accepted in identity.mode.
const (
	IdentityModeJWT    = "jwt"
	IdentityModeRemote = "remote"
)

const shutdownTimeout = 10 * time.Second

// Services bundles the runtime collaborators built from the config.
type Services struct {
	Store    kv.Store
	Locker   kv.Locker
	Profiles *identity.Directory
	Verifier identity.Verifier
	Ledger   *ledger.Ledger
	Limiter  *ratelimit.Manager
	Metrics  *metrics.Recorder
	Health   handlers.Pinger

	closers []io.Closer
}

// Close releases every opened backend in reverse order.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Build constructs the store, identity, ledger, limiter and metrics from cfg.
func Build(ctx context.Context, cfg config.AppConfig) (*Services, error) {
	s := &Services{}
	if err := s.openStore(ctx, cfg); err != nil {
		_ = s.Close()
		return nil, err
	}
	verifier, err := NewVerifier(cfg.Identity)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Verifier = verifier
	s.Profiles = identity.NewDirectory(s.Store, cfg.Identity.CacheTTL)
	s.Ledger = ledger.New(s.Store, s.Locker, s.Profiles)
	s.Limiter = ratelimit.NewManager(ratelimit.StaticSettings(ratelimit.SettingsFromConfig(cfg)), nil, nil)
	s.closers = append(s.closers, s.Limiter)
	s.Metrics = metrics.New()
	return s, nil
}

// openStore selects the KV backend and the matching group locker.
func (s *Services) openStore(ctx context.Context, cfg config.AppConfig) error {
	switch cfg.KV.Backend {
	case BackendMemory:
		s.Store = kv.NewMemoryStore()
		s.Locker = kv.NewMemoryLocker()
	case BackendDatabase:
		conn, err := db.Open(cfg.Database.DSN)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, closerFunc(func() error { return db.Close(conn) }))
		if errMigrate := db.Migrate(conn); errMigrate != nil {
			return errMigrate
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return fmt.Errorf("app: database handle: %w", err)
		}
		s.Store = kv.NewGormStore(conn)
		s.Health = handlers.PingFunc(sqlDB.PingContext)
		s.Locker = kv.NewMemoryLocker()
		if cfg.Redis.Addr != "" {
			client, errRedis := s.openRedis(ctx, cfg.Redis)
			if errRedis != nil {
				return errRedis
			}
			s.Locker = kv.NewRedisLocker(client, cfg.Redis.Prefix, cfg.Redis.LockTTL)
		} else {
			log.Info("no redis configured: group locks are process-local, run a single instance")
		}
	case BackendRedis:
		client, err := s.openRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		s.Store = kv.NewRedisStore(client, cfg.Redis.Prefix)
		s.Locker = kv.NewRedisLocker(client, cfg.Redis.Prefix, cfg.Redis.LockTTL)
		s.Health = handlers.PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
	case BackendLevelDB:
		store, err := kv.OpenLevelDB(cfg.KV.LevelDBPath)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, store)
		s.Store = store
		s.Locker = kv.NewMemoryLocker()
	default:
		return fmt.Errorf("app: unsupported kv backend %q", cfg.KV.Backend)
	}
	log.WithField("backend", cfg.KV.Backend).Info("kv store ready")
	return nil
}

// openRedis connects to Redis and registers the client for Close.
func (s *Services) openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("app: redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("app: redis ping: %w", err)
	}
	s.closers = append(s.closers, client)
	return client, nil
}

// NewVerifier builds the identity verifier for cfg, wrapped with bounded retries.
func NewVerifier(cfg config.IdentityConfig) (identity.Verifier, error) {
	var base identity.Verifier
	switch cfg.Mode {
	case IdentityModeJWT:
		if cfg.JWTSecret == "" {
			return nil, config.ErrMissingJWTSecret
		}
		base = identity.NewJWTVerifier(cfg.JWTSecret)
	case IdentityModeRemote:
		if cfg.RemoteURL == "" {
			return nil, errors.New("app: identity.remote-url is required in remote mode")
		}
		base = identity.NewRemoteVerifier(cfg.RemoteURL, cfg.APIKey, nil)
	default:
		return nil, fmt.Errorf("app: unsupported identity mode %q", cfg.Mode)
	}
	return identity.NewRetrying(base, cfg.Retries, cfg.RetryBackoff), nil
}

// Migrate opens the configured database and runs migrations.
func Migrate(cfg config.AppConfig) error {
	conn, err := db.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(conn) }()
	return db.Migrate(conn)
}

// RunServer serves the API until ctx is cancelled, then shuts down gracefully.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	services, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := services.Close(); errClose != nil {
			log.WithError(errClose).Warn("close services")
		}
	}()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := api.NewEngine(api.Options{
		Ledger:         services.Ledger,
		Verifier:       services.Verifier,
		Profiles:       services.Profiles,
		Limiter:        services.Limiter,
		Metrics:        services.Metrics,
		Health:         services.Health,
		RequestTimeout: cfg.RequestTimeout,
	})

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s (config=%s)", server.Addr, cfg.ConfigPath)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
		close(errCh)
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}

	log.Info("shutting down")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(ctxShutdown); errShutdown != nil {
		return fmt.Errorf("app: shutdown: %w", errShutdown)
	}
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
