package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tipidbuddy/tipidbuddy-server/internal/app"
	"github.com/tipidbuddy/tipidbuddy-server/internal/config"
	"github.com/tipidbuddy/tipidbuddy-server/internal/identity"
	"github.com/tipidbuddy/tipidbuddy-server/internal/logging"

	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if errRun := run(ctx, os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		stop()
		os.Exit(1)
	}
}

// run parses flags, loads config, and dispatches the subcommand (serve by default).
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tipidbuddy", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.Int("port", 0, "server port (overrides config)")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	if *port != 0 {
		if errValidate := validatePort(*port); errValidate != nil {
			return errValidate
		}
	}

	command := "serve"
	rest := fs.Args()
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}

	path := strings.TrimSpace(*cfgPath)
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	path = config.ResolveConfigPath(path)

	if command == "init" {
		return runInit(path, *port, rest)
	}

	appCfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if *port != 0 {
		appCfg.Port = *port
	}
	closer := logging.Setup(appCfg.Log)
	defer func() { _ = closer.Close() }()

	switch command {
	case "serve":
		if !app.ConfigExists(path) {
			log.Infof("config file %s not found, running with defaults", path)
		}
		return app.RunServer(ctx, appCfg)
	case "migrate":
		if errMigrate := app.Migrate(appCfg); errMigrate != nil {
			return errMigrate
		}
		log.Info("migrations applied")
		return nil
	case "token":
		return runToken(appCfg, rest)
	default:
		return fmt.Errorf("unknown command %q (want serve, migrate, init or token)", command)
	}
}

// runInit writes a first config file with a generated JWT secret.
func runInit(configPath string, port int, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	opts := app.InitOptions{Port: port}
	fs.StringVar(&opts.DatabaseType, "db-type", "sqlite", "database type (sqlite or postgres)")
	fs.StringVar(&opts.DatabasePath, "db-path", "", "sqlite database file")
	fs.StringVar(&opts.DatabaseHost, "db-host", "", "postgres host")
	fs.IntVar(&opts.DatabasePort, "db-port", 5432, "postgres port")
	fs.StringVar(&opts.DatabaseUser, "db-user", "", "postgres user")
	fs.StringVar(&opts.DatabasePassword, "db-password", "", "postgres password")
	fs.StringVar(&opts.DatabaseName, "db-name", "", "postgres database name")
	fs.StringVar(&opts.DatabaseSSLMode, "db-sslmode", "disable", "postgres sslmode")
	fs.StringVar(&opts.KVBackend, "kv-backend", "", "kv backend (database, redis, leveldb or memory)")
	fs.StringVar(&opts.RedisAddr, "redis-addr", "", "redis address")
	fs.BoolVar(&opts.Force, "force", false, "overwrite an existing config file")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	cfg, err := app.WriteConfigFile(configPath, opts)
	if err != nil {
		return err
	}
	if errCheck := app.CheckDatabase(cfg.Database.DSN); errCheck != nil {
		log.WithError(errCheck).Warn("database is not reachable yet")
	}
	log.Infof("config written to %s", configPath)
	return nil
}

// runToken prints a signed development token for the jwt identity mode.
func runToken(cfg config.AppConfig, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "user id (token subject)")
	email := fs.String("email", "", "user email")
	name := fs.String("name", "", "display name")
	expiry := fs.Duration("expiry", 24*time.Hour, "token lifetime")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	if strings.TrimSpace(*userID) == "" {
		return errors.New("token: -user is required")
	}
	if cfg.Identity.Mode != app.IdentityModeJWT {
		return fmt.Errorf("token: identity mode %q does not accept locally signed tokens", cfg.Identity.Mode)
	}
	token, err := identity.GenerateToken(cfg.Identity.JWTSecret, *userID, *email, *name, *expiry)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}
