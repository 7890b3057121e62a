package db

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlitePragmas are applied by the driver to every new SQLite connection.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// gormLogger routes slow queries and errors through logrus.
var gormLogger = logger.New(log.StandardLogger(), logger.Config{
	SlowThreshold:             200 * time.Millisecond,
	LogLevel:                  logger.Warn,
	IgnoreRecordNotFoundError: true,
})

// Open opens a GORM connection for a postgres URL or keyword DSN, or a SQLite file DSN.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"),
		strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return openPostgres(trimmed)
	case strings.HasPrefix(lower, "file:"), !strings.Contains(lower, "://"):
		return openSQLite(trimmed)
	default:
		return nil, fmt.Errorf("db: unsupported dsn scheme: %s", trimmed)
	}
}

// Close releases the underlying sql.DB of a GORM connection.
func Close(conn *gorm.DB) error {
	if conn == nil {
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// openPostgres opens a PostgreSQL connection whose session timezone is UTC.
func openPostgres(dsn string) (*gorm.DB, error) {
	cfg, errParse := pgx.ParseConfig(dsn)
	if errParse != nil {
		return nil, fmt.Errorf("db: parse dsn: %w", errParse)
	}
	cfg.RuntimeParams["timezone"] = "UTC"
	sqlDB := stdlib.OpenDB(*cfg)

	conn, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{Logger: gormLogger})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("db: open: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if errPing := ping(conn); errPing != nil {
		_ = sqlDB.Close()
		return nil, errPing
	}
	return conn, nil
}

// openSQLite opens a single-connection SQLite database, creating its directory.
func openSQLite(dsn string) (*gorm.DB, error) {
	withPragmas, path := sqliteDSN(dsn)
	if dir := filepath.Dir(path); path != "" && dir != "." {
		if errMkdir := os.MkdirAll(dir, 0755); errMkdir != nil {
			return nil, fmt.Errorf("db: create sqlite dir: %w", errMkdir)
		}
	}

	conn, err := gorm.Open(sqlite.Open(withPragmas), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite sql: %w", err)
	}
	// One connection: SQLite has a single writer and the kv store writes on every submit.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if errPing := ping(conn); errPing != nil {
		_ = sqlDB.Close()
		return nil, errPing
	}
	return conn, nil
}

// sqliteDSN returns dsn as a file: DSN carrying the driver pragmas, and the database
// file path (empty for in-memory databases).
func sqliteDSN(dsn string) (string, string) {
	rest := strings.TrimSpace(dsn)
	if strings.HasPrefix(strings.ToLower(rest), "file:") {
		rest = rest[len("file:"):]
	}
	path, rawQuery, _ := strings.Cut(rest, "?")

	query, errQuery := url.ParseQuery(rawQuery)
	if errQuery != nil {
		query = url.Values{}
	}
	if len(query["_pragma"]) == 0 {
		for _, pragma := range sqlitePragmas {
			query.Add("_pragma", pragma)
		}
	}

	out := "file:" + path + "?" + query.Encode()
	if path == ":memory:" || strings.EqualFold(query.Get("mode"), "memory") {
		path = ""
	}
	return out, path
}

func ping(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("db: sql handle: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if errPing := sqlDB.PingContext(ctx); errPing != nil {
		return fmt.Errorf("db: ping: %w", errPing)
	}
	return nil
}
