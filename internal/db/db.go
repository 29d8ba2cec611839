package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"plantmon-server/internal/config"

	sqlite3 "github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
)

// Open connects to the SQLite store selected by cfg.DBDriver and verifies the
// connection. With cfg.DBLogSQL every statement is logged to logger at debug
// level.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sql.DB, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if cfg.DBLogSQL {
		drv, err := driverFor(cfg.DBDriver)
		if err != nil {
			return nil, err
		}
		connector, err := NewLoggingConnector(drv, dsn, logger)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		db = sql.OpenDB(connector)
	} else {
		db, err = sql.Open(cfg.DBDriver, dsn)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
	}

	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns >= 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
	if cfg.DBConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return db, nil
}

func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

func driverFor(name string) (driver.Driver, error) {
	switch name {
	case "sqlite3":
		return &sqlite3.SQLiteDriver{}, nil
	case "sqlite":
		return &sqlite.Driver{}, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", name)
	}
}

// driverParams enables foreign keys, a busy timeout and WAL. The two drivers
// spell these differently.
func driverParams(name string) []string {
	if name == "sqlite" {
		return []string{
			"_pragma=foreign_keys(1)",
			"_pragma=busy_timeout(5000)",
			"_pragma=journal_mode(WAL)",
		}
	}
	return []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}
}

func buildDSN(cfg config.Config) (string, error) {
	if cfg.DBDSN != "" {
		return cfg.DBDSN, nil
	}

	path := cfg.SQLitePath
	if path == "" {
		return "", fmt.Errorf("db: SQLITE_PATH is empty")
	}
	file := strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(file, '?'); i >= 0 {
		file = file[:i]
	}
	if dir := filepath.Dir(file); dir != "." && file != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	params := strings.Join(driverParams(cfg.DBDriver), "&")

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + params, nil
	}
	return fmt.Sprintf("file:%s?%s", path, params), nil
}
