package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"licensekit/internal/config"
	"licensekit/internal/license"
	"licensekit/pkg/contracts/domain"
)

// Driver identifiers supported by Open
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

const sqliteParams = "_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"

// Store is the full entitlement store used by the server
type Store interface {
	license.Store
	UpsertLicense(ctx context.Context, rec *domain.LicenseRecord) error
	ListSlots(ctx context.Context, licenseID int64) ([]domain.ActivationSlot, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
)

// Open creates the store selected by cfg.Driver
func Open(cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver := strings.ToLower(cfg.Driver)
	if driver == "" {
		driver = DriverSQLite
	}

	if driver == DriverMemory {
		logger.Warn("using in-memory entitlement store; data is lost on restart")
		return NewMemoryStore(), nil
	}

	dialector, err := dialectorFor(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	if driver == DriverSQLite {
		// one writer connection; transactions queue instead of failing with SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store, err := NewGormStore(db)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	logger.Info("entitlement store opened", slog.String("driver", driver))
	return store, nil
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverSQLite:
		path, err := SQLiteDSN(dsn)
		if err != nil {
			return nil, err
		}
		return sqlite.Open(path), nil
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres driver requires a dsn")
		}
		return postgres.Open(dsn), nil
	case DriverMySQL:
		if dsn == "" {
			return nil, fmt.Errorf("mysql driver requires a dsn")
		}
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}

// SQLiteDSN turns a database file path into a DSN with the pragmas the store
// needs. The parent directory is created if missing.
func SQLiteDSN(path string) (string, error) {
	if path == "" {
		path = filepath.Join("data", "licenses.db")
	}
	if strings.Contains(path, "?") {
		return path, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return path + "?" + sqliteParams, nil
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "info":
		return gormlogger.Info
	case "warn":
		return gormlogger.Warn
	case "error":
		return gormlogger.Error
	default:
		return gormlogger.Silent
	}
}
