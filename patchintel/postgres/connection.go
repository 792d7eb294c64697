// File: connection.go
package postgres

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/SiriusScan/patch-intel/patchintel/postgres/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config selects the storage engine backing the entity store.
type Config struct {
	Driver string
	DSN    string
	// MaxOpenConns is ignored for sqlite, which always runs a single connection.
	MaxOpenConns int
	LogLevel     logger.LogLevel
}

// Open connects to the configured database and migrates the five relations.
// The returned handle is meant to be passed explicitly to repositories.
func Open(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite, "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	level := cfg.LogLevel
	if level == 0 {
		level = logger.Warn
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: logger.New(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn), logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	if cfg.Driver == DriverPostgres {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	} else {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY between
		// the ingestion transaction and concurrent readers.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	slog.Debug("Connected to database", "driver", cfg.Driver)
	return db, nil
}

// Migrate registers the explicit junction models and creates any missing
// tables and indexes.
func Migrate(db *gorm.DB) error {
	if err := db.SetupJoinTable(&models.Patch{}, "Vulnerabilities", &models.PatchVulnerability{}); err != nil {
		return fmt.Errorf("failed to set up patch_vulnerabilities: %w", err)
	}
	if err := db.SetupJoinTable(&models.Patch{}, "Platforms", &models.PatchPlatform{}); err != nil {
		return fmt.Errorf("failed to set up patch_platforms: %w", err)
	}

	err := db.AutoMigrate(
		&models.Patch{},
		&models.Vulnerability{},
		&models.PlatformIdentifier{},
		&models.PatchVulnerability{},
		&models.PatchPlatform{},
	)
	if err != nil {
		return fmt.Errorf("error migrating database schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
