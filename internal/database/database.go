package database

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/dicomingest/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Open connects to the configured metadata store. poolSize bounds the number
// of open connections.
func Open(cfg config.DatabaseConfig, poolSize int, log hclog.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}
	if cfg.LogQueries {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	var (
		db  *gorm.DB
		err error
	)

	switch cfg.Type {
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.DSN()), gormCfg)
	case "sqlite":
		dsn := cfg.DSN()
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Type, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if poolSize < 1 {
		poolSize = 1
	}
	lifetime := cfg.ConnMaxLifetime
	// an in-memory sqlite database exists per connection
	if cfg.Type == "sqlite" && cfg.DSN() == ":memory:" {
		poolSize = 1
		lifetime = 0
	}
	sqlDB.SetMaxOpenConns(poolSize)
	sqlDB.SetMaxIdleConns(max(min(cfg.MaxIdleConns, poolSize), 1))
	sqlDB.SetConnMaxLifetime(lifetime)

	if cfg.Type == "sqlite" && cfg.DSN() != ":memory:" {
		if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
			log.Warn("failed to enable WAL journal", "error", err)
		}
	}

	log.Info("database connected", "type", cfg.Type, "pool_size", poolSize)
	return db, nil
}

// Migrate creates or updates the metadata store tables
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("failed to migrate metadata schema: %w", err)
	}
	return nil
}

// ColumnCount returns the number of columns model maps to
func ColumnCount(db *gorm.DB, model interface{}) (int, error) {
	s, err := schema.Parse(model, &sync.Map{}, db.NamingStrategy)
	if err != nil {
		return 0, fmt.Errorf("failed to parse schema for %T: %w", model, err)
	}
	return len(s.DBNames), nil
}

// WidestColumnCount returns the largest column count across models
func WidestColumnCount(db *gorm.DB, models ...interface{}) (int, error) {
	widest := 0
	for _, m := range models {
		n, err := ColumnCount(db, m)
		if err != nil {
			return 0, err
		}
		widest = max(widest, n)
	}
	return widest, nil
}
