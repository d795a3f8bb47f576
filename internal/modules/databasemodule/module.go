package databasemodule

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/dicomingest/internal/database"
	"github.com/mantonx/dicomingest/internal/modules/modulemanager"
	"gorm.io/gorm"
)

const (
	// ModuleID is the unique identifier for the database module
	ModuleID = "system.database"

	// ModuleName is the display name for the database module
	ModuleName = "Metadata Store"
)

// Module owns the metadata store connection and its schema
type Module struct {
	db     *gorm.DB
	logger hclog.Logger
}

// NewModule creates a database module for an open connection
func NewModule(db *gorm.DB, logger hclog.Logger) *Module {
	return &Module{
		db:     db,
		logger: logger.Named("database"),
	}
}

// ID returns the unique module identifier
func (m *Module) ID() string { return ModuleID }

// Name returns the module display name
func (m *Module) Name() string { return ModuleName }

// Core returns whether this is a core module
func (m *Module) Core() bool { return true }

// Migrate creates or updates the metadata tables
func (m *Module) Migrate(db *gorm.DB) error {
	m.logger.Debug("migrating metadata schema")
	return database.Migrate(db)
}

// Init checks that a connection is present
func (m *Module) Init() error {
	if m.db == nil {
		return fmt.Errorf("database module has no connection")
	}
	return nil
}

// DB returns the connection
func (m *Module) DB() *gorm.DB { return m.db }

// HealthCheck pings the store and reports pool usage
func (m *Module) HealthCheck(ctx context.Context) modulemanager.HealthStatus {
	status := modulemanager.HealthStatus{LastChecked: time.Now()}

	sqlDB, err := m.db.DB()
	if err != nil {
		status.Status = modulemanager.HealthStateUnhealthy
		status.Message = err.Error()
		return status
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		status.Status = modulemanager.HealthStateUnhealthy
		status.Message = err.Error()
		return status
	}

	stats := sqlDB.Stats()
	status.Status = modulemanager.HealthStateHealthy
	status.Details = map[string]interface{}{
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"wait_count":       stats.WaitCount,
	}
	return status
}

// Shutdown closes the connection pool
func (m *Module) Shutdown(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	m.logger.Debug("closing database connection")
	return sqlDB.Close()
}
