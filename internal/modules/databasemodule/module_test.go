package databasemodule

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/dicomingest/internal/modules/modulemanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModule_Lifecycle(t *testing.T) {
	db := setupTestDB(t)
	m := NewModule(db, hclog.NewNullLogger())

	registry := modulemanager.NewRegistry(hclog.NewNullLogger())
	registry.Register(m)
	require.NoError(t, registry.LoadAll(db))

	assert.True(t, db.Migrator().HasTable("instances"))
	assert.True(t, db.Migrator().HasTable("pet_details"))

	health := m.HealthCheck(context.Background())
	assert.Equal(t, modulemanager.HealthStateHealthy, health.Status)

	require.NoError(t, m.Shutdown(context.Background()))
	health = m.HealthCheck(context.Background())
	assert.Equal(t, modulemanager.HealthStateUnhealthy, health.Status)
}

func TestModule_InitRequiresConnection(t *testing.T) {
	m := NewModule(nil, hclog.NewNullLogger())
	assert.Error(t, m.Init())
	assert.True(t, m.Core())
	assert.Equal(t, ModuleID, m.ID())
}
