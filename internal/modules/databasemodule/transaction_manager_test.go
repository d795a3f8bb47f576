package databasemodule

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type note struct {
	ID   uint `gorm:"primaryKey"`
	Body string
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&note{}))
	return db
}

func TestWithTransaction_Commit(t *testing.T) {
	db := setupTestDB(t)
	tm := NewTransactionManager(db, hclog.NewNullLogger())

	err := tm.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		return tx.Create(&note{Body: "kept"}).Error
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&note{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, TransactionStats{Committed: 1}, tm.Stats())
}

func TestWithTransaction_RollbackOnError(t *testing.T) {
	db := setupTestDB(t)
	tm := NewTransactionManager(db, hclog.NewNullLogger())
	boom := errors.New("boom")

	err := tm.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		if err := tx.Create(&note{Body: "discarded"}).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&note{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Equal(t, TransactionStats{RolledBack: 1}, tm.Stats())
}

func TestWithTransaction_RollbackOnPanic(t *testing.T) {
	db := setupTestDB(t)
	tm := NewTransactionManager(db, hclog.NewNullLogger())

	assert.Panics(t, func() {
		_ = tm.WithTransaction(context.Background(), func(tx *gorm.DB) error {
			tx.Create(&note{Body: "discarded"})
			panic("unexpected")
		})
	})

	var count int64
	require.NoError(t, db.Model(&note{}).Count(&count).Error)
	assert.Zero(t, count)
}
