package repository

import (
	"testing"

	"github.com/replywatch/replywatch-backend/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens an in-memory SQLite database with all models migrated
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// every pooled connection would get its own private in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	db.Exec("PRAGMA foreign_keys = ON")

	err = db.AutoMigrate(
		&models.Account{},
		&models.Subscription{},
		&models.QueueJob{},
		&models.TrackedEmail{},
		&models.EmailResponse{},
	)
	require.NoError(t, err)

	return db
}

// createTestAccount inserts a fixture account
func createTestAccount(t *testing.T, db *gorm.DB, email string) *models.Account {
	t.Helper()

	account := &models.Account{
		Email:          email,
		ProviderUserID: "user-" + email,
		Status:         models.AccountConnected,
	}
	require.NoError(t, db.Create(account).Error)
	return account
}
