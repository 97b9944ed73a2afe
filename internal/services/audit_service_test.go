package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pongarena/authd/internal/database"
	"github.com/pongarena/authd/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func TestAuditLogAndList(t *testing.T) {
	db := openTestDB(t)
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	ctx := context.Background()
	userID := "user-1"

	require.NoError(t, svc.Log(ctx, AuditEntry{
		UserID:    &userID,
		Username:  "alice",
		Action:    AuditActionLogin,
		Result:    AuditResultSuccess,
		IPAddress: "10.0.0.1",
		UserAgent: "curl/8.0",
	}))
	require.NoError(t, svc.Log(ctx, AuditEntry{
		Username: "alice",
		Action:   AuditActionLogin,
		Result:   AuditResultFailure,
	}))
	require.NoError(t, svc.Log(ctx, AuditEntry{
		UserID:   &userID,
		Username: "alice",
		Action:   AuditActionLogout,
		Result:   AuditResultSuccess,
	}))

	logs, total, err := svc.List(ctx, AuditListOptions{})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, logs, 3)

	logs, total, err = svc.List(ctx, AuditListOptions{Action: AuditActionLogin, Result: AuditResultFailure})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Len(t, logs, 1)
	require.Equal(t, "alice", logs[0].Username)
	require.Nil(t, logs[0].UserID)
}

func TestAuditLogRequiresActionAndResult(t *testing.T) {
	db := openTestDB(t)
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	require.Error(t, svc.Log(context.Background(), AuditEntry{Result: AuditResultSuccess}))
	require.Error(t, svc.Log(context.Background(), AuditEntry{Action: AuditActionLogin}))
}

func TestAuditCleanupOlderThan(t *testing.T) {
	db := openTestDB(t)
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	current := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return current }

	old := models.AuditLog{
		Action:    AuditActionLogin,
		Result:    AuditResultSuccess,
		CreatedAt: current.AddDate(0, 0, -45),
	}
	recent := models.AuditLog{
		Action:    AuditActionLogin,
		Result:    AuditResultSuccess,
		CreatedAt: current.AddDate(0, 0, -5),
	}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Create(&recent).Error)

	removed, err := svc.CleanupOlderThan(context.Background(), 30)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var remaining int64
	require.NoError(t, db.Model(&models.AuditLog{}).Count(&remaining).Error)
	require.EqualValues(t, 1, remaining)

	_, err = svc.CleanupOlderThan(context.Background(), 0)
	require.Error(t, err)
}
