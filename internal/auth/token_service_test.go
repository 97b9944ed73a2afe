package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pongarena/authd/internal/cache"
	"github.com/pongarena/authd/internal/database"
	"github.com/pongarena/authd/internal/models"
	"github.com/pongarena/authd/pkg/crypto"
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

func createTestUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword("password")
	require.NoError(t, err)

	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: hashed,
		IsActive: true,
	}

	require.NoError(t, db.Create(user).Error)
	return user
}

func newTestTokenService(t *testing.T, db *gorm.DB, clock func() time.Time) *TokenService {
	t.Helper()

	jwtSvc, err := NewJWTService(JWTConfig{
		Secret: "test-secret",
		Issuer: "authd",
		Clock:  clock,
	})
	require.NoError(t, err)

	blacklist := NewStoreBlacklist(cache.NewDatabaseStore(db))
	svc, err := NewTokenService(db, jwtSvc, blacklist)
	require.NoError(t, err)

	return svc
}

func TestTokenServiceIssueAndRefresh(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "issue-alice")
	svc := newTestTokenService(t, db, time.Now)

	pair, err := svc.Issue(user)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := svc.jwt.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)
	require.Equal(t, user.Username, claims.Username)

	access, err := svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, access)

	// The refresh token is not rotated: a second refresh with the same token
	// succeeds as well.
	again, err := svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, again)
}

func TestTokenServiceRefreshRejectsGarbage(t *testing.T) {
	db := openTestDB(t)
	svc := newTestTokenService(t, db, time.Now)

	_, err := svc.Refresh(context.Background(), "not-a-jwt")
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = svc.Refresh(context.Background(), "")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenServiceRefreshRejectsAccessToken(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "refresh-bob")
	svc := newTestTokenService(t, db, time.Now)

	pair, err := svc.Issue(user)
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenServiceRevoke(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "revoke-carol")
	svc := newTestTokenService(t, db, time.Now)

	pair, err := svc.Issue(user)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), pair.RefreshToken))

	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)

	// Revoking twice is a no-op.
	require.NoError(t, svc.Revoke(context.Background(), pair.RefreshToken))
}

func TestTokenServiceRevokeOnlyAffectsOneToken(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "revoke-dave")
	svc := newTestTokenService(t, db, time.Now)

	first, err := svc.Issue(user)
	require.NoError(t, err)
	second, err := svc.Issue(user)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), first.RefreshToken))

	_, err = svc.Refresh(context.Background(), first.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)

	_, err = svc.Refresh(context.Background(), second.RefreshToken)
	require.NoError(t, err)
}

func TestTokenServiceRevokeInvalidToken(t *testing.T) {
	db := openTestDB(t)
	svc := newTestTokenService(t, db, time.Now)

	err := svc.Revoke(context.Background(), "not-a-jwt")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenServiceRefreshExpiredToken(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "expired-erin")

	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokenService(t, db, func() time.Time { return current })

	pair, err := svc.Issue(user)
	require.NoError(t, err)

	current = current.Add(DefaultRefreshTokenTTL + time.Hour)

	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenServiceRefreshDeletedAccount(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "deleted-frank")
	svc := newTestTokenService(t, db, time.Now)

	pair, err := svc.Issue(user)
	require.NoError(t, err)

	require.NoError(t, db.Delete(&models.User{}, "id = ?", user.ID).Error)

	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrAccountNotFound)
}
