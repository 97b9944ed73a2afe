package mfa

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pongarena/authd/internal/database"
	"github.com/pongarena/authd/internal/models"
	"github.com/pongarena/authd/pkg/crypto"
)

var testEncryptionKey = []byte("12345678901234567890123456789012")

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

func newTestService(t *testing.T, db *gorm.DB, opts ...Option) *TOTPService {
	t.Helper()

	service, err := NewTOTPService(db, testEncryptionKey, opts...)
	require.NoError(t, err)
	return service
}

func generateCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()

	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestGenerateEnrollment(t *testing.T) {
	db := openTestDB(t)
	service := newTestService(t, db, WithIssuer("PongArena Test"))

	enrollment, err := service.GenerateEnrollment("alice@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)
	require.Contains(t, enrollment.URI, "otpauth://totp/")
	require.Contains(t, enrollment.URI, "PongArena+Test")

	// Nothing is persisted until Enable.
	var count int64
	require.NoError(t, db.Model(&models.MFASecret{}).Count(&count).Error)
	require.Zero(t, count)

	// The QR code is an inline PNG the browser can render directly.
	require.True(t, strings.HasPrefix(enrollment.QRCode, "data:image/png;base64,"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(enrollment.QRCode, "data:image/png;base64,"))
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
}

func TestVerifySecretWithSkew(t *testing.T) {
	db := openTestDB(t)

	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	service := newTestService(t, db, WithClock(func() time.Time { return current }))

	enrollment, err := service.GenerateEnrollment("bob@example.com")
	require.NoError(t, err)

	require.True(t, service.VerifySecret(enrollment.Secret, generateCode(t, enrollment.Secret, current)))

	// One period of skew in either direction is tolerated.
	require.True(t, service.VerifySecret(enrollment.Secret, generateCode(t, enrollment.Secret, current.Add(-totpPeriod*time.Second))))
	require.True(t, service.VerifySecret(enrollment.Secret, generateCode(t, enrollment.Secret, current.Add(totpPeriod*time.Second))))

	// Two periods is not.
	require.False(t, service.VerifySecret(enrollment.Secret, generateCode(t, enrollment.Secret, current.Add(-2*totpPeriod*time.Second))))

	require.False(t, service.VerifySecret(enrollment.Secret, "000000"))
	require.False(t, service.VerifySecret(enrollment.Secret, ""))
}

func TestEnableStoresEncryptedSecretAndBackupCodes(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "carol")
	service := newTestService(t, db)

	enrollment, err := service.GenerateEnrollment(user.Email)
	require.NoError(t, err)

	backup, err := service.Enable(user.ID, enrollment.Secret)
	require.NoError(t, err)
	require.Len(t, backup, defaultBackupCodeCount)

	var stored models.MFASecret
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&stored).Error)
	require.NotEqual(t, enrollment.Secret, stored.Secret)

	decrypted, err := crypto.Decrypt(stored.Secret, testEncryptionKey)
	require.NoError(t, err)
	require.Equal(t, enrollment.Secret, string(decrypted))

	var hashed []string
	require.NoError(t, json.Unmarshal(stored.BackupCodes, &hashed))
	require.Len(t, hashed, defaultBackupCodeCount)
	for i := range hashed {
		require.True(t, crypto.VerifyPassword(hashed[i], backup[i]))
	}

	var storedUser models.User
	require.NoError(t, db.Take(&storedUser, "id = ?", user.ID).Error)
	require.True(t, storedUser.MFAEnabled)
}

func TestEnableReplacesPreviousSecret(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "dave")
	service := newTestService(t, db)

	first, err := service.GenerateEnrollment(user.Email)
	require.NoError(t, err)
	_, err = service.Enable(user.ID, first.Secret)
	require.NoError(t, err)

	second, err := service.GenerateEnrollment(user.Email)
	require.NoError(t, err)
	_, err = service.Enable(user.ID, second.Secret)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.MFASecret{}).Where("user_id = ?", user.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)

	valid, err := service.VerifyCode(user.ID, generateCode(t, second.Secret, time.Now()))
	require.NoError(t, err)
	require.True(t, valid)
}

func TestVerifyCodeAndUpdateLastUsed(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "erin")
	service := newTestService(t, db)

	enrollment, err := service.GenerateEnrollment(user.Email)
	require.NoError(t, err)
	_, err = service.Enable(user.ID, enrollment.Secret)
	require.NoError(t, err)

	valid, err := service.VerifyCode(user.ID, generateCode(t, enrollment.Secret, time.Now()))
	require.NoError(t, err)
	require.True(t, valid)

	var stored models.MFASecret
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&stored).Error)
	require.NotNil(t, stored.LastUsedAt)

	valid, err = service.VerifyCode(user.ID, "000000")
	require.NoError(t, err)
	require.False(t, valid)
}

func TestVerifyCodeWithoutSecret(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "frank")
	service := newTestService(t, db)

	_, err := service.VerifyCode(user.ID, "123456")
	require.ErrorIs(t, err, ErrSecretNotFound)
}

func TestUseBackupCodeConsumesCode(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "gina")
	service := newTestService(t, db)

	enrollment, err := service.GenerateEnrollment(user.Email)
	require.NoError(t, err)
	backup, err := service.Enable(user.ID, enrollment.Secret)
	require.NoError(t, err)

	ok, err := service.UseBackupCode(user.ID, backup[0])
	require.NoError(t, err)
	require.True(t, ok)

	count, err := service.RemainingBackupCodes(user.ID)
	require.NoError(t, err)
	require.Equal(t, defaultBackupCodeCount-1, count)

	// A consumed code cannot be replayed.
	ok, err = service.UseBackupCode(user.ID, backup[0])
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDisableRemovesSecret(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "henry")
	service := newTestService(t, db)

	enrollment, err := service.GenerateEnrollment(user.Email)
	require.NoError(t, err)
	_, err = service.Enable(user.ID, enrollment.Secret)
	require.NoError(t, err)

	require.NoError(t, service.Disable(user.ID))

	var count int64
	require.NoError(t, db.Model(&models.MFASecret{}).Where("user_id = ?", user.ID).Count(&count).Error)
	require.Zero(t, count)

	var storedUser models.User
	require.NoError(t, db.Take(&storedUser, "id = ?", user.ID).Error)
	require.False(t, storedUser.MFAEnabled)

	_, err = service.VerifyCode(user.ID, "123456")
	require.ErrorIs(t, err, ErrSecretNotFound)
}
