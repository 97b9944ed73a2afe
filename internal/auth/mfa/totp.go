package mfa

import (
	cryptoRand "crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pongarena/authd/internal/models"
	"github.com/pongarena/authd/pkg/crypto"
)

const (
	defaultIssuer          = "PongArena"
	defaultBackupCodeCount = 10
	defaultQRCodeSize      = 256

	totpPeriod = 30
	totpSkew   = 1
)

// ErrSecretNotFound is returned when the user has no promoted TOTP secret.
var ErrSecretNotFound = errors.New("totp: secret not found")

// Option allows customising the TOTP service.
type Option func(*TOTPService)

// WithIssuer overrides the default issuer string encoded in provisioning URIs.
func WithIssuer(issuer string) Option {
	return func(s *TOTPService) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = issuer
		}
	}
}

// WithBackupCodeCount overrides the number of backup codes generated for users.
func WithBackupCodeCount(count int) Option {
	return func(s *TOTPService) {
		if count > 0 {
			s.backupCodes = count
		}
	}
}

// WithQRCodeSize controls the pixel size of generated QR codes.
func WithQRCodeSize(size int) Option {
	return func(s *TOTPService) {
		if size > 0 {
			s.qrCodeSize = size
		}
	}
}

// WithClock injects a custom clock, primarily for testing.
func WithClock(clock func() time.Time) Option {
	return func(s *TOTPService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Enrollment is the material handed to a client starting TOTP setup. The
// secret is not persisted until the user proves possession via VerifySecret
// and the caller promotes it with Enable.
type Enrollment struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
	QRCode string `json:"qr_code"`
}

// TOTPService manages user MFA secrets, backup codes, and QR provisioning.
type TOTPService struct {
	db            *gorm.DB
	encryptionKey []byte

	issuer      string
	backupCodes int
	qrCodeSize  int
	now         func() time.Time
}

// NewTOTPService constructs a TOTP service backed by the provided database.
func NewTOTPService(db *gorm.DB, encryptionKey []byte, opts ...Option) (*TOTPService, error) {
	if db == nil {
		return nil, errors.New("totp: db is required")
	}
	if len(encryptionKey) == 0 {
		return nil, errors.New("totp: encryption key is required")
	}

	service := &TOTPService{
		db:            db,
		encryptionKey: encryptionKey,
		issuer:        defaultIssuer,
		backupCodes:   defaultBackupCodeCount,
		qrCodeSize:    defaultQRCodeSize,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// GenerateEnrollment mints a fresh TOTP secret for the account and returns the
// provisioning URI plus an inline PNG QR code. Nothing is written to the
// database here.
func (s *TOTPService) GenerateEnrollment(accountName string) (*Enrollment, error) {
	accountName = strings.TrimSpace(accountName)
	if accountName == "" {
		return nil, errors.New("totp: account name is required")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("totp: generate key: %w", err)
	}

	png, err := qrcode.Encode(key.String(), qrcode.Medium, s.qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("totp: render qr code: %w", err)
	}

	return &Enrollment{
		Secret: key.Secret(),
		URI:    key.String(),
		QRCode: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

// VerifySecret checks a submitted code against a raw secret that has not been
// promoted yet. One period of clock skew is tolerated in either direction.
func (s *TOTPService) VerifySecret(secret, code string) bool {
	valid, err := totp.ValidateCustom(strings.TrimSpace(code), secret, s.now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// Enable promotes a verified secret: it persists the encrypted secret with a
// fresh batch of backup codes and flips the user's MFA flag, all in one
// transaction. The plaintext backup codes are returned exactly once.
func (s *TOTPService) Enable(userID, secret string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || secret == "" {
		return nil, errors.New("totp: user id and secret are required")
	}

	encryptedSecret, err := crypto.Encrypt([]byte(secret), s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("totp: encrypt secret: %w", err)
	}

	backupCodes := make([]string, s.backupCodes)
	hashedCodes := make([]string, s.backupCodes)
	for i := range backupCodes {
		code, err := generateBackupCode()
		if err != nil {
			return nil, fmt.Errorf("totp: generate backup code: %w", err)
		}
		hash, err := crypto.HashPassword(code)
		if err != nil {
			return nil, fmt.Errorf("totp: hash backup code: %w", err)
		}
		backupCodes[i] = code
		hashedCodes[i] = hash
	}

	codesJSON, err := json.Marshal(hashedCodes)
	if err != nil {
		return nil, fmt.Errorf("totp: marshal backup codes: %w", err)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.MFASecret
		err := tx.Where("user_id = ?", userID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			record := models.MFASecret{
				UserID:      userID,
				Secret:      encryptedSecret,
				BackupCodes: datatypes.JSON(codesJSON),
			}
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("totp: create mfa secret: %w", err)
			}
		case err != nil:
			return fmt.Errorf("totp: load mfa secret: %w", err)
		default:
			existing.Secret = encryptedSecret
			existing.BackupCodes = datatypes.JSON(codesJSON)
			existing.LastUsedAt = nil
			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("totp: update mfa secret: %w", err)
			}
		}

		if err := tx.Model(&models.User{}).Where("id = ?", userID).
			Update("mfa_enabled", true).Error; err != nil {
			return fmt.Errorf("totp: enable mfa flag: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return backupCodes, nil
}

// Disable removes the stored secret and backup codes and clears the user's
// MFA flag in one transaction.
func (s *TOTPService) Disable(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("totp: user id is required")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).
			Delete(&models.MFASecret{}).Error; err != nil {
			return fmt.Errorf("totp: delete mfa secret: %w", err)
		}

		if err := tx.Model(&models.User{}).Where("id = ?", userID).
			Update("mfa_enabled", false).Error; err != nil {
			return fmt.Errorf("totp: disable mfa flag: %w", err)
		}

		return nil
	})
}

// VerifyCode checks a submitted TOTP code against the user's promoted secret
// and stamps last_used_at on success.
func (s *TOTPService) VerifyCode(userID, code string) (bool, error) {
	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	if userID == "" || code == "" {
		return false, errors.New("totp: user id and code are required")
	}

	secret, err := s.loadSecret(userID)
	if err != nil {
		return false, err
	}

	rawSecret, err := crypto.Decrypt(secret.Secret, s.encryptionKey)
	if err != nil {
		return false, fmt.Errorf("totp: decrypt secret: %w", err)
	}

	if !s.VerifySecret(string(rawSecret), code) {
		return false, nil
	}

	now := s.now()
	if err := s.db.Model(secret).Update("last_used_at", &now).Error; err != nil {
		return false, fmt.Errorf("totp: update last used: %w", err)
	}

	return true, nil
}

// UseBackupCode validates and consumes a single backup code.
func (s *TOTPService) UseBackupCode(userID, code string) (bool, error) {
	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	if userID == "" || code == "" {
		return false, errors.New("totp: user id and code are required")
	}

	secret, err := s.loadSecret(userID)
	if err != nil {
		return false, err
	}

	var hashedCodes []string
	if err := json.Unmarshal(secret.BackupCodes, &hashedCodes); err != nil {
		return false, fmt.Errorf("totp: unmarshal backup codes: %w", err)
	}

	consumed := false
	for i, stored := range hashedCodes {
		if crypto.VerifyPassword(stored, code) {
			hashedCodes = append(hashedCodes[:i], hashedCodes[i+1:]...)
			consumed = true
			break
		}
	}

	if !consumed {
		return false, nil
	}

	encoded, err := json.Marshal(hashedCodes)
	if err != nil {
		return false, fmt.Errorf("totp: marshal backup codes: %w", err)
	}

	if err := s.db.Model(secret).Update("backup_codes", datatypes.JSON(encoded)).Error; err != nil {
		return false, fmt.Errorf("totp: update backup codes: %w", err)
	}

	return true, nil
}

// RemainingBackupCodes returns the number of backup codes still available.
func (s *TOTPService) RemainingBackupCodes(userID string) (int, error) {
	secret, err := s.loadSecret(strings.TrimSpace(userID))
	if err != nil {
		return 0, err
	}

	var hashedCodes []string
	if err := json.Unmarshal(secret.BackupCodes, &hashedCodes); err != nil {
		return 0, fmt.Errorf("totp: unmarshal backup codes: %w", err)
	}

	return len(hashedCodes), nil
}

func (s *TOTPService) loadSecret(userID string) (*models.MFASecret, error) {
	if userID == "" {
		return nil, errors.New("totp: user id is required")
	}

	var secret models.MFASecret
	if err := s.db.Where("user_id = ?", userID).First(&secret).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSecretNotFound
		}
		return nil, fmt.Errorf("totp: load secret: %w", err)
	}

	return &secret, nil
}

func generateBackupCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := cryptoRand.Read(buf); err != nil {
		return "", err
	}

	return base32.StdEncoding.EncodeToString(buf)[:8], nil
}
