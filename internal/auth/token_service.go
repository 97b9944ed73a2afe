package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/pongarena/authd/internal/models"
	"github.com/pongarena/authd/pkg/metrics"
)

var (
	// ErrTokenInvalid is returned when a refresh token is malformed, has a bad
	// signature, or has expired.
	ErrTokenInvalid = errors.New("token: invalid or expired")
	// ErrTokenRevoked marks a refresh token whose jti is in the revocation set.
	ErrTokenRevoked = errors.New("token: revoked")
	// ErrAccountNotFound signals that the account referenced by a refresh token
	// no longer exists.
	ErrAccountNotFound = errors.New("token: account not found")
)

// TokenPair represents an access token and refresh token pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TokenService manages issuance, refresh, and revocation of token pairs.
// Issuance is stateless; the only persisted mutation is blacklist membership.
type TokenService struct {
	db        *gorm.DB
	jwt       *JWTService
	blacklist TokenBlacklist
	now       func() time.Time
}

// NewTokenService constructs a token manager backed by the provided database
// and JWT service. The blacklist is required: refresh and revoke are
// meaningless without it.
func NewTokenService(db *gorm.DB, jwtService *JWTService, blacklist TokenBlacklist) (*TokenService, error) {
	if db == nil {
		return nil, errors.New("token service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("token service: jwt service is required")
	}
	if blacklist == nil {
		return nil, errors.New("token service: blacklist is required")
	}

	return &TokenService{
		db:        db,
		jwt:       jwtService,
		blacklist: blacklist,
		now:       jwtService.now,
	}, nil
}

// RefreshTokenTTL reports the refresh token lifetime, used for cookie Max-Age.
func (s *TokenService) RefreshTokenTTL() time.Duration {
	return s.jwt.RefreshTokenTTL()
}

// Issue mints a fresh token pair for the user. Nothing is stored server-side.
func (s *TokenService) Issue(user *models.User) (TokenPair, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return TokenPair{}, errors.New("token service: user is required")
	}

	access, err := s.jwt.GenerateAccessToken(user.ID, user.Username)
	if err != nil {
		return TokenPair{}, fmt.Errorf("token service: generate access token: %w", err)
	}

	refresh, _, err := s.jwt.GenerateRefreshToken(user.ID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("token service: generate refresh token: %w", err)
	}

	metrics.TokensIssued.WithLabelValues("access").Inc()
	metrics.TokensIssued.WithLabelValues("refresh").Inc()

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh validates the refresh token and issues a new access token. The
// refresh token itself is not rotated: it stays valid until its own expiry or
// explicit revocation, so calling Refresh twice with the same token succeeds
// twice.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.jwt.ValidateRefreshToken(strings.TrimSpace(refreshToken))
	if err != nil {
		return "", ErrTokenInvalid
	}

	revoked, err := s.blacklist.Contains(ctx, claims.ID)
	if err != nil {
		return "", fmt.Errorf("token service: check blacklist: %w", err)
	}
	if revoked {
		return "", ErrTokenRevoked
	}

	var user models.User
	err = s.db.WithContext(ctx).Take(&user, "id = ?", claims.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrAccountNotFound
	}
	if err != nil {
		return "", fmt.Errorf("token service: load user: %w", err)
	}

	access, err := s.jwt.GenerateAccessToken(user.ID, user.Username)
	if err != nil {
		return "", fmt.Errorf("token service: generate access token: %w", err)
	}

	metrics.TokensIssued.WithLabelValues("access").Inc()

	return access, nil
}

// Revoke adds the refresh token's jti to the revocation set. The entry lives
// only as long as the token itself would. Revoking an already revoked token is
// a no-op; a malformed or expired token reports ErrTokenInvalid.
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := s.jwt.ValidateRefreshToken(strings.TrimSpace(refreshToken))
	if err != nil {
		return ErrTokenInvalid
	}

	ttl := claims.ExpiresAt.Time.Sub(s.now())
	if err := s.blacklist.Add(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("token service: blacklist token: %w", err)
	}

	metrics.TokensRevoked.Inc()

	return nil
}
