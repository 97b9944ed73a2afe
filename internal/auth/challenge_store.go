package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pongarena/authd/internal/cache"
	"github.com/pongarena/authd/pkg/crypto"
)

const (
	loginChallengeKeyPrefix  = "auth:challenge:ref:"
	loginChallengeUserPrefix = "auth:challenge:user:"
	loginAttemptsKeyPrefix   = "auth:challenge:attempts:"
	pendingSetupKeyPrefix    = "auth:setup:"

	challengeRefLength = 32
)

const (
	// DefaultChallengeTTL bounds how long a post-password 2FA challenge stays valid.
	DefaultChallengeTTL = 5 * time.Minute
	// DefaultSetupTTL bounds how long a pending TOTP enrollment secret survives.
	DefaultSetupTTL = 10 * time.Minute
	// DefaultMaxAttempts caps wrong codes per challenge before it is destroyed.
	DefaultMaxAttempts = 5
)

var (
	// ErrChallengeNotFound is returned for unknown, expired, or consumed challenges.
	ErrChallengeNotFound = errors.New("challenge: not found")
	// ErrTooManyAttempts signals that the challenge burned through its attempt budget.
	ErrTooManyAttempts = errors.New("challenge: too many attempts")
	// ErrSetupNotFound is returned when no TOTP enrollment is in progress.
	ErrSetupNotFound = errors.New("challenge: no setup in progress")
)

// ChallengeConfig describes tunable behaviour for the ChallengeStore.
type ChallengeConfig struct {
	ChallengeTTL time.Duration
	SetupTTL     time.Duration
	MaxAttempts  int
	Clock        func() time.Time
}

// ChallengeStore holds the two transient per-account records of the login
// state machine: the post-password "awaiting 2FA" challenge and the pending
// TOTP enrollment secret. Both are backed by the shared cache store so any
// worker can see them, and both expire via TTL.
type ChallengeStore struct {
	store         cache.Store
	encryptionKey []byte

	challengeTTL time.Duration
	setupTTL     time.Duration
	maxAttempts  int
	now          func() time.Time
}

type loginChallenge struct {
	UserID   string    `json:"user_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// NewChallengeStore constructs a ChallengeStore. Pending enrollment secrets
// are AES-256-GCM encrypted with the supplied key before they hit the store.
func NewChallengeStore(store cache.Store, encryptionKey []byte, cfg ChallengeConfig) (*ChallengeStore, error) {
	if store == nil {
		return nil, errors.New("challenge store: cache store is required")
	}
	if len(encryptionKey) == 0 {
		return nil, errors.New("challenge store: encryption key is required")
	}

	challengeTTL := cfg.ChallengeTTL
	if challengeTTL <= 0 {
		challengeTTL = DefaultChallengeTTL
	}

	setupTTL := cfg.SetupTTL
	if setupTTL <= 0 {
		setupTTL = DefaultSetupTTL
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &ChallengeStore{
		store:         store,
		encryptionKey: encryptionKey,
		challengeTTL:  challengeTTL,
		setupTTL:      setupTTL,
		maxAttempts:   maxAttempts,
		now:           now,
	}, nil
}

// CreateLoginChallenge records that the user passed the password check and now
// owes a TOTP code. It returns an opaque challenge reference for the client.
// A newer challenge supersedes and destroys any earlier one for the same user.
func (s *ChallengeStore) CreateLoginChallenge(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("challenge store: user id is required")
	}

	// Drop the previous challenge for this account, if any.
	if prev, found, err := s.store.Get(ctx, loginChallengeUserPrefix+userID); err == nil && found {
		_ = s.deleteChallenge(ctx, string(prev), userID)
	}

	ref, err := crypto.GenerateToken(challengeRefLength)
	if err != nil {
		return "", fmt.Errorf("challenge store: generate ref: %w", err)
	}

	payload, err := json.Marshal(loginChallenge{UserID: userID, IssuedAt: s.now()})
	if err != nil {
		return "", fmt.Errorf("challenge store: encode challenge: %w", err)
	}

	if err := s.store.Set(ctx, loginChallengeKeyPrefix+ref, payload, s.challengeTTL); err != nil {
		return "", fmt.Errorf("challenge store: store challenge: %w", err)
	}
	if err := s.store.Set(ctx, loginChallengeUserPrefix+userID, []byte(ref), s.challengeTTL); err != nil {
		return "", fmt.Errorf("challenge store: store user pointer: %w", err)
	}

	return ref, nil
}

// GetLoginChallenge resolves a challenge reference to the account that owes a
// second factor.
func (s *ChallengeStore) GetLoginChallenge(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrChallengeNotFound
	}

	payload, found, err := s.store.Get(ctx, loginChallengeKeyPrefix+ref)
	if err != nil {
		return "", fmt.Errorf("challenge store: load challenge: %w", err)
	}
	if !found {
		return "", ErrChallengeNotFound
	}

	var challenge loginChallenge
	if err := json.Unmarshal(payload, &challenge); err != nil {
		return "", fmt.Errorf("challenge store: decode challenge: %w", err)
	}

	return challenge.UserID, nil
}

// ConsumeLoginChallenge removes a successfully verified challenge so it cannot
// be replayed.
func (s *ChallengeStore) ConsumeLoginChallenge(ctx context.Context, ref string) error {
	userID, err := s.GetLoginChallenge(ctx, ref)
	if err != nil {
		return err
	}
	return s.deleteChallenge(ctx, ref, userID)
}

// FailLoginChallenge counts a wrong code against the challenge. Once the
// attempt budget is exhausted the challenge is destroyed and ErrTooManyAttempts
// is returned; until then the challenge stays valid for retries.
func (s *ChallengeStore) FailLoginChallenge(ctx context.Context, ref string) error {
	userID, err := s.GetLoginChallenge(ctx, ref)
	if err != nil {
		return err
	}

	count, _, err := s.store.IncrementWithTTL(ctx, loginAttemptsKeyPrefix+ref, s.challengeTTL)
	if err != nil {
		return fmt.Errorf("challenge store: count attempt: %w", err)
	}

	if count >= int64(s.maxAttempts) {
		_ = s.deleteChallenge(ctx, ref, userID)
		return ErrTooManyAttempts
	}

	return nil
}

func (s *ChallengeStore) deleteChallenge(ctx context.Context, ref, userID string) error {
	keys := []string{
		loginChallengeKeyPrefix + ref,
		loginAttemptsKeyPrefix + ref,
	}
	if userID != "" {
		keys = append(keys, loginChallengeUserPrefix+userID)
	}
	return s.store.Delete(ctx, keys...)
}

// PutPendingSetup stores a candidate TOTP secret awaiting confirmation. At
// most one candidate exists per account; a new call overwrites the previous.
func (s *ChallengeStore) PutPendingSetup(ctx context.Context, userID, secret string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" || secret == "" {
		return errors.New("challenge store: user id and secret are required")
	}

	encrypted, err := crypto.Encrypt([]byte(secret), s.encryptionKey)
	if err != nil {
		return fmt.Errorf("challenge store: encrypt secret: %w", err)
	}

	return s.store.Set(ctx, pendingSetupKeyPrefix+userID, []byte(encrypted), s.setupTTL)
}

// GetPendingSetup returns the candidate secret for the account, if any. The
// record is retained so a mistyped code can be retried.
func (s *ChallengeStore) GetPendingSetup(ctx context.Context, userID string) (string, error) {
	payload, found, err := s.store.Get(ctx, pendingSetupKeyPrefix+strings.TrimSpace(userID))
	if err != nil {
		return "", fmt.Errorf("challenge store: load setup: %w", err)
	}
	if !found {
		return "", ErrSetupNotFound
	}

	secret, err := crypto.Decrypt(string(payload), s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("challenge store: decrypt secret: %w", err)
	}

	return string(secret), nil
}

// DeletePendingSetup discards the candidate secret after promotion or abandonment.
func (s *ChallengeStore) DeletePendingSetup(ctx context.Context, userID string) error {
	return s.store.Delete(ctx, pendingSetupKeyPrefix+strings.TrimSpace(userID))
}
