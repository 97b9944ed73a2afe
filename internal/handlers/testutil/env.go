package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pongarena/authd/internal/api"
	iauth "github.com/pongarena/authd/internal/auth"
	"github.com/pongarena/authd/internal/auth/mfa"
	"github.com/pongarena/authd/internal/auth/providers"
	"github.com/pongarena/authd/internal/cache"
	"github.com/pongarena/authd/internal/database"
	"github.com/pongarena/authd/internal/handlers"
	"github.com/pongarena/authd/internal/middleware"
	"github.com/pongarena/authd/internal/models"
	"github.com/pongarena/authd/internal/services"
	"github.com/pongarena/authd/pkg/crypto"
	"github.com/pongarena/authd/pkg/response"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T          *testing.T
	DB         *gorm.DB
	Router     *gin.Engine
	JWT        *iauth.JWTService
	Tokens     *iauth.TokenService
	Challenges *iauth.ChallengeStore
	TOTP       *mfa.TOTPService
	Clock      *FakeClock
}

// FakeClock provides a controllable time source shared by all wired services.
type FakeClock struct {
	current time.Time
}

func (c *FakeClock) Now() time.Time { return c.current }

// Advance moves the clock forward.
func (c *FakeClock) Advance(d time.Duration) { c.current = c.current.Add(d) }

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	clock := &FakeClock{current: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:          "test-suite-super-secret-key-32-bytes!!",
		Issuer:          "test-suite",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		Clock:           clock.Now,
	})
	require.NoError(t, err)

	store := cache.NewDatabaseStore(db)

	tokenSvc, err := iauth.NewTokenService(db, jwtSvc, iauth.NewStoreBlacklist(store))
	require.NoError(t, err)

	challenges, err := iauth.NewChallengeStore(store, []byte(testEncryptionKey), iauth.ChallengeConfig{
		ChallengeTTL: 5 * time.Minute,
		SetupTTL:     10 * time.Minute,
		MaxAttempts:  5,
		Clock:        clock.Now,
	})
	require.NoError(t, err)

	totpSvc, err := mfa.NewTOTPService(db, []byte(testEncryptionKey),
		mfa.WithIssuer("Pong Arena"),
		mfa.WithClock(clock.Now),
	)
	require.NoError(t, err)

	provider, err := providers.NewLocalProvider(db, providers.LocalConfig{
		LockoutThreshold: 5,
		LockoutDuration:  15 * time.Minute,
		Clock:            clock.Now,
	})
	require.NoError(t, err)

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)

	cookies := handlers.CookieConfig{Secure: false}
	authHandler := handlers.NewAuthHandler(db, provider, tokenSvc, challenges, auditSvc, cookies)
	twoFactorHandler := handlers.NewTwoFactorHandler(db, totpSvc, tokenSvc, challenges, auditSvc, cookies)

	rateStore := middleware.NewMemoryRateStore()
	t.Cleanup(rateStore.Stop)

	router, err := api.NewRouter(api.Deps{
		DB:        db,
		JWT:       jwtSvc,
		Auth:      authHandler,
		TwoFactor: twoFactorHandler,
		RateStore: rateStore,
	})
	require.NoError(t, err)

	return &Env{
		T:          t,
		DB:         db,
		Router:     router,
		JWT:        jwtSvc,
		Tokens:     tokenSvc,
		Challenges: challenges,
		TOTP:       totpSvc,
		Clock:      clock,
	}
}

// CreateUser inserts an active, email-verified user and returns the record.
func (e *Env) CreateUser(password string) *models.User {
	e.T.Helper()

	username := "user-" + uuid.NewString()[:8]
	hashed, err := crypto.HashPassword(password)
	require.NoError(e.T, err)

	user := &models.User{
		Username:      username,
		Email:         username + "@example.com",
		Password:      hashed,
		EmailVerified: true,
		IsActive:      true,
	}

	require.NoError(e.T, e.DB.Create(user).Error)
	return user
}

// UserPayload captures the subset of user fields returned from auth endpoints.
type UserPayload struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	MFAEnabled    bool   `json:"mfa_enabled"`
	HasOAuth      bool   `json:"has_oauth"`
}

// LoginResult bundles the JSON response from POST /api/auth/login.
type LoginResult struct {
	AccessToken  string      `json:"access_token"`
	Requires2FA  bool        `json:"requires_2fa"`
	ChallengeRef string      `json:"challenge_ref"`
	User         UserPayload `json:"user"`
}

// Login authenticates via the local provider and returns the decoded payload
// plus the refresh cookie when one was set.
func (e *Env) Login(username, password string) (LoginResult, *http.Cookie) {
	e.T.Helper()

	payload := map[string]string{
		"identifier": username,
		"password":   password,
	}

	w := e.Request(http.MethodPost, "/api/auth/login", payload, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)

	return result, RefreshCookie(w)
}

// RefreshCookie extracts the refresh token cookie from a recorded response,
// or nil when none was set.
func RefreshCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == "refresh_token" {
			return c
		}
	}
	return nil
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON
// encoding and the Authorization header automatically.
func (e *Env) Request(method, path string, body any, token string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range cookies {
		if c != nil {
			req.AddCookie(c)
		}
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
