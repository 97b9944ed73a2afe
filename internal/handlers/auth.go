package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	iauth "github.com/pongarena/authd/internal/auth"
	"github.com/pongarena/authd/internal/auth/providers"
	"github.com/pongarena/authd/internal/models"
	"github.com/pongarena/authd/internal/services"
	appErrors "github.com/pongarena/authd/pkg/errors"
	"github.com/pongarena/authd/pkg/metrics"
	"github.com/pongarena/authd/pkg/response"
)

// AuthHandler manages authentication flows (login/refresh/logout/register/me).
type AuthHandler struct {
	db         *gorm.DB
	provider   *providers.LocalProvider
	tokens     *iauth.TokenService
	challenges *iauth.ChallengeStore
	audit      *services.AuditService
	cookies    CookieConfig
}

func NewAuthHandler(
	db *gorm.DB,
	provider *providers.LocalProvider,
	tokens *iauth.TokenService,
	challenges *iauth.ChallengeStore,
	audit *services.AuditService,
	cookies CookieConfig,
) *AuthHandler {
	if cookies.MaxAge <= 0 {
		cookies.MaxAge = tokens.RefreshTokenTTL()
	}
	return &AuthHandler{
		db:         db,
		provider:   provider,
		tokens:     tokens,
		challenges: challenges,
		audit:      audit,
		cookies:    cookies,
	}
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.ErrMissingCredentials)
		return
	}

	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Identifier == "" || req.Password == "" {
		response.Error(c, appErrors.ErrMissingCredentials)
		return
	}

	user, err := h.provider.Authenticate(providers.AuthenticateInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		IPAddress:  c.ClientIP(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		h.audit.Record(requestContext(c), services.AuditEntry{
			Username:  req.Identifier,
			Action:    services.AuditActionLogin,
			Result:    services.AuditResultFailure,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})

		if errors.Is(err, providers.ErrAccountLocked) {
			response.Error(c, appErrors.ErrAccountLocked)
			return
		}
		// Unknown identifier, wrong password, and disabled accounts are
		// indistinguishable to the caller.
		response.Error(c, appErrors.ErrInvalidCredentials)
		return
	}

	if !user.EmailVerified {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, appErrors.ErrEmailUnverified)
		return
	}

	// With 2FA enabled the password check alone earns a challenge reference,
	// never a token pair.
	if user.MFAEnabled {
		ref, err := h.challenges.CreateLoginChallenge(requestContext(c), user.ID)
		if err != nil {
			response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
			return
		}

		metrics.AuthAttempts.WithLabelValues("success").Inc()
		response.Success(c, http.StatusOK, gin.H{
			"requires_2fa":  true,
			"challenge_ref": ref,
		})
		return
	}

	pair, err := h.tokens.Issue(user)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	h.audit.Record(requestContext(c), services.AuditEntry{
		UserID:    &user.ID,
		Username:  user.Username,
		Action:    services.AuditActionLogin,
		Result:    services.AuditResultSuccess,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})

	h.cookies.setRefreshToken(c, pair.RefreshToken)
	response.Success(c, http.StatusOK, gin.H{
		"access_token": pair.AccessToken,
		"user":         userPayload(user),
	})
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	refreshToken, ok := refreshTokenFromRequest(c)
	if !ok {
		response.Error(c, appErrors.ErrRefreshTokenMissing)
		return
	}

	access, err := h.tokens.Refresh(requestContext(c), refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, iauth.ErrTokenInvalid):
			response.Error(c, appErrors.ErrRefreshTokenInvalid)
		case errors.Is(err, iauth.ErrTokenRevoked):
			response.Error(c, appErrors.ErrRefreshTokenRevoked)
		case errors.Is(err, iauth.ErrAccountNotFound):
			response.Error(c, appErrors.ErrAccountNotFound)
		default:
			response.Error(c, appErrors.ErrTokenRefreshFailed.WithInternal(err))
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"access_token": access})
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	userID, _ := currentUserID(c)

	// Logout without a cookie is a no-op: nothing to revoke, but the client
	// still gets a cleared cookie and a success message.
	if refreshToken, ok := refreshTokenFromRequest(c); ok {
		if err := h.tokens.Revoke(requestContext(c), refreshToken); err != nil {
			if errors.Is(err, iauth.ErrTokenInvalid) {
				response.Error(c, appErrors.NewBadRequest(appErrors.ErrRefreshTokenInvalid.Message))
				return
			}
			response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
			return
		}
	}

	h.audit.Record(requestContext(c), services.AuditEntry{
		UserID:    &userID,
		Action:    services.AuditActionLogout,
		Result:    services.AuditResultSuccess,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})

	h.cookies.clearRefreshToken(c)
	response.Success(c, http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// GET /api/auth/validate
func (h *AuthHandler) Validate(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"valid": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var user models.User
	if err := h.db.Take(&user, "id = ?", userID).Error; err != nil {
		response.Error(c, appErrors.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, userPayload(&user))
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.provider.Register(providers.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		if errors.Is(err, providers.ErrDuplicateAccount) {
			response.Error(c, appErrors.ErrConflict)
			return
		}
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	h.audit.Record(requestContext(c), services.AuditEntry{
		UserID:    &user.ID,
		Username:  user.Username,
		Action:    services.AuditActionRegister,
		Result:    services.AuditResultSuccess,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})

	response.Success(c, http.StatusCreated, userPayload(user))
}

func userPayload(user *models.User) gin.H {
	return gin.H{
		"id":             user.ID,
		"username":       user.Username,
		"email":          user.Email,
		"email_verified": user.EmailVerified,
		"mfa_enabled":    user.MFAEnabled,
		"has_oauth":      user.HasOAuth,
		"last_login_at":  user.LastLoginAt,
	}
}
