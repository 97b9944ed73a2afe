package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	iauth "github.com/pongarena/authd/internal/auth"
	"github.com/pongarena/authd/internal/auth/mfa"
	"github.com/pongarena/authd/internal/models"
	"github.com/pongarena/authd/internal/services"
	"github.com/pongarena/authd/pkg/crypto"
	appErrors "github.com/pongarena/authd/pkg/errors"
	"github.com/pongarena/authd/pkg/metrics"
	"github.com/pongarena/authd/pkg/response"
)

// TwoFactorHandler manages TOTP enrollment and verification flows.
type TwoFactorHandler struct {
	db         *gorm.DB
	totp       *mfa.TOTPService
	tokens     *iauth.TokenService
	challenges *iauth.ChallengeStore
	audit      *services.AuditService
	cookies    CookieConfig
}

func NewTwoFactorHandler(
	db *gorm.DB,
	totp *mfa.TOTPService,
	tokens *iauth.TokenService,
	challenges *iauth.ChallengeStore,
	audit *services.AuditService,
	cookies CookieConfig,
) *TwoFactorHandler {
	if cookies.MaxAge <= 0 {
		cookies.MaxAge = tokens.RefreshTokenTTL()
	}
	return &TwoFactorHandler{
		db:         db,
		totp:       totp,
		tokens:     tokens,
		challenges: challenges,
		audit:      audit,
		cookies:    cookies,
	}
}

// POST /api/auth/2fa/setup
func (h *TwoFactorHandler) Setup(c *gin.Context) {
	user, ok := h.loadCurrentUser(c)
	if !ok {
		return
	}

	if user.MFAEnabled {
		response.Error(c, appErrors.ErrTwoFactorAlreadyEnabled)
		return
	}

	enrollment, err := h.totp.GenerateEnrollment(user.Email)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	// The candidate secret waits in the challenge store until the user proves
	// possession; a repeated setup call replaces it.
	if err := h.challenges.PutPendingSetup(requestContext(c), user.ID, enrollment.Secret); err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"secret":  enrollment.Secret,
		"uri":     enrollment.URI,
		"qr_code": enrollment.QRCode,
	})
}

type twoFactorTokenRequest struct {
	Token string `json:"token"`
}

// POST /api/auth/2fa/verify-setup
func (h *TwoFactorHandler) VerifySetup(c *gin.Context) {
	user, ok := h.loadCurrentUser(c)
	if !ok {
		return
	}

	var req twoFactorTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		response.Error(c, appErrors.ErrTwoFactorCodeRequired)
		return
	}

	secret, err := h.challenges.GetPendingSetup(requestContext(c), user.ID)
	if err != nil {
		if errors.Is(err, iauth.ErrSetupNotFound) {
			response.Error(c, appErrors.ErrNoSetupInProgress)
			return
		}
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	if !h.totp.VerifySecret(secret, req.Token) {
		// The candidate secret stays put so a mistyped code can be retried.
		metrics.TwoFactorAttempts.WithLabelValues("setup", "failure").Inc()
		response.Error(c, appErrors.ErrTwoFactorCodeInvalid)
		return
	}

	backupCodes, err := h.totp.Enable(user.ID, secret)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	_ = h.challenges.DeletePendingSetup(requestContext(c), user.ID)

	metrics.TwoFactorAttempts.WithLabelValues("setup", "success").Inc()
	h.audit.Record(requestContext(c), services.AuditEntry{
		UserID:    &user.ID,
		Username:  user.Username,
		Action:    services.AuditActionTwoFAEnable,
		Result:    services.AuditResultSuccess,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})

	response.Success(c, http.StatusOK, gin.H{
		"message":      "2FA enabled successfully",
		"backup_codes": backupCodes,
	})
}

type twoFactorDisableRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// POST /api/auth/2fa/disable
func (h *TwoFactorHandler) Disable(c *gin.Context) {
	user, ok := h.loadCurrentUser(c)
	if !ok {
		return
	}

	if !user.MFAEnabled {
		response.Error(c, appErrors.ErrTwoFactorNotEnabled)
		return
	}

	var req twoFactorDisableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.ErrTwoFactorCodeRequired)
		return
	}

	// Step-up proof: either a current TOTP code or the account password.
	switch {
	case strings.TrimSpace(req.Token) != "":
		valid, err := h.totp.VerifyCode(user.ID, req.Token)
		if err != nil {
			response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
			return
		}
		if !valid {
			metrics.TwoFactorAttempts.WithLabelValues("disable", "failure").Inc()
			response.Error(c, appErrors.ErrTwoFactorCodeInvalid)
			return
		}
	case req.Password != "":
		if !crypto.VerifyPassword(user.Password, req.Password) {
			metrics.TwoFactorAttempts.WithLabelValues("disable", "failure").Inc()
			response.Error(c, appErrors.ErrPasswordVerification)
			return
		}
	default:
		response.Error(c, appErrors.ErrTwoFactorCodeRequired)
		return
	}

	if err := h.totp.Disable(user.ID); err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	metrics.TwoFactorAttempts.WithLabelValues("disable", "success").Inc()
	h.audit.Record(requestContext(c), services.AuditEntry{
		UserID:    &user.ID,
		Username:  user.Username,
		Action:    services.AuditActionTwoFADisable,
		Result:    services.AuditResultSuccess,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})

	response.Success(c, http.StatusOK, gin.H{"message": "2FA disabled successfully"})
}

// POST /api/auth/2fa/verify
func (h *TwoFactorHandler) Verify(c *gin.Context) {
	user, ok := h.loadCurrentUser(c)
	if !ok {
		return
	}

	if !user.MFAEnabled {
		response.Error(c, appErrors.ErrTwoFactorNotEnabled)
		return
	}

	var req twoFactorTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		response.Error(c, appErrors.ErrTwoFactorCodeRequired)
		return
	}

	valid, err := h.totp.VerifyCode(user.ID, req.Token)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	if !valid {
		metrics.TwoFactorAttempts.WithLabelValues("verify", "failure").Inc()
		response.Error(c, appErrors.ErrTwoFactorCodeInvalid)
		return
	}

	metrics.TwoFactorAttempts.WithLabelValues("verify", "success").Inc()
	response.Success(c, http.StatusOK, gin.H{"valid": true})
}

type verifyLoginRequest struct {
	Token        string `json:"token"`
	ChallengeRef string `json:"challenge_ref"`
}

// POST /api/auth/2fa/verify-login
func (h *TwoFactorHandler) VerifyLogin(c *gin.Context) {
	var req verifyLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		response.Error(c, appErrors.ErrTwoFactorCodeRequired)
		return
	}

	ctx := requestContext(c)

	userID, err := h.challenges.GetLoginChallenge(ctx, req.ChallengeRef)
	if err != nil {
		if errors.Is(err, iauth.ErrChallengeNotFound) {
			response.Error(c, appErrors.ErrChallengeExpired)
			return
		}
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	var user models.User
	if err := h.db.Take(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.Error(c, appErrors.ErrChallengeAccountMissing)
			return
		}
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	valid, err := h.totp.VerifyCode(user.ID, req.Token)
	if err != nil && !errors.Is(err, mfa.ErrSecretNotFound) {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	usedBackupCode := false
	if !valid {
		// A backup code works in place of a TOTP code and is consumed by use.
		valid, err = h.totp.UseBackupCode(user.ID, req.Token)
		if err != nil && !errors.Is(err, mfa.ErrSecretNotFound) {
			response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
			return
		}
		usedBackupCode = valid
	}

	if !valid {
		metrics.TwoFactorAttempts.WithLabelValues("login", "failure").Inc()
		h.audit.Record(ctx, services.AuditEntry{
			UserID:    &user.ID,
			Username:  user.Username,
			Action:    services.AuditActionLoginTwoFA,
			Result:    services.AuditResultFailure,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})

		if err := h.challenges.FailLoginChallenge(ctx, req.ChallengeRef); errors.Is(err, iauth.ErrTooManyAttempts) {
			response.Error(c, appErrors.ErrChallengeExpired)
			return
		}
		response.Error(c, appErrors.ErrTwoFactorCodeInvalid)
		return
	}

	if err := h.challenges.ConsumeLoginChallenge(ctx, req.ChallengeRef); err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	pair, err := h.tokens.Issue(&user)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	metrics.TwoFactorAttempts.WithLabelValues("login", "success").Inc()
	action := services.AuditActionLoginTwoFA
	if usedBackupCode {
		action = services.AuditActionBackupCodeUse
	}
	h.audit.Record(ctx, services.AuditEntry{
		UserID:    &user.ID,
		Username:  user.Username,
		Action:    action,
		Result:    services.AuditResultSuccess,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})

	payload := gin.H{
		"access_token": pair.AccessToken,
		"user":         userPayload(&user),
	}
	if usedBackupCode {
		// Tell the caller how many codes are left so clients can prompt for
		// regeneration before the last one is spent.
		if remaining, err := h.totp.RemainingBackupCodes(user.ID); err == nil {
			payload["backup_codes_remaining"] = remaining
		}
	}

	h.cookies.setRefreshToken(c, pair.RefreshToken)
	response.Success(c, http.StatusOK, payload)
}

func (h *TwoFactorHandler) loadCurrentUser(c *gin.Context) (*models.User, bool) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}

	var user models.User
	if err := h.db.Take(&user, "id = ?", userID).Error; err != nil {
		response.Error(c, appErrors.ErrNotFound)
		return nil, false
	}

	return &user, true
}
