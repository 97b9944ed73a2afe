package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Common errors exposed to the rest of the application. Message strings are
// part of the public API contract and are asserted by clients.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrMissingCredentials = &AppError{
		Code:       "MISSING_CREDENTIALS",
		Message:    "Please provide both username/email and password",
		StatusCode: http.StatusBadRequest,
	}

	ErrInvalidCredentials = &AppError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "Invalid credentials",
		StatusCode: http.StatusBadRequest,
	}

	ErrEmailUnverified = &AppError{
		Code:       "EMAIL_UNVERIFIED",
		Message:    "Email is not verified",
		StatusCode: http.StatusBadRequest,
	}

	ErrAccountLocked = &AppError{
		Code:       "ACCOUNT_LOCKED",
		Message:    "Account is temporarily locked",
		StatusCode: http.StatusBadRequest,
	}

	ErrRefreshTokenMissing = &AppError{
		Code:       "REFRESH_TOKEN_MISSING",
		Message:    "Refresh token missing",
		StatusCode: http.StatusUnauthorized,
	}

	ErrRefreshTokenInvalid = &AppError{
		Code:       "REFRESH_TOKEN_INVALID",
		Message:    "Invalid or expired refresh token",
		StatusCode: http.StatusUnauthorized,
	}

	ErrRefreshTokenRevoked = &AppError{
		Code:       "REFRESH_TOKEN_REVOKED",
		Message:    "Refresh token is blacklisted",
		StatusCode: http.StatusUnauthorized,
	}

	ErrAccountNotFound = &AppError{
		Code:       "ACCOUNT_NOT_FOUND",
		Message:    "User does not exist",
		StatusCode: http.StatusUnauthorized,
	}

	ErrTwoFactorAlreadyEnabled = &AppError{
		Code:       "2FA_ALREADY_ENABLED",
		Message:    "2FA is already enabled",
		StatusCode: http.StatusBadRequest,
	}

	ErrTwoFactorNotEnabled = &AppError{
		Code:       "2FA_NOT_ENABLED",
		Message:    "2FA is not enabled",
		StatusCode: http.StatusBadRequest,
	}

	ErrNoSetupInProgress = &AppError{
		Code:       "2FA_NO_SETUP",
		Message:    "No 2FA setup in progress",
		StatusCode: http.StatusBadRequest,
	}

	ErrTwoFactorCodeRequired = &AppError{
		Code:       "2FA_TOKEN_REQUIRED",
		Message:    "Token is required",
		StatusCode: http.StatusBadRequest,
	}

	ErrTwoFactorCodeInvalid = &AppError{
		Code:       "2FA_TOKEN_INVALID",
		Message:    "Invalid token",
		StatusCode: http.StatusBadRequest,
	}

	ErrPasswordVerification = &AppError{
		Code:       "PASSWORD_VERIFICATION_FAILED",
		Message:    "Password verification failed",
		StatusCode: http.StatusBadRequest,
	}

	ErrChallengeExpired = &AppError{
		Code:       "CHALLENGE_EXPIRED",
		Message:    "Challenge expired, please log in again",
		StatusCode: http.StatusBadRequest,
	}

	ErrChallengeAccountMissing = &AppError{
		Code:       "CHALLENGE_ACCOUNT_MISSING",
		Message:    "User not found",
		StatusCode: http.StatusNotFound,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "Resource already exists",
		StatusCode: http.StatusConflict,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrTokenRefreshFailed = &AppError{
		Code:       "TOKEN_REFRESH_FAILED",
		Message:    "Token refresh failed",
		StatusCode: http.StatusInternalServerError,
	}

	ErrRateLimit = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests, please slow down",
		StatusCode: http.StatusTooManyRequests,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
