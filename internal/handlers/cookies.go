package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	refreshCookieName = "refresh_token"
	refreshCookiePath = "/api/auth"
)

// CookieConfig controls how the refresh token cookie is written. The cookie is
// always HttpOnly and scoped to the auth endpoints; Secure is configurable so
// local development over plain HTTP still works.
type CookieConfig struct {
	Domain string
	Secure bool
	MaxAge time.Duration
}

func (cfg CookieConfig) setRefreshToken(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(refreshCookieName, token, int(cfg.MaxAge.Seconds()), refreshCookiePath, cfg.Domain, cfg.Secure, true)
}

func (cfg CookieConfig) clearRefreshToken(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(refreshCookieName, "", -1, refreshCookiePath, cfg.Domain, cfg.Secure, true)
}

// refreshTokenFromRequest reads the refresh token cookie, if present.
func refreshTokenFromRequest(c *gin.Context) (string, bool) {
	token, err := c.Cookie(refreshCookieName)
	if err != nil || token == "" {
		return "", false
	}
	return token, true
}
