package app

import (
	"github.com/pongarena/authd/internal/auth"
	"github.com/pongarena/authd/internal/auth/providers"
	"github.com/pongarena/authd/internal/handlers"
)

// JWTConfig converts the loaded settings into the token signing configuration.
func (c *Config) JWTConfig() auth.JWTConfig {
	return auth.JWTConfig{
		Secret:          c.Auth.JWT.Secret,
		Issuer:          c.Auth.JWT.Issuer,
		AccessTokenTTL:  c.Auth.JWT.AccessTTL,
		RefreshTokenTTL: c.Auth.JWT.RefreshTTL,
	}
}

// ChallengeConfig converts the loaded settings into the challenge store configuration.
func (c *Config) ChallengeConfig() auth.ChallengeConfig {
	return auth.ChallengeConfig{
		ChallengeTTL: c.Auth.Challenge.TTL,
		SetupTTL:     c.Auth.Challenge.SetupTTL,
		MaxAttempts:  c.Auth.Challenge.MaxAttempts,
	}
}

// LocalConfig converts the loaded settings into the local provider configuration.
func (c *Config) LocalConfig() providers.LocalConfig {
	return providers.LocalConfig{
		LockoutThreshold: c.Auth.Local.LockoutThreshold,
		LockoutDuration:  c.Auth.Local.LockoutDuration,
	}
}

// CookieConfig converts the loaded settings into refresh cookie attributes.
// The cookie lifetime follows the refresh token TTL.
func (c *Config) CookieConfig() handlers.CookieConfig {
	return handlers.CookieConfig{
		Domain: c.Server.CookieDomain,
		Secure: c.Server.CookieSecure,
		MaxAge: c.Auth.JWT.RefreshTTL,
	}
}
