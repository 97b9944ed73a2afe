package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pongarena/authd/internal/auth"
	"github.com/pongarena/authd/internal/auth/providers"
	"github.com/pongarena/authd/internal/cache"
	"github.com/pongarena/authd/internal/database"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "json", cfg.Server.LogFormat)
	require.True(t, cfg.Server.CookieSecure)

	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "./data/authd.sqlite", cfg.Database.Path)

	require.False(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, "127.0.0.1:6379", cfg.Cache.Redis.Address)
	require.Equal(t, 5*time.Second, cfg.Cache.Redis.Timeout)

	require.Equal(t, "authd", cfg.Auth.JWT.Issuer)
	require.Equal(t, 15*time.Minute, cfg.Auth.JWT.AccessTTL)
	require.Equal(t, 168*time.Hour, cfg.Auth.JWT.RefreshTTL)
	require.Equal(t, 5*time.Minute, cfg.Auth.Challenge.TTL)
	require.Equal(t, 10*time.Minute, cfg.Auth.Challenge.SetupTTL)
	require.Equal(t, 5, cfg.Auth.Challenge.MaxAttempts)
	require.Equal(t, 5, cfg.Auth.Local.LockoutThreshold)
	require.Equal(t, 15*time.Minute, cfg.Auth.Local.LockoutDuration)
	require.Equal(t, "Pong Arena", cfg.Auth.TOTP.Issuer)
	require.Equal(t, 100, cfg.Auth.RateLimit.Requests)
	require.Equal(t, time.Minute, cfg.Auth.RateLimit.Window)

	require.True(t, cfg.Maintenance.Enabled)
	require.Equal(t, 90, cfg.Maintenance.AuditRetentionDays)
	require.Equal(t, "@hourly", cfg.Maintenance.CacheSchedule)
	require.Equal(t, "@daily", cfg.Maintenance.AuditSchedule)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, "console", cfg.Server.LogFormat)
	require.Equal(t, "auth.example.com", cfg.Server.CookieDomain)
	require.False(t, cfg.Server.CookieSecure)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)
	require.Equal(t, "authd", cfg.Database.Postgres.Database)
	require.Equal(t, "require", cfg.Database.Postgres.SSLMode)

	require.True(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, "redis.example.com:6380", cfg.Cache.Redis.Address)
	require.Equal(t, 2, cfg.Cache.Redis.DB)
	require.True(t, cfg.Cache.Redis.TLS)
	require.Equal(t, 3*time.Second, cfg.Cache.Redis.Timeout)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "authd-test", cfg.Auth.JWT.Issuer)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.AccessTTL)
	require.Equal(t, 72*time.Hour, cfg.Auth.JWT.RefreshTTL)
	require.Equal(t, 2*time.Minute, cfg.Auth.Challenge.TTL)
	require.Equal(t, 3, cfg.Auth.Challenge.MaxAttempts)
	require.Equal(t, 7, cfg.Auth.Local.LockoutThreshold)
	require.Equal(t, 20*time.Minute, cfg.Auth.Local.LockoutDuration)
	require.Equal(t, "Example Arena", cfg.Auth.TOTP.Issuer)
	require.Equal(t, 50, cfg.Auth.RateLimit.Requests)
	require.Equal(t, 30*time.Second, cfg.Auth.RateLimit.Window)

	require.False(t, cfg.Maintenance.Enabled)
	require.Equal(t, 30, cfg.Maintenance.AuditRetentionDays)
	require.Equal(t, "@every 30m", cfg.Maintenance.CacheSchedule)
	require.Equal(t, "@every 12h", cfg.Maintenance.AuditSchedule)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("AUTHD_SERVER_PORT", "7001")
	t.Setenv("AUTHD_AUTH_JWT_SECRET", "env-secret")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 7001, cfg.Server.Port)
	require.Equal(t, "env-secret", cfg.Auth.JWT.Secret)
}

func TestConfigAdapters(t *testing.T) {
	cfg := Config{
		Server: ServerConfig{
			CookieDomain: "auth.example.com",
			CookieSecure: true,
		},
		Auth: AuthConfig{
			JWT: JWTSettings{
				Secret:     "secret",
				Issuer:     "issuer",
				AccessTTL:  30 * time.Minute,
				RefreshTTL: 72 * time.Hour,
			},
			Challenge: ChallengeSettings{
				TTL:         2 * time.Minute,
				SetupTTL:    4 * time.Minute,
				MaxAttempts: 3,
			},
			Local: LocalAuthSettings{
				LockoutThreshold: 4,
				LockoutDuration:  10 * time.Minute,
			},
		},
	}

	require.Equal(t, auth.JWTConfig{
		Secret:          "secret",
		Issuer:          "issuer",
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 72 * time.Hour,
	}, cfg.JWTConfig())

	require.Equal(t, auth.ChallengeConfig{
		ChallengeTTL: 2 * time.Minute,
		SetupTTL:     4 * time.Minute,
		MaxAttempts:  3,
	}, cfg.ChallengeConfig())

	require.Equal(t, providers.LocalConfig{
		LockoutThreshold: 4,
		LockoutDuration:  10 * time.Minute,
	}, cfg.LocalConfig())

	cookies := cfg.CookieConfig()
	require.Equal(t, "auth.example.com", cookies.Domain)
	require.True(t, cookies.Secure)
	require.Equal(t, 72*time.Hour, cookies.MaxAge)
}

func TestInfraAdapters(t *testing.T) {
	cfg := Config{
		Database: DatabaseConfig{
			Driver: "postgres",
			Postgres: DBAuthConfig{
				Host:     "db.example.com",
				Port:     5433,
				Database: "authd",
				Username: "authd",
				Password: "s3cret",
				SSLMode:  "require",
			},
		},
		Cache: CacheConfig{
			Redis: RedisCacheConfig{
				Address: "redis.example.com:6380",
				DB:      2,
				TLS:     true,
				Timeout: 3 * time.Second,
			},
		},
	}

	require.Equal(t, database.Config{
		Driver:   "postgres",
		Host:     "db.example.com",
		Port:     5433,
		Name:     "authd",
		User:     "authd",
		Password: "s3cret",
		SSLMode:  "require",
	}, cfg.DatabaseConfig())

	require.Equal(t, cache.RedisConfig{
		Address: "redis.example.com:6380",
		DB:      2,
		TLS:     true,
		Timeout: 3 * time.Second,
	}, cfg.RedisConfig())
}
