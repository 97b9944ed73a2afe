package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pongarena/authd/internal/api"
	"github.com/pongarena/authd/internal/app"
	"github.com/pongarena/authd/internal/app/maintenance"
	iauth "github.com/pongarena/authd/internal/auth"
	"github.com/pongarena/authd/internal/auth/mfa"
	"github.com/pongarena/authd/internal/auth/providers"
	"github.com/pongarena/authd/internal/cache"
	"github.com/pongarena/authd/internal/database"
	"github.com/pongarena/authd/internal/handlers"
	"github.com/pongarena/authd/internal/middleware"
	"github.com/pongarena/authd/internal/services"
	"github.com/pongarena/authd/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	Redis    *cache.RedisStore
	AuditSvc *services.AuditService
	Cleaner  *maintenance.Cleaner
	Router   *gin.Engine
}

// bootstrapRuntime initialises the database, cache, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)

	// Challenges, the token blacklist and rate counters all live in the shared
	// store so every worker observes the same state. Redis is preferred when
	// configured; the database store is the single-node fallback.
	var store cache.Store = dbStore
	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(cfg.RedisConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(err))
		} else {
			store = stack.Redis
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	encryptionKey, err := cfg.EncryptionKey()
	if err != nil {
		return nil, err
	}

	jwtSvc, err := iauth.NewJWTService(cfg.JWTConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	tokenSvc, err := iauth.NewTokenService(stack.DB, jwtSvc, iauth.NewStoreBlacklist(store))
	if err != nil {
		return nil, fmt.Errorf("initialise token service: %w", err)
	}

	challenges, err := iauth.NewChallengeStore(store, encryptionKey, cfg.ChallengeConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise challenge store: %w", err)
	}

	totpSvc, err := mfa.NewTOTPService(stack.DB, encryptionKey, mfa.WithIssuer(cfg.Auth.TOTP.Issuer))
	if err != nil {
		return nil, fmt.Errorf("initialise totp service: %w", err)
	}

	provider, err := providers.NewLocalProvider(stack.DB, cfg.LocalConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise local provider: %w", err)
	}

	stack.AuditSvc, err = services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	if cfg.Maintenance.Enabled {
		// Redis expires its own keys, so the cache purge job only matters for
		// the database store.
		var purgeStore *cache.DatabaseStore
		if stack.Redis == nil {
			purgeStore = dbStore
		}
		stack.Cleaner = maintenance.NewCleaner(purgeStore, stack.AuditSvc,
			maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
			maintenance.WithCacheSchedule(cfg.Maintenance.CacheSchedule),
			maintenance.WithAuditSchedule(cfg.Maintenance.AuditSchedule),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	cookies := cfg.CookieConfig()
	authHandler := handlers.NewAuthHandler(stack.DB, provider, tokenSvc, challenges, stack.AuditSvc, cookies)
	twoFactorHandler := handlers.NewTwoFactorHandler(stack.DB, totpSvc, tokenSvc, challenges, stack.AuditSvc, cookies)

	stack.Router, err = api.NewRouter(api.Deps{
		DB:         stack.DB,
		JWT:        jwtSvc,
		Auth:       authHandler,
		TwoFactor:  twoFactorHandler,
		RateStore:  middleware.NewSharedRateStore(store),
		RateLimit:  cfg.Auth.RateLimit.Requests,
		RateWindow: cfg.Auth.RateLimit.Window,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown releases the stack's resources in reverse dependency order.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis close failed", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.DatabaseConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("database handle unavailable on shutdown", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("database close failed", zap.Error(err))
	}
}
