package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	iauth "github.com/pongarena/authd/internal/auth"
	"github.com/pongarena/authd/internal/handlers"
	"github.com/pongarena/authd/internal/middleware"
)

// Deps bundles the services the router wires into handlers.
type Deps struct {
	DB         *gorm.DB
	JWT        *iauth.JWTService
	Auth       *handlers.AuthHandler
	TwoFactor  *handlers.TwoFactorHandler
	RateStore  middleware.RateStore
	RateLimit  int
	RateWindow time.Duration
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Auth == nil || deps.TwoFactor == nil {
		return nil, fmt.Errorf("handlers must be provided")
	}

	if deps.RateLimit <= 0 {
		deps.RateLimit = 100
	}
	if deps.RateWindow <= 0 {
		deps.RateWindow = time.Minute
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.RateLimit(deps.RateStore, deps.RateLimit, deps.RateWindow))

	// Public operational endpoints
	r.GET("/health", handlers.Health())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	registerAuthRoutes(r, deps)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
