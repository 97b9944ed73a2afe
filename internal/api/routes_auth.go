package api

import (
	"github.com/gin-gonic/gin"

	"github.com/pongarena/authd/internal/middleware"
)

func registerAuthRoutes(engine *gin.Engine, deps Deps) {
	// Public endpoints: everything before a token pair exists.
	auth := engine.Group("/api/auth")
	{
		auth.POST("/login", deps.Auth.Login)
		auth.POST("/refresh", deps.Auth.Refresh)
		auth.POST("/register", deps.Auth.Register)
		auth.POST("/2fa/verify-login", deps.TwoFactor.VerifyLogin)
	}

	// Endpoints requiring a valid access token.
	api := engine.Group("/api")
	api.Use(middleware.Auth(deps.JWT))
	{
		api.POST("/auth/logout", deps.Auth.Logout)
		api.GET("/auth/validate", deps.Auth.Validate)
		api.GET("/auth/me", deps.Auth.Me)

		api.POST("/auth/2fa/setup", deps.TwoFactor.Setup)
		api.POST("/auth/2fa/verify-setup", deps.TwoFactor.VerifySetup)
		api.POST("/auth/2fa/disable", deps.TwoFactor.Disable)
		api.POST("/auth/2fa/verify", deps.TwoFactor.Verify)
	}
}
