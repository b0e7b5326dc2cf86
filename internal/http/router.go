package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/undownding/ai-gallery/internal/config"
	"github.com/undownding/ai-gallery/internal/http/handler"
	"github.com/undownding/ai-gallery/internal/http/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, authMiddleware *middleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	authGroup := r.Group("/auth")
	{
		github := authGroup.Group("/github")
		{
			github.GET("", authHandler.Login)
			github.GET("/callback", authHandler.Callback)
		}
		authGroup.POST("/token", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)
	}

	r.GET("/users/me", authMiddleware.RequireUser, authHandler.Me)

	return r
}
