package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/duyanhpham/chat-service/internal/v1/auth"
	"github.com/duyanhpham/chat-service/internal/v1/health"
	"github.com/duyanhpham/chat-service/internal/v1/middleware"
	"github.com/duyanhpham/chat-service/internal/v1/ratelimit"
	"github.com/duyanhpham/chat-service/internal/v1/session"
)

// RouterConfig carries the assembled pieces the HTTP surface is built from.
type RouterConfig struct {
	Handlers       *Handlers
	Gateway        *session.Gateway
	Health         *health.Handler
	Verifier       *auth.Verifier
	APIKeys        []string
	HTTPLimiter    *ratelimit.HTTPLimiter
	UpgradeLimiter *ratelimit.UpgradeLimiter
	AllowedOrigins []string
	ServiceName    string
	Tracing        bool
}

// NewRouter assembles the gin engine. /health and /metrics sit outside /api
// so probes and scrapers skip auth; everything under /api requires the API
// key, and every route except the socket upgrade also passes the rate
// limiter and the JWT gate.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.Metrics())
	if cfg.Tracing {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}

	// Cors
	corsCfg := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-API-Key", middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsCfg))

	router.GET("/health", cfg.Health.Health)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(middleware.APIKey(cfg.APIKeys))

	// The socket route runs outside the JWT gate: browsers cannot set
	// headers on the upgrade request, so ServeWs authenticates from the
	// header or the token query param itself. Only the per-IP connection
	// limiter sits in front of it.
	api.GET("/ws", func(c *gin.Context) {
		if !cfg.UpgradeLimiter.Check(c) {
			return
		}
		cfg.Gateway.ServeWs(c)
	})

	authed := api.Group("")
	authed.Use(cfg.HTTPLimiter.Middleware(), middleware.RequireAuth(cfg.Verifier))
	{
		authed.POST("/rooms", cfg.Handlers.CreateRoom)
		authed.POST("/rooms/direct", cfg.Handlers.CreateDirectRoom)
		authed.GET("/rooms", cfg.Handlers.ListRooms)
		authed.GET("/rooms/:id", cfg.Handlers.GetRoom)
		authed.GET("/rooms/:id/messages", cfg.Handlers.GetRoomMessages)
		authed.POST("/rooms/:id/leave", cfg.Handlers.LeaveRoom)
		authed.POST("/rooms/:id/hide", cfg.Handlers.HideRoom)
		authed.POST("/rooms/:id/mark-read", cfg.Handlers.MarkRoomRead)
		authed.GET("/invitations", cfg.Handlers.ListInvitations)
		authed.POST("/invitations/:id/accept", cfg.Handlers.AcceptInvitation)
		authed.POST("/invitations/:id/decline", cfg.Handlers.DeclineInvitation)
	}

	return router
}
