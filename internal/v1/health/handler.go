// Package health exposes the liveness endpoint scraped by the load balancer
// and the cluster dashboards.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/duyanhpham/chat-service/internal/v1/logging"
)

// checkTimeout bounds the dependency probes so a hung database cannot stall
// the endpoint.
const checkTimeout = 3 * time.Second

// DB is the database surface the handler probes.
type DB interface {
	Health(ctx context.Context) error
}

// Bus is the pub/sub surface the handler probes.
type Bus interface {
	Ping(ctx context.Context) error
}

// ConnectionCounter reports how many WebSocket sessions this instance holds.
type ConnectionCounter interface {
	ConnectionCount() int
}

// Handler serves GET /health.
type Handler struct {
	db      DB
	bus     Bus
	hub     ConnectionCounter
	service string
	version string
}

// NewHandler creates a health check handler for this instance.
func NewHandler(db DB, bus Bus, hub ConnectionCounter, service, version string) *Handler {
	return &Handler{
		db:      db,
		bus:     bus,
		hub:     hub,
		service: service,
		version: version,
	}
}

// Response is the health check body.
type Response struct {
	Status               string `json:"status"`
	Service              string `json:"service"`
	Version              string `json:"version"`
	Database             string `json:"database"`
	Redis                string `json:"redis"`
	WebsocketConnections int    `json:"websocket_connections"`
}

// Health handles GET /health. The endpoint always answers 200 so the probe
// distinguishes "process dead" from "dependency down"; a failed database
// check downgrades status to degraded instead.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	status := "healthy"
	database := "connected"
	if err := h.db.Health(ctx); err != nil {
		logging.Error(ctx, "Database health check failed", zap.Error(err))
		status = "degraded"
		database = "error"
	}

	redisStatus := "connected"
	if err := h.bus.Ping(ctx); err != nil {
		logging.Error(ctx, "Redis health check failed", zap.Error(err))
		redisStatus = "error"
	}

	c.JSON(http.StatusOK, Response{
		Status:               status,
		Service:              h.service,
		Version:              h.version,
		Database:             database,
		Redis:                redisStatus,
		WebsocketConnections: h.hub.ConnectionCount(),
	})
}
