package session

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/duyanhpham/chat-service/internal/v1/auth"
	"github.com/duyanhpham/chat-service/internal/v1/logging"
)

// Gateway upgrades authenticated HTTP requests into live chat sessions.
type Gateway struct {
	hub            Presence
	repo           Repository
	bus            UserBus
	verifier       *auth.Verifier
	allowedOrigins []string
}

func NewGateway(hub Presence, repo Repository, bus UserBus, verifier *auth.Verifier, allowedOrigins []string) *Gateway {
	return &Gateway{
		hub:            hub,
		repo:           repo,
		bus:            bus,
		verifier:       verifier,
		allowedOrigins: allowedOrigins,
	}
}

// ServeWs authenticates the request, upgrades it to a websocket, registers
// the session with the hub, and starts both pumps. The token comes from the
// Authorization header or, for browser websocket clients that cannot set
// headers, the ?token= query parameter.
func (g *Gateway) ServeWs(c *gin.Context) {
	token, err := auth.FromRequest(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing authorization header"})
		return
	}

	claims, err := g.verifier.VerifyToken(token)
	if err != nil {
		logging.Warn(c.Request.Context(), "Websocket token rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, g.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return
	}

	ctx := logging.WithUserID(c.Request.Context(), claims.UserID)
	displayName := g.resolveDisplayName(c, claims)

	client := newClient(conn, g.hub, g.repo, g.bus, claims.UserID, displayName)
	g.hub.Connect(client, client.userID, client.sessionID, displayName)

	logging.Info(ctx, "Session connected",
		zap.String("session_id", client.sessionID.String()),
		zap.String("display_name", displayName),
		zap.String("email", logging.RedactEmail(claims.Email())))

	go client.writePump()
	go client.readPump(ctx)
}

// resolveDisplayName prefers the stored profile name and falls back to the
// token's email prefix, then to a numeric placeholder.
func (g *Gateway) resolveDisplayName(c *gin.Context, claims *auth.Claims) string {
	name, err := g.repo.GetDisplayName(c.Request.Context(), claims.UserID)
	if err == nil && name != "" {
		return name
	}
	if err != nil {
		logging.Warn(c.Request.Context(), "Failed to load display name",
			zap.Int64("user_id", claims.UserID), zap.Error(err))
	}
	if email := claims.Email(); email != "" {
		if prefix, _, found := strings.Cut(email, "@"); found && prefix != "" {
			return prefix
		}
	}
	return fmt.Sprintf("User %d", claims.UserID)
}

// validateOrigin rejects browser requests from origins outside the allow
// list. Requests without an Origin header (CLI tools, server-side clients)
// pass through.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}
