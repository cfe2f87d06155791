package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/duyanhpham/chat-service/internal/v1/auth"
	"github.com/duyanhpham/chat-service/internal/v1/logging"
)

// ClaimsKey is the gin context key holding the verified *auth.Claims.
const ClaimsKey = "claims"

// APIKey gates service-to-service calls on the X-API-Key header. An empty
// allow list disables the gate; config validation already warned about that
// at boot.
func APIKey(keys []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		allowed[key] = struct{}{}
	}
	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Next()
			return
		}
		if _, ok := allowed[c.GetHeader("X-API-Key")]; !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Valid API key required"})
			return
		}
		c.Next()
	}
}

// RequireAuth verifies the bearer token, attaches the claims for downstream
// handlers, and moves the user id into the request context for logging.
func RequireAuth(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.FromAuthHeader(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing authorization header"})
			return
		}

		claims, err := verifier.VerifyToken(token)
		if err != nil {
			logging.Warn(c.Request.Context(), "Token rejected", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Request = c.Request.WithContext(logging.WithUserID(c.Request.Context(), claims.UserID))
		c.Next()
	}
}

// UserClaims pulls the verified claims out of the gin context.
func UserClaims(c *gin.Context) (*auth.Claims, bool) {
	value, exists := c.Get(ClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*auth.Claims)
	return claims, ok
}
