package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/duyanhpham/chat-service/internal/v1/auth"
	"github.com/duyanhpham/chat-service/internal/v1/cache"
	"github.com/duyanhpham/chat-service/internal/v1/logging"
	"github.com/duyanhpham/chat-service/internal/v1/metrics"
)

// Defaults applied by the router to the /api group: a 100 request burst
// refilled at 10 tokens/second.
const (
	DefaultHTTPCapacity   = 100.0
	DefaultHTTPRefillRate = 10.0
)

// Bucket TTLs per principal flavor. User buckets outlive idle periods so
// steady clients keep their refill history; IP buckets are short-lived
// because unauthenticated traffic churns.
const (
	userBucketTTL = time.Hour
	ipBucketTTL   = 3 * time.Minute
)

const (
	scopeUser = "user"
	scopeIP   = "ip"
)

// sharedBucket is the bucket state stored in redis. Timestamps are whole
// unix seconds, so two requests inside the same second refill nothing.
type sharedBucket struct {
	Tokens     float64 `json:"tokens"`
	LastRefill int64   `json:"last_refill"`
}

func (b *sharedBucket) refill(now int64, capacity, rate float64) {
	elapsed := float64(now - b.LastRefill)
	if elapsed <= 0 {
		return
	}
	b.Tokens = math.Min(capacity, b.Tokens+elapsed*rate)
	b.LastRefill = now
}

// HTTPLimiter enforces the shared-store token bucket on control-plane
// routes. Bucket state is read from redis, refilled, consumed, and written
// back on every request. Store failures fail open: a cache outage must not
// black-hole the API.
type HTTPLimiter struct {
	store    *cache.Cache
	verifier *auth.Verifier
	capacity float64
	rate     float64
	now      func() time.Time
}

// NewHTTPLimiter creates a limiter over the shared cache. The verifier is
// used only to attribute requests to a user before the JWT gate has run; it
// never rejects anything here.
func NewHTTPLimiter(store *cache.Cache, verifier *auth.Verifier, capacity, rate float64) *HTTPLimiter {
	return &HTTPLimiter{
		store:    store,
		verifier: verifier,
		capacity: capacity,
		rate:     rate,
		now:      time.Now,
	}
}

// Middleware returns the gin handler enforcing the limit. Responses always
// carry X-RateLimit-Limit and X-RateLimit-Remaining; refusals add
// X-RateLimit-Retry-After and a 429 JSON body.
func (l *HTTPLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		scope, principal := l.principal(c)
		key := cache.RateLimitKey(scope, principal, c.Request.URL.Path)
		now := l.now().Unix()

		var b sharedBucket
		found, err := l.store.Get(ctx, key, &b)
		if err != nil {
			metrics.RateLimitStoreFailures.Inc()
			logging.Error(ctx, "Rate limit store read failed, allowing request",
				zap.Error(err), zap.String("key", key))
			c.Next()
			return
		}
		if !found {
			b = sharedBucket{Tokens: l.capacity, LastRefill: now}
		}
		b.refill(now, l.capacity, l.rate)

		ttl := userBucketTTL
		if scope == scopeIP {
			ttl = ipBucketTTL
		}

		if b.Tokens < 1 {
			retry := retryAfterSeconds(1-b.Tokens, l.rate)
			// Keep the refilled state so the wait is not reset by retries.
			l.save(ctx, key, b, ttl)

			metrics.RateLimited.WithLabelValues("http").Inc()
			logging.Warn(ctx, "Rate limit exceeded",
				zap.String("scope", scope),
				zap.String("principal", principal),
				zap.String("path", c.Request.URL.Path),
				zap.Float64("tokens", b.Tokens))

			c.Header("X-RateLimit-Limit", formatLimit(l.capacity))
			c.Header("X-RateLimit-Remaining", formatRemaining(b.Tokens))
			c.Header("X-RateLimit-Retry-After", strconv.FormatInt(retry, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":               "Rate limit exceeded",
				"retry_after_seconds": retry,
				"limit":               int64(l.capacity),
				"remaining":           int64(math.Floor(b.Tokens)),
			})
			return
		}

		b.Tokens--
		l.save(ctx, key, b, ttl)

		c.Header("X-RateLimit-Limit", formatLimit(l.capacity))
		c.Header("X-RateLimit-Remaining", formatRemaining(b.Tokens))
		c.Next()
	}
}

func (l *HTTPLimiter) save(ctx context.Context, key string, b sharedBucket, ttl time.Duration) {
	if err := l.store.Set(ctx, key, b, ttl); err != nil {
		metrics.RateLimitStoreFailures.Inc()
		logging.Error(ctx, "Rate limit store write failed",
			zap.Error(err), zap.String("key", key))
	}
}

// principal resolves who the bucket belongs to. Authenticated requests are
// keyed by user id. This middleware runs before the JWT gate, so when claims
// are not in the context yet it tries a non-enforcing parse of the bearer
// token; everything else is keyed by client IP.
func (l *HTTPLimiter) principal(c *gin.Context) (scope, principal string) {
	if v, ok := c.Get("claims"); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return scopeUser, strconv.FormatInt(claims.UserID, 10)
		}
	}
	if l.verifier != nil {
		if token, err := auth.FromRequest(c.Request); err == nil {
			if claims, err := l.verifier.VerifyToken(token); err == nil {
				return scopeUser, strconv.FormatInt(claims.UserID, 10)
			}
		}
	}
	return scopeIP, clientIP(c)
}

// clientIP prefers the proxy-provided headers over the socket peer: the
// service runs behind the gateway, so the peer address is usually the
// gateway itself.
func clientIP(c *gin.Context) string {
	if ip := strings.TrimSpace(c.Request.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := c.Request.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return c.ClientIP()
}

func formatLimit(capacity float64) string {
	return strconv.FormatInt(int64(capacity), 10)
}

func formatRemaining(tokens float64) string {
	return strconv.FormatInt(int64(math.Floor(tokens)), 10)
}
