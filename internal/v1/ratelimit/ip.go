package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/duyanhpham/chat-service/internal/v1/logging"
	"github.com/duyanhpham/chat-service/internal/v1/metrics"
)

// DefaultUpgradeRate bounds WebSocket upgrade attempts per client IP. The
// check runs before token verification, so it is the only throttle on
// anonymous handshake traffic.
const DefaultUpgradeRate = "30-M"

// UpgradeLimiter throttles WebSocket upgrade attempts per client IP.
type UpgradeLimiter struct {
	limiter *limiter.Limiter
}

// NewUpgradeLimiter builds the limiter from a formatted rate such as "30-M".
// With a redis client the counters are shared across instances; without one
// it degrades to a per-process in-memory store.
func NewUpgradeLimiter(redisClient *redis.Client, formatted string) (*UpgradeLimiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("invalid upgrade rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		store, err = sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:ws:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
		}
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "WebSocket upgrade limiter using in-memory store")
	}

	return &UpgradeLimiter{limiter: limiter.New(store, rate)}, nil
}

// Check reports whether another upgrade attempt from this client is
// permitted, writing the 429 response when it is not. Store failures fail
// open.
func (l *UpgradeLimiter) Check(c *gin.Context) bool {
	ctx := c.Request.Context()

	lctx, err := l.limiter.Get(ctx, clientIP(c))
	if err != nil {
		logging.Error(ctx, "Upgrade limiter store failed, allowing request", zap.Error(err))
		return true
	}
	if !lctx.Reached {
		return true
	}

	metrics.RateLimited.WithLabelValues("upgrade").Inc()
	retry := lctx.Reset - time.Now().Unix()
	if retry < 0 {
		retry = 0
	}
	c.Header("X-RateLimit-Retry-After", strconv.FormatInt(retry, 10))
	c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connection attempts"})
	return false
}
