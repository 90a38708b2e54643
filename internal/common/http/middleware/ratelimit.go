package middleware

import (
	"context"
	"fmt"
	"time"

	"ojtrust/internal/common/cache"
	pkgerrors "ojtrust/pkg/errors"
	"ojtrust/pkg/utils/logger"
	"ojtrust/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultRateLimitTimeout = 200 * time.Millisecond

// RateLimiter enforces fixed-window request limits in Redis.
type RateLimiter struct {
	cache   cache.CounterOps
	timeout time.Duration
}

// NewRateLimiter creates a RateLimiter. timeout bounds each Redis round trip.
func NewRateLimiter(counter cache.CounterOps, timeout time.Duration) *RateLimiter {
	if timeout <= 0 {
		timeout = defaultRateLimitTimeout
	}
	return &RateLimiter{cache: counter, timeout: timeout}
}

// Allow counts one hit on key and fails with TooManyRequests once the window
// holds more than max hits. max <= 0 disables the limit.
func (l *RateLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if l == nil || l.cache == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if max <= 0 || window <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	acquired, err := l.cache.SetNX(ctx, key, 1, window)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	count := int64(1)
	if !acquired {
		count, err = l.cache.Incr(ctx, key)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
		}
		// A key that lost its expiry would never reset.
		if ttl, ttlErr := l.cache.TTL(ctx, key); ttlErr == nil && ttl < 0 {
			_ = l.cache.Expire(ctx, key, window)
		}
	}
	if count > int64(max) {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}

// RateLimitPolicy caps hits per caller on one route.
type RateLimitPolicy struct {
	Route  string
	Max    int
	Window time.Duration
}

// RateLimitMiddleware keys hits by the authenticated user, falling back to
// the client IP for anonymous callers. It must run after AuthMiddleware.
// Cache failures let the request through.
func RateLimitMiddleware(limiter *RateLimiter, policy RateLimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || policy.Max <= 0 {
			c.Next()
			return
		}
		caller := "ip:" + c.ClientIP()
		if identity := IdentityFrom(c); !identity.Anonymous() {
			caller = fmt.Sprintf("user:%d", identity.ID)
		}
		key := fmt.Sprintf("ratelimit:%s:%s", policy.Route, caller)
		if err := limiter.Allow(c.Request.Context(), key, policy.Max, policy.Window); err != nil {
			if pkgerrors.Is(err, pkgerrors.TooManyRequests) {
				response.AbortWithError(c, err)
				return
			}
			logger.Warn(c.Request.Context(), "rate limit check skipped", zap.String("key", key), zap.Error(err))
		}
		c.Next()
	}
}
