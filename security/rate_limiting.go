package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window request counter per client kept in Redis.
type RateLimiter struct {
	redis  redis.Cmdable
	limit  int64
	window time.Duration
	prefix string
	logger *slog.Logger

	// clientID identifies the caller; the real IP by default.
	clientID func(e *core.RequestEvent) string
}

func NewRateLimiter(redisClient redis.Cmdable, limit int, window time.Duration, prefix string, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		limit:  int64(limit),
		window: window,
		prefix: prefix,
		logger: logger,

		clientID: func(e *core.RequestEvent) string { return e.RealIP() },
	}
}

// Allow counts one request for id and reports whether it is within the
// limit.
func (r *RateLimiter) Allow(ctx context.Context, id string) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", r.prefix, id)

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return true, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, r.window).Err(); err != nil {
			return true, fmt.Errorf("rate limit %s: %w", key, err)
		}
	}
	return count <= r.limit, nil
}

// Middleware limits requests per client IP. Redis failures let the request
// through.
func (r *RateLimiter) Middleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if isSuspiciousUserAgent(e.Request.Header.Get("User-Agent")) {
			return e.JSON(http.StatusForbidden, map[string]string{
				"error": "Access denied",
			})
		}

		ip := r.clientID(e)
		ok, err := r.Allow(e.Request.Context(), ip)
		if err != nil {
			r.logger.Warn("Rate limiter unavailable", "ip", ip, "error", err)
		}
		if !ok {
			e.Response.Header().Set("Retry-After", fmt.Sprintf("%.0f", r.window.Seconds()))
			return e.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return e.Next()
	}
}

func isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(strings.ToLower(ua), pattern) {
			return true
		}
	}
	return false
}
