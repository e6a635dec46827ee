package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"event-payments/internal/status"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseLockScript deletes the lock only if it still holds our token.
const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker is a SET NX lock with a TTL so a crashed holder cannot block
// a payment forever.
type RedisLocker struct {
	Redis  redis.Cmdable
	TTL    time.Duration
	Prefix string

	logger *slog.Logger
	token  func() string
}

func NewRedisLocker(client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{
		Redis:  client,
		TTL:    ttl,
		Prefix: "lock:",
		logger: logger,
		token:  uuid.NewString,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := l.Prefix + key
	token := l.token()

	ok, err := l.Redis.SetNX(ctx, lockKey, token, l.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}
	if !ok {
		return nil, status.ErrPaymentBusy
	}

	return func() {
		// released even if the request context is already done
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()

		if err := l.Redis.Eval(rctx, releaseLockScript, []string{lockKey}, token).Err(); err != nil {
			l.logger.Warn("Failed to release lock", "key", lockKey, "error", err)
		}
	}, nil
}
