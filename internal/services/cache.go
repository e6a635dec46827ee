package services

import (
	"context"
	"fmt"
	"time"

	"event-payments/models"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisStatusCache stores snapshots in a hash per registration.
type RedisStatusCache struct {
	Redis redis.Cmdable
	TTL   time.Duration
}

func NewRedisStatusCache(client redis.Cmdable, ttl time.Duration) *RedisStatusCache {
	return &RedisStatusCache{Redis: client, TTL: ttl}
}

func statusCacheKey(registrationID string) string {
	return fmt.Sprintf("payment:registration:%s", registrationID)
}

func (c *RedisStatusCache) Put(ctx context.Context, snap *PaymentSnapshot) error {
	key := statusCacheKey(snap.RegistrationID)

	_, err := c.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"payment_id", snap.PaymentID,
			"transaction_reference", snap.TransactionReference,
			"status", string(snap.Status),
			"payment_status", string(snap.PaymentStatus),
			"amount_paid", snap.AmountPaid.String(),
			"total_amount", snap.TotalAmount.String(),
			"updated_at", snap.UpdatedAt.Unix(),
		)
		pipe.Expire(ctx, key, c.TTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache status %s: %w", snap.RegistrationID, err)
	}
	return nil
}

func (c *RedisStatusCache) Get(ctx context.Context, registrationID string) (*PaymentSnapshot, error) {
	data, err := c.Redis.HGetAll(ctx, statusCacheKey(registrationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read cached status %s: %w", registrationID, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	snap := &PaymentSnapshot{
		RegistrationID:       registrationID,
		PaymentID:            data["payment_id"],
		TransactionReference: data["transaction_reference"],
		Status:               models.PaymentStatus(data["status"]),
		PaymentStatus:        models.RegistrationStatus(data["payment_status"]),
	}
	if snap.AmountPaid, err = decimal.NewFromString(data["amount_paid"]); err != nil {
		return nil, nil
	}
	if snap.TotalAmount, err = decimal.NewFromString(data["total_amount"]); err != nil {
		return nil, nil
	}
	var ts int64
	if _, err := fmt.Sscan(data["updated_at"], &ts); err == nil {
		snap.UpdatedAt = time.Unix(ts, 0)
	}
	return snap, nil
}
