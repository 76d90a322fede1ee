package intents

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/pkg/enums"
	"github.com/angelmondragon/paycore/pkg/redis"
)

type fixedWindowStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RedisRateLimiter counts creation attempts per user and payment method in one-minute windows.
type RedisRateLimiter struct {
	store  fixedWindowStore
	limit  int64
	window time.Duration
}

// NewRedisRateLimiter builds a limiter admitting perMinute attempts.
func NewRedisRateLimiter(store fixedWindowStore, perMinute int) *RedisRateLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &RedisRateLimiter{store: store, limit: int64(perMinute), window: time.Minute}
}

// Allow reports whether another attempt fits in the current window.
func (l *RedisRateLimiter) Allow(ctx context.Context, userID uuid.UUID, method enums.PaymentMethod) (bool, error) {
	if l == nil || l.store == nil {
		return true, nil
	}
	allowed, _, err := l.store.FixedWindowAllow(ctx, redis.IntentRateLimitScope(userID.String(), string(method)), l.limit, l.window)
	return allowed, err
}
