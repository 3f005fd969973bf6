package rate

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a tag-based throttle. Limited both checks and arms the
// throttle: the first call for a tag combination passes and blocks the
// following ones until the delay elapses.
type Limiter interface {
	Limited(ctx context.Context, delay time.Duration, tags ...string) (bool, error)
}

// StoreLimiter persists throttle markers as expiring keys in the shared
// store, so the limit holds across every process using the same store
// and needs no cleanup.
type StoreLimiter struct {
	client redis.Cmdable
}

func NewStoreLimiter(client redis.Cmdable) *StoreLimiter {
	return &StoreLimiter{client: client}
}

func (l *StoreLimiter) Limited(ctx context.Context, delay time.Duration, tags ...string) (bool, error) {
	key := "limit:" + strings.Join(tags, ":")

	// SET NX EX is the store's native conditional-add: check and arm in
	// one atomic step, no read-then-write race.
	set, err := l.client.SetNX(ctx, key, "1", delay).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}
