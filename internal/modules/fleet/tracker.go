// README: Dispatch tracker remembers when a booking first waited for a candidate.
package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ambulance/internal/types"
)

// Tracker records the first dispatch attempt per booking so the wait can be
// reported once an assignment lands.
type Tracker interface {
	// FirstAttempt stores now on the first call and returns the stored time.
	FirstAttempt(ctx context.Context, bookingID types.ID, now time.Time) (time.Time, error)
	Clear(ctx context.Context, bookingID types.ID) error
}

type MemoryTracker struct {
	mu    sync.Mutex
	first map[types.ID]time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{first: make(map[types.ID]time.Time)}
}

func (t *MemoryTracker) FirstAttempt(_ context.Context, id types.ID, now time.Time) (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if at, ok := t.first[id]; ok {
		return at, nil
	}
	t.first[id] = now
	return now, nil
}

func (t *MemoryTracker) Clear(_ context.Context, id types.ID) error {
	t.mu.Lock()
	delete(t.first, id)
	t.mu.Unlock()
	return nil
}

const (
	dispatchKeyPrefix = "fleet:booking:%s:first_attempt"
	// Bookings resolve well within a week.
	trackerTTL = 7 * 24 * time.Hour
)

// RedisTracker shares dispatch attempts between replicas.
type RedisTracker struct {
	redis *redis.Client
}

func NewRedisTracker(client *redis.Client) *RedisTracker {
	return &RedisTracker{redis: client}
}

func (t *RedisTracker) FirstAttempt(ctx context.Context, id types.ID, now time.Time) (time.Time, error) {
	key := dispatchKey(id)
	if err := t.redis.SetNX(ctx, key, now.UTC().Format(time.RFC3339Nano), trackerTTL).Err(); err != nil {
		return time.Time{}, err
	}
	val, err := t.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return now, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, val)
}

func (t *RedisTracker) Clear(ctx context.Context, id types.ID) error {
	return t.redis.Del(ctx, dispatchKey(id)).Err()
}

func dispatchKey(id types.ID) string {
	return fmt.Sprintf(dispatchKeyPrefix, string(id))
}
