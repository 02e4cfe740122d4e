package scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Elector decides whether this process should act as the active poller.
type Elector interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// NoopElector always grants leadership — used when running a single
// scheduler process with no Redis coordination configured.
type NoopElector struct{}

func (NoopElector) TryAcquire(ctx context.Context) (bool, error) { return true, nil }
func (NoopElector) Release(ctx context.Context) error            { return nil }

// LeaderElector uses a Redis SET NX PX lock so that when more than one
// scheduler process is running, only the leader polls for due jobs —
// the rest stay idle until the lock holder's lease lapses. Multiple
// processes calling ClaimNext concurrently is already safe (the store's
// optimistic locking prevents double-claims), but without an elector
// every process would hammer find_due redundantly.
type LeaderElector struct {
	rdb      *redis.Client
	key      string
	ttl      time.Duration
	holderID string
}

func NewLeaderElector(rdb *redis.Client, key, holderID string, ttl time.Duration) *LeaderElector {
	return &LeaderElector{rdb: rdb, key: key, ttl: ttl, holderID: holderID}
}

// TryAcquire attempts to become (or remain) leader. Returns true if this
// process holds the lock after the call.
func (e *LeaderElector) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := e.rdb.SetNX(ctx, e.key, e.holderID, e.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	current, err := e.rdb.Get(ctx, e.key).Result()
	if err != nil && err != redis.Nil {
		return false, err
	}
	if current == e.holderID {
		return true, e.rdb.Expire(ctx, e.key, e.ttl).Err()
	}
	return false, nil
}

// Release gives up leadership if this process currently holds it.
func (e *LeaderElector) Release(ctx context.Context) error {
	current, err := e.rdb.Get(ctx, e.key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return err
	}
	if current != e.holderID {
		return nil
	}
	return e.rdb.Del(ctx, e.key).Err()
}
