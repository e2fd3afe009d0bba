// Package throttle bounds concurrent enrichment work and per-caller
// request rates using Redis counters shared across workers.
package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrCapacityExceeded means every concurrency slot is taken. The caller
// rejects the job immediately rather than queueing.
var ErrCapacityExceeded = eris.New("throttle: concurrency capacity exceeded")

// counterCmdable is the slice of redis.Cmdable the throttle uses.
// *redis.Client satisfies it.
type counterCmdable interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Decr(ctx context.Context, key string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// slotTTL caps how long an orphaned counter can pin capacity if a worker
// dies without releasing. Refreshed on every acquire.
const slotTTL = time.Hour

// Slot is one held concurrency reservation, tied to the job that claimed
// it. Release returns it and is safe to call on every exit path.
type Slot interface {
	Release(ctx context.Context)
}

// Throttle is a distributed concurrency gate. The active count lives in
// Redis so every worker sees the same capacity, and operators can read
// the gauge directly.
type Throttle struct {
	rdb counterCmdable
	key string
	max int64
}

// NewThrottle creates a gate allowing max concurrent holders of key.
func NewThrottle(rdb counterCmdable, key string, max int64) *Throttle {
	return &Throttle{rdb: rdb, key: key, max: max}
}

// Acquire claims a concurrency slot for jobID. It increments the shared
// counter and, if the result exceeds the maximum, immediately decrements
// and returns ErrCapacityExceeded. There is no queueing and no blocking.
//
// If Redis itself is unreachable the gate fails open: the job is admitted
// with an unaccounted slot and the degraded state is logged, so an
// infrastructure blip does not halt enrichment.
func (t *Throttle) Acquire(ctx context.Context, jobID string) (Slot, error) {
	n, err := t.rdb.Incr(ctx, t.key).Result()
	if err != nil {
		zap.L().Warn("throttle: backend unreachable, admitting without slot accounting",
			zap.String("key", t.key), zap.String("job_id", jobID), zap.Error(err))
		return &heldSlot{t: t, jobID: jobID}, nil
	}

	if n > t.max {
		if derr := t.rdb.Decr(ctx, t.key).Err(); derr != nil {
			zap.L().Warn("throttle: failed to roll back over-limit increment",
				zap.String("key", t.key), zap.Error(derr))
		}
		return nil, eris.Wrapf(ErrCapacityExceeded, "throttle: %d active, max %d", n-1, t.max)
	}

	if err := t.rdb.Expire(ctx, t.key, slotTTL).Err(); err != nil {
		zap.L().Warn("throttle: failed to refresh slot TTL",
			zap.String("key", t.key), zap.Error(err))
	}
	return &heldSlot{t: t, jobID: jobID, accounted: true}, nil
}

// heldSlot carries the reservation back to Release. An unaccounted slot
// was granted while Redis was down; releasing it must not decrement a
// counter it never incremented.
type heldSlot struct {
	t         *Throttle
	jobID     string
	accounted bool
}

// Release returns the slot. Errors are logged and swallowed because a
// failed release must never fail the job itself. The counter is floored
// at zero to survive double-releases.
func (s *heldSlot) Release(ctx context.Context) {
	if !s.accounted {
		return
	}
	n, err := s.t.rdb.Decr(ctx, s.t.key).Result()
	if err != nil {
		zap.L().Warn("throttle: failed to release slot",
			zap.String("key", s.t.key), zap.String("job_id", s.jobID), zap.Error(err))
		return
	}
	if n < 0 {
		if err := s.t.rdb.Incr(ctx, s.t.key).Err(); err != nil {
			zap.L().Warn("throttle: failed to floor counter at zero",
				zap.String("key", s.t.key), zap.Error(err))
		}
	}
}

// CurrentCount reports the number of active slots, for status surfaces
// and metrics. Returns 0 when the key does not exist.
func (t *Throttle) CurrentCount(ctx context.Context) (int64, error) {
	n, err := t.rdb.Get(ctx, t.key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "throttle: read active count")
	}
	return n, nil
}

// Max returns the configured slot capacity.
func (t *Throttle) Max() int64 { return t.max }

// SlotKey builds the counter key for an organization's enrichment slots.
func SlotKey(orgID string) string {
	return fmt.Sprintf("enrich:slots:%s", orgID)
}
