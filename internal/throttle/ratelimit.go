package throttle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RateLimitExceeded is returned when a caller burns through its request
// budget for the current window. RetryAfter tells the transport layer
// what to put in the Retry-After header.
type RateLimitExceeded struct {
	Identifier string
	Limit      int64
	RetryAfter time.Duration
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("throttle: rate limit of %d exceeded for %s, retry after %s",
		e.Limit, e.Identifier, e.RetryAfter)
}

// Rule is one fixed-window budget: Limit requests per Window.
type Rule struct {
	Limit  int64
	Window time.Duration
}

// RateLimiter enforces fixed-window request budgets per caller identity,
// shared across workers through the same Redis backend as the
// concurrency gate.
type RateLimiter struct {
	rdb counterCmdable
}

// NewRateLimiter creates a shared-counter rate limiter.
func NewRateLimiter(rdb counterCmdable) *RateLimiter {
	return &RateLimiter{rdb: rdb}
}

// Check records one request for identifier and returns RateLimitExceeded
// if the window budget is spent. The window key expires on its own, so
// budgets reset without a sweeper.
//
// Backend failures admit the request: rate limiting protects capacity,
// and capacity is better protected by serving than by erroring every
// caller when Redis blips.
func (l *RateLimiter) Check(ctx context.Context, identifier string, limit int64, window time.Duration) error {
	key := fmt.Sprintf("enrich:rate:%s", identifier)

	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		zap.L().Warn("throttle: rate limiter backend unreachable, admitting request",
			zap.String("identifier", identifier), zap.Error(err))
		return nil
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			zap.L().Warn("throttle: failed to set rate window TTL",
				zap.String("identifier", identifier), zap.Error(err))
		}
	}
	if n > limit {
		return &RateLimitExceeded{Identifier: identifier, Limit: limit, RetryAfter: window}
	}
	return nil
}
