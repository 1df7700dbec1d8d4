// Package ratelimit enforces the per-remote-address join-attempt lockout
// described in spec §4.A (checkRateLimit / recordAttempt).
package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/ukunda/rdm/internal/v1/logging"
	"github.com/ukunda/rdm/internal/v1/metrics"
)

// JoinLimiter guards how often a remote address may attempt to join a room.
//
// checkRateLimit is a non-incrementing peek (spec: "strips entries older
// than the lockout window, returns true iff remaining count is below the
// per-window maximum"); recordAttempt is the incrementing call that appends
// the current instant. ulule/limiter's Peek/Get split maps onto this split
// directly.
type JoinLimiter struct {
	limiter *limiter.Limiter
}

// NewJoinLimiter builds a JoinLimiter from a formatted rate (e.g. "5-M").
// redisClient may be nil, in which case an in-memory store is used.
func NewJoinLimiter(formattedRate string, redisClient *redis.Client) (*JoinLimiter, error) {
	rate, err := limiter.NewRateFromFormatted(formattedRate)
	if err != nil {
		return nil, fmt.Errorf("invalid join rate limit %q: %w", formattedRate, err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "rdm:ratelimit:join:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis rate limit store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "join rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Info(context.Background(), "join rate limiter using in-memory store")
	}

	return &JoinLimiter{limiter: limiter.New(store, rate)}, nil
}

// CheckRateLimit reports whether remote is currently under its lockout
// threshold, without recording a new attempt.
func (j *JoinLimiter) CheckRateLimit(ctx context.Context, remote string) bool {
	if j == nil {
		return true
	}
	lctx, err := j.limiter.Peek(ctx, remote)
	if err != nil {
		logging.Error(ctx, "rate limiter peek failed", zap.Error(err), zap.String("remote", remote))
		return true // fail open: availability over strictness
	}
	metrics.RateLimitRequests.WithLabelValues("join").Inc()
	// Peek reports Reached only once the count exceeds the limit; a remote
	// that has already used every attempt of the window has Remaining == 0.
	allowed := lctx.Remaining > 0
	if !allowed {
		metrics.RateLimitExceeded.WithLabelValues("join").Inc()
	}
	return allowed
}

// RecordAttempt appends the current instant to remote's join-attempt window.
func (j *JoinLimiter) RecordAttempt(ctx context.Context, remote string) {
	if j == nil {
		return
	}
	if _, err := j.limiter.Get(ctx, remote); err != nil {
		logging.Error(ctx, "rate limiter record attempt failed", zap.Error(err), zap.String("remote", remote))
	}
}
