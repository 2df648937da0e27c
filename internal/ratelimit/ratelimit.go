// Package ratelimit provides Redis-backed rate limiting for intake endpoints.
// When Redis is unavailable (nil store), all rate limits are disabled — requests pass.
// This ensures the service degrades gracefully in dev/test environments without Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Store is the minimal interface required for rate limiting.
// In production this is implemented by go-redis; in tests by an in-memory map.
type Store interface {
	// Incr atomically increments a counter key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets the TTL on a key (only if TTL not already set by the incr).
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining time-to-live on a key. Returns 0 or negative if expired/missing.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Del removes one or more keys.
	Del(ctx context.Context, keys ...string) error
}

// Limiter performs rate limit checks against a Store.
type Limiter struct {
	store Store
}

// New creates a Limiter backed by the given Store.
// If store is nil, the Limiter is a no-op that always allows requests.
func New(store Store) *Limiter {
	return &Limiter{store: store}
}

// CheckChunkIntake enforces: max 2000 chunk submissions per IP per minute.
// Generous because a single large upload legitimately sends many chunks.
// Returns (allowed bool, retryAfterSecs int).
func (l *Limiter) CheckChunkIntake(ctx context.Context, ip string) (bool, int) {
	return l.check(ctx, fmt.Sprintf("rate:chunk:%s", ip), 2000, 60)
}

// CheckFileIntake enforces: max 20 whole-file intakes per IP per hour.
func (l *Limiter) CheckFileIntake(ctx context.Context, ip string) (bool, int) {
	return l.check(ctx, fmt.Sprintf("rate:intake:%s", ip), 20, 3600)
}

// CheckProcessTrigger enforces: max 30 drain triggers per IP per hour.
// The run controller already rejects concurrent runs; this just stops
// trigger hammering from filling the logs.
func (l *Limiter) CheckProcessTrigger(ctx context.Context, ip string) (bool, int) {
	return l.check(ctx, fmt.Sprintf("rate:process:%s", ip), 30, 3600)
}

// ResetChunkIntake clears the chunk counter for an IP, used after a
// completed upload so a follow-up upload is never penalised.
func (l *Limiter) ResetChunkIntake(ctx context.Context, ip string) {
	if l.store == nil {
		return
	}
	_ = l.store.Del(ctx, fmt.Sprintf("rate:chunk:%s", ip))
}

// check increments the counter at key and compares it against max within
// windowSecs. Store errors fail open — a broken Redis must not block intake.
func (l *Limiter) check(ctx context.Context, key string, max int64, windowSecs int) (bool, int) {
	if l.store == nil {
		return true, 0
	}

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		return true, 0
	}
	if count == 1 {
		_ = l.store.Expire(ctx, key, time.Duration(windowSecs)*time.Second)
	}
	if count <= max {
		return true, 0
	}

	ttl, err := l.store.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		return false, windowSecs
	}
	return false, int(ttl.Seconds())
}
