package quota

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gastrack/gateway/internal/storage"
)

// Store is the slice of the connection manager the quota core depends on.
type Store interface {
	IsReady() bool
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	IncrBatch(ctx context.Context, incrs []storage.CounterIncr) error
}

// CounterEngine reads and increments the per-caller fixed-window counters.
// Counters live under one key per (caller, window, bucket start) with an
// expiry equal to the window duration, so stale buckets clean themselves up.
type CounterEngine struct {
	store  Store
	prefix string
	now    func() time.Time
}

func NewCounterEngine(store Store, prefix string) *CounterEngine {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &CounterEngine{
		store:  store,
		prefix: prefix,
		now:    time.Now,
	}
}

func (e *CounterEngine) counterKey(callerKey string, w Window, start int64) string {
	return fmt.Sprintf("%s:counter:%s:%s:%d", e.prefix, callerKey, w, start)
}

// Count returns the counter for the current bucket of the given window.
// A missing key or an unavailable store both read as 0, never as an error.
func (e *CounterEngine) Count(ctx context.Context, callerKey string, w Window) int64 {
	key := e.counterKey(callerKey, w, w.Start(e.now()))

	val, err := e.store.Get(ctx, key)
	if err != nil {
		return 0
	}

	var count int64
	if _, err := fmt.Sscanf(val, "%d", &count); err != nil {
		return 0
	}
	return count
}

// Increment bumps the current bucket of all three windows in one pipelined
// round trip, refreshing each bucket's expiry. When the store is down this
// is a no-op; failures are logged and dropped, never raised to the caller.
func (e *CounterEngine) Increment(ctx context.Context, callerKey string) {
	now := e.now()

	incrs := make([]storage.CounterIncr, 0, len(Windows))
	for _, w := range Windows {
		incrs = append(incrs, storage.CounterIncr{
			Key: e.counterKey(callerKey, w, w.Start(now)),
			TTL: w.Duration(),
		})
	}

	if err := e.store.IncrBatch(ctx, incrs); err != nil && !errors.Is(err, storage.ErrUnavailable) {
		log.Printf("quota: failed to increment counters for %s: %v", callerKey, err)
	}
}

// ResetCounters deletes the current bucket of every window. Unlike the
// request-path operations this is an operator action, so a store outage
// surfaces as an error instead of being absorbed.
func (e *CounterEngine) ResetCounters(ctx context.Context, callerKey string) error {
	now := e.now()

	keys := make([]string, 0, len(Windows))
	for _, w := range Windows {
		keys = append(keys, e.counterKey(callerKey, w, w.Start(now)))
	}

	if err := e.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to reset counters for %s: %w", callerKey, err)
	}
	return nil
}
