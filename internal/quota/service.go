package quota

import (
	"context"
	"time"
)

// Service combines the registry and the counter engine into the
// allow/deny decision and the usage snapshot.
//
// Check and increment are two separate store round trips, not one atomic
// check-and-increment. Two concurrent requests can both observe
// count < limit and both proceed, so a caller may overshoot its ceiling by
// a small margin under high concurrency. This is a deliberate trade-off
// for keeping the hot path to plain INCR/GET commands.
type Service struct {
	registry *Registry
	counters *CounterEngine
	store    Store
	enabled  bool
	now      func() time.Time
}

func NewService(store Store, registry *Registry, counters *CounterEngine, enabled bool) *Service {
	return &Service{
		registry: registry,
		counters: counters,
		store:    store,
		enabled:  enabled,
		now:      time.Now,
	}
}

// StoreReady reports whether the shared counter store is usable. The
// admission filter consults this to apply the configured fallback policy.
func (s *Service) StoreReady() bool {
	return s.store.IsReady()
}

// CheckLimit decides whether one more request from the caller is admitted.
//
// Windows are evaluated minute, then hour, then day; the first exhausted
// window is the one reported even when a coarser window is also exhausted,
// since its reset is the most immediately actionable for the caller. When
// every window has room the result is expressed against the minute window,
// with remaining already accounting for the request under evaluation.
func (s *Service) CheckLimit(ctx context.Context, callerKey string) AdmissionStatus {
	if !s.enabled {
		return AdmissionStatus{
			Allowed:   true,
			Limit:     Unlimited,
			Remaining: Unlimited,
			ResetTime: 0,
			Window:    WindowMinute,
		}
	}

	q := s.registry.GetEffectiveQuota(ctx, callerKey)
	now := s.now()

	var minuteCount int64
	for _, w := range Windows {
		limit := q.LimitFor(w)
		count := s.counters.Count(ctx, callerKey, w)
		if w == WindowMinute {
			minuteCount = count
		}

		if count >= int64(limit) {
			return AdmissionStatus{
				Allowed:   false,
				Limit:     limit,
				Remaining: 0,
				ResetTime: w.ResetAt(now),
				Window:    w,
			}
		}
	}

	remaining := q.RequestsPerMinute - int(minuteCount) - 1
	if remaining < 0 {
		remaining = 0
	}

	return AdmissionStatus{
		Allowed:   true,
		Limit:     q.RequestsPerMinute,
		Remaining: remaining,
		ResetTime: WindowMinute.ResetAt(now),
		Window:    WindowMinute,
	}
}

// RecordRequest counts an admitted request: bumps every window counter and
// stamps lastRequestAt on the caller's config. Safe to call from a
// detached goroutine; all failures are absorbed.
func (s *Service) RecordRequest(ctx context.Context, callerKey string) {
	if !s.enabled {
		return
	}
	s.counters.Increment(ctx, callerKey)
	s.registry.Touch(ctx, callerKey)
}

// Usage assembles the read-only consumption snapshot for a caller.
func (s *Service) Usage(ctx context.Context, callerKey string) UsageStats {
	cfg := s.registry.GetConfig(ctx, callerKey)
	q := s.registry.GetEffectiveQuota(ctx, callerKey)
	now := s.now()

	tier := s.registry.DefaultTier()
	var lastRequest *time.Time
	if cfg != nil {
		tier = cfg.Tier
		lastRequest = cfg.LastRequestAt
	}

	usageFor := func(w Window) WindowUsage {
		return WindowUsage{
			Used:      s.counters.Count(ctx, callerKey, w),
			Limit:     q.LimitFor(w),
			ResetTime: w.ResetAt(now),
		}
	}

	return UsageStats{
		CallerKey:     callerKey,
		Tier:          tier,
		Minute:        usageFor(WindowMinute),
		Hour:          usageFor(WindowHour),
		Day:           usageFor(WindowDay),
		LastRequestAt: lastRequest,
	}
}

// UpdateQuota, SetTier and ResetCounters are the administrative mutations,
// exposed through the service so handlers wire against one dependency.

func (s *Service) UpdateQuota(ctx context.Context, callerKey string, update QuotaUpdate) (*CallerConfig, error) {
	return s.registry.UpdateQuota(ctx, callerKey, update)
}

func (s *Service) SetTier(ctx context.Context, callerKey string, tier Tier) (*CallerConfig, error) {
	return s.registry.SetTier(ctx, callerKey, tier)
}

func (s *Service) ResetCounters(ctx context.Context, callerKey string) error {
	return s.counters.ResetCounters(ctx, callerKey)
}
