package quota

import (
	"context"
	"testing"
	"time"
)

// newTestService wires a service, registry and counter engine over one
// fake store with a controllable clock.
func newTestService(store *fakeStore, enabled bool) (*Service, *time.Time) {
	current := time.Unix(1_600_000_000, 0)
	clock := func() time.Time { return current }

	registry := NewRegistry(store, "test", TierFree)
	registry.now = clock
	counters := NewCounterEngine(store, "test")
	counters.now = clock

	svc := NewService(store, registry, counters, enabled)
	svc.now = clock

	return svc, &current
}

func TestCheckLimitSequence(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store, true)
	ctx := context.Background()

	limit := DefaultQuota(TierFree).RequestsPerMinute

	prevRemaining := limit
	for i := 0; i < limit; i++ {
		status := svc.CheckLimit(ctx, "caller-1")
		if !status.Allowed {
			t.Fatalf("request %d denied unexpectedly: %+v", i+1, status)
		}
		if status.Limit != limit {
			t.Fatalf("limit = %d, want %d", status.Limit, limit)
		}
		if status.Remaining != prevRemaining-1 {
			t.Fatalf("request %d remaining = %d, want %d", i+1, status.Remaining, prevRemaining-1)
		}
		prevRemaining = status.Remaining

		svc.RecordRequest(ctx, "caller-1")
	}

	status := svc.CheckLimit(ctx, "caller-1")
	if status.Allowed {
		t.Fatalf("request %d allowed past the minute limit", limit+1)
	}
	if status.Window != WindowMinute {
		t.Errorf("denied window = %s, want minute", status.Window)
	}
	if status.Remaining != 0 {
		t.Errorf("denied remaining = %d, want 0", status.Remaining)
	}
	if retryAfter := status.ResetTime - svc.now().Unix(); retryAfter <= 0 {
		t.Errorf("retry-after = %d, want > 0", retryAfter)
	}
}

func TestCheckLimitMinuteWinsTieBreak(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store, true)
	ctx := context.Background()

	// Same ceiling on minute and hour: both windows exhaust on the same
	// request, and the minute window must be the one reported.
	two := 2
	if _, err := svc.UpdateQuota(ctx, "caller-1", QuotaUpdate{
		RequestsPerMinute: &two,
		RequestsPerHour:   &two,
	}); err != nil {
		t.Fatalf("UpdateQuota: %v", err)
	}

	svc.RecordRequest(ctx, "caller-1")
	svc.RecordRequest(ctx, "caller-1")

	status := svc.CheckLimit(ctx, "caller-1")
	if status.Allowed {
		t.Fatal("expected denial")
	}
	if status.Window != WindowMinute {
		t.Errorf("window = %s, want minute", status.Window)
	}
}

func TestCheckLimitHourExhaustion(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store, true)
	ctx := context.Background()

	hundred, two := 100, 2
	if _, err := svc.UpdateQuota(ctx, "caller-1", QuotaUpdate{
		RequestsPerMinute: &hundred,
		RequestsPerHour:   &two,
	}); err != nil {
		t.Fatalf("UpdateQuota: %v", err)
	}

	svc.RecordRequest(ctx, "caller-1")
	svc.RecordRequest(ctx, "caller-1")

	status := svc.CheckLimit(ctx, "caller-1")
	if status.Allowed {
		t.Fatal("expected denial")
	}
	if status.Window != WindowHour {
		t.Errorf("window = %s, want hour", status.Window)
	}
	if status.Limit != 2 {
		t.Errorf("limit = %d, want 2", status.Limit)
	}
}

func TestCheckLimitRecoversAfterWindowReset(t *testing.T) {
	store := newFakeStore()
	svc, clock := newTestService(store, true)
	ctx := context.Background()

	limit := DefaultQuota(TierFree).RequestsPerMinute
	for i := 0; i < limit; i++ {
		svc.RecordRequest(ctx, "caller-1")
	}

	if status := svc.CheckLimit(ctx, "caller-1"); status.Allowed {
		t.Fatal("expected denial before window reset")
	}

	*clock = clock.Add(time.Minute)

	status := svc.CheckLimit(ctx, "caller-1")
	if !status.Allowed {
		t.Fatalf("expected allow after window reset: %+v", status)
	}
	if status.Remaining != limit-1 {
		t.Errorf("remaining after reset = %d, want %d", status.Remaining, limit-1)
	}
}

func TestCheckLimitDisabledBypass(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store, false)
	ctx := context.Background()

	status := svc.CheckLimit(ctx, "caller-1")
	if !status.Allowed {
		t.Fatal("disabled service must always allow")
	}
	if status.Limit != Unlimited || status.Remaining != Unlimited {
		t.Errorf("limit/remaining = %d/%d, want unlimited", status.Limit, status.Remaining)
	}
	if status.ResetTime != 0 {
		t.Errorf("resetTime = %d, want 0", status.ResetTime)
	}

	// Nothing is counted either.
	svc.RecordRequest(ctx, "caller-1")
	if len(store.data) != 0 {
		t.Errorf("disabled service wrote to the store: %v", store.data)
	}
}

func TestCheckLimitDegradesToAllowOnOutage(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store, true)
	ctx := context.Background()

	store.setReady(false)

	// Counts read as zero during an outage, so this path always allows.
	// The strict-vs-permissive choice is made by the filter, not here.
	status := svc.CheckLimit(ctx, "caller-1")
	if !status.Allowed {
		t.Fatalf("expected allow during outage: %+v", status)
	}
	if svc.StoreReady() {
		t.Error("StoreReady = true with store down")
	}
}

func TestUsageSnapshot(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store, true)
	ctx := context.Background()

	if _, err := svc.SetTier(ctx, "caller-1", TierStandard); err != nil {
		t.Fatalf("SetTier: %v", err)
	}

	svc.RecordRequest(ctx, "caller-1")
	svc.RecordRequest(ctx, "caller-1")
	svc.RecordRequest(ctx, "caller-1")

	usage := svc.Usage(ctx, "caller-1")

	if usage.Tier != TierStandard {
		t.Errorf("tier = %s, want standard", usage.Tier)
	}

	defaults := DefaultQuota(TierStandard)
	for _, wu := range []struct {
		name  string
		usage WindowUsage
		limit int
	}{
		{"minute", usage.Minute, defaults.RequestsPerMinute},
		{"hour", usage.Hour, defaults.RequestsPerHour},
		{"day", usage.Day, defaults.RequestsPerDay},
	} {
		if wu.usage.Used != 3 {
			t.Errorf("%s used = %d, want 3", wu.name, wu.usage.Used)
		}
		if wu.usage.Limit != wu.limit {
			t.Errorf("%s limit = %d, want %d", wu.name, wu.usage.Limit, wu.limit)
		}
		if wu.usage.ResetTime <= 0 {
			t.Errorf("%s resetTime not set", wu.name)
		}
	}

	if usage.LastRequestAt == nil {
		t.Error("lastRequestAt not stamped")
	}
}

func TestResetCountersClearsAllWindows(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store, true)
	ctx := context.Background()

	svc.RecordRequest(ctx, "caller-1")
	svc.RecordRequest(ctx, "caller-1")

	if err := svc.ResetCounters(ctx, "caller-1"); err != nil {
		t.Fatalf("ResetCounters: %v", err)
	}

	usage := svc.Usage(ctx, "caller-1")
	if usage.Minute.Used != 0 || usage.Hour.Used != 0 || usage.Day.Used != 0 {
		t.Errorf("counters survived reset: %+v", usage)
	}
}
