package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gastrack/gateway/internal/storage"
)

func TestGetEffectiveQuotaNoConfig(t *testing.T) {
	reg := NewRegistry(newFakeStore(), "test", TierStandard)

	got := reg.GetEffectiveQuota(context.Background(), "nobody")
	if got != DefaultQuota(TierStandard) {
		t.Fatalf("quota for unconfigured caller = %+v, want standard defaults", got)
	}
}

func TestSetTierAndEffectiveQuota(t *testing.T) {
	reg := NewRegistry(newFakeStore(), "test", TierFree)
	ctx := context.Background()

	cfg, err := reg.SetTier(ctx, "caller-1", TierPremium)
	if err != nil {
		t.Fatalf("SetTier: %v", err)
	}
	if cfg.Tier != TierPremium {
		t.Errorf("tier = %s, want premium", cfg.Tier)
	}

	if got := reg.GetEffectiveQuota(ctx, "caller-1"); got != DefaultQuota(TierPremium) {
		t.Errorf("effective quota = %+v, want premium defaults", got)
	}
}

func TestUpdateQuotaPartialMerge(t *testing.T) {
	reg := NewRegistry(newFakeStore(), "test", TierFree)
	ctx := context.Background()

	twenty := 20
	if _, err := reg.UpdateQuota(ctx, "caller-1", QuotaUpdate{RequestsPerMinute: &twenty}); err != nil {
		t.Fatalf("UpdateQuota: %v", err)
	}

	got := reg.GetEffectiveQuota(ctx, "caller-1")
	defaults := DefaultQuota(TierFree)

	if got.RequestsPerMinute != 20 {
		t.Errorf("per-minute = %d, want 20", got.RequestsPerMinute)
	}
	if got.RequestsPerHour != defaults.RequestsPerHour || got.RequestsPerDay != defaults.RequestsPerDay {
		t.Errorf("unsupplied fields reset: %+v", got)
	}

	// A second partial update keeps the earlier override.
	fiveHundred := 500
	if _, err := reg.UpdateQuota(ctx, "caller-1", QuotaUpdate{RequestsPerHour: &fiveHundred}); err != nil {
		t.Fatalf("second UpdateQuota: %v", err)
	}

	got = reg.GetEffectiveQuota(ctx, "caller-1")
	if got.RequestsPerMinute != 20 || got.RequestsPerHour != 500 {
		t.Errorf("merged quota = %+v, want minute=20 hour=500", got)
	}
}

func TestUpdateQuotaPreservesCreatedAt(t *testing.T) {
	reg := NewRegistry(newFakeStore(), "test", TierFree)
	ctx := context.Background()

	created := time.Unix(100, 0)
	reg.now = func() time.Time { return created }

	ten := 10
	if _, err := reg.UpdateQuota(ctx, "caller-1", QuotaUpdate{RequestsPerMinute: &ten}); err != nil {
		t.Fatalf("UpdateQuota: %v", err)
	}

	later := time.Unix(200, 0)
	reg.now = func() time.Time { return later }

	cfg, err := reg.UpdateQuota(ctx, "caller-1", QuotaUpdate{RequestsPerMinute: &ten})
	if err != nil {
		t.Fatalf("second UpdateQuota: %v", err)
	}

	if !cfg.CreatedAt.Equal(created) {
		t.Errorf("createdAt = %v, want %v", cfg.CreatedAt, created)
	}
	if !cfg.UpdatedAt.Equal(later) {
		t.Errorf("updatedAt = %v, want %v", cfg.UpdatedAt, later)
	}
}

func TestSetTierPreservesCustomQuota(t *testing.T) {
	reg := NewRegistry(newFakeStore(), "test", TierFree)
	ctx := context.Background()

	twenty := 20
	if _, err := reg.UpdateQuota(ctx, "caller-1", QuotaUpdate{RequestsPerMinute: &twenty}); err != nil {
		t.Fatalf("UpdateQuota: %v", err)
	}
	if _, err := reg.SetTier(ctx, "caller-1", TierEnterprise); err != nil {
		t.Fatalf("SetTier: %v", err)
	}

	cfg := reg.GetConfig(ctx, "caller-1")
	if cfg == nil {
		t.Fatal("config missing")
	}
	if cfg.Tier != TierEnterprise {
		t.Errorf("tier = %s, want enterprise", cfg.Tier)
	}
	if cfg.CustomQuota == nil || cfg.CustomQuota.RequestsPerMinute != 20 {
		t.Errorf("custom quota lost on tier change: %+v", cfg.CustomQuota)
	}

	// Custom quota still wins over the new tier's defaults.
	if got := reg.GetEffectiveQuota(ctx, "caller-1"); got.RequestsPerMinute != 20 {
		t.Errorf("effective per-minute = %d, want 20", got.RequestsPerMinute)
	}
}

func TestMutationsFailWhenStoreDown(t *testing.T) {
	store := newFakeStore()
	store.setReady(false)
	reg := NewRegistry(store, "test", TierFree)
	ctx := context.Background()

	ten := 10
	if _, err := reg.UpdateQuota(ctx, "caller-1", QuotaUpdate{RequestsPerMinute: &ten}); !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("UpdateQuota error = %v, want ErrUnavailable", err)
	}
	if _, err := reg.SetTier(ctx, "caller-1", TierPremium); !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("SetTier error = %v, want ErrUnavailable", err)
	}
}

func TestGetConfigNilOnOutageAndMissing(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry(store, "test", TierFree)
	ctx := context.Background()

	if cfg := reg.GetConfig(ctx, "nobody"); cfg != nil {
		t.Errorf("config for unknown caller = %+v, want nil", cfg)
	}

	store.setReady(false)
	if cfg := reg.GetConfig(ctx, "nobody"); cfg != nil {
		t.Errorf("config during outage = %+v, want nil", cfg)
	}
}

func TestTouchStampsLastRequest(t *testing.T) {
	reg := NewRegistry(newFakeStore(), "test", TierFree)
	ctx := context.Background()

	stamp := time.Unix(500, 0)
	reg.now = func() time.Time { return stamp }

	// Touch on an unconfigured caller must not create a config.
	reg.Touch(ctx, "caller-1")
	if cfg := reg.GetConfig(ctx, "caller-1"); cfg != nil {
		t.Fatalf("touch created a config: %+v", cfg)
	}

	if _, err := reg.SetTier(ctx, "caller-1", TierFree); err != nil {
		t.Fatalf("SetTier: %v", err)
	}
	reg.Touch(ctx, "caller-1")

	cfg := reg.GetConfig(ctx, "caller-1")
	if cfg == nil || cfg.LastRequestAt == nil || !cfg.LastRequestAt.Equal(stamp) {
		t.Errorf("lastRequestAt not stamped: %+v", cfg)
	}
}

func TestDeleteConfig(t *testing.T) {
	reg := NewRegistry(newFakeStore(), "test", TierFree)
	ctx := context.Background()

	if _, err := reg.SetTier(ctx, "caller-1", TierPremium); err != nil {
		t.Fatalf("SetTier: %v", err)
	}
	if err := reg.Delete(ctx, "caller-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if cfg := reg.GetConfig(ctx, "caller-1"); cfg != nil {
		t.Errorf("config survived delete: %+v", cfg)
	}
}
