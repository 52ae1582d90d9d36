package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Registry owns the per-caller configuration records in the shared store.
type Registry struct {
	store       Store
	prefix      string
	defaultTier Tier
	now         func() time.Time
}

func NewRegistry(store Store, prefix string, defaultTier Tier) *Registry {
	if prefix == "" {
		prefix = "ratelimit"
	}
	if defaultTier == "" {
		defaultTier = TierFree
	}
	return &Registry{
		store:       store,
		prefix:      prefix,
		defaultTier: defaultTier,
		now:         time.Now,
	}
}

func (r *Registry) configKey(callerKey string) string {
	return r.prefix + ":config:" + callerKey
}

// load distinguishes "no config" (nil, nil) from a store failure. Request
// paths use GetConfig, which collapses both to nil; administrative
// mutations need the distinction to fail loudly.
func (r *Registry) load(ctx context.Context, callerKey string) (*CallerConfig, error) {
	val, err := r.store.Get(ctx, r.configKey(callerKey))
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cfg CallerConfig
	if err := json.Unmarshal([]byte(val), &cfg); err != nil {
		log.Printf("quota: corrupt config for %s: %v", callerKey, err)
		return nil, nil
	}
	return &cfg, nil
}

func (r *Registry) save(ctx context.Context, cfg *CallerConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config for %s: %w", cfg.CallerKey, err)
	}
	if err := r.store.Set(ctx, r.configKey(cfg.CallerKey), data, 0); err != nil {
		return fmt.Errorf("failed to save config for %s: %w", cfg.CallerKey, err)
	}
	return nil
}

// GetConfig returns nil both when no configuration was ever written and
// when the store is unreachable. Callers must not treat nil as an error.
func (r *Registry) GetConfig(ctx context.Context, callerKey string) *CallerConfig {
	cfg, err := r.load(ctx, callerKey)
	if err != nil {
		return nil
	}
	return cfg
}

// GetEffectiveQuota resolves the ceilings that actually apply to a caller:
// its custom quota if one is set, else its tier defaults, else the system
// default tier's defaults.
func (r *Registry) GetEffectiveQuota(ctx context.Context, callerKey string) QuotaConfig {
	cfg := r.GetConfig(ctx, callerKey)
	if cfg == nil {
		return DefaultQuota(r.defaultTier)
	}
	if cfg.CustomQuota != nil {
		return *cfg.CustomQuota
	}
	return DefaultQuota(cfg.Tier)
}

// UpdateQuota merges the supplied fields over the caller's existing custom
// quota, or over its tier defaults when none existed. Unspecified fields
// keep their previous value. This is an explicit operator mutation, so a
// store outage is an error rather than a silent skip.
func (r *Registry) UpdateQuota(ctx context.Context, callerKey string, update QuotaUpdate) (*CallerConfig, error) {
	cfg, err := r.load(ctx, callerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to update quota for %s: %w", callerKey, err)
	}

	now := r.now()
	if cfg == nil {
		cfg = &CallerConfig{
			CallerKey: callerKey,
			Tier:      r.defaultTier,
			CreatedAt: now,
		}
	}

	base := DefaultQuota(cfg.Tier)
	if cfg.CustomQuota != nil {
		base = *cfg.CustomQuota
	}
	merged := update.ApplyTo(base)
	cfg.CustomQuota = &merged
	cfg.UpdatedAt = now

	if err := r.save(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetTier switches a caller's tier, leaving any custom quota untouched.
func (r *Registry) SetTier(ctx context.Context, callerKey string, tier Tier) (*CallerConfig, error) {
	cfg, err := r.load(ctx, callerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to set tier for %s: %w", callerKey, err)
	}

	now := r.now()
	if cfg == nil {
		cfg = &CallerConfig{
			CallerKey: callerKey,
			CreatedAt: now,
		}
	}
	cfg.Tier = tier
	cfg.UpdatedAt = now

	if err := r.save(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Touch stamps lastRequestAt on an existing config. Called from the request
// path, so failures are absorbed; callers without a stored config are left
// unconfigured.
func (r *Registry) Touch(ctx context.Context, callerKey string) {
	cfg, err := r.load(ctx, callerKey)
	if err != nil || cfg == nil {
		return
	}

	now := r.now()
	cfg.LastRequestAt = &now
	if err := r.save(ctx, cfg); err != nil {
		log.Printf("quota: failed to stamp last request for %s: %v", callerKey, err)
	}
}

// Delete removes a caller's configuration entirely.
func (r *Registry) Delete(ctx context.Context, callerKey string) error {
	if err := r.store.Del(ctx, r.configKey(callerKey)); err != nil {
		return fmt.Errorf("failed to delete config for %s: %w", callerKey, err)
	}
	return nil
}

// DefaultTier returns the tier applied to callers with no stored config.
func (r *Registry) DefaultTier() Tier {
	return r.defaultTier
}
