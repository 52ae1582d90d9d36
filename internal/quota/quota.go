package quota

import (
	"fmt"
	"time"
)

// Unlimited marks a limit that is not enforced (admission disabled or
// untracked caller).
const Unlimited = -1

// Tier is a named quota preset applied to callers without a custom override.
type Tier string

const (
	TierFree       Tier = "free"
	TierStandard   Tier = "standard"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// ParseTier validates a tier name before it touches the store.
func ParseTier(name string) (Tier, error) {
	switch Tier(name) {
	case TierFree, TierStandard, TierPremium, TierEnterprise:
		return Tier(name), nil
	default:
		return "", fmt.Errorf("unknown tier: %q", name)
	}
}

// Window is one of the fixed counting periods a quota ceiling applies to.
type Window int

const (
	WindowMinute Window = iota
	WindowHour
	WindowDay
)

// Windows lists all granularities in the order they are evaluated.
var Windows = [3]Window{WindowMinute, WindowHour, WindowDay}

func (w Window) String() string {
	switch w {
	case WindowMinute:
		return "minute"
	case WindowHour:
		return "hour"
	case WindowDay:
		return "day"
	default:
		return "unknown"
	}
}

func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Start returns the fixed-window bucket start for t. The bucket is
// floor(t/d)*d, so the key rolls over deterministically every d seconds.
func (w Window) Start(t time.Time) int64 {
	d := int64(w.Duration().Seconds())
	return (t.Unix() / d) * d
}

// ResetAt returns the unix second at which the current bucket rolls over.
func (w Window) ResetAt(t time.Time) int64 {
	return w.Start(t) + int64(w.Duration().Seconds())
}

// QuotaConfig holds the request ceilings for each window.
type QuotaConfig struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour"`
	RequestsPerDay    int `json:"requests_per_day"`
}

// LimitFor returns the ceiling for a single window.
func (q QuotaConfig) LimitFor(w Window) int {
	switch w {
	case WindowMinute:
		return q.RequestsPerMinute
	case WindowHour:
		return q.RequestsPerHour
	case WindowDay:
		return q.RequestsPerDay
	default:
		return q.RequestsPerMinute
	}
}

// tierDefaults maps each built-in tier to its quota. Ceilings are strictly
// increasing from minute to day for every tier.
var tierDefaults = map[Tier]QuotaConfig{
	TierFree:       {RequestsPerMinute: 10, RequestsPerHour: 100, RequestsPerDay: 1000},
	TierStandard:   {RequestsPerMinute: 60, RequestsPerHour: 1000, RequestsPerDay: 10000},
	TierPremium:    {RequestsPerMinute: 300, RequestsPerHour: 5000, RequestsPerDay: 50000},
	TierEnterprise: {RequestsPerMinute: 1000, RequestsPerHour: 20000, RequestsPerDay: 200000},
}

// DefaultQuota returns the built-in quota for a tier. Unknown tiers fall
// back to the free tier as a safe default.
func DefaultQuota(tier Tier) QuotaConfig {
	q, ok := tierDefaults[tier]
	if !ok {
		return tierDefaults[TierFree]
	}
	return q
}

// QuotaUpdate is a partial quota override. Nil fields keep their previous
// value when merged, so an operator can raise a single ceiling without
// restating the others.
type QuotaUpdate struct {
	RequestsPerMinute *int `json:"requests_per_minute"`
	RequestsPerHour   *int `json:"requests_per_hour"`
	RequestsPerDay    *int `json:"requests_per_day"`
}

// Validate rejects out-of-range values before any store call.
func (u QuotaUpdate) Validate() error {
	check := func(name string, v *int) error {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
		return nil
	}
	if err := check("requests_per_minute", u.RequestsPerMinute); err != nil {
		return err
	}
	if err := check("requests_per_hour", u.RequestsPerHour); err != nil {
		return err
	}
	return check("requests_per_day", u.RequestsPerDay)
}

// IsEmpty reports whether the update carries no fields at all.
func (u QuotaUpdate) IsEmpty() bool {
	return u.RequestsPerMinute == nil && u.RequestsPerHour == nil && u.RequestsPerDay == nil
}

// ApplyTo merges the update over a base quota, keeping unspecified fields.
func (u QuotaUpdate) ApplyTo(base QuotaConfig) QuotaConfig {
	if u.RequestsPerMinute != nil {
		base.RequestsPerMinute = *u.RequestsPerMinute
	}
	if u.RequestsPerHour != nil {
		base.RequestsPerHour = *u.RequestsPerHour
	}
	if u.RequestsPerDay != nil {
		base.RequestsPerDay = *u.RequestsPerDay
	}
	return base
}

// CallerConfig is the per-caller record kept in the shared store. It is
// created lazily on first explicit configuration; callers without one use
// the default tier's quota.
type CallerConfig struct {
	CallerKey     string       `json:"caller_key"`
	Tier          Tier         `json:"tier"`
	CustomQuota   *QuotaConfig `json:"custom_quota,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	LastRequestAt *time.Time   `json:"last_request_at,omitempty"`
}

// AdmissionStatus is the decision for one request. Window identifies the
// single most restrictive granularity that determined the result.
type AdmissionStatus struct {
	Allowed   bool   `json:"allowed"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	ResetTime int64  `json:"reset_time"`
	Window    Window `json:"window"`
}

// WindowUsage is the usage of one window inside a UsageStats snapshot.
type WindowUsage struct {
	Used      int64 `json:"used"`
	Limit     int   `json:"limit"`
	ResetTime int64 `json:"reset_time"`
}

// UsageStats is a read-only snapshot of a caller's consumption across all
// windows, assembled from the caller config and the live counters.
type UsageStats struct {
	CallerKey     string      `json:"caller_key"`
	Tier          Tier        `json:"tier"`
	Minute        WindowUsage `json:"minute"`
	Hour          WindowUsage `json:"hour"`
	Day           WindowUsage `json:"day"`
	LastRequestAt *time.Time  `json:"last_request_at,omitempty"`
}
