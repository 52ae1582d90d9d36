package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the circuit rejects a call outright.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker shields a downstream target: after maxFailures consecutive
// failures it rejects calls for cooldown, then probes with a half-open
// trial before closing again.
type Breaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	trialsPassed int
	openedAt     time.Time
	changedAt    time.Time

	maxFailures int
	cooldown    time.Duration
	trialCount  int
}

type Config struct {
	MaxFailures int           // consecutive failures before opening (default 5)
	Cooldown    time.Duration // how long to stay open (default 30s)
	TrialCount  int           // half-open successes needed to close (default 1)
}

func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.TrialCount <= 0 {
		cfg.TrialCount = 1
	}

	return &Breaker{
		state:       StateClosed,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		trialCount:  cfg.TrialCount,
		changedAt:   time.Now(),
	}
}

// Do runs fn under the breaker's protection.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn()
	b.record(err == nil)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.trialsPassed = 0
	}
	return nil
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !success {
		b.failures++
		b.openedAt = time.Now()

		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.transition(StateOpen)
			b.trialsPassed = 0
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.trialsPassed++
		if b.trialsPassed >= b.trialCount {
			b.transition(StateClosed)
			b.failures = 0
		}
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) transition(next State) {
	if b.state != next {
		b.state = next
		b.changedAt = time.Now()
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed, for the operator surface.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.trialsPassed = 0
	b.changedAt = time.Now()
}

// Snapshot is a point-in-time view for the system status endpoint.
type Snapshot struct {
	State       State     `json:"-"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
	ChangedAt   time.Time `json:"changed_at"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		State:       b.state,
		Failures:    b.failures,
		LastFailure: b.openedAt,
		ChangedAt:   b.changedAt,
	}
}
