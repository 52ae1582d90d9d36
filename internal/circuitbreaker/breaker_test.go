package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

func failing() error { return errBackend }
func succeeding() error { return nil }

func TestOpensAfterMaxFailures(t *testing.T) {
	b := New(Config{MaxFailures: 3, Cooldown: time.Minute})

	for i := 0; i < 3; i++ {
		if err := b.Do(failing); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}
	if err := b.Do(succeeding); !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	b := New(Config{MaxFailures: 1, Cooldown: 10 * time.Millisecond})

	b.Do(failing)
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	if err := b.Do(succeeding); err != nil {
		t.Fatalf("half-open trial failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %s, want closed after trial", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{MaxFailures: 1, Cooldown: 10 * time.Millisecond})

	b.Do(failing)
	time.Sleep(20 * time.Millisecond)

	b.Do(failing)
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open after half-open failure", b.State())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(Config{MaxFailures: 2, Cooldown: time.Minute})

	b.Do(failing)
	b.Do(succeeding)
	b.Do(failing)

	if b.State() != StateClosed {
		t.Fatalf("state = %s, want closed (failures interleaved with success)", b.State())
	}
}

func TestManualReset(t *testing.T) {
	b := New(Config{MaxFailures: 1, Cooldown: time.Hour})

	b.Do(failing)
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %s, want closed after reset", b.State())
	}
	if err := b.Do(succeeding); err != nil {
		t.Fatalf("call after reset: %v", err)
	}
}
