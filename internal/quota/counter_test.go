package quota

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gastrack/gateway/internal/storage"
	"github.com/redis/go-redis/v9"
)

// fakeStore is an in-memory stand-in for the redis connection manager.
// Window expiry does not need simulating: bucket keys embed the window
// start, so a clock change alone makes old buckets unreachable.
type fakeStore struct {
	mu    sync.Mutex
	data  map[string]string
	ready bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string), ready: true}
}

func (f *fakeStore) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeStore) setReady(ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = ready
}

func (f *fakeStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.ready {
		return "", storage.ErrUnavailable
	}
	val, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return val, nil
}

func (f *fakeStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.ready {
		return storage.ErrUnavailable
	}

	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	default:
		f.data[key] = fmt.Sprint(v)
	}
	return nil
}

func (f *fakeStore) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.ready {
		return storage.ErrUnavailable
	}
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeStore) IncrBatch(ctx context.Context, incrs []storage.CounterIncr) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.ready {
		return storage.ErrUnavailable
	}
	for _, in := range incrs {
		n, _ := strconv.ParseInt(f.data[in.Key], 10, 64)
		f.data[in.Key] = strconv.FormatInt(n+1, 10)
	}
	return nil
}

func TestCounterIncrementAndCount(t *testing.T) {
	store := newFakeStore()
	eng := NewCounterEngine(store, "test")
	eng.now = func() time.Time { return time.Unix(1000, 0) }

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		eng.Increment(ctx, "caller-1")
	}

	for _, w := range Windows {
		if got := eng.Count(ctx, "caller-1", w); got != 3 {
			t.Errorf("%s count = %d, want 3", w, got)
		}
	}

	if got := eng.Count(ctx, "caller-2", WindowMinute); got != 0 {
		t.Errorf("untouched caller count = %d, want 0", got)
	}
}

func TestCounterWindowRollover(t *testing.T) {
	store := newFakeStore()
	eng := NewCounterEngine(store, "test")

	current := time.Unix(1000, 0)
	eng.now = func() time.Time { return current }

	ctx := context.Background()
	eng.Increment(ctx, "caller-1")
	eng.Increment(ctx, "caller-1")

	if got := eng.Count(ctx, "caller-1", WindowMinute); got != 2 {
		t.Fatalf("minute count = %d, want 2", got)
	}

	// Cross the minute boundary: the minute bucket rolls over while the
	// hour bucket is still the same one.
	current = current.Add(time.Minute)

	if got := eng.Count(ctx, "caller-1", WindowMinute); got != 0 {
		t.Errorf("minute count after rollover = %d, want 0", got)
	}
	if got := eng.Count(ctx, "caller-1", WindowHour); got != 2 {
		t.Errorf("hour count after minute rollover = %d, want 2", got)
	}
}

func TestCounterStoreUnavailable(t *testing.T) {
	store := newFakeStore()
	store.setReady(false)

	eng := NewCounterEngine(store, "test")
	ctx := context.Background()

	// Increment must be a silent no-op, Count must read as zero.
	eng.Increment(ctx, "caller-1")

	if got := eng.Count(ctx, "caller-1", WindowMinute); got != 0 {
		t.Errorf("count with store down = %d, want 0", got)
	}

	store.setReady(true)
	if got := eng.Count(ctx, "caller-1", WindowMinute); got != 0 {
		t.Errorf("count after recovery = %d, want 0 (increment was dropped)", got)
	}
}

func TestResetCounters(t *testing.T) {
	store := newFakeStore()
	eng := NewCounterEngine(store, "test")
	eng.now = func() time.Time { return time.Unix(1000, 0) }

	ctx := context.Background()
	eng.Increment(ctx, "caller-1")
	eng.Increment(ctx, "caller-1")

	if err := eng.ResetCounters(ctx, "caller-1"); err != nil {
		t.Fatalf("ResetCounters: %v", err)
	}

	for _, w := range Windows {
		if got := eng.Count(ctx, "caller-1", w); got != 0 {
			t.Errorf("%s count after reset = %d, want 0", w, got)
		}
	}
}

func TestResetCountersUnavailable(t *testing.T) {
	store := newFakeStore()
	store.setReady(false)

	eng := NewCounterEngine(store, "test")
	if err := eng.ResetCounters(context.Background(), "caller-1"); err == nil {
		t.Fatal("expected error when store is down")
	}
}
