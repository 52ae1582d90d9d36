package storage

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned by store operations while the connection is
// down. Request-path callers absorb it; administrative callers surface it.
var ErrUnavailable = errors.New("redis store unavailable")

const (
	maxReconnectAttempts = 10
	baseReconnectDelay   = time.Second
	maxReconnectDelay    = 30 * time.Second
	connectTimeout       = 5 * time.Second
)

// RedisClient owns the single long-lived connection to the shared counter
// store. All reconnect state stays private; the rest of the system only
// sees IsReady/Execute/HealthCheck and the command wrappers below.
type RedisClient struct {
	addr     string
	password string
	db       int

	mu             sync.Mutex
	client         *redis.Client
	attempts       int
	reconnectTimer *time.Timer
	closed         bool

	ready atomic.Bool
}

// CounterIncr is one entry of a batched increment: the counter key and the
// expiry to (re)set alongside it.
type CounterIncr struct {
	Key string
	TTL time.Duration
}

// Health is the result of a round-trip probe against the store.
type Health struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// NewRedis starts the connection manager. An initial connect failure is not
// fatal: the manager keeps retrying in the background with backoff and the
// gateway runs against an unavailable store until it recovers.
func NewRedis(addr, password string, db int) *RedisClient {
	r := &RedisClient{
		addr:     addr,
		password: password,
		db:       db,
	}
	r.connect()
	return r
}

func (r *RedisClient) connect() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	client := redis.NewClient(&redis.Options{
		Addr:         r.addr,
		Password:     r.password,
		DB:           r.db,
		DialTimeout:  connectTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		// Reconnection is handled by this manager, not by the driver.
		MaxRetries: 0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("redis: connection to %s failed: %v", r.addr, err)
		client.Close()
		r.scheduleReconnect()
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		client.Close()
		return
	}
	old := r.client
	r.client = client
	r.attempts = 0
	r.mu.Unlock()

	r.ready.Store(true)
	if old != nil {
		old.Close()
	}

	log.Printf("redis: connected to %s (db %d)", r.addr, r.db)
}

// scheduleReconnect arms a single-flighted backoff timer. Only one attempt
// is ever in flight; concurrent failures on the request path do not pile
// up additional dials.
func (r *RedisClient) scheduleReconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.reconnectTimer != nil {
		return
	}
	if r.attempts >= maxReconnectAttempts {
		log.Printf("redis: giving up after %d reconnect attempts", r.attempts)
		return
	}

	delay := baseReconnectDelay << r.attempts
	if delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}
	r.attempts++

	log.Printf("redis: reconnecting in %v (attempt %d/%d)", delay, r.attempts, maxReconnectAttempts)

	r.reconnectTimer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		r.reconnectTimer = nil
		r.mu.Unlock()
		r.connect()
	})
}

// markDown transitions to not-ready and arms the reconnect timer.
func (r *RedisClient) markDown(err error) {
	if r.ready.CompareAndSwap(true, false) {
		log.Printf("redis: connection lost: %v", err)
	}
	r.scheduleReconnect()
}

// IsReady reports whether the store can currently be used. While false,
// every dependent component treats the store as unavailable instead of
// blocking or erroring out.
func (r *RedisClient) IsReady() bool {
	return r.ready.Load()
}

func (r *RedisClient) handle() *redis.Client {
	if !r.ready.Load() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client
}

// Execute runs op against the store only when ready. Connection-level
// failures flip the manager to not-ready and arm a reconnect.
func (r *RedisClient) Execute(ctx context.Context, op func(ctx context.Context, c *redis.Client) error) error {
	client := r.handle()
	if client == nil {
		return ErrUnavailable
	}

	if err := op(ctx, client); err != nil {
		if isConnError(err) {
			r.markDown(err)
		}
		return err
	}

	return nil
}

func isConnError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, context.DeadlineExceeded)
}

// Get fetches a key. Returns redis.Nil when the key does not exist.
func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := r.Execute(ctx, func(ctx context.Context, c *redis.Client) error {
		v, err := c.Get(ctx, key).Result()
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	return val, err
}

// Set writes a key with an optional expiry (0 means no expiry).
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.Execute(ctx, func(ctx context.Context, c *redis.Client) error {
		return c.Set(ctx, key, value, ttl).Err()
	})
}

// Del removes keys. Missing keys are not an error.
func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	return r.Execute(ctx, func(ctx context.Context, c *redis.Client) error {
		return c.Del(ctx, keys...).Err()
	})
}

// IncrBatch atomically increments every entry and refreshes its expiry in
// one pipelined round trip, so concurrent increments never lose updates.
func (r *RedisClient) IncrBatch(ctx context.Context, incrs []CounterIncr) error {
	return r.Execute(ctx, func(ctx context.Context, c *redis.Client) error {
		pipe := c.TxPipeline()
		for _, in := range incrs {
			pipe.Incr(ctx, in.Key)
			pipe.Expire(ctx, in.Key, in.TTL)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Ping issues a round-trip probe.
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.Execute(ctx, func(ctx context.Context, c *redis.Client) error {
		return c.Ping(ctx).Err()
	})
}

// HealthCheck probes the store and reports status plus round-trip latency.
func (r *RedisClient) HealthCheck(ctx context.Context) Health {
	if !r.IsReady() {
		return Health{Status: "unavailable", Connected: false}
	}

	start := time.Now()
	if err := r.Ping(ctx); err != nil {
		return Health{Status: "unavailable", Connected: false}
	}

	return Health{
		Status:    "healthy",
		Connected: true,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

// Close cancels any pending reconnect and shuts the connection down.
func (r *RedisClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.ready.Store(false)

	if r.reconnectTimer != nil {
		r.reconnectTimer.Stop()
		r.reconnectTimer = nil
	}

	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
