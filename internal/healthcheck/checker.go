package healthcheck

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

// Checker probes backend targets periodically and keeps the set of targets
// the proxy is allowed to route to.
type Checker struct {
	mu       sync.RWMutex
	failures map[string]int
	healthy  map[string]bool

	targets     []string
	endpoint    string
	interval    time.Duration
	timeout     time.Duration
	maxFailures int

	stopChan chan struct{}
	stopOnce sync.Once
}

func NewChecker(targets []string) *Checker {
	c := &Checker{
		failures:    make(map[string]int),
		healthy:     make(map[string]bool),
		targets:     targets,
		endpoint:    "/health",
		interval:    10 * time.Second,
		timeout:     5 * time.Second,
		maxFailures: 3,
		stopChan:    make(chan struct{}),
	}

	// Targets start healthy so the proxy can route before the first sweep.
	for _, t := range targets {
		c.healthy[t] = true
	}

	return c
}

// Start runs an immediate sweep, then probes on the interval until Stop.
func (c *Checker) Start() {
	log.Printf("health checks started for %d targets (every %v)", len(c.targets), c.interval)

	c.sweep()

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-c.stopChan:
				return
			}
		}
	}()
}

func (c *Checker) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *Checker) sweep() {
	var wg sync.WaitGroup
	for _, target := range c.targets {
		wg.Add(1)
		go func(t string) {
			defer wg.Done()
			c.probe(t)
		}(target)
	}
	wg.Wait()
}

func (c *Checker) probe(target string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+c.endpoint, nil)
	if err != nil {
		c.observe(target, false)
		return
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.observe(target, false)
		return
	}
	defer resp.Body.Close()

	c.observe(target, resp.StatusCode >= 200 && resp.StatusCode < 400)
}

func (c *Checker) observe(target string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ok {
		if !c.healthy[target] {
			log.Printf("target %s is healthy again", target)
		}
		c.failures[target] = 0
		c.healthy[target] = true
		return
	}

	c.failures[target]++
	if c.healthy[target] && c.failures[target] >= c.maxFailures {
		log.Printf("target %s marked unhealthy after %d failures", target, c.failures[target])
		c.healthy[target] = false
	}
}

// HealthyTargets returns the targets currently eligible for routing, in
// the original configuration order.
func (c *Checker) HealthyTargets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.targets))
	for _, t := range c.targets {
		if c.healthy[t] {
			out = append(out, t)
		}
	}
	return out
}
