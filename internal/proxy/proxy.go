package proxy

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gastrack/gateway/internal/circuitbreaker"
	"github.com/gastrack/gateway/internal/healthcheck"
	"github.com/gastrack/gateway/internal/loadbalancer"
	"github.com/gin-gonic/gin"
)

// Proxy forwards admitted requests to the downstream backend targets,
// balancing across the healthy ones and shielding them with a circuit
// breaker. The request body and headers pass through unmodified; only the
// forwarding headers are added.
type Proxy struct {
	reverseProxies map[string]*httputil.ReverseProxy
	breaker        *circuitbreaker.Breaker
	balancer       loadbalancer.Strategy
	checker        *healthcheck.Checker
}

func New(targets []string, strategy string) (*Proxy, error) {
	if len(targets) == 0 {
		return nil, errors.New("at least one target is required")
	}

	balancer, err := loadbalancer.NewStrategy(strategy)
	if err != nil {
		return nil, err
	}

	reverseProxies := make(map[string]*httputil.ReverseProxy, len(targets))
	for _, raw := range targets {
		target, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid target %s: %w", raw, err)
		}
		reverseProxies[raw] = httputil.NewSingleHostReverseProxy(target)
	}

	checker := healthcheck.NewChecker(targets)
	checker.Start()

	p := &Proxy{
		reverseProxies: reverseProxies,
		breaker:        circuitbreaker.New(circuitbreaker.Config{}),
		balancer:       balancer,
		checker:        checker,
	}

	log.Printf("proxy initialized with %d targets, strategy: %s", len(targets), balancer.Name())

	return p, nil
}

// Handle forwards one request to a healthy target.
func (p *Proxy) Handle(c *gin.Context) {
	healthy := p.checker.HealthyTargets()
	if len(healthy) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "No healthy backend servers available",
		})
		return
	}

	selected := p.balancer.Next(healthy)
	reverseProxy, ok := p.reverseProxies[selected]
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to select backend server",
		})
		return
	}

	target, _ := url.Parse(selected)

	err := p.breaker.Do(func() error {
		recorder := &statusRecorder{ResponseWriter: c.Writer, status: http.StatusOK}

		req := c.Request
		req.URL.Scheme = target.Scheme
		req.URL.Host = target.Host
		req.Header.Set("X-Forwarded-Host", req.Host)
		if clientIP := c.ClientIP(); clientIP != "" {
			req.Header.Set("X-Forwarded-For", clientIP)
		}
		req.Host = target.Host

		c.Header("X-Backend-Server", selected)

		reverseProxy.ServeHTTP(recorder, req)

		// A 5xx from the backend counts against the breaker.
		if recorder.status >= 500 {
			return fmt.Errorf("backend returned %d", recorder.status)
		}
		return nil
	})

	if errors.Is(err, circuitbreaker.ErrOpen) {
		log.Printf("circuit open for %s", selected)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
	}
}

// BreakerSnapshot exposes the breaker state for the system endpoints.
func (p *Proxy) BreakerSnapshot() circuitbreaker.Snapshot {
	return p.breaker.Snapshot()
}

func (p *Proxy) ResetBreaker() {
	p.breaker.Reset()
}

func (p *Proxy) Stop() {
	p.checker.Stop()
}

type statusRecorder struct {
	gin.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
