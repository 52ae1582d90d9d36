package loadbalancer

import (
	"fmt"
	"math/rand"
	"sync"
)

// Strategy picks the next backend target from the currently healthy set.
type Strategy interface {
	Next(targets []string) string
	Name() string
}

func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "round-robin", "round_robin", "":
		return &RoundRobin{}, nil
	case "random":
		return &Random{}, nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy: %s", name)
	}
}

type RoundRobin struct {
	mu      sync.Mutex
	current int
}

func (r *RoundRobin) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	target := targets[r.current%len(targets)]
	r.current++
	return target
}

func (r *RoundRobin) Name() string { return "round_robin" }

type Random struct{}

func (r *Random) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}
	return targets[rand.Intn(len(targets))]
}

func (r *Random) Name() string { return "random" }
