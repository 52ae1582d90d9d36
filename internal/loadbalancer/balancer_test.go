package loadbalancer

import "testing"

func TestRoundRobinCycles(t *testing.T) {
	rr := &RoundRobin{}
	targets := []string{"a", "b", "c"}

	got := []string{rr.Next(targets), rr.Next(targets), rr.Next(targets), rr.Next(targets)}
	want := []string{"a", "b", "c", "a"}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pick %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestNextEmptyTargets(t *testing.T) {
	rr := &RoundRobin{}
	if got := rr.Next(nil); got != "" {
		t.Errorf("round robin on empty targets = %q", got)
	}

	rnd := &Random{}
	if got := rnd.Next(nil); got != "" {
		t.Errorf("random on empty targets = %q", got)
	}
}

func TestRandomPicksFromTargets(t *testing.T) {
	rnd := &Random{}
	targets := []string{"a", "b"}

	for i := 0; i < 20; i++ {
		got := rnd.Next(targets)
		if got != "a" && got != "b" {
			t.Fatalf("random pick %q not in targets", got)
		}
	}
}

func TestNewStrategy(t *testing.T) {
	for _, name := range []string{"", "round-robin", "round_robin", "random"} {
		if _, err := NewStrategy(name); err != nil {
			t.Errorf("NewStrategy(%q): %v", name, err)
		}
	}

	if _, err := NewStrategy("weighted"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
