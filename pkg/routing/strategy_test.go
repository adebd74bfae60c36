package routing

import (
	"testing"

	"github.com/normanking/nexus/pkg/registry"
)

func backendWith(reg *registry.Registry, id string, priority int, latencyMs int64, pending int64) registry.Backend {
	b := registry.NewBackend(id, id, "http://"+id, registry.Ollama, priority, registry.Static)
	_ = reg.AddBackend(b)
	reg.UpdateLatency(id, latencyMs)
	for i := int64(0); i < pending; i++ {
		reg.IncrementPending(id)
	}
	snap, _ := reg.GetBackend(id)
	return snap
}

func TestSelectEmptyCandidates(t *testing.T) {
	if _, ok := Select(nil, Smart, DefaultWeights()); ok {
		t.Fatal("expected ok=false for empty candidates")
	}
}

func TestSelectLatencyPicksLowest(t *testing.T) {
	reg := registry.New()
	a := backendWith(reg, "a", 1, 200, 0)
	b := backendWith(reg, "b", 1, 50, 0)
	c := backendWith(reg, "c", 1, 400, 0)

	chosen, ok := Select([]registry.Backend{a, b, c}, Latency, DefaultWeights())
	if !ok || chosen.ID != "b" {
		t.Fatalf("expected b, got %+v ok=%v", chosen, ok)
	}
}

func TestSelectLatencyTreatsUnmeasuredAsWorst(t *testing.T) {
	reg := registry.New()
	measured := backendWith(reg, "measured", 1, 500, 0)
	unmeasured := backendWith(reg, "unmeasured", 1, 0, 0)

	chosen, ok := Select([]registry.Backend{measured, unmeasured}, Latency, DefaultWeights())
	if !ok || chosen.ID != "measured" {
		t.Fatalf("expected measured to win over unmeasured, got %+v", chosen)
	}
}

func TestSelectPriorityPicksHighest(t *testing.T) {
	reg := registry.New()
	low := backendWith(reg, "low", 1, 10, 0)
	high := backendWith(reg, "high", 9, 10, 0)

	chosen, ok := Select([]registry.Backend{low, high}, Priority, DefaultWeights())
	if !ok || chosen.ID != "high" {
		t.Fatalf("expected high, got %+v", chosen)
	}
}

func TestSelectRoundRobinCyclesAcrossCalls(t *testing.T) {
	reg := registry.New()
	a := backendWith(reg, "rr-a", 1, 10, 0)
	b := backendWith(reg, "rr-b", 1, 10, 0)
	candidates := []registry.Backend{a, b}

	seen := make(map[string]bool)
	for i := 0; i < 4; i++ {
		chosen, ok := Select(candidates, RoundRobin, DefaultWeights())
		if !ok {
			t.Fatal("expected ok=true")
		}
		seen[chosen.ID] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expected round robin to visit both backends, saw %v", seen)
	}
}

func TestSelectSmartPrefersLowLatencyLowPendingHighPriority(t *testing.T) {
	reg := registry.New()
	best := backendWith(reg, "best", 5, 20, 0)
	worst := backendWith(reg, "worst", 1, 900, 10)

	chosen, ok := Select([]registry.Backend{worst, best}, Smart, DefaultWeights())
	if !ok || chosen.ID != "best" {
		t.Fatalf("expected best, got %+v", chosen)
	}
}

func TestSelectPriorityBreaksTiesByRoundRobin(t *testing.T) {
	reg := registry.New()
	a := backendWith(reg, "tie-rr-a", 5, 10, 0)
	b := backendWith(reg, "tie-rr-b", 5, 10, 0)
	candidates := []registry.Backend{a, b}

	seen := make(map[string]bool)
	for i := 0; i < 4; i++ {
		chosen, ok := Select(candidates, Priority, DefaultWeights())
		if !ok {
			t.Fatal("expected ok=true")
		}
		seen[chosen.ID] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expected priority ties to cycle across both backends, saw %v", seen)
	}
}
