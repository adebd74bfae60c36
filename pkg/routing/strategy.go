package routing

import (
	"sort"
	"sync/atomic"

	"github.com/normanking/nexus/pkg/registry"
)

// Strategy names the selection rule from spec 4.G's strategy table.
type Strategy string

const (
	Smart      Strategy = "smart"
	Latency    Strategy = "latency"
	RoundRobin Strategy = "round_robin"
	Priority   Strategy = "priority"
)

// Weights controls the Smart strategy's scoring (spec 4.G: "exact weights
// are a configuration value").
type Weights struct {
	Latency  float64
	Pending  float64
	Priority float64
}

func DefaultWeights() Weights {
	return Weights{Latency: 0.4, Pending: 0.3, Priority: 0.3}
}

// roundRobinCounter is shared across all models, per spec 4.G.
var roundRobinCounter atomic.Uint64

// Select picks one backend from candidates per the named strategy.
// Candidates is never mutated. Priority ties are broken via the shared
// round-robin counter (spec 4.G: "ties broken by round-robin"); all other
// ties fall out of stable backend-id ordering.
func Select(candidates []registry.Backend, strategy Strategy, weights Weights) (registry.Backend, bool) {
	if len(candidates) == 0 {
		return registry.Backend{}, false
	}

	sorted := make([]registry.Backend, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	switch strategy {
	case Latency:
		return selectByLatency(sorted), true
	case RoundRobin:
		idx := roundRobinCounter.Add(1) - 1
		return sorted[int(idx%uint64(len(sorted)))], true
	case Priority:
		return selectByPriority(sorted), true
	default:
		return selectSmart(sorted, weights), true
	}
}

// selectByLatency picks minimum avg_latency_ms; unmeasured backends
// (latency 0, meaning never probed) are treated as higher-than-any.
func selectByLatency(candidates []registry.Backend) registry.Backend {
	best := candidates[0]
	bestLatency := effectiveLatency(best)
	for _, b := range candidates[1:] {
		l := effectiveLatency(b)
		if l < bestLatency {
			best = b
			bestLatency = l
		}
	}
	return best
}

func effectiveLatency(b registry.Backend) int64 {
	if b.AvgLatencyMs() == 0 {
		return int64(^uint64(0) >> 1) // treat "no measurement" as worse than any real value
	}
	return b.AvgLatencyMs()
}

// selectByPriority picks the highest-priority candidate; ties are broken
// by round-robin across the tied set (spec 4.G), using the same counter
// the RoundRobin strategy uses.
func selectByPriority(candidates []registry.Backend) registry.Backend {
	bestPriority := candidates[0].Priority
	for _, b := range candidates[1:] {
		if b.Priority > bestPriority {
			bestPriority = b.Priority
		}
	}

	var tied []registry.Backend
	for _, b := range candidates {
		if b.Priority == bestPriority {
			tied = append(tied, b)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}

	idx := roundRobinCounter.Add(1) - 1
	return tied[int(idx%uint64(len(tied)))]
}

func selectSmart(candidates []registry.Backend, w Weights) registry.Backend {
	best := candidates[0]
	bestScore := smartScore(best, w)
	for _, b := range candidates[1:] {
		score := smartScore(b, w)
		if score > bestScore {
			best = b
			bestScore = score
		}
	}
	return best
}

// smartScore weights lower latency, fewer pending requests, and higher
// priority into a single comparable value.
func smartScore(b registry.Backend, w Weights) float64 {
	latency := float64(effectiveLatency(b))
	if latency <= 0 {
		latency = 1
	}
	latencyScore := 1 / latency
	pendingScore := 1 / (1 + float64(b.PendingRequests()))
	priorityScore := float64(b.Priority)

	return w.Latency*latencyScore + w.Pending*pendingScore + w.Priority*priorityScore
}
