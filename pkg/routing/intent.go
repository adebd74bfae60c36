package routing

import "github.com/normanking/nexus/pkg/registry"

// RoutingIntent is the mutable pipeline state threaded through the
// reconciler harness (spec 3, 4.I). Stages may add Annotations freely; they
// must not mutate Requirements.
type RoutingIntent struct {
	RequestID       string
	RequestedModel  string
	ResolvedModel   string
	Requirements    RequestRequirements
	CandidateAgents []string // backend IDs serving ResolvedModel
	Annotations     map[string]any
}

func NewIntent(requestID string, req ChatRequest) *RoutingIntent {
	return &RoutingIntent{
		RequestID:      requestID,
		RequestedModel: req.Model,
		Requirements:   ExtractRequirements(req),
		Annotations:    make(map[string]any),
	}
}

// RoutingResult is returned to the caller once a backend is selected.
type RoutingResult struct {
	Backend       registry.Backend
	ActualModel   string
	FallbackUsed  bool
}
