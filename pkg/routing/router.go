package routing

import (
	"go.uber.org/zap"

	"github.com/normanking/nexus/pkg/budget"
	nexuserrors "github.com/normanking/nexus/pkg/errors"
	"github.com/normanking/nexus/pkg/logging"
	"github.com/normanking/nexus/pkg/metrics"
	"github.com/normanking/nexus/pkg/registry"
)

// Config bundles the router's tunables, sourced from pkg/config at startup.
type Config struct {
	Aliases    map[string]string
	Fallbacks  map[string][]string
	Strategy   Strategy
	Weights    Weights
}

// Router ties alias resolution, candidate filtering, strategy selection,
// the fallback chain, and the budget gate together, per spec 4.G. Grounded
// on the teacher's pkg/router/router.go Router struct shape, generalized
// from per-request vendor dispatch to registry-backed candidate selection.
type Router struct {
	reg    *registry.Registry
	budget *budget.State
	cfg    Config
}

func NewRouter(reg *registry.Registry, b *budget.State, cfg Config) *Router {
	return &Router{reg: reg, budget: b, cfg: cfg}
}

// Route resolves requestedModel through aliasing, filters and selects a
// candidate backend, falling back through cfg.Fallbacks on exhaustion, and
// applies the budget gate. It returns the routing error taxonomy on failure
// (spec's ModelNotFound/NoHealthyBackend/CapabilityMismatch/
// FallbackChainExhausted/BudgetExceeded).
func (rt *Router) Route(requestID, requestedModel string, req RequestRequirements) (RoutingResult, error) {
	status := rt.budget.ComputeStatus()
	reject, budgetErr := rt.budget.Gate(status)
	if reject {
		return RoutingResult{}, budgetErr
	}
	if budgetErr != nil {
		// Queue action: not rejected, just annotated (spec 4.G: "return a
		// queue-indication"); Nexus has no durable queue to actually hold this in.
		logging.Info("budget queue signal", zap.String("request_id", requestID), zap.Error(budgetErr))
		metrics.RecordRoutingDecision("queued", "")
	}

	resolved := ResolveAlias(rt.cfg.Aliases, requestedModel)

	result, err := rt.tryModel(resolved, req, status)
	if err == nil {
		metrics.RecordRoutingDecision("success", result.Backend.ID)
		return result, nil
	}

	for _, fallback := range rt.cfg.Fallbacks[resolved] {
		fallbackResolved := ResolveAlias(rt.cfg.Aliases, fallback)
		result, ferr := rt.tryModel(fallbackResolved, req, status)
		if ferr == nil {
			result.FallbackUsed = true
			result.ActualModel = fallbackResolved
			logging.Info("fallback used",
				zap.String("request_id", requestID),
				zap.String("requested_model", resolved),
				zap.String("fallback_model", fallbackResolved),
			)
			metrics.RecordFallback(resolved, fallbackResolved)
			metrics.RecordRoutingDecision("fallback", result.Backend.ID)
			return result, nil
		}
	}

	metrics.RecordRoutingDecision("error", "")
	if chain := rt.cfg.Fallbacks[resolved]; len(chain) > 0 {
		return RoutingResult{}, nexuserrors.NewFallbackChainExhaustedError(append([]string{resolved}, chain...))
	}
	return RoutingResult{}, err
}

// tryModel runs the candidate filter and strategy selection for a single
// model name, applying the budget hard-limit local-only restriction when
// status demands it.
func (rt *Router) tryModel(modelID string, req RequestRequirements, status budget.Status) (RoutingResult, error) {
	backends := rt.reg.GetBackendsForModel(modelID)
	if len(backends) == 0 {
		return RoutingResult{}, nexuserrors.NewModelNotFoundError(modelID)
	}

	if status == budget.HardLimit && rt.budget.LocalOnly() {
		backends = localOnly(backends)
	}

	candidates := FilterCandidates(backends, modelID, req)
	if len(candidates) == 0 {
		if missing := MissingCapabilities(backends, modelID, req); len(missing) > 0 {
			return RoutingResult{}, nexuserrors.NewCapabilityMismatchError(modelID, missing)
		}
		return RoutingResult{}, nexuserrors.NewNoHealthyBackendError(modelID)
	}

	chosen, ok := Select(candidates, rt.cfg.Strategy, rt.cfg.Weights)
	if !ok {
		return RoutingResult{}, nexuserrors.NewNoHealthyBackendError(modelID)
	}

	return RoutingResult{Backend: chosen, ActualModel: modelID}, nil
}

func localOnly(backends []registry.Backend) []registry.Backend {
	out := make([]registry.Backend, 0, len(backends))
	for _, b := range backends {
		if b.Type.IsLocal() {
			out = append(out, b)
		}
	}
	return out
}
