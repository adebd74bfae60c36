package routing

import (
	"github.com/normanking/nexus/pkg/budget"
	nexuserrors "github.com/normanking/nexus/pkg/errors"
	"github.com/normanking/nexus/pkg/registry"
)

// Stage is one named step in the reconciler pipeline (spec 4.I). A stage
// reads and annotates intent but must not mutate intent.Requirements; the
// final stage must leave either intent.Annotations["result"] or err set.
type Stage func(intent *RoutingIntent) error

// namedStage pairs a Stage with the name used in logging and error wrapping.
type namedStage struct {
	name string
	run  Stage
}

// Pipeline runs RequestAnalyzer, BudgetReconciler, CapabilityFilter,
// Scheduler, and FallbackReconciler in order over a RoutingIntent, grounded
// on the teacher's pkg/pipeline/pipeline.go ordered-stage concept,
// simplified from its Stage-struct/media-routing shape to a plain function
// list over RoutingIntent.
type Pipeline struct {
	stages []namedStage
}

// NewPipeline builds the fixed five-stage harness spec 4.I names.
func NewPipeline(reg *registry.Registry, bstate *budget.State, cfg Config) *Pipeline {
	p := &Pipeline{}
	p.stages = []namedStage{
		{"RequestAnalyzer", requestAnalyzerStage()},
		{"BudgetReconciler", budgetReconcilerStage(bstate)},
		{"CapabilityFilter", capabilityFilterStage(reg, bstate, cfg)},
		{"Scheduler", schedulerStage(cfg)},
		{"FallbackReconciler", fallbackReconcilerStage(reg, cfg)},
	}
	return p
}

// Run executes every stage in order, stopping at the first error. Each
// stage sees the intent exactly as the previous stage left it.
func (p *Pipeline) Run(intent *RoutingIntent) (RoutingResult, error) {
	for _, s := range p.stages {
		if err := s.run(intent); err != nil {
			return RoutingResult{}, err
		}
		if result, ok := intent.Annotations["result"].(RoutingResult); ok {
			return result, nil
		}
	}
	if result, ok := intent.Annotations["result"].(RoutingResult); ok {
		return result, nil
	}
	return RoutingResult{}, nil
}

// requestAnalyzerStage records the raw requested model on the intent;
// Requirements were already extracted by NewIntent and are left untouched.
// It does not resolve aliases or fill CandidateAgents: alias resolution
// happens in capabilityFilterStage, and CandidateAgents stays empty.
func requestAnalyzerStage() Stage {
	return func(intent *RoutingIntent) error {
		intent.Annotations["requested_model_raw"] = intent.RequestedModel
		return nil
	}
}

// budgetReconcilerStage annotates the intent with the current budget
// status; a HardLimit+Reject status short-circuits the pipeline.
func budgetReconcilerStage(bstate *budget.State) Stage {
	return func(intent *RoutingIntent) error {
		status := bstate.ComputeStatus()
		intent.Annotations["budget_status"] = status
		reject, err := bstate.Gate(status)
		if reject {
			return err
		}
		return nil
	}
}

// capabilityFilterStage resolves the alias chain and narrows candidates to
// backends that are healthy and capability-compatible.
func capabilityFilterStage(reg *registry.Registry, bstate *budget.State, cfg Config) Stage {
	return func(intent *RoutingIntent) error {
		resolved := ResolveAlias(cfg.Aliases, intent.RequestedModel)
		intent.ResolvedModel = resolved

		backends := reg.GetBackendsForModel(resolved)
		if status, ok := intent.Annotations["budget_status"].(budget.Status); ok && status == budget.HardLimit && bstate.LocalOnly() {
			backends = localOnly(backends)
		}

		candidates := FilterCandidates(backends, resolved, intent.Requirements)
		intent.Annotations["candidates"] = candidates
		intent.Annotations["unfiltered_backends"] = backends
		return nil
	}
}

// schedulerStage selects a backend from the filtered candidate set per the
// configured strategy; on success it sets the pipeline's terminal result.
func schedulerStage(cfg Config) Stage {
	return func(intent *RoutingIntent) error {
		candidates, _ := intent.Annotations["candidates"].([]registry.Backend)
		if len(candidates) == 0 {
			return nil // leave selection to FallbackReconciler
		}
		chosen, ok := Select(candidates, cfg.Strategy, cfg.Weights)
		if !ok {
			return nil
		}
		intent.Annotations["result"] = RoutingResult{Backend: chosen, ActualModel: intent.ResolvedModel}
		return nil
	}
}

// fallbackReconcilerStage runs only when Scheduler left no result: it walks
// cfg.Fallbacks[resolved] in order, re-running candidate filtering and
// selection for each, per spec 4.G's non-recursive fallback chain.
func fallbackReconcilerStage(reg *registry.Registry, cfg Config) Stage {
	return func(intent *RoutingIntent) error {
		if _, done := intent.Annotations["result"]; done {
			return nil
		}

		backends, _ := intent.Annotations["unfiltered_backends"].([]registry.Backend)

		chain := cfg.Fallbacks[intent.ResolvedModel]
		for _, fallback := range chain {
			fallbackResolved := ResolveAlias(cfg.Aliases, fallback)
			fbBackends := reg.GetBackendsForModel(fallbackResolved)
			candidates := FilterCandidates(fbBackends, fallbackResolved, intent.Requirements)
			if len(candidates) == 0 {
				continue
			}
			chosen, ok := Select(candidates, cfg.Strategy, cfg.Weights)
			if !ok {
				continue
			}
			intent.Annotations["result"] = RoutingResult{
				Backend:      chosen,
				ActualModel:  fallbackResolved,
				FallbackUsed: true,
			}
			return nil
		}

		if len(chain) > 0 {
			return newFallbackChainExhausted(intent.ResolvedModel, chain)
		}
		return newModelNotFoundOrMismatch(backends, intent.ResolvedModel, intent.Requirements)
	}
}

func newFallbackChainExhausted(resolved string, chain []string) error {
	return nexuserrors.NewFallbackChainExhaustedError(append([]string{resolved}, chain...))
}

// newModelNotFoundOrMismatch distinguishes "model unknown to the registry"
// from "model known but no candidate meets capability requirements".
func newModelNotFoundOrMismatch(backends []registry.Backend, model string, req RequestRequirements) error {
	if len(backends) == 0 {
		return nexuserrors.NewModelNotFoundError(model)
	}
	if missing := MissingCapabilities(backends, model, req); len(missing) > 0 {
		return nexuserrors.NewCapabilityMismatchError(model, missing)
	}
	return nexuserrors.NewNoHealthyBackendError(model)
}
