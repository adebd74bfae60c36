package routing

import "github.com/normanking/nexus/pkg/registry"

// FilterCandidates drops backends that are unhealthy, don't meet capability
// requirements, or whose model's context window is too small, per spec
// 4.G's candidate filtering step.
func FilterCandidates(backends []registry.Backend, modelID string, req RequestRequirements) []registry.Backend {
	out := make([]registry.Backend, 0, len(backends))
	for _, b := range backends {
		if b.Status() != registry.StatusHealthy {
			continue
		}
		model, ok := findModel(b, modelID)
		if !ok {
			continue
		}
		if req.NeedsVision && !model.SupportsVision {
			continue
		}
		if req.NeedsTools && !model.SupportsTools {
			continue
		}
		if req.NeedsJSONMode && !model.SupportsJSONMode {
			continue
		}
		if req.EstimatedTokens > model.ContextLength {
			continue
		}
		out = append(out, b)
	}
	return out
}

func findModel(b registry.Backend, modelID string) (registry.Model, bool) {
	for _, m := range b.Models() {
		if m.ID == modelID {
			return m, true
		}
	}
	return registry.Model{}, false
}

// MissingCapabilities reports which requested capabilities no backend
// carrying modelID supports, for the CapabilityMismatch diagnostic variant.
func MissingCapabilities(backends []registry.Backend, modelID string, req RequestRequirements) []string {
	var missing []string
	anyVision, anyTools, anyJSON := false, false, false
	for _, b := range backends {
		model, ok := findModel(b, modelID)
		if !ok {
			continue
		}
		anyVision = anyVision || model.SupportsVision
		anyTools = anyTools || model.SupportsTools
		anyJSON = anyJSON || model.SupportsJSONMode
	}
	if req.NeedsVision && !anyVision {
		missing = append(missing, "vision")
	}
	if req.NeedsTools && !anyTools {
		missing = append(missing, "tools")
	}
	if req.NeedsJSONMode && !anyJSON {
		missing = append(missing, "json_mode")
	}
	return missing
}
