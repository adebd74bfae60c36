package gateway

import (
	"encoding/json"
	"net/http"

	nexuserrors "github.com/normanking/nexus/pkg/errors"
)

// writeError writes an OpenAI-compatible error response, grounded on the
// teacher's pkg/http/openai.writeError.
func writeError(w http.ResponseWriter, statusCode int, message, errType string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{Message: message, Type: errType, Code: errType},
	})
}

// writeRoutingError maps the pkg/errors routing taxonomy onto HTTP status
// codes and OpenAI-shaped error bodies (spec §6: "error bodies are
// OpenAI-shaped").
func writeRoutingError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *nexuserrors.ModelNotFoundError:
		writeError(w, http.StatusNotFound, e.Error(), "model_not_found")
	case *nexuserrors.NoHealthyBackendError:
		writeError(w, http.StatusServiceUnavailable, e.Error(), "no_healthy_backend")
	case *nexuserrors.CapabilityMismatchError:
		writeError(w, http.StatusBadRequest, e.Error(), "capability_mismatch")
	case *nexuserrors.FallbackChainExhaustedError:
		writeError(w, http.StatusServiceUnavailable, e.Error(), "fallback_chain_exhausted")
	case *nexuserrors.BudgetExceededError:
		writeError(w, http.StatusPaymentRequired, e.Error(), "budget_exceeded")
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), "internal_error")
	}
}
