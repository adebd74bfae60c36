package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/normanking/nexus/pkg/metrics"
	"github.com/normanking/nexus/pkg/registry"
	"github.com/normanking/nexus/pkg/routing"
)

// fallbackHeader must be lowercase per spec §6 ("header name must be
// lowercase (HTTP/2)"); net/http canonicalizes Set() keys, so it's written
// via Header()[key] directly.
const fallbackHeader = "x-nexus-fallback-model"

// Gateway wires the HTTP surface to a registry (for /v1/models and
// /health) and a router (for request dispatch).
type Gateway struct {
	Reg       *registry.Registry
	Router    *routing.Router
	startedAt time.Time
}

func New(reg *registry.Registry, rt *routing.Router) *Gateway {
	return &Gateway{Reg: reg, Router: rt, startedAt: time.Now()}
}

// HandleChatCompletions serves POST /v1/chat/completions.
func (g *Gateway) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error")
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", "invalid_request_error")
		return
	}

	var chatReq ChatCompletionRequest
	if err := json.Unmarshal(raw, &chatReq); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error")
		return
	}
	if chatReq.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required", "invalid_request_error")
		return
	}
	if len(chatReq.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages are required", "invalid_request_error")
		return
	}

	requirements := routing.ExtractRequirements(toRoutingRequest(chatReq))
	requestID := requestIDFrom(r)

	result, err := g.Router.Route(requestID, chatReq.Model, requirements)
	if err != nil {
		writeRoutingError(w, err)
		return
	}

	forwardBody := raw
	actualModel := chatReq.Model
	if result.FallbackUsed {
		forwardBody = rewriteModel(raw, result.ActualModel)
		w.Header()[fallbackHeader] = []string{result.ActualModel}
		actualModel = result.ActualModel
	}

	defer g.trackPending(result.Backend.ID)()

	proxyRequest(w, r, result.Backend.ID, result.Backend.URL, "/v1/chat/completions", actualModel, forwardBody)
}

// HandleEmbeddings serves POST /v1/embeddings. Per spec §6, batch requests
// against backends without native batch support (Ollama) are the agent's
// responsibility; the gateway itself just routes and forwards the request
// as received.
func (g *Gateway) HandleEmbeddings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error")
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", "invalid_request_error")
		return
	}

	var embedReq EmbeddingRequest
	if err := json.Unmarshal(raw, &embedReq); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error")
		return
	}
	if embedReq.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required", "invalid_request_error")
		return
	}
	if embedReq.Input == nil {
		writeError(w, http.StatusBadRequest, "input is required", "invalid_request_error")
		return
	}

	requestID := requestIDFrom(r)
	result, err := g.Router.Route(requestID, embedReq.Model, routing.RequestRequirements{Model: embedReq.Model})
	if err != nil {
		writeRoutingError(w, err)
		return
	}

	forwardBody := raw
	actualModel := embedReq.Model
	if result.FallbackUsed {
		forwardBody = rewriteModel(raw, result.ActualModel)
		w.Header()[fallbackHeader] = []string{result.ActualModel}
		actualModel = result.ActualModel
	}

	defer g.trackPending(result.Backend.ID)()

	proxyRequest(w, r, result.Backend.ID, result.Backend.URL, "/v1/embeddings", actualModel, forwardBody)
}

// HandleModels serves GET /v1/models: the union of all healthy backends'
// model lists, deduplicated by model id (spec §6).
func (g *Gateway) HandleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error")
		return
	}

	seen := make(map[string]bool)
	var data []ModelEnvelope
	now := time.Now().Unix()

	for _, b := range g.Reg.GetAllBackends() {
		if b.Status() != registry.StatusHealthy {
			continue
		}
		for _, m := range b.Models() {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			data = append(data, ModelEnvelope{ID: m.ID, Object: "model", Created: now, OwnedBy: "nexus"})
		}
	}

	writeJSON(w, http.StatusOK, ModelsResponse{Object: "list", Data: data})
}

// HandleHealth serves GET /health. Always returns 200 (spec §6: "the
// endpoint is always available").
func (g *Gateway) HandleHealth(w http.ResponseWriter, r *http.Request) {
	backends := g.Reg.GetAllBackends()
	summary := BackendSummary{Total: len(backends)}
	seenModels := make(map[string]bool)
	for _, b := range backends {
		switch b.Status() {
		case registry.StatusHealthy:
			summary.Healthy++
		case registry.StatusUnhealthy:
			summary.Unhealthy++
		}
		for _, m := range b.Models() {
			seenModels[m.ID] = true
		}
	}

	status := "degraded"
	switch {
	case summary.Total == 0 || summary.Healthy == 0:
		status = "unhealthy"
	case summary.Unhealthy == 0:
		status = "healthy"
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(g.startedAt).Seconds()),
		Backends:      summary,
		Models:        len(seenModels),
	})
}

// trackPending increments the backend's in-flight count for the duration
// of one dispatch and mirrors it onto the pending-requests gauge (spec §3:
// "incremented on dispatch, decremented on completion"). The caller defers
// the returned func to decrement on every return path.
func (g *Gateway) trackPending(backendID string) func() {
	g.Reg.IncrementPending(backendID)
	g.reportPending(backendID)
	return func() {
		g.Reg.DecrementPending(backendID)
		g.reportPending(backendID)
	}
}

func (g *Gateway) reportPending(backendID string) {
	if b, ok := g.Reg.GetBackend(backendID); ok {
		metrics.SetBackendPendingRequests(backendID, b.PendingRequests())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func requestIDFrom(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// rewriteModel replaces the "model" field in a raw JSON request body with
// actualModel, used when the router substituted a fallback model (spec
// 4.G: the proxied call must target the backend's actual model name).
func rewriteModel(raw []byte, actualModel string) []byte {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return raw
	}
	generic["model"] = actualModel
	out, err := json.Marshal(generic)
	if err != nil {
		return raw
	}
	return out
}
