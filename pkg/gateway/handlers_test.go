package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/normanking/nexus/pkg/budget"
	"github.com/normanking/nexus/pkg/config"
	"github.com/normanking/nexus/pkg/registry"
	"github.com/normanking/nexus/pkg/routing"
)

func unlimitedBudget() *budget.State {
	return budget.New(config.BudgetConfig{HardLimitAction: config.Reject})
}

func newTestGateway(t *testing.T, upstream *httptest.Server, modelID string) *Gateway {
	t.Helper()
	reg := registry.New()
	b := registry.NewBackend("b1", "backend one", upstream.URL, registry.Generic, 0, registry.Static)
	if err := reg.AddBackend(b); err != nil {
		t.Fatalf("AddBackend: %v", err)
	}
	reg.UpdateStatus("b1", registry.StatusHealthy, "")
	reg.UpdateModels("b1", []registry.Model{{ID: modelID}})

	rt := routing.NewRouter(reg, unlimitedBudget(), routing.Config{Strategy: routing.Smart, Weights: routing.DefaultWeights()})
	return New(reg, rt)
}

func TestHandleChatCompletionsRoutesAndForwards(t *testing.T) {
	var receivedModel string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		receivedModel, _ = body["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion"}`))
	}))
	defer upstream.Close()

	gw := newTestGateway(t, upstream, "llama3")

	reqBody := `{"model":"llama3","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(reqBody))
	rec := httptest.NewRecorder()

	gw.HandleChatCompletions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if receivedModel != "llama3" {
		t.Errorf("upstream received model %q, want llama3", receivedModel)
	}
	if len(rec.Header()[fallbackHeader]) != 0 {
		t.Errorf("unexpected fallback header on a non-fallback route")
	}
}

func TestHandleChatCompletionsMissingModel(t *testing.T) {
	gw := newTestGateway(t, httptest.NewServer(nil), "llama3")

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()

	gw.HandleChatCompletions(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleChatCompletionsModelNotFound(t *testing.T) {
	gw := newTestGateway(t, httptest.NewServer(nil), "llama3")

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"nonexistent","messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()

	gw.HandleChatCompletions(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", rec.Code, rec.Body.String())
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errResp.Error.Type != "model_not_found" {
		t.Errorf("error type = %q, want model_not_found", errResp.Error.Type)
	}
}

func TestHandleChatCompletionsRejectsWrongMethod(t *testing.T) {
	gw := newTestGateway(t, httptest.NewServer(nil), "llama3")

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()

	gw.HandleChatCompletions(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestHandleChatCompletionsFallbackSetsHeaderAndRewritesModel(t *testing.T) {
	var receivedModel string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		receivedModel, _ = body["model"].(string)
		w.Write([]byte(`{"id":"chatcmpl-1"}`))
	}))
	defer upstream.Close()

	reg := registry.New()
	b := registry.NewBackend("b1", "backend one", upstream.URL, registry.Generic, 0, registry.Static)
	if err := reg.AddBackend(b); err != nil {
		t.Fatalf("AddBackend: %v", err)
	}
	reg.UpdateStatus("b1", registry.StatusHealthy, "")
	reg.UpdateModels("b1", []registry.Model{{ID: "fallback-model"}})

	rt := routing.NewRouter(reg, unlimitedBudget(), routing.Config{
		Strategy:  routing.Smart,
		Weights:   routing.DefaultWeights(),
		Fallbacks: map[string][]string{"primary-model": {"fallback-model"}},
	})
	gw := New(reg, rt)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"primary-model","messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()

	gw.HandleChatCompletions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if receivedModel != "fallback-model" {
		t.Errorf("upstream received model %q, want fallback-model", receivedModel)
	}
	if got := rec.Header()[fallbackHeader]; len(got) != 1 || got[0] != "fallback-model" {
		t.Errorf("fallback header = %q, want fallback-model", got)
	}
}

func TestHandleEmbeddingsMissingInput(t *testing.T) {
	gw := newTestGateway(t, httptest.NewServer(nil), "embed-model")

	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings", strings.NewReader(`{"model":"embed-model"}`))
	rec := httptest.NewRecorder()

	gw.HandleEmbeddings(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleEmbeddingsRoutesAndForwards(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer upstream.Close()

	gw := newTestGateway(t, upstream, "embed-model")

	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings", strings.NewReader(`{"model":"embed-model","input":"hello"}`))
	rec := httptest.NewRecorder()

	gw.HandleEmbeddings(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleModelsDedupesAcrossHealthyBackendsOnly(t *testing.T) {
	reg := registry.New()

	healthy := registry.NewBackend("b1", "healthy backend", "http://upstream-1", registry.Generic, 0, registry.Static)
	reg.AddBackend(healthy)
	reg.UpdateStatus("b1", registry.StatusHealthy, "")
	reg.UpdateModels("b1", []registry.Model{{ID: "model-a"}, {ID: "model-b"}})

	unhealthy := registry.NewBackend("b2", "unhealthy backend", "http://upstream-2", registry.Generic, 0, registry.Static)
	reg.AddBackend(unhealthy)
	reg.UpdateStatus("b2", registry.StatusUnhealthy, "down")
	reg.UpdateModels("b2", []registry.Model{{ID: "model-a"}, {ID: "model-c"}})

	gw := New(reg, routing.NewRouter(reg, unlimitedBudget(), routing.Config{Strategy: routing.Smart}))

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	gw.HandleModels(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp ModelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("got %d models, want 2 (model-a, model-b): %+v", len(resp.Data), resp.Data)
	}
	ids := map[string]bool{}
	for _, m := range resp.Data {
		ids[m.ID] = true
	}
	if !ids["model-a"] || !ids["model-b"] {
		t.Errorf("unexpected model set: %+v", resp.Data)
	}
	if ids["model-c"] {
		t.Errorf("model-c from the unhealthy backend should not appear")
	}
}

func TestHandleHealthReportsDegradedWithMixedBackends(t *testing.T) {
	reg := registry.New()
	reg.AddBackend(registry.NewBackend("b1", "one", "http://a", registry.Generic, 0, registry.Static))
	reg.UpdateStatus("b1", registry.StatusHealthy, "")
	reg.AddBackend(registry.NewBackend("b2", "two", "http://b", registry.Generic, 0, registry.Static))
	reg.UpdateStatus("b2", registry.StatusUnhealthy, "boom")

	gw := New(reg, routing.NewRouter(reg, unlimitedBudget(), routing.Config{Strategy: routing.Smart}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	gw.HandleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 always", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Backends.Total != 2 || resp.Backends.Healthy != 1 || resp.Backends.Unhealthy != 1 {
		t.Errorf("backend summary = %+v", resp.Backends)
	}
}

func TestHandleHealthReportsUnhealthyWithNoBackends(t *testing.T) {
	reg := registry.New()
	gw := New(reg, routing.NewRouter(reg, unlimitedBudget(), routing.Config{Strategy: routing.Smart}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	gw.HandleHealth(rec, req)

	var resp HealthResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", resp.Status)
	}
}

func TestRewriteModelPreservesOtherFields(t *testing.T) {
	raw := []byte(`{"model":"old-model","temperature":0.7,"messages":[{"role":"user","content":"hi"}]}`)
	out := rewriteModel(raw, "new-model")

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode rewritten body: %v", err)
	}
	if decoded["model"] != "new-model" {
		t.Errorf("model = %v, want new-model", decoded["model"])
	}
	if decoded["temperature"] != 0.7 {
		t.Errorf("temperature field dropped: %+v", decoded)
	}
}
