// Package parsers holds pure-function, per-vendor decoders that translate
// health-probe bodies into a uniform model list or health flag, grounded on
// the teacher's pkg/backends response-decoding helpers but simplified to the
// three wire shapes Nexus actually probes.
package parsers

import (
	"encoding/json"
	"strings"

	nexuserrors "github.com/normanking/nexus/pkg/errors"
	"github.com/normanking/nexus/pkg/registry"
)

const defaultContextLength = 4096

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ParseOllamaTags decodes an Ollama /api/tags body into Models, inferring
// vision/tools support from substrings in the model name per spec.
func ParseOllamaTags(backendID string, body []byte) ([]registry.Model, error) {
	var resp ollamaTagsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nexuserrors.NewParseError(backendID, err.Error())
	}

	models := make([]registry.Model, 0, len(resp.Models))
	for _, m := range resp.Models {
		lower := strings.ToLower(m.Name)
		models = append(models, registry.Model{
			ID:               m.Name,
			Name:             m.Name,
			ContextLength:    defaultContextLength,
			SupportsVision:   strings.Contains(lower, "llava") || strings.Contains(lower, "vision"),
			SupportsTools:    strings.Contains(lower, "mistral"),
			SupportsJSONMode: false,
		})
	}
	return models, nil
}

type openAIModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ParseOpenAICompatModels decodes a /v1/models body shared by vLLM, OpenAI,
// LMStudio, Exo, and generic OpenAI-compatible backends.
func ParseOpenAICompatModels(backendID string, body []byte) ([]registry.Model, error) {
	var resp openAIModelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nexuserrors.NewParseError(backendID, err.Error())
	}

	models := make([]registry.Model, 0, len(resp.Data))
	for _, d := range resp.Data {
		models = append(models, registry.Model{
			ID:            d.ID,
			Name:          d.ID,
			ContextLength: defaultContextLength,
		})
	}
	return models, nil
}

type llamaCppHealthResponse struct {
	Status string `json:"status"`
}

// ParseLlamaCppHealth decodes a /health body; llama.cpp never returns
// models, so the only signal is the boolean healthy flag.
func ParseLlamaCppHealth(backendID string, body []byte) (healthy bool, err error) {
	var resp llamaCppHealthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, nexuserrors.NewParseError(backendID, err.Error())
	}
	return resp.Status == "ok", nil
}

// ProbePath returns the health-probe path for a backend type, per spec 6's
// outbound probe table.
func ProbePath(t registry.BackendType) string {
	switch t {
	case registry.Ollama:
		return "/api/tags"
	case registry.LlamaCpp:
		return "/health"
	default:
		return "/v1/models"
	}
}
