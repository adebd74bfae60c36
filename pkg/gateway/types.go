// Package gateway implements Nexus's OpenAI-compatible HTTP surface: the
// four endpoints spec.md §6 names (chat completions, embeddings, models,
// health), each a plain http.HandlerFunc calling into pkg/routing.Router
// and then proxying to the chosen backend. Grounded on the teacher's
// pkg/http/openai package for the handler/header/streaming shape.
package gateway

import "encoding/json"

// ChatCompletionRequest is the OpenAI chat/completions request body. Tools
// is a raw message rather than a slice so presence can be distinguished
// from an empty array: the "tools" key's mere presence, not its
// non-emptiness, sets needs_tools (spec 4.F).
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Stream         bool            `json:"stream,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Tools          json.RawMessage `json:"tools,omitempty"`
}

// HasTools reports whether the request body included a "tools" field at
// all, regardless of whether it decoded to an empty array.
func (c ChatCompletionRequest) HasTools() bool {
	return c.Tools != nil
}

// ChatMessage mirrors the wire shape: Content is either a plain string or
// an array of typed parts (vision, text, etc).
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

// EmbeddingRequest accepts both input shapes spec.md §6 names: a single
// string or an array of strings.
type EmbeddingRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// ModelsResponse is the /v1/models envelope.
type ModelsResponse struct {
	Object string          `json:"object"`
	Data   []ModelEnvelope `json:"data"`
}

type ModelEnvelope struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// HealthResponse is the /health aggregate status body (spec §6: always 200).
type HealthResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Backends      BackendSummary `json:"backends"`
	Models        int            `json:"models"`
}

type BackendSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
}

// ErrorResponse is the OpenAI-shaped error envelope every failure path
// returns (spec §6: "error bodies are OpenAI-shaped").
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}
