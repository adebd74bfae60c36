// Package routing implements spec 4.F (requirements extraction), 4.G (the
// router: alias resolution, candidate filtering, strategy selection,
// fallback chain), and 4.I (the reconciler pipeline harness), grounded on
// the teacher's pkg/router/router.go for the Router struct shape and
// pkg/pipeline/pipeline.go for the ordered-stage harness pattern.
package routing

// RequestRequirements is the value extracted from a single chat/completion
// request by a single-pass scan, per spec 4.F. It must never be derived by
// mutating the request.
type RequestRequirements struct {
	Model             string
	EstimatedTokens   int
	NeedsVision       bool
	NeedsTools        bool
	NeedsJSONMode     bool
	PrefersStreaming  bool
}

// MessageContentPart models one element of an array-form message content,
// e.g. {"type": "image_url", ...} or {"type": "text", "text": "..."}.
type MessageContentPart struct {
	Type string
	Text string
}

// ChatMessage is the minimal shape the extractor scans: content is either
// a scalar string or an array of parts.
type ChatMessage struct {
	Content      string
	ContentParts []MessageContentPart
}

// ChatRequest is the minimal deserialized request shape the extractor
// consumes — the proxy layer owns full JSON decoding; this is only the
// subset routing needs.
type ChatRequest struct {
	Model    string
	Messages []ChatMessage
	// HasTools reflects presence of the request's "tools" field, not its
	// non-emptiness — an empty array still sets this true (spec 4.F).
	HasTools       bool
	ResponseFormat *ResponseFormat
	Stream         bool
}

type ResponseFormat struct {
	Type string
}

// ExtractRequirements is the single-pass extractor from spec 4.F. It is
// linear in total content character count and must not mutate req.
func ExtractRequirements(req ChatRequest) RequestRequirements {
	var totalChars int
	var needsVision bool

	for _, msg := range req.Messages {
		totalChars += len(msg.Content)
		for _, part := range msg.ContentParts {
			totalChars += len(part.Text)
			if part.Type == "image_url" {
				needsVision = true
			}
		}
	}

	needsJSONMode := req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object"

	return RequestRequirements{
		Model:            req.Model,
		EstimatedTokens:  totalChars / 4,
		NeedsVision:      needsVision,
		NeedsTools:       req.HasTools,
		NeedsJSONMode:    needsJSONMode,
		PrefersStreaming: req.Stream,
	}
}
