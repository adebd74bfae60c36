package gateway

import "github.com/normanking/nexus/pkg/routing"

// toRoutingRequest converts the wire ChatCompletionRequest into the minimal
// shape pkg/routing.ExtractRequirements consumes, per spec 4.F's
// content-type handling (scalar string or array of typed parts).
func toRoutingRequest(req ChatCompletionRequest) routing.ChatRequest {
	messages := make([]routing.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, toRoutingMessage(m))
	}

	var rf *routing.ResponseFormat
	if req.ResponseFormat != nil {
		rf = &routing.ResponseFormat{Type: req.ResponseFormat.Type}
	}

	return routing.ChatRequest{
		Model:          req.Model,
		Messages:       messages,
		HasTools:       req.HasTools(),
		ResponseFormat: rf,
		Stream:         req.Stream,
	}
}

func toRoutingMessage(m ChatMessage) routing.ChatMessage {
	switch content := m.Content.(type) {
	case string:
		return routing.ChatMessage{Content: content}
	case []any:
		parts := make([]routing.MessageContentPart, 0, len(content))
		for _, raw := range content {
			part, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			partType, _ := part["type"].(string)
			text, _ := part["text"].(string)
			parts = append(parts, routing.MessageContentPart{Type: partType, Text: text})
		}
		return routing.ChatMessage{ContentParts: parts}
	default:
		return routing.ChatMessage{}
	}
}
