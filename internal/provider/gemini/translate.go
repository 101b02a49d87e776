// Package gemini implements the generative-text adapter for the Google
// generative language API (generateText shape).
package gemini

import (
	"strings"

	"github.com/tidwall/gjson"
)

const (
	// temperature and maxOutputTokens are fixed for every request.
	temperature     = 0.2
	maxOutputTokens = 512

	modelPrefix = "models/"
)

// modelAliases maps friendly model tiers to backend model identifiers.
// Read-only after package initialization.
var modelAliases = map[string]string{
	"gemini-pro":   "models/chat-bison-001",
	"gemini-ultra": "models/chat-bison-002",
}

// ResolveModel maps a friendly alias to its backend identifier. Unmapped
// names pass through verbatim. The "models/" resource prefix is stripped in
// both cases since the URL builder adds it.
func ResolveModel(model string) string {
	if mapped, ok := modelAliases[strings.ToLower(model)]; ok {
		model = mapped
	}
	if after, ok := strings.CutPrefix(model, modelPrefix); ok {
		return after
	}
	return model
}

type textPrompt struct {
	Text string `json:"text"`
}

// generateTextRequest is the generateText request body.
type generateTextRequest struct {
	Prompt          textPrompt `json:"prompt"`
	Temperature     float64    `json:"temperature"`
	MaxOutputTokens int        `json:"maxOutputTokens"`
}

func newRequest(prompt string) generateTextRequest {
	return generateTextRequest{
		Prompt:          textPrompt{Text: prompt},
		Temperature:     temperature,
		MaxOutputTokens: maxOutputTokens,
	}
}

// replyPaths are tried in order: first candidate, then the alternate output field.
var replyPaths = []string{
	"candidates.0.content",
	"candidates.0.output",
	"output.0.content",
}

// extractReply returns the reply text and whether any known field was present.
func extractReply(data []byte) (string, bool) {
	r := gjson.ParseBytes(data)
	for _, p := range replyPaths {
		if v := r.Get(p); v.Exists() {
			return v.String(), true
		}
	}
	return "", false
}
