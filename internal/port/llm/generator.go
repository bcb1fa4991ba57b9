// Package llm defines the generation provider port.
package llm

import "context"

// Response is the result of one generation call.
type Response struct {
	Content    string `json:"content"`
	TokensUsed int    `json:"tokens_used"`
	Model      string `json:"model,omitempty"`
	Provider   string `json:"provider,omitempty"`
}

// Generator is the narrow contract to the underlying generation provider.
// Implementations may be a hosted API, local inference, or a user-supplied
// credential; callers only rely on text plus a token count, or an error.
type Generator interface {
	// Generate produces a completion for prompt under systemPrompt.
	// maxTokens <= 0 uses the provider default.
	Generate(ctx context.Context, prompt, systemPrompt string, maxTokens int) (*Response, error)

	// GenerateStream produces the same completion as chunks in generation
	// order. The channel closes when generation ends or ctx is cancelled;
	// the stream is not restartable.
	GenerateStream(ctx context.Context, prompt, systemPrompt string, maxTokens int) (<-chan string, error)
}
