package providers

import (
	"context"
	"time"
)

// Provider is one backend inference engine. A single provider serves every
// model of its engine.
type Provider interface {
	// Name returns the engine name (e.g. "Groq", "Gemini", "Claude")
	Name() string

	// Invoke sends one prompt to model and returns the completion
	Invoke(ctx context.Context, model, prompt string) (*Completion, error)

	// ListModels returns the model ids the engine currently serves
	ListModels(ctx context.Context) ([]string, error)
}

// Completion is the result of a successful invocation
type Completion struct {
	// Text is the generated answer
	Text string `json:"text"`

	// Model reported by the engine, which may differ from the requested id
	Model string `json:"model"`

	// Tokens consumed by prompt and answer together
	Tokens int `json:"tokens"`

	// FinishReason as reported by the engine ("stop", "length", ...)
	FinishReason string `json:"finish_reason,omitempty"`

	Latency time.Duration `json:"latency"`
}

// ProviderConfig holds the configuration of one engine
type ProviderConfig struct {
	// APIKey for authentication. An engine without a key is not registered.
	APIKey string

	// BaseURL overrides the engine's default endpoint
	BaseURL string

	// Timeout bounds a single HTTP call
	Timeout time.Duration

	// MaxTokens limits the answer length
	MaxTokens int

	// Temperature controls randomness
	Temperature float32

	// SystemPrompt is sent ahead of every prompt when set
	SystemPrompt string
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:     30 * time.Second,
		MaxTokens:   2048,
		Temperature: 0.7,
	}
}

// EstimateTokens approximates a token count when the engine reports none
func EstimateTokens(text string) int {
	return len(text) / 4
}
