// Package openai adapts every OpenAI-compatible engine (OpenAI, Groq,
// DeepSeek, Cerebras, Mistral and Gemini's compatibility endpoint) to the
// providers.Provider interface.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/upb/llm-cascade/services/providers"
)

// DefaultBaseURLs maps engine names to their OpenAI-compatible endpoints
var DefaultBaseURLs = map[string]string{
	"OpenAI":   "https://api.openai.com/v1",
	"Groq":     "https://api.groq.com/openai/v1",
	"DeepSeek": "https://api.deepseek.com/v1",
	"Cerebras": "https://api.cerebras.ai/v1",
	"Mistral":  "https://api.mistral.ai/v1",
	"Gemini":   "https://generativelanguage.googleapis.com/v1beta/openai",
}

// Adapter serves one engine through the go-openai client
type Adapter struct {
	engine string
	config providers.ProviderConfig
	client *openai.Client
}

// NewAdapter creates an adapter for engine. The base URL falls back to the
// engine's default endpoint.
func NewAdapter(engine string, cfg providers.ProviderConfig) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, providers.ErrNoAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURLs[engine]
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("no base URL for engine %s", engine)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Adapter{
		engine: engine,
		config: cfg,
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

// Factory builds adapters for providers.RegistryBuilder
func Factory(engine string, cfg providers.ProviderConfig) (providers.Provider, error) {
	return NewAdapter(engine, cfg)
}

// Name returns the engine name
func (a *Adapter) Name() string {
	return a.engine
}

// Invoke sends prompt as a single user message
func (a *Adapter) Invoke(ctx context.Context, model, prompt string) (*providers.Completion, error) {
	start := time.Now()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if a.config.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: a.config.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   a.config.MaxTokens,
		Temperature: a.config.Temperature,
	})
	if err != nil {
		return nil, a.wrapError(ctx, model, err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, providers.NewInvocationError(a.engine, model, providers.KindEmptyResponse, 0, providers.ErrEmptyResponse)
	}

	text := resp.Choices[0].Message.Content
	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = providers.EstimateTokens(text)
	}

	reported := resp.Model
	if reported == "" {
		reported = model
	}

	return &providers.Completion{
		Text:         text,
		Model:        reported,
		Tokens:       tokens,
		FinishReason: string(resp.Choices[0].FinishReason),
		Latency:      time.Since(start),
	}, nil
}

// ListModels returns the engine's live model ids
func (a *Adapter) ListModels(ctx context.Context) ([]string, error) {
	list, err := a.client.ListModels(ctx)
	if err != nil {
		return nil, a.wrapError(ctx, "", err)
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		// Gemini's compatibility endpoint prefixes ids with "models/".
		ids = append(ids, strings.TrimPrefix(m.ID, "models/"))
	}
	return ids, nil
}

func (a *Adapter) wrapError(ctx context.Context, model string, err error) error {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError

	switch {
	case errors.As(err, &apiErr):
		return providers.NewInvocationError(a.engine, model, providers.KindForStatus(apiErr.HTTPStatusCode), apiErr.HTTPStatusCode, err)
	case errors.As(err, &reqErr):
		return providers.NewInvocationError(a.engine, model, providers.KindForStatus(reqErr.HTTPStatusCode), reqErr.HTTPStatusCode, err)
	case ctx.Err() != nil:
		return providers.NewInvocationError(a.engine, model, providers.KindOf(ctx.Err()), 0, err)
	default:
		return providers.NewInvocationError(a.engine, model, providers.KindOf(err), 0, err)
	}
}
