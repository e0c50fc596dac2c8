// Package anthropic adapts Claude models to the providers.Provider interface.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/upb/llm-cascade/services/providers"
)

// Adapter serves Claude models through the Anthropic SDK
type Adapter struct {
	engine string
	config providers.ProviderConfig
	client *anthropic.Client
}

// NewAdapter creates a Claude adapter
func NewAdapter(engine string, cfg providers.ProviderConfig) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, providers.ErrNoAPIKey
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		// Failover happens across candidates, not inside one attempt.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	return &Adapter{
		engine: engine,
		config: cfg,
		client: &client,
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

// Invoke sends prompt as a single user turn
func (a *Adapter) Invoke(ctx context.Context, model, prompt string) (*providers.Completion, error) {
	start := time.Now()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(a.config.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if a.config.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.config.SystemPrompt}}
	}
	if a.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(a.config.Temperature))
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, a.wrapError(ctx, model, err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return nil, providers.NewInvocationError(a.engine, model, providers.KindEmptyResponse, 0, providers.ErrEmptyResponse)
	}

	tokens := int(msg.Usage.InputTokens + msg.Usage.OutputTokens)
	if tokens == 0 {
		tokens = providers.EstimateTokens(text)
	}

	return &providers.Completion{
		Text:         text,
		Model:        string(msg.Model),
		Tokens:       tokens,
		FinishReason: string(msg.StopReason),
		Latency:      time.Since(start),
	}, nil
}

// ListModels returns the Claude models available to the key
func (a *Adapter) ListModels(ctx context.Context) ([]string, error) {
	page, err := a.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, a.wrapError(ctx, "", err)
	}

	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (a *Adapter) wrapError(ctx context.Context, model string, err error) error {
	var apiErr *anthropic.Error
	switch {
	case errors.As(err, &apiErr):
		return providers.NewInvocationError(a.engine, model, providers.KindForStatus(apiErr.StatusCode), apiErr.StatusCode, err)
	case ctx.Err() != nil:
		return providers.NewInvocationError(a.engine, model, providers.KindOf(ctx.Err()), 0, err)
	default:
		return providers.NewInvocationError(a.engine, model, providers.KindOf(err), 0, err)
	}
}
