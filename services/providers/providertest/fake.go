// Package providertest provides a scriptable in-memory Provider for tests.
package providertest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/upb/llm-cascade/services/providers"
)

// Reply is a scripted answer for one model
type Reply struct {
	Text   string
	Tokens int
	Err    error
	Delay  time.Duration
}

// Call records one Invoke
type Call struct {
	Model  string
	Prompt string
}

// Provider is a fake engine. Replies are keyed by model id; a model without
// a scripted reply echoes the prompt.
type Provider struct {
	name string

	mu      sync.Mutex
	replies map[string]Reply
	models  []string
	listErr error
	calls   []Call
}

// New creates a fake provider for engine
func New(engine string, models ...string) *Provider {
	return &Provider{
		name:    engine,
		replies: make(map[string]Reply),
		models:  models,
	}
}

// Reply scripts the answer for model
func (p *Provider) Reply(model string, r Reply) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies[model] = r
	return p
}

// Fail scripts an invocation error for model
func (p *Provider) Fail(model string, kind providers.ErrorKind) *Provider {
	return p.Reply(model, Reply{Err: providers.NewInvocationError(p.name, model, kind, 0, nil)})
}

// FailListing makes ListModels return err
func (p *Provider) FailListing(err error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listErr = err
	return p
}

// Name implements providers.Provider
func (p *Provider) Name() string {
	return p.name
}

// Invoke implements providers.Provider
func (p *Provider) Invoke(ctx context.Context, model, prompt string) (*providers.Completion, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Model: model, Prompt: prompt})
	r, scripted := p.replies[model]
	p.mu.Unlock()

	if !scripted {
		r = Reply{Text: "echo: " + prompt}
	}

	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}

	tokens := r.Tokens
	if tokens == 0 {
		tokens = providers.EstimateTokens(prompt + r.Text)
	}
	return &providers.Completion{
		Text:         r.Text,
		Model:        model,
		Tokens:       tokens,
		FinishReason: "stop",
		Latency:      r.Delay,
	}, nil
}

// ListModels implements providers.Provider
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	return append([]string(nil), p.models...), nil
}

// Calls returns every Invoke made so far
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Models returns the models invoked, in call order
func (p *Provider) Models() []string {
	calls := p.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Model
	}
	return out
}

// PromptContains reports whether any call's prompt contained s
func (p *Provider) PromptContains(s string) bool {
	for _, c := range p.Calls() {
		if strings.Contains(c.Prompt, s) {
			return true
		}
	}
	return false
}
