package providers

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Factory constructs the provider for one engine
type Factory func(engine string, cfg ProviderConfig) (Provider, error)

// Registry is the capability table: engine name to provider. It is built once
// and read-only afterwards, so lookups need no locking.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry from ready providers. Later providers with a
// duplicate name are ignored.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		if _, exists := r.providers[p.Name()]; !exists {
			r.providers[p.Name()] = p
		}
	}
	return r
}

// Get returns the provider registered for engine
func (r *Registry) Get(engine string) (Provider, error) {
	if r == nil {
		return nil, ErrProviderNotFound
	}
	p, ok := r.providers[engine]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, engine)
	}
	return p, nil
}

// Has reports whether engine has a provider
func (r *Registry) Has(engine string) bool {
	if r == nil {
		return false
	}
	_, ok := r.providers[engine]
	return ok
}

// Engines returns the registered engine names in sorted order
func (r *Registry) Engines() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered engines
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.providers)
}

// Absence explains why an engine was not registered
type Absence struct {
	Engine string `json:"engine"`
	Reason string `json:"reason"`
}

// BuildReport lists every engine's construction result
type BuildReport struct {
	Registered []string  `json:"registered"`
	Absent     []Absence `json:"absent"`
}

// ErrNoAPIKey marks an engine skipped for lack of credentials
var ErrNoAPIKey = errors.New("no API key configured")

// RegistryBuilder builds a registry from per-engine configuration. Each engine
// ends up either registered or reported absent with a reason.
type RegistryBuilder struct {
	factories map[string]Factory
	order     []string
	logger    *zap.Logger
}

// NewRegistryBuilder creates an empty builder
func NewRegistryBuilder(logger *zap.Logger) *RegistryBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistryBuilder{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// Register adds the factory for an engine
func (b *RegistryBuilder) Register(engine string, factory Factory) *RegistryBuilder {
	if _, exists := b.factories[engine]; !exists {
		b.order = append(b.order, engine)
	}
	b.factories[engine] = factory
	return b
}

// Build constructs every registered engine that has configuration
func (b *RegistryBuilder) Build(configs map[string]ProviderConfig) (*Registry, BuildReport) {
	var (
		built  []Provider
		report BuildReport
	)

	for _, engine := range b.order {
		cfg, ok := configs[engine]
		if !ok || strings.TrimSpace(cfg.APIKey) == "" {
			report.Absent = append(report.Absent, Absence{Engine: engine, Reason: ErrNoAPIKey.Error()})
			continue
		}

		p, err := b.factories[engine](engine, cfg)
		if err != nil {
			report.Absent = append(report.Absent, Absence{Engine: engine, Reason: err.Error()})
			b.logger.Warn("provider construction failed", zap.String("engine", engine), zap.Error(err))
			continue
		}
		if p == nil {
			report.Absent = append(report.Absent, Absence{Engine: engine, Reason: "factory returned no provider"})
			continue
		}

		built = append(built, p)
		report.Registered = append(report.Registered, engine)
	}

	for engine := range configs {
		if _, known := b.factories[engine]; !known {
			report.Absent = append(report.Absent, Absence{Engine: engine, Reason: "no adapter for engine"})
		}
	}
	sort.Slice(report.Absent, func(i, j int) bool {
		return report.Absent[i].Engine < report.Absent[j].Engine
	})

	b.logger.Info("provider registry built",
		zap.Strings("registered", report.Registered),
		zap.Int("absent", len(report.Absent)),
	)
	return NewRegistry(built...), report
}
