package discovery

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/upb/llm-cascade/services/candidates"
	"github.com/upb/llm-cascade/services/providers"
)

// Config holds discovery configuration
type Config struct {
	// ProbeTimeout bounds each listing and each health probe
	ProbeTimeout time.Duration

	// HealthCheck sends HealthPrompt to every placed model and drops the
	// ones that fail
	HealthCheck  bool
	HealthPrompt string

	// MaxConcurrency limits simultaneous probes
	MaxConcurrency int
}

// DefaultConfig returns default discovery configuration
func DefaultConfig() Config {
	return Config{
		ProbeTimeout:   5 * time.Second,
		HealthCheck:    false,
		HealthPrompt:   "Hi",
		MaxConcurrency: 8,
	}
}

// EngineReport is the discovery result of one engine
type EngineReport struct {
	Engine  string `json:"engine"`
	Listed  int    `json:"listed"`
	Healthy int    `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Report summarizes one discovery run
type Report struct {
	Engines    []EngineReport `json:"engines"`
	Candidates int            `json:"candidates"`
	// Fallback is set when nothing was discovered and the static table was used
	Fallback bool `json:"fallback"`
	// Kept is set when a refresh left the served table in place
	Kept     bool          `json:"kept"`
	Version  uint64        `json:"version"`
	Duration time.Duration `json:"duration"`
}

// Discoverer builds candidate tables from the models engines currently serve
type Discoverer struct {
	config    Config
	providers *providers.Registry
	target    *candidates.Registry
	logger    *zap.Logger

	refreshMu sync.Mutex
}

// NewDiscoverer creates a discoverer that refreshes target
func NewDiscoverer(config Config, provs *providers.Registry, target *candidates.Registry, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if strings.TrimSpace(config.HealthPrompt) == "" {
		config.HealthPrompt = DefaultConfig().HealthPrompt
	}
	return &Discoverer{
		config:    config,
		providers: provs,
		target:    target,
		logger:    logger,
	}
}

// Discover lists models of every registered engine concurrently and places
// them into tiers. When nothing is found the static table is returned and
// the report is marked as a fallback. Engine failures never fail the run.
func (d *Discoverer) Discover(ctx context.Context) (*candidates.Table, Report) {
	start := time.Now()
	engines := d.providers.Engines()

	var (
		mu      sync.Mutex
		live    = make(map[string][]string, len(engines))
		reports = make(map[string]*EngineReport, len(engines))
	)
	for _, engine := range engines {
		reports[engine] = &EngineReport{Engine: engine}
	}

	g := new(errgroup.Group)
	g.SetLimit(d.config.MaxConcurrency)
	for _, engine := range engines {
		g.Go(func() error {
			models, err := d.listModels(ctx, engine)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				reports[engine].Error = err.Error()
				d.logger.Warn("model listing failed", zap.String("engine", engine), zap.Error(err))
				return nil
			}
			reports[engine].Listed = len(models)
			live[engine] = models
			return nil
		})
	}
	_ = g.Wait()

	if d.config.HealthCheck {
		live = d.probeHealth(ctx, live)
	}

	table := BuildTable(live)
	for _, engine := range table.Engines() {
		if r, ok := reports[engine]; ok {
			r.Healthy = countEngine(table, engine)
		}
	}

	report := Report{Candidates: table.Len()}
	for _, engine := range engines {
		report.Engines = append(report.Engines, *reports[engine])
	}

	if table.Len() == 0 {
		table = candidates.StaticTable()
		report.Fallback = true
		report.Candidates = table.Len()
	}
	report.Duration = time.Since(start)

	d.logger.Info("discovery completed",
		zap.Int("engines", len(engines)),
		zap.Int("candidates", report.Candidates),
		zap.Bool("fallback", report.Fallback),
		zap.Duration("duration", report.Duration),
	)
	return table, report
}

// Refresh runs discovery and swaps the result into the target registry. A
// fallback result only replaces an empty registry; a populated one is kept.
// Concurrent refreshes are serialized.
func (d *Discoverer) Refresh(ctx context.Context) (Report, error) {
	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	table, report := d.Discover(ctx)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	if report.Fallback && d.target.Snapshot().Len() > 0 {
		report.Kept = true
		report.Version = d.target.Version()
		d.logger.Warn("discovery found no models, keeping current candidates",
			zap.Int("current", d.target.Snapshot().Len()))
		return report, nil
	}

	report.Version = d.target.Replace(table)
	d.logger.Info("candidate table replaced",
		zap.Uint64("version", report.Version),
		zap.Int("candidates", table.Len()),
	)
	return report, nil
}

func (d *Discoverer) listModels(ctx context.Context, engine string) ([]string, error) {
	p, err := d.providers.Get(engine)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, d.config.ProbeTimeout)
	defer cancel()
	return p.ListModels(pctx)
}

// probeHealth keeps only the placed models that answer the health prompt.
// Models without a placement are not probed since they would be dropped anyway.
func (d *Discoverer) probeHealth(ctx context.Context, live map[string][]string) map[string][]string {
	type probe struct {
		engine string
		model  string
	}
	var probes []probe
	for engine, models := range live {
		if engine == candidates.EngineGemini && len(models) > maxGeminiModels {
			models = models[:maxGeminiModels]
		}
		for _, model := range models {
			if len(Place(engine, model)) > 0 {
				probes = append(probes, probe{engine: engine, model: model})
			}
		}
	}

	var (
		mu      sync.Mutex
		healthy = make(map[probe]struct{}, len(probes))
	)
	g := new(errgroup.Group)
	g.SetLimit(d.config.MaxConcurrency)
	for _, pr := range probes {
		g.Go(func() error {
			p, err := d.providers.Get(pr.engine)
			if err != nil {
				return nil
			}
			pctx, cancel := context.WithTimeout(ctx, d.config.ProbeTimeout)
			defer cancel()

			c, err := p.Invoke(pctx, pr.model, d.config.HealthPrompt)
			if err != nil || c == nil || strings.TrimSpace(c.Text) == "" {
				d.logger.Debug("health probe failed",
					zap.String("engine", pr.engine),
					zap.String("model", pr.model),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			healthy[pr] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string][]string, len(live))
	for engine, models := range live {
		for _, model := range models {
			if _, ok := healthy[probe{engine: engine, model: model}]; ok {
				out[engine] = append(out[engine], model)
			}
		}
	}
	return out
}

func countEngine(t *candidates.Table, engine string) int {
	seen := make(map[string]struct{})
	for _, tier := range candidates.AllTiers {
		for _, c := range t.CandidatesFor(tier) {
			if c.Engine == engine {
				seen[c.ModelID] = struct{}{}
			}
		}
	}
	return len(seen)
}
