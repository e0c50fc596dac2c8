package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-cascade/auth"
	"github.com/upb/llm-cascade/config"
	"github.com/upb/llm-cascade/middleware"
	"github.com/upb/llm-cascade/repositories"
	"github.com/upb/llm-cascade/repositories/postgres"
	"github.com/upb/llm-cascade/services/audit"
	"github.com/upb/llm-cascade/services/candidates"
	"github.com/upb/llm-cascade/services/cascade"
	"github.com/upb/llm-cascade/services/classifier"
	"github.com/upb/llm-cascade/services/discovery"
	"github.com/upb/llm-cascade/services/inference"
	"github.com/upb/llm-cascade/services/providers"
	"github.com/upb/llm-cascade/services/providers/anthropic"
	"github.com/upb/llm-cascade/services/providers/openai"
	"github.com/upb/llm-cascade/services/ranker"
	"github.com/upb/llm-cascade/services/ratelimit"
	"github.com/upb/llm-cascade/services/sanitizer"
)

// Dependencies holds every long-lived component. This is the central wiring
// point; routes and commands only read from it.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory, nil when persistence is disabled
	RepoFactory *postgres.RepositoryFactory
	Repos       *repositories.Repositories

	// Routing core
	Providers      *providers.Registry
	ProviderReport providers.BuildReport
	Candidates     *candidates.Registry
	Classifier     *classifier.Classifier
	Ranker         *ranker.Ranker
	Executor       *cascade.Executor
	Sanitizer      *sanitizer.Sanitizer
	Engine         *inference.Engine

	// Background components, nil when disabled
	Persister  *ranker.Persister
	Audit      *audit.AuditService
	Discoverer *discovery.Discoverer
	Scheduler  *discovery.Scheduler
	Watcher    *discovery.Watcher

	// HTTP middleware
	RateLimiter         *ratelimit.RateLimitService
	AuthMiddleware      *middleware.AuthMiddleware
	RateLimitMiddleware *middleware.RateLimitMiddleware

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type options struct {
	providers *providers.Registry
	table     *candidates.Table
}

// Option customizes NewDependencies
type Option func(*options)

// WithProviders uses reg instead of building providers from configuration
func WithProviders(reg *providers.Registry) Option {
	return func(o *options) { o.providers = reg }
}

// WithCandidates seeds the registry with table instead of the static table
// or the candidates file
func WithCandidates(table *candidates.Table) Option {
	return func(o *options) { o.table = table }
}

// NewDependencies creates and wires up all application dependencies.
// Nothing runs in the background until Start is called.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize PostgreSQL
	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initProviders(cfg, o.providers); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if err := deps.initRouting(cfg, o.table); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize routing: %w", err)
	}

	if err := deps.initDiscovery(cfg); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize discovery: %w", err)
	}

	if err := deps.initHTTP(cfg); err != nil {
		if deps.Watcher != nil {
			_ = deps.Watcher.Stop()
		}
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.Strings("engines", deps.Providers.Engines()),
		zap.Int("candidates", deps.Candidates.Snapshot().Len()),
		zap.Bool("persistence", deps.RepoFactory != nil),
		zap.Bool("auth", deps.AuthMiddleware.Enabled()),
	)
	return deps, nil
}

// initDatabase opens PostgreSQL and creates the schema when persistence is configured
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if !cfg.Database.Enabled() {
		d.Logger.Info("persistence disabled, ranker state and routing logs stay in memory")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()
	d.Repos = factory.NewRepositories()
	return nil
}

// initProviders builds one provider per engine with an API key
func (d *Dependencies) initProviders(cfg *config.Config, injected *providers.Registry) error {
	if injected != nil {
		d.Providers = injected
		d.ProviderReport = providers.BuildReport{Registered: injected.Engines()}
		return nil
	}

	builder := providers.NewRegistryBuilder(d.Logger)
	for _, engine := range slices.Sorted(maps.Keys(openai.DefaultBaseURLs)) {
		builder.Register(engine, openai.Factory)
	}
	builder.Register("Claude", anthropic.Factory)

	configs := make(map[string]providers.ProviderConfig)
	for engine, ec := range cfg.Providers.All() {
		configs[engine] = providers.ProviderConfig{
			APIKey:      ec.APIKey,
			BaseURL:     ec.BaseURL,
			Timeout:     ec.Timeout,
			MaxTokens:   ec.MaxTokens,
			Temperature: float32(ec.Temperature),
		}
	}

	reg, report := builder.Build(configs)
	for _, absent := range report.Absent {
		d.Logger.Info("engine not registered",
			zap.String("engine", absent.Engine),
			zap.String("reason", absent.Reason))
	}
	if reg.Len() == 0 {
		d.Logger.Warn("no inference engines configured")
	}

	d.Providers = reg
	d.ProviderReport = report
	return nil
}

// initRouting wires classifier, candidates, ranker, cascade, sanitizer and the engine
func (d *Dependencies) initRouting(cfg *config.Config, seed *candidates.Table) error {
	table := seed
	if table == nil {
		table = candidates.StaticTable()
		if cfg.Discovery.CandidatesFile != "" {
			loaded, err := candidates.LoadTableFile(cfg.Discovery.CandidatesFile)
			if err != nil {
				return fmt.Errorf("failed to load candidates file: %w", err)
			}
			if loaded.Len() == 0 {
				return fmt.Errorf("candidates file %s: %w", cfg.Discovery.CandidatesFile, discovery.ErrEmptyTable)
			}
			table = loaded
		}
	}
	d.Candidates = candidates.NewRegistry(table)

	policy := ranker.Policy{
		SuccessWeight:    cfg.Routing.SuccessWeight,
		LatencyWeight:    cfg.Routing.LatencyWeight,
		QualityWeight:    cfg.Routing.QualityWeight,
		ReferenceLatency: cfg.Routing.ReferenceLatency,
		FailureAlpha:     cfg.Routing.FailureAlpha,
		SuccessAlpha:     cfg.Routing.SuccessAlpha,
		LatencyAlpha:     cfg.Routing.LatencyAlpha,
		NeutralScore:     cfg.Routing.NeutralScore,
	}
	if err := policy.Validate(); err != nil {
		return err
	}
	d.Ranker = ranker.NewRanker(policy, d.Logger.Named("ranker"))

	d.Executor = cascade.NewExecutor(cascade.Config{
		AttemptTimeout: cfg.Routing.AttemptTimeout,
		SuccessQuality: ranker.SuccessQuality,
	}, d.Ranker, d.Logger.Named("cascade"))

	sanitizerCfg := sanitizer.DefaultConfig()
	if cfg.Sanitizer.CanonicalIdentity != "" {
		sanitizerCfg.CanonicalIdentity = cfg.Sanitizer.CanonicalIdentity
	}
	snt, err := sanitizer.New(sanitizerCfg, d.Logger.Named("sanitizer"))
	if err != nil {
		return err
	}
	d.Sanitizer = snt
	d.Classifier = classifier.NewDefault()

	var auditor inference.RoutingLogger
	if d.Repos != nil {
		d.Persister = ranker.NewPersister(d.Ranker, d.Repos.Performance, cfg.Routing.FlushInterval, d.Logger.Named("persister"))
		d.Audit = audit.NewAuditService(d.Repos.RoutingLogs, d.Logger.Named("audit"), audit.Config{
			BufferSize:  cfg.Audit.BufferSize,
			WorkerCount: cfg.Audit.WorkerCount,
			BatchSize:   cfg.Audit.BatchSize,
		})
		auditor = d.Audit
	}

	d.Engine = inference.NewEngine(
		inference.Config{SystemInstruction: cfg.Routing.SystemInstruction},
		d.Classifier,
		d.Candidates,
		d.Providers,
		d.Ranker,
		d.Executor,
		d.Sanitizer,
		auditor,
		d.Logger.Named("engine"),
	)
	return nil
}

// initDiscovery creates the discoverer, its schedule and the file watcher
func (d *Dependencies) initDiscovery(cfg *config.Config) error {
	if cfg.Discovery.Watch {
		w, err := discovery.NewWatcher(cfg.Discovery.CandidatesFile, d.Candidates, 0, d.Logger.Named("watcher"))
		if err != nil {
			return fmt.Errorf("failed to watch candidates file: %w", err)
		}
		d.Watcher = w
	}

	// A hand-maintained candidates file is authoritative; discovery would overwrite it.
	if !cfg.Discovery.Enabled || cfg.Discovery.CandidatesFile != "" {
		return nil
	}

	d.Discoverer = discovery.NewDiscoverer(discovery.Config{
		ProbeTimeout: cfg.Discovery.ProbeTimeout,
		HealthCheck:  cfg.Discovery.HealthCheck,
	}, d.Providers, d.Candidates, d.Logger.Named("discovery"))

	scheduler, err := discovery.NewScheduler(cfg.Discovery.Schedule, d.Discoverer, cfg.Discovery.RefreshTimeout, d.Logger.Named("discovery"))
	if err != nil {
		return err
	}
	d.Scheduler = scheduler
	return nil
}

// initHTTP builds the auth and rate limit middleware
func (d *Dependencies) initHTTP(cfg *config.Config) error {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("AUTH_JWT_SECRET not set, API authentication disabled")
		d.AuthMiddleware = middleware.NewAuthMiddleware(nil, d.Logger)
	} else {
		validator, err := auth.NewHMACValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if err != nil {
			return err
		}
		d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	}

	d.RateLimiter = ratelimit.NewRateLimitService(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, d.Logger.Named("ratelimit"))
	d.RateLimitMiddleware = middleware.NewRateLimitMiddleware(d.RateLimiter, d.Logger)
	return nil
}

// Start restores ranker state and launches every background component.
// Call Close to stop them.
func (d *Dependencies) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel

	if d.Persister != nil {
		if err := d.Persister.Restore(ctx); err != nil {
			d.Logger.Warn("starting with empty performance records", zap.Error(err))
		}
		d.goBackground(func() { d.Persister.Run(bgCtx) })
	}

	if d.Audit != nil {
		if err := d.Audit.Start(); err != nil {
			return fmt.Errorf("failed to start audit service: %w", err)
		}
	}

	if d.Watcher != nil {
		d.Watcher.OnReload(func(version uint64, err error) {
			if err != nil {
				d.Logger.Error("candidates reload failed, keeping current table", zap.Error(err))
			}
		})
		d.Watcher.Start()
	}

	if d.Scheduler != nil {
		if d.Config.Discovery.RunAtStartup {
			d.goBackground(func() {
				runCtx, cancel := context.WithTimeout(bgCtx, d.Config.Discovery.RefreshTimeout)
				defer cancel()
				_, _ = d.Scheduler.RunNow(runCtx)
			})
		}
		d.Scheduler.Start()
	}

	if d.RateLimiter.Enabled() && d.Config.RateLimit.CleanupInterval > 0 {
		d.goBackground(func() { d.RateLimiter.StartCleanupWorker(bgCtx, d.Config.RateLimit.CleanupInterval) })
	}

	d.Logger.Info("background components started")
	return nil
}

func (d *Dependencies) goBackground(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Scheduler != nil {
		d.Scheduler.Stop(ctx)
	}
	if d.Watcher != nil {
		if err := d.Watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop watcher: %w", err))
		}
	}

	// Cancelling makes the persister write its final flush
	if d.cancel != nil {
		d.cancel()
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("background components did not stop: %w", ctx.Err()))
	}

	if d.Audit != nil {
		if err := d.Audit.Stop(stopTimeout(ctx)); err != nil && !errors.Is(err, audit.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	_ = d.Logger.Sync()

	return errors.Join(errs...)
}

func (d *Dependencies) closeDatabase() {
	if d.RepoFactory != nil {
		_ = d.RepoFactory.Close()
	}
}

func stopTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 {
			return left
		}
	}
	return 5 * time.Second
}
