package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/dealsync-go/internal/config"
	"github.com/kapu/dealsync-go/internal/constants"
	"github.com/kapu/dealsync-go/internal/ingest"
	"github.com/kapu/dealsync-go/internal/retry"
	"github.com/kapu/dealsync-go/internal/rewrite"
	"github.com/kapu/dealsync-go/internal/scheduler"
	"github.com/kapu/dealsync-go/internal/scraper"
	"github.com/kapu/dealsync-go/internal/service/cache"
	"github.com/kapu/dealsync-go/internal/service/database"
	"github.com/kapu/dealsync-go/internal/store/postgres"
	"github.com/kapu/dealsync-go/internal/util"
)

// Container bundles the assembled services of one process.
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	Postgres *database.PostgresService
	Store    *postgres.Store
	Cache    *cache.CacheService
	Syncer   *ingest.Syncer

	closers []func()
}

// Close releases everything Build opened, in reverse order.
func (c *Container) Close() {
	if c == nil {
		return
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// NewScheduler returns a scheduler running the container's syncer. The Redis
// cycle lock is used when Redis is configured.
func (c *Container) NewScheduler(opts ingest.CycleOptions) *scheduler.Scheduler {
	var locker scheduler.Locker
	if c.Cache != nil {
		locker = c.Cache
	}
	return scheduler.New(c.Syncer, locker, c.Config.Sync.Interval, opts, c.Logger)
}

// Connect opens storage (and Redis when enabled) and applies the schema. It
// is the part of Build the diagnostics command needs.
func Connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (container *Container, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	c := &Container{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	postgresSvc, err := database.NewPostgresService(ctx, database.PostgresConfig{URL: cfg.Postgres.URL}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres service: %w", err)
	}
	c.closers = append(c.closers, func() {
		_ = postgresSvc.Close()
	})
	if err := postgresSvc.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	c.Postgres = postgresSvc
	c.Store = postgres.New(postgresSvc.GetDB(), logger)

	if cfg.Redis.Enabled {
		cacheSvc, err := cache.NewCacheService(ctx, cache.CacheConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache service: %w", err)
		}
		c.closers = append(c.closers, func() {
			_ = cacheSvc.Close()
		})
		if err := cacheSvc.WaitUntilReady(ctx, constants.RedisConfig.ReadyTimeout); err != nil {
			return nil, fmt.Errorf("redis not ready: %w", err)
		}
		c.Cache = cacheSvc
	}

	return c, nil
}

// Build assembles the whole sync pipeline on top of Connect.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (container *Container, err error) {
	c, err := Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	policy := retry.Policy{
		MaxAttempts: cfg.Sync.RetryAttempts,
		BaseDelay:   cfg.Sync.RetryBaseDelay,
		Classify:    retry.IsRetryable,
		Logger:      logger,
	}

	// Listing fetch
	var session scraper.SessionProvider = scraper.StaticSessionFromConfig(cfg.Session)
	if cfg.Session.CookieFile != "" {
		session = scraper.NewFileSession(cfg.Session.CookieFile, session, logger)
	}
	fetcher := scraper.NewChromeFetcher(scraper.ChromeOptions{
		BaseURL:           cfg.Source.ListingBaseURL,
		Headless:          cfg.Browser.Headless,
		ExecPath:          cfg.Browser.ExecPath,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		MarkerTimeout:     constants.BrowserConfig.MarkerTimeout,
		SettleDelay:       constants.BrowserConfig.SettleDelay,
	}, session, logger)
	c.closers = append(c.closers, func() {
		_ = fetcher.Close()
	})
	parser := scraper.NewParser(scraper.DefaultSelectors(), cfg.Source.ListingBaseURL, logger)

	breaker := util.NewCircuitBreaker("listing",
		constants.CircuitBreakerConfig.FailureThreshold,
		constants.CircuitBreakerConfig.ResetTimeout,
		logger)
	detector := ingest.NewDetector(c.Store, fetcher, parser, breaker, policy, ingest.DetectorConfig{
		StopAfterPages:     cfg.Sync.StopAfterPages,
		FirstRunPageBudget: cfg.Sync.FirstRunPageBudget,
		Concurrency:        cfg.Browser.Concurrency,
	}, logger)

	// Investor enrichment
	var profileCache scraper.ProfileCache
	if c.Cache != nil {
		profileCache = c.Cache
	}
	profiles := scraper.NewProfileScraper(scraper.ProfileScraperConfig{
		BaseURL:   cfg.Source.InvestorBaseURL,
		UserAgent: cfg.Session.UserAgent,
		Headers:   cfg.Session.Headers,
		CacheTTL:  constants.CacheTTL.InvestorProfile,
	}, profileCache, logger)

	var rewriter ingest.DescriptionRewriter
	if cfg.RewriteAvailable() {
		svc, err := newRewriteService(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		rewriter = svc
	}

	resolver := ingest.NewResolver(c.Store, profiles, rewriter, policy, ingest.ResolverConfig{
		Concurrency:     constants.SyncConfig.ProfileConcurrency,
		MaxSlugAttempts: constants.SyncConfig.MaxSlugAttempts,
	}, logger)

	upserter := ingest.NewUpserter(c.Store, policy, ingest.UpserterConfig{
		TxTimeout:  cfg.Sync.TxTimeout,
		DatePolicy: cfg.Sync.DatePolicy,
	}, logger)

	c.Syncer = ingest.NewSyncer(c.Store, detector, resolver, upserter, logger)

	logger.Info("Sync pipeline assembled",
		zap.String("listing", cfg.Source.ListingBaseURL),
		zap.Int("max_pages", cfg.Sync.MaxPages),
		zap.Int("fetch_concurrency", cfg.Browser.Concurrency),
		zap.Bool("redis", c.Cache != nil),
		zap.Bool("rewrite", rewriter != nil),
		zap.String("date_policy", string(cfg.Sync.DatePolicy)),
	)
	return c, nil
}

func newRewriteService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*rewrite.Service, error) {
	providers := make([]rewrite.Provider, 0, 2)
	if cfg.Gemini.APIKey != "" {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		gemini, err := rewrite.NewGeminiProvider(initCtx, cfg.Gemini.APIKey, cfg.Gemini.Model, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini provider: %w", err)
		}
		providers = append(providers, gemini)
	}
	if cfg.OpenAI.APIKey != "" && (cfg.OpenAI.EnableFallback || len(providers) == 0) {
		providers = append(providers, rewrite.NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.Model, logger))
	}
	return rewrite.NewService(logger, providers...), nil
}
