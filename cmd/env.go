package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/partsledger/partsledger/internal/events"
	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/internal/orchestrator"
	"github.com/partsledger/partsledger/internal/risk"
	"github.com/partsledger/partsledger/internal/source"
	"github.com/partsledger/partsledger/internal/store"
	"github.com/partsledger/partsledger/internal/throttle"
	"github.com/partsledger/partsledger/pkg/anthropic"
)

// pipelineEnv bundles the shared runtime dependencies a command needs.
type pipelineEnv struct {
	Store        store.Store
	Redis        *redis.Client
	Emitter      events.Emitter
	Throttle     *throttle.Throttle
	Orchestrator *orchestrator.Orchestrator
	Risk         *risk.Calculator

	pool      *pgxpool.Pool
	closeFunc func()
}

func (e *pipelineEnv) Close() {
	if e.closeFunc != nil {
		e.closeFunc()
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
}

// initStore opens the configured store backend. Postgres is production;
// SQLite serves local development.
func initStore(ctx context.Context) (store.Store, *pgxpool.Pool, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := store.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return store.NewPostgresStore(pool), pool, nil, nil
	case "sqlite":
		st, err := store.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return st, nil, func() { _ = st.Close() }, nil
	default:
		return nil, nil, nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func newRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// initEnv wires the full enrichment pipeline: store, Redis-backed gate
// and events, tier adapters, orchestrator, and risk calculator.
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	st, pool, closeFn, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	rdb := newRedisClient()
	emitter := events.NewRedisEmitter(rdb)
	gate := throttle.NewThrottle(rdb, throttle.SlotKey("global"), cfg.Throttle.MaxConcurrent)

	adapters, enabled := buildAdapters(st, pool)
	pipelineCfg := cfg.Pipeline
	pipelineCfg.EnabledTiers = enabled

	orch, err := orchestrator.New(adapters, gate, st, emitter, pipelineCfg)
	if err != nil {
		if closeFn != nil {
			closeFn()
		}
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}

	return &pipelineEnv{
		Store:        st,
		Redis:        rdb,
		Emitter:      emitter,
		Throttle:     gate,
		Orchestrator: orch,
		Risk:         risk.NewCalculator(st, emitter),
		pool:         pool,
		closeFunc:    closeFn,
	}, nil
}

// buildAdapters constructs every tier whose credentials are present,
// and returns the configured tier order filtered down to those that can
// actually run. A tier enabled in config but missing credentials is
// dropped with a warning rather than failing startup.
func buildAdapters(st store.Store, pool *pgxpool.Pool) ([]source.Adapter, []string) {
	available := map[string]source.Adapter{}

	if pool != nil {
		available[source.TierCatalog] = source.NewCatalogAdapter(pool)
	} else {
		available[source.TierCatalog] = &catalogFromStore{st: st}
	}

	if cfg.DigiKey.ClientID != "" && cfg.DigiKey.ClientSecret != "" {
		var opts []source.DigiKeyOption
		if cfg.DigiKey.RateLimitRPS > 0 {
			opts = append(opts, source.WithDigiKeyRateLimit(cfg.DigiKey.RateLimitRPS))
		}
		available[source.TierDigiKey] = source.NewDigiKeyAdapter(
			cfg.DigiKey.ClientID, cfg.DigiKey.ClientSecret, st, opts...)
	}
	if cfg.Mouser.APIKey != "" {
		var opts []source.MouserOption
		if cfg.Mouser.RateLimitRPS > 0 {
			opts = append(opts, source.WithMouserRateLimit(cfg.Mouser.RateLimitRPS))
		}
		available[source.TierMouser] = source.NewMouserAdapter(cfg.Mouser.APIKey, opts...)
	}
	if cfg.Octopart.Token != "" {
		available[source.TierOctopart] = source.NewOctopartAdapter(cfg.Octopart.Token)
	}
	if cfg.Anthropic.Key != "" {
		available[source.TierAI] = source.NewAIAdapter(
			anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model)
	}
	if cfg.Scrape.ReaderKey != "" {
		available[source.TierScrape] = source.NewScrapeAdapter(
			cfg.Scrape.ReaderKey, cfg.Scrape.TargetTemplate)
	}

	var adapters []source.Adapter
	var enabled []string
	for _, tier := range cfg.Pipeline.EnabledTiers {
		adapter, ok := available[tier]
		if !ok {
			zap.L().Warn("tier enabled but not configured, skipping",
				zap.String("tier", tier))
			continue
		}
		adapters = append(adapters, adapter)
		enabled = append(enabled, tier)
	}
	return adapters, enabled
}

// catalogFromStore serves the catalog tier through the component store,
// used when there is no shared pgx pool to read from directly.
type catalogFromStore struct {
	st store.ComponentStore
}

func (c *catalogFromStore) Name() string { return source.TierCatalog }

func (c *catalogFromStore) Fetch(ctx context.Context, mpn, manufacturer string) (*model.RawSourceResult, error) {
	comp, err := c.st.GetComponent(ctx, mpn, manufacturer)
	if eris.Is(err, store.ErrNotFound) {
		return nil, source.ErrNotFound
	}
	if err != nil {
		return nil, source.NewTransient(source.TierCatalog, err, 0)
	}
	return source.ProjectCanonical(comp), nil
}

// rateRules converts the configured budgets into throttle rules.
func rateRules() map[string]throttle.Rule {
	rules := make(map[string]throttle.Rule, len(cfg.RateLimit))
	for src, rule := range cfg.RateLimit {
		rules[src] = throttle.Rule{Limit: rule.Limit, Window: rule.Window}
	}
	return rules
}
