package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/cache"
	"github.com/scourhq/scour/internal/claims"
	"github.com/scourhq/scour/internal/planner"
	"github.com/scourhq/scour/internal/queue/streams"
	"github.com/scourhq/scour/internal/research"
	"github.com/scourhq/scour/internal/schema"
	"github.com/scourhq/scour/internal/server"
	"github.com/scourhq/scour/internal/store"
	"github.com/scourhq/scour/internal/telemetry"
	"github.com/scourhq/scour/internal/trust"
	"github.com/scourhq/scour/tools/browser"
	"github.com/scourhq/scour/tools/classify"
	"github.com/scourhq/scour/tools/search"
)

// loadCatalog reads the extraction catalog from path, or falls back to the
// embedded defaults when no path is given.
func loadCatalog(path string) (*schema.Catalog, error) {
	if path == "" {
		return schema.Default(), nil
	}
	return schema.Load(path)
}

// buildDeps wires every long-lived component from config. The returned
// cleanup closes whatever was opened (archive store, redis client) and is
// safe to defer even when buildDeps itself failed partway.
//
// Search is left nil when no API key is configured: one-shot runs work from
// their seed domains alone, while serve refuses to start without it.
func buildDeps(cfg *config.Config, catalog *schema.Catalog, logger *log.Logger) (server.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (server.Deps, func(), error) {
		cleanup()
		return server.Deps{}, func() {}, err
	}

	trustEngine := trust.NewEngine(logger)
	if len(cfg.Trust.TierOverrides) > 0 {
		overrides := make(map[string]research.Tier, len(cfg.Trust.TierOverrides))
		for host, tier := range cfg.Trust.TierOverrides {
			overrides[host] = research.Tier(tier)
		}
		trustEngine.SetTierOverrides(overrides)
	}

	var classifier planner.Classifier
	if cfg.Classifier.Provider == "openai" {
		c, err := classify.New(cfg.Classifier, logger)
		if err != nil {
			return fail(err)
		}
		classifier = c
	}

	registry := prometheus.NewRegistry()
	deps := server.Deps{
		Trust:    trustEngine,
		Claims:   claims.NewGraph(logger),
		Caches:   cache.NewManager(cacheConfig(cfg.Cache), logger),
		Planner:  planner.New(trustEngine, catalog, classifier, logger),
		Driver:   browser.NewDriver(cfg.Browser, logger),
		Metrics:  telemetry.NewMetrics(registry),
		Registry: registry,
		Logger:   logger,
	}

	if cfg.Search.APIKey != "" {
		provider, err := search.New(cfg.Search, logger)
		if err != nil {
			return fail(err)
		}
		deps.Search = provider
	} else {
		logger.Printf("no search api key configured, runs use seed domains only")
	}

	if cfg.Storage.Postgres.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		st, err := store.New(ctx, cfg.Storage.Postgres.DSN())
		cancel()
		if err != nil {
			return fail(fmt.Errorf("open archive store: %w", err))
		}
		closers = append(closers, func() { _ = st.Close() })
		deps.Store = st
		logger.Printf("archive store connected")
	}

	if cfg.Streams.Enabled {
		if !cfg.Storage.Redis.Enabled() {
			return fail(fmt.Errorf("streams enabled but storage.redis.host is not set"))
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			return fail(fmt.Errorf("redis ping: %w", err))
		}
		closers = append(closers, func() { _ = client.Close() })
		bridge, err := streams.NewBridge(client, streams.BridgeOptions{
			Stream:  cfg.Streams.Stream,
			MaxLen:  cfg.Streams.MaxLen,
			Metrics: streams.NewStreamMetrics(registry),
			Logger:  logger,
		})
		if err != nil {
			return fail(err)
		}
		deps.Bridge = bridge
		logger.Printf("event bridge publishing to %s", bridge.Stream())
	}

	return deps, cleanup, nil
}

func cacheConfig(c config.CacheConfig) cache.Config {
	return cache.Config{
		PageCapacity:       c.PageCapacity,
		PageTTL:            c.PageTTL,
		ExtractionCapacity: c.ExtractionCapacity,
		ExtractionTTL:      c.ExtractionTTL,
		DomainCapacity:     c.DomainCapacity,
		DomainTTL:          c.DomainTTL,
		QueryCapacity:      c.QueryCapacity,
		QueryTTL:           c.QueryTTL,
	}
}
