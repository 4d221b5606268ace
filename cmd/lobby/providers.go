package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"lobby"
	"lobby/drivers/store/memory"
	"lobby/drivers/store/redis"
	"lobby/drivers/store/sqlite"
	"lobby/server"
	"lobby/upstream"
)

// provideStore opens the configured bucket store. Includes cleanup.
func provideStore(cfg lobby.Config, logger *zap.Logger) (lobby.BucketStore, func(), error) {
	var (
		store lobby.BucketStore
		err   error
	)
	switch cfg.Store {
	case lobby.StoreRedis:
		store, err = redis.NewStore(nil, &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			Logger:   logger,
		})
	case lobby.StoreSQLite:
		store, err = sqlite.NewStore(cfg.SQLitePath, logger)
	default:
		store = memory.New()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn("error closing bucket store", zap.Error(err))
		}
	}
	logger.Info("bucket store ready", zap.String("driver", cfg.Store))
	return store, cleanup, nil
}

// provideFetcher returns the upstream GraphQL client, or nil when no
// upstream is configured (the cache is then fed through merges only).
func provideFetcher(cfg lobby.Config, logger *zap.Logger) (lobby.Fetcher, error) {
	if cfg.UpstreamURL == "" {
		logger.Warn("no upstream configured, page fetches will be rejected")
		return nil, nil
	}
	httpClient := &http.Client{Timeout: cfg.FetchTimeout}
	var tokens upstream.TokenSource = upstream.StaticToken(cfg.UpstreamToken)
	if cfg.RefreshURL != "" {
		tokens = upstream.NewRefreshingToken(cfg.RefreshURL, cfg.UpstreamToken, httpClient)
	}
	client, err := upstream.NewClient(cfg.UpstreamURL, upstream.Options{
		HTTPClient: httpClient,
		Tokens:     tokens,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func provideMetrics(reg *prometheus.Registry) *lobby.Metrics {
	return lobby.NewMetrics(reg)
}

func providePageCache(store lobby.BucketStore, fetcher lobby.Fetcher, metrics *lobby.Metrics, cfg lobby.Config, logger *zap.Logger) (*lobby.PageCache[json.RawMessage], error) {
	return lobby.New[json.RawMessage](store, fetcher,
		lobby.WithLogger(logger),
		lobby.WithMetrics(metrics),
		lobby.WithFetchTimeout(cfg.FetchTimeout))
}

func provideServer(cache *lobby.PageCache[json.RawMessage], reg *prometheus.Registry, cfg lobby.Config, logger *zap.Logger) *server.Server {
	return server.New(cache, server.Options{
		Addr:     cfg.ListenAddr,
		Gatherer: reg,
		Logger:   logger,
	})
}
