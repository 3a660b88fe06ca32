// Package main wires together the webrank service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/akerley/webrank/internal/api"
	gcsarchive "github.com/akerley/webrank/internal/archive/gcs"
	memoryarchive "github.com/akerley/webrank/internal/archive/memory"
	memorycache "github.com/akerley/webrank/internal/cache/memory"
	rediscache "github.com/akerley/webrank/internal/cache/redis"
	"github.com/akerley/webrank/internal/clock/system"
	"github.com/akerley/webrank/internal/config"
	"github.com/akerley/webrank/internal/crawl"
	collyfetcher "github.com/akerley/webrank/internal/fetch/colly"
	"github.com/akerley/webrank/internal/frontier"
	"github.com/akerley/webrank/internal/logging"
	"github.com/akerley/webrank/internal/metrics"
	"github.com/akerley/webrank/internal/pagerank"
	"github.com/akerley/webrank/internal/parse"
	"github.com/akerley/webrank/internal/politeness"
	pubsubpublisher "github.com/akerley/webrank/internal/publisher/pubsub"
	"github.com/akerley/webrank/internal/query"
	"github.com/akerley/webrank/internal/search"
	memorystore "github.com/akerley/webrank/internal/storage/memory"
	postgresstore "github.com/akerley/webrank/internal/storage/postgres"
	memoryindex "github.com/akerley/webrank/internal/textindex/memory"
	remoteindex "github.com/akerley/webrank/internal/textindex/remote"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()

	var cache search.Cache
	if cfg.Cache.RedisAddr != "" {
		redisCache, err := rediscache.New(ctx, rediscache.Config{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			logger.Fatal("redis init failed", zap.Error(err))
		}
		defer redisCache.Close()
		cache = redisCache
	} else {
		logger.Info("no redis address configured; using in-process cache")
		cache = memorycache.New()
	}

	var store search.Store
	if cfg.DB.DSN != "" {
		pgStore, err := postgresstore.New(ctx, postgresstore.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		store = pgStore
	} else {
		logger.Info("no postgres dsn configured; using in-process store")
		store = memorystore.New()
	}
	defer store.Close()

	var index search.TextIndex
	if cfg.TextIndex.BaseURL != "" {
		index = remoteindex.New(remoteindex.Config{
			BaseURL: cfg.TextIndex.BaseURL,
			Timeout: time.Duration(cfg.TextIndex.TimeoutSeconds) * time.Second,
		})
	} else {
		logger.Info("no text index url configured; using in-process index")
		index = memoryindex.New()
	}

	var publisher search.Publisher
	if cfg.PubSub.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub init failed", zap.Error(err))
		}
		defer client.Close()
		p := pubsubpublisher.New(client)
		defer p.Close()
		publisher = p
	}

	var archive search.Archive
	if cfg.Archive.Enabled {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("gcs init failed", zap.Error(err))
		}
		defer client.Close()
		archive, err = gcsarchive.New(client, gcsarchive.Config{
			Bucket: cfg.Archive.GCSBucket,
			Prefix: cfg.Archive.Prefix,
		})
		if err != nil {
			logger.Fatal("gcs archive init failed", zap.Error(err))
		}
	} else if cfg.Logging.Development {
		archive = memoryarchive.New()
	}

	gate := politeness.New(cache, clock, politeness.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		MinInterval:   cfg.MinHostInterval(),
		RobotsTTL:     cfg.RobotsTTL(),
		RobotsTimeout: time.Duration(cfg.Politeness.RobotsTimeoutSec) * time.Second,
	}, logger)

	fr := frontier.New(store, gate, logger)
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxRedirects: cfg.Crawler.MaxRedirects,
	})
	parser := parse.New(cfg.Crawler.MaxTextBytes)

	crawler := crawl.New(fr, gate, fetcher, parser, store, index, clock, publisher, archive, crawl.Config{
		Concurrency:         cfg.Crawler.Concurrency,
		BatchSize:           cfg.Crawler.BatchSize,
		SameDomainPriority:  cfg.Ranking.SameDomainPriority,
		CrossDomainPriority: cfg.Ranking.CrossDomainPriority,
		IdleWait:            time.Duration(cfg.Crawler.IdleWaitMs) * time.Millisecond,
		EventTopic:          cfg.PubSub.TopicName,
		ArchiveContentType:  cfg.Archive.ContentType,
	}, logger)

	engine := pagerank.New(store, index, clock, pagerank.Config{
		Damping:       cfg.PageRank.Damping,
		Threshold:     cfg.PageRank.Threshold,
		MaxIterations: cfg.PageRank.MaxIterations,
	}, logger)

	processor := query.New(index, cache, clock, query.Config{
		AuthorityScale:      cfg.Ranking.AuthorityScale,
		RecencyHalfLifeDays: cfg.Ranking.RecencyHalfLifeDays,
		CacheTTL:            cfg.ResultCacheTTL(),
		SnippetLength:       cfg.Ranking.SnippetLength,
	}, logger)

	server := api.NewServer(fr, crawler, engine, processor, store, api.Config{
		MaxPagesDefault: cfg.Crawler.MaxPagesDefault,
	}, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
}
