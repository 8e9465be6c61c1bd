// Command worker consumes queued scan jobs and runs them to completion: it
// wires the code-hosting client (C4), the cloned-repository manager (C5),
// the commit crawler (C6), the parser dispatcher with its language backends
// (C7/C8), the knowledge model (C9), the population store (C10), and the
// scanner orchestrator (C11) behind an asynq task handler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rebase-inc/knowledge-scanner/internal/adapter/blobstore"
	"github.com/rebase-inc/knowledge-scanner/internal/adapter/cache"
	"github.com/rebase-inc/knowledge-scanner/internal/adapter/clonestore"
	"github.com/rebase-inc/knowledge-scanner/internal/adapter/githubapi"
	"github.com/rebase-inc/knowledge-scanner/internal/adapter/observability"
	"github.com/rebase-inc/knowledge-scanner/internal/adapter/population"
	asynqadp "github.com/rebase-inc/knowledge-scanner/internal/adapter/queue/asynq"
	"github.com/rebase-inc/knowledge-scanner/internal/adapter/repo/postgres"
	"github.com/rebase-inc/knowledge-scanner/internal/codeparser"
	"github.com/rebase-inc/knowledge-scanner/internal/codeparser/javascript"
	"github.com/rebase-inc/knowledge-scanner/internal/codeparser/python"
	"github.com/rebase-inc/knowledge-scanner/internal/config"
	"github.com/rebase-inc/knowledge-scanner/internal/crawler"
	"github.com/rebase-inc/knowledge-scanner/internal/scanner"
	"github.com/rebase-inc/knowledge-scanner/internal/tcp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		panic(err)
	}
	defer pool.Close()

	var dedupCache cache.Store
	if cfg.RedisURL != "" {
		rs, err := cache.NewRedisStore(cfg.RedisURL, cfg.CacheKeyPrefix+"githubapi:")
		if err != nil {
			slog.Warn("redis dedup cache unavailable; falling back to in-process cache", slog.Any("error", err))
		} else {
			dedupCache = rs
			defer rs.Close()
		}
	}

	api := githubapi.New(githubapi.Config{
		BaseURL:    cfg.GithubAPIBaseURL,
		Token:      cfg.GithubAccessToken,
		MinDelay:   cfg.APIMinDelay,
		MaxRetries: cfg.APIMaxRetries,
		Cache:      dedupCache,
		CacheTTL:   time.Hour,
	}, http.DefaultClient)

	clones := clonestore.NewManager(clonestore.Config{
		TmpfsDir:         cfg.TmpfsDir,
		FSDir:            cfg.FSDir,
		TmpfsCutoffBytes: cfg.TmpfsCutoffBytes,
	})

	crawl := crawler.New(api, clones, logger)

	dispatcher := codeparser.NewDispatcher()
	dispatcher.Register(python.New(backendClients(cfg.PythonBackendAddrs, cfg), oracleClient(cfg)))
	dispatcher.Register(javascript.New(backendClients(cfg.JavaScriptBackendAddrs, cfg), oracleClient(cfg)))

	blobs := blobstore.New()
	relational := postgres.NewRelationalRepo(pool)
	popStore := population.New(blobs, relational)

	jobs := postgres.NewScanJobRepo(pool)
	progress := postgres.NewScanProgressRepo(pool)

	orchestrator := scanner.New(scanner.Config{
		API:                api,
		Crawler:            crawl,
		Dispatcher:         dispatcher,
		Jobs:               jobs,
		Progress:           progress,
		Population:         popStore,
		KnowledgeVersion:   cfg.OTELServiceName,
		RepetitionPenalty:  cfg.RepetitionPenalty,
		NormalizationDepth: cfg.NormalizationDepth,
		WatchdogInterval:   cfg.WatchdogInterval,
		Logger:             logger,
	})

	worker, err := asynqadp.NewWorker(cfg.RedisURL, cfg.ScanQueueConcurrency, orchestrator)
	if err != nil {
		slog.Error("asynq worker init failed", slog.Any("error", err))
		panic(err)
	}

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("metrics server starting", slog.Int("port", cfg.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", slog.Any("error", err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("scan worker starting", slog.Int("concurrency", cfg.ScanQueueConcurrency))
		errCh <- worker.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			slog.Error("scan worker error", slog.Any("error", err))
		}
	}

	worker.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}

// backendClients builds one tcp.Client per configured backend address, tried
// in order with MRU promotion by the language parser, per spec.md §4.8.
func backendClients(addrs []string, cfg config.Config) []*tcp.Client {
	clients := make([]*tcp.Client, 0, len(addrs))
	for _, addr := range addrs {
		host, port := splitHostPort(addr)
		clients = append(clients, tcp.NewClient(tcp.ClientConfig{
			Host:        host,
			Port:        port,
			ReadTimeout: cfg.ParserReadTimeout,
			BufferSize:  cfg.ParserBufferSize,
		}))
	}
	return clients
}

func oracleClient(cfg config.Config) *tcp.Client {
	host, port := splitHostPort(cfg.RelevanceOracleAddr)
	return tcp.NewClient(tcp.ClientConfig{
		Host:        host,
		Port:        port,
		ReadTimeout: cfg.ParserReadTimeout,
		BufferSize:  cfg.ParserBufferSize,
	})
}

func splitHostPort(addr string) (string, int) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return addr, 0
	}
	port, _ := strconv.Atoi(addr[idx+1:])
	return addr[:idx], port
}
