// Command scanner runs one user's scan synchronously, driving the same
// orchestrator (C11) the worker's asynq task handler uses, without going
// through the scan queue. Useful for local runs and for operators kicking
// off an out-of-band rescan.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rebase-inc/knowledge-scanner/internal/adapter/blobstore"
	"github.com/rebase-inc/knowledge-scanner/internal/adapter/cache"
	"github.com/rebase-inc/knowledge-scanner/internal/adapter/clonestore"
	"github.com/rebase-inc/knowledge-scanner/internal/adapter/githubapi"
	"github.com/rebase-inc/knowledge-scanner/internal/adapter/observability"
	"github.com/rebase-inc/knowledge-scanner/internal/adapter/population"
	"github.com/rebase-inc/knowledge-scanner/internal/adapter/repo/postgres"
	"github.com/rebase-inc/knowledge-scanner/internal/codeparser"
	"github.com/rebase-inc/knowledge-scanner/internal/codeparser/javascript"
	"github.com/rebase-inc/knowledge-scanner/internal/codeparser/python"
	"github.com/rebase-inc/knowledge-scanner/internal/config"
	"github.com/rebase-inc/knowledge-scanner/internal/crawler"
	"github.com/rebase-inc/knowledge-scanner/internal/domain"
	"github.com/rebase-inc/knowledge-scanner/internal/scanner"
	"github.com/rebase-inc/knowledge-scanner/internal/tcp"
)

func main() {
	username := flag.String("username", "", "code-hosting login to scan")
	forceOverwrite := flag.Bool("force", false, "rescan even if knowledge is already published for the user (any version)")
	flag.Parse()

	if *username == "" {
		fmt.Fprintln(os.Stderr, "usage: scanner -username=<login> [-force]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var dedupCache cache.Store
	if cfg.RedisURL != "" {
		if rs, err := cache.NewRedisStore(cfg.RedisURL, cfg.CacheKeyPrefix+"githubapi:"); err == nil {
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
	dispatcher.Register(python.New(tcpClients(cfg.PythonBackendAddrs, cfg), tcpClient(cfg.RelevanceOracleAddr, cfg)))
	dispatcher.Register(javascript.New(tcpClients(cfg.JavaScriptBackendAddrs, cfg), tcpClient(cfg.RelevanceOracleAddr, cfg)))

	blobs := blobstore.New()
	popStore := population.New(blobs, postgres.NewRelationalRepo(pool))

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

	jobID, err := jobs.Create(ctx, domain.ScanJob{
		Username:       *username,
		Status:         domain.ScanQueued,
		ForceOverwrite: *forceOverwrite,
	})
	if err != nil {
		slog.Error("create scan job failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := orchestrator.Run(ctx, jobID, *username, *forceOverwrite); err != nil {
		slog.Error("scan failed", slog.String("job_id", jobID), slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("scan completed", slog.String("job_id", jobID), slog.String("username", *username))
}

func tcpClients(addrs []string, cfg config.Config) []*tcp.Client {
	clients := make([]*tcp.Client, 0, len(addrs))
	for _, addr := range addrs {
		clients = append(clients, tcpClient(addr, cfg))
	}
	return clients
}

func tcpClient(addr string, cfg config.Config) *tcp.Client {
	host, port := splitAddr(addr)
	return tcp.NewClient(tcp.ClientConfig{
		Host:        host,
		Port:        port,
		ReadTimeout: cfg.ParserReadTimeout,
		BufferSize:  cfg.ParserBufferSize,
	})
}

func splitAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
