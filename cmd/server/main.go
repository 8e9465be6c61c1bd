// Command server starts the C2 callback TCP server on top of the C3
// subprocess worker pool: every decoded request is handed to a pooled
// subprocess over its IPC rendezvous and the response is framed straight
// back to the caller.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rebase-inc/knowledge-scanner/internal/adapter/cache"
	"github.com/rebase-inc/knowledge-scanner/internal/adapter/observability"
	"github.com/rebase-inc/knowledge-scanner/internal/config"
	"github.com/rebase-inc/knowledge-scanner/internal/tcp"
	"github.com/rebase-inc/knowledge-scanner/internal/workerpool"
)

func main() {
	subprocessCmd := flag.String("subprocess", "", "command line to launch per worker subprocess (space-separated)")
	flag.Parse()

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

	var memoStore cache.Store
	if cfg.RedisURL != "" {
		rs, err := cache.NewRedisStore(cfg.RedisURL, cfg.CacheKeyPrefix+"callback:")
		if err != nil {
			slog.Warn("redis memo store unavailable; falling back to in-process memoization", slog.Any("error", err))
		} else {
			memoStore = rs
			defer rs.Close()
		}
	}

	launcher := &workerpool.UnixSocketLauncher{
		SocketPath: fmt.Sprintf("/tmp/knowledge-scanner-callback-%d.sock", os.Getpid()),
		Command: func(socketPath, authToken string) *exec.Cmd {
			args := flag.Args()
			if *subprocessCmd != "" {
				args = append([]string{*subprocessCmd}, args...)
			}
			if len(args) == 0 {
				args = []string{"true"}
			}
			cmd := exec.Command(args[0], args[1:]...)
			cmd.Env = append(os.Environ(),
				"CALLBACK_SOCKET="+socketPath,
				"CALLBACK_AUTH_TOKEN="+authToken,
			)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			return cmd
		},
		AcceptTimeout: cfg.ParserDialTimeout,
	}

	pool := workerpool.NewManager(ctx, cfg.EffectiveCallbackWorkers(runtime.NumCPU()), cfg.CallbackWorkerIdleSecs, launcher, logger)
	defer pool.Close()

	handler := func(reqCtx context.Context, request json.RawMessage) (any, error) {
		return pool.Submit(reqCtx, request)
	}

	srv := tcp.NewServer(tcp.ServerConfig{
		Address:          cfg.CallbackAddress,
		Port:             cfg.CallbackPort,
		BufferSize:       cfg.ParserBufferSize,
		Memoized:         cfg.CallbackMemoized,
		MemoCacheMaxSize: cfg.CallbackMemoCacheMaxSize,
		MemoStore:        memoStore,
	}, handler, logger)

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
		slog.Info("callback server starting", slog.String("address", cfg.CallbackAddress), slog.Int("port", cfg.CallbackPort))
		errCh <- srv.ListenAndServe(ctx)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			slog.Error("callback server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}
