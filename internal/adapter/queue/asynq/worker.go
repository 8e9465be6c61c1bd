package asynqadp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/rebase-inc/knowledge-scanner/internal/scanner"
)

// Worker consumes TaskScanUser tasks from Redis and drives the scanner
// orchestrator to completion for each one.
type Worker struct {
	server       *asynq.Server
	mux          *asynq.ServeMux
	orchestrator *scanner.Orchestrator
}

// NewWorker returns a Worker polling redisURL with the given concurrency,
// running every scan through orchestrator.
func NewWorker(redisURL string, concurrency int, orchestrator *scanner.Orchestrator) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynqadp: parse redis uri: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	srv := asynq.NewServer(opt, asynq.Config{Concurrency: concurrency})
	mux := asynq.NewServeMux()
	w := &Worker{server: srv, mux: mux, orchestrator: orchestrator}

	mux.HandleFunc(TaskScanUser, w.handleScan)
	return w, nil
}

func (w *Worker) handleScan(ctx context.Context, t *asynq.Task) error {
	var p scanPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("asynqadp: decode scan payload: %w", err)
	}
	if err := w.orchestrator.Run(ctx, p.JobID, p.Username, p.ForceOverwrite); err != nil {
		slog.Error("scan failed", slog.String("job_id", p.JobID), slog.String("username", p.Username), slog.Any("error", err))
		return err
	}
	return nil
}

// Start begins processing tasks until the process receives a shutdown signal.
func (w *Worker) Start() error { return w.server.Start(w.mux) }

// Stop gracefully shuts down the worker server.
func (w *Worker) Stop() { w.server.Shutdown() }
