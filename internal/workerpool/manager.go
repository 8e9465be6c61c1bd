// Package workerpool implements the worker-pool subprocess manager (C3):
// a bounded pool of workers, each owning at most one on-demand subprocess,
// reached over an IPC rendezvous and torn down after an idle timeout.
package workerpool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Subprocess is a live handle to a spawned worker subprocess, reached over
// whatever rendezvous transport the Launcher used to establish it.
type Subprocess interface {
	// Send forwards payload to the subprocess and returns its one response.
	Send(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
	// Close tears the subprocess down; idempotent, best-effort.
	Close() error
}

// Launcher spawns a new Subprocess on demand. A concrete Launcher (e.g.
// UnixSocketLauncher) owns the IPC rendezvous and serializes concurrent
// launch requests behind an internal lock, per spec.md §4.3.
type Launcher interface {
	Launch(ctx context.Context) (Subprocess, error)
}

type request struct {
	ctx     context.Context
	payload json.RawMessage
	resp    chan response
}

type response struct {
	value json.RawMessage
	err   error
}

// Manager is a pool of up to Workers worker goroutines; cmd/server wraps
// Submit in a tcp.Handler. Submit forwards one decoded JSON request and blocks for the
// matching response, which always arrives on the caller's own channel
// (spec.md §4.3 ordering guarantee: per-submission response order is
// guaranteed; cross-worker ordering is not).
type Manager struct {
	launcher    Launcher
	workers     int
	idleTimeout time.Duration
	logger      *slog.Logger

	requests chan request
	wg       sync.WaitGroup

	cancel context.CancelFunc
}

// NewManager starts `workers` worker goroutines bound to ctx; cancelling ctx
// (or calling the returned Manager's Close) cancels all of them, tearing
// down any live subprocess and dropping buffered requests (which surface as
// handler errors to their callers per spec.md §5).
func NewManager(ctx context.Context, workers int, idleTimeout time.Duration, launcher Launcher, logger *slog.Logger) *Manager {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	runCtx, cancel := context.WithCancel(ctx)
	m := &Manager{
		launcher:    launcher,
		workers:     workers,
		idleTimeout: idleTimeout,
		logger:      logger,
		requests:    make(chan request),
		cancel:      cancel,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.runWorker(runCtx, i)
	}
	return m
}

// Submit sends payload to the next available worker and blocks for its
// response. Ordering across distinct Submit calls is unspecified; this call
// always gets its own response back.
func (m *Manager) Submit(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	req := request{ctx: ctx, payload: payload, resp: make(chan response, 1)}
	select {
	case m.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-req.resp:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close cancels all workers and waits for them to tear down their
// subprocesses and return.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) runWorker(ctx context.Context, id int) {
	defer m.wg.Done()
	var proc Subprocess

	teardown := func() {
		if proc != nil {
			_ = proc.Close()
			proc = nil
		}
	}
	defer teardown()

	for {
		var idleC <-chan time.Time
		var timer *time.Timer
		if proc != nil && m.idleTimeout > 0 {
			timer = time.NewTimer(m.idleTimeout)
			idleC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case req := <-m.requests:
			if timer != nil {
				timer.Stop()
			}
			if proc == nil {
				p, err := m.launcher.Launch(ctx)
				if err != nil {
					req.resp <- response{err: fmt.Errorf("workerpool: launch subprocess: %w", err)}
					continue
				}
				proc = p
			}
			value, err := proc.Send(req.ctx, req.payload)
			if err != nil {
				m.logger.Warn("subprocess send failed, tearing down", slog.Int("worker", id), slog.Any("error", err))
				teardown()
			}
			req.resp <- response{value: value, err: err}

		case <-idleC:
			m.logger.Debug("worker idle timeout, tearing down subprocess", slog.Int("worker", id))
			teardown()
		}
	}
}
