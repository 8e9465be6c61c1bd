// Package scanner implements the scanner orchestrator (C11): it binds the
// crawler, parser dispatcher, knowledge model, and population store into the
// two-pass scan described in spec.md §4.11.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rebase-inc/knowledge-scanner/internal/adapter/observability"
	"github.com/rebase-inc/knowledge-scanner/internal/adapter/population"
	"github.com/rebase-inc/knowledge-scanner/internal/codeparser"
	"github.com/rebase-inc/knowledge-scanner/internal/crawler"
	"github.com/rebase-inc/knowledge-scanner/internal/domain"
	"github.com/rebase-inc/knowledge-scanner/internal/knowledge"
)

// Orchestrator runs one user's scan end-to-end, per spec.md §4.11.
type Orchestrator struct {
	api        domain.CodeHostingAPI
	crawler    *crawler.Crawler
	dispatcher *codeparser.Dispatcher
	jobs       domain.ScanJobRepository
	progress   domain.ScanProgressRepository
	population *population.Store

	knowledgeVersion   string
	repetitionPenalty  float64
	normalizationDepth int
	watchdogInterval   time.Duration

	logger *slog.Logger
}

// Config collects the collaborators and tunables an Orchestrator needs.
type Config struct {
	API                domain.CodeHostingAPI
	Crawler            *crawler.Crawler
	Dispatcher         *codeparser.Dispatcher
	Jobs               domain.ScanJobRepository
	Progress           domain.ScanProgressRepository
	Population         *population.Store
	KnowledgeVersion   string
	RepetitionPenalty  float64
	NormalizationDepth int
	WatchdogInterval   time.Duration
	Logger             *slog.Logger
}

// New returns an Orchestrator built from cfg.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		api:                cfg.API,
		crawler:            cfg.Crawler,
		dispatcher:         cfg.Dispatcher,
		jobs:               cfg.Jobs,
		progress:           cfg.Progress,
		population:         cfg.Population,
		knowledgeVersion:   cfg.KnowledgeVersion,
		repetitionPenalty:  cfg.RepetitionPenalty,
		normalizationDepth: cfg.NormalizationDepth,
		watchdogInterval:   cfg.WatchdogInterval,
		logger:             logger,
	}
}

// Run scans username's repositories end-to-end and publishes the computed
// knowledge and ranking tree, per spec.md §4.11. When forceOverwrite is false
// and the user already has a published knowledge record, Run marks the job
// skipped without scanning; the version stored in that record is not compared
// with the Orchestrator's knowledge version.
func (o *Orchestrator) Run(ctx context.Context, jobID, username string, forceOverwrite bool) error {
	if !forceOverwrite && o.population != nil {
		exists, err := o.population.UserKnowledgeExists(ctx, username)
		if err != nil {
			return fmt.Errorf("scanner: check existing knowledge: %w", err)
		}
		if exists {
			o.logger.Info("skipping scan: knowledge already published", slog.String("user", username))
			return o.setStatus(ctx, jobID, domain.ScanSkipped, nil)
		}
	}

	observability.StartScan()
	finished := false
	defer func() {
		if !finished {
			observability.FinishScan(string(domain.ScanFailed))
		}
	}()

	if err := o.setStatus(ctx, jobID, domain.ScanMeasuring, nil); err != nil {
		return err
	}

	repos, err := o.api.ListRepos(ctx, username)
	if err != nil {
		failErr := fmt.Errorf("scanner: list repos: %w", err)
		_ = o.setStatus(ctx, jobID, domain.ScanFailed, errPtr(failErr))
		return failErr
	}

	prog := domain.ScanProgress{JobID: jobID, ReposTotal: len(repos)}
	if err := o.saveProgress(ctx, prog); err != nil {
		return err
	}

	if err := o.measurementPass(ctx, username, &prog); err != nil {
		failErr := fmt.Errorf("scanner: measurement pass: %w", err)
		_ = o.setStatus(ctx, jobID, domain.ScanFailed, errPtr(failErr))
		return failErr
	}

	if err := o.setStatus(ctx, jobID, domain.ScanExecuting, nil); err != nil {
		return err
	}

	model := knowledge.New(o.knowledgeVersion)
	watchdog := newWatchdog(o.watchdogInterval, func() {
		observability.RecordWatchdogFired()
		o.logger.Error("scan watchdog fired: no progress callback within interval", slog.String("job_id", jobID))
	})
	defer watchdog.Stop()

	if err := o.executionPass(ctx, username, model, watchdog, &prog); err != nil {
		failErr := fmt.Errorf("scanner: execution pass: %w", err)
		_ = o.setStatus(ctx, jobID, domain.ScanFailed, errPtr(failErr))
		return failErr
	}

	if o.population != nil {
		nk := model.Normalize(o.normalizationDepth, time.Now(), o.repetitionPenalty)
		for _, score := range nk {
			observability.ObserveNormalizedScore(score)
		}
		userHash := population.UserHash(username)
		if err := o.population.PublishKnowledge(ctx, username, userHash, o.knowledgeVersion, nk); err != nil {
			failErr := fmt.Errorf("scanner: publish knowledge: %w", err)
			_ = o.setStatus(ctx, jobID, domain.ScanFailed, errPtr(failErr))
			return failErr
		}
		if err := o.population.PublishRankingTree(ctx, username, nk); err != nil {
			failErr := fmt.Errorf("scanner: publish ranking tree: %w", err)
			_ = o.setStatus(ctx, jobID, domain.ScanFailed, errPtr(failErr))
			return failErr
		}
	}

	finished = true
	observability.FinishScan(string(domain.ScanCompleted))
	return o.setStatus(ctx, jobID, domain.ScanCompleted, nil)
}

// measurementPass counts each repo's authored commits without cloning, per
// spec.md §4.11 step 1, updating CommitsTotal/ReposDone as repos complete.
func (o *Orchestrator) measurementPass(ctx context.Context, username string, prog *domain.ScanProgress) error {
	var lastRepo string
	return o.crawler.CrawlRepos(ctx, username, func(items []domain.WorkItem) error {
		if len(items) == 0 {
			return nil
		}
		if items[0].RepoFullName != lastRepo {
			if lastRepo != "" {
				prog.ReposDone++
			}
			lastRepo = items[0].RepoFullName
		}
		prog.CommitsTotal++
		return o.saveProgress(ctx, *prog)
	}, nil, true)
}

// executionPass clones and analyzes every commit through the dispatcher,
// feeding classified references into model, per spec.md §4.11 step 2. Every
// callback invocation re-arms the watchdog.
func (o *Orchestrator) executionPass(ctx context.Context, username string, model *knowledge.Model, watchdog *watchdog, prog *domain.ScanProgress) error {
	var lastRepo string
	skip := func(repo domain.RemoteRepo) bool {
		if repo.Language == "" || o.dispatcher == nil {
			return false
		}
		return !o.dispatcher.SupportsAnyOf(strings.ToLower(repo.Language))
	}

	return o.crawler.CrawlRepos(ctx, username, func(items []domain.WorkItem) error {
		watchdog.Keepalive()
		if len(items) == 0 {
			return nil
		}
		if items[0].RepoFullName != lastRepo {
			if lastRepo != "" {
				prog.ReposDone++
			}
			lastRepo = items[0].RepoFullName
		}

		sink := func(date time.Time, count int, path ...string) {
			if len(path) > 0 {
				observability.RecordReferenceEmitted(path[0])
			}
			model.AddReference(date, count, path...)
		}
		for _, item := range items {
			if err := o.dispatcher.Dispatch(ctx, item, sink); err != nil {
				o.logger.Warn("dispatch failed, continuing scan",
					slog.String("repo", item.RepoFullName), slog.String("commit", item.CommitSHA), slog.Any("error", err))
			}
		}
		prog.CommitsDone++
		return o.saveProgress(ctx, *prog)
	}, skip, false)
}

func (o *Orchestrator) setStatus(ctx context.Context, jobID string, status domain.ScanStatus, errMsg *string) error {
	if o.jobs == nil {
		return nil
	}
	if err := o.jobs.UpdateStatus(ctx, jobID, status, errMsg); err != nil {
		return fmt.Errorf("scanner: update job status: %w", err)
	}
	return nil
}

func (o *Orchestrator) saveProgress(ctx context.Context, p domain.ScanProgress) error {
	if o.progress == nil {
		return nil
	}
	if err := o.progress.Upsert(ctx, p); err != nil {
		return fmt.Errorf("scanner: save progress: %w", err)
	}
	return nil
}

func errPtr(err error) *string {
	msg := err.Error()
	return &msg
}

// watchdog re-arms a timer on every Keepalive call; if the interval elapses
// without one, onFire runs exactly once, matching spec.md §5's
// keepalive()/alarm() model.
type watchdog struct {
	mu       sync.Mutex
	timer    *time.Timer
	interval time.Duration
	onFire   func()
	stopped  bool
}

func newWatchdog(interval time.Duration, onFire func()) *watchdog {
	w := &watchdog{onFire: onFire, interval: interval}
	if interval <= 0 {
		return w
	}
	w.timer = time.AfterFunc(interval, onFire)
	return w
}

func (w *watchdog) Keepalive() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.timer == nil {
		return
	}
	w.timer.Reset(w.interval)
}

func (w *watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}
