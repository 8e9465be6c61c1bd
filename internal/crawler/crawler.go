// Package crawler implements the commit crawler (C6): it walks a user's
// repositories, clones each into tiered storage, iterates authored commits,
// and emits WorkItems classified as initial / regular / merge.
package crawler

import (
	"fmt"
	"log/slog"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/rebase-inc/knowledge-scanner/internal/adapter/clonestore"
	"github.com/rebase-inc/knowledge-scanner/internal/adapter/observability"
	"github.com/rebase-inc/knowledge-scanner/internal/domain"
)

// CommitCallback receives one authored commit's classified work items.
// remote-only invocations (the measurement pass) pass a single zero-value
// WorkItem carrying only RepoFullName/CommitSHA/AuthoredAt, since no clone
// exists yet to classify a diff from.
type CommitCallback func(items []domain.WorkItem) error

// SkipPredicate decides whether a repository should be skipped entirely,
// e.g. because none of its languages have a registered parser.
type SkipPredicate func(domain.RemoteRepo) bool

// Crawler implements spec.md §4.6.
type Crawler struct {
	api    domain.CodeHostingAPI
	clones *clonestore.Manager
	logger *slog.Logger
}

// New returns a Crawler backed by api (C4) and clones (C5).
func New(api domain.CodeHostingAPI, clones *clonestore.Manager, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{api: api, clones: clones, logger: logger}
}

// CrawlRepos iterates all non-fork repositories of username, skipping those
// skipPredicate rejects. A single repo's failure is recovered to a warning
// and does not abort the overall iteration, per spec.md §4.6/§7.
func (c *Crawler) CrawlRepos(ctx domain.Context, username string, cb CommitCallback, skip SkipPredicate, remoteOnly bool) error {
	repos, err := c.api.ListRepos(ctx, username)
	if err != nil {
		return fmt.Errorf("crawler: list repos: %w", err)
	}
	for _, repo := range repos {
		if skip != nil && skip(repo) {
			observability.RecordRepoCrawled("skipped")
			continue
		}
		if err := c.CrawlRepo(ctx, username, repo, cb, remoteOnly); err != nil {
			observability.RecordRepoCrawled("failed")
			c.logger.Warn("crawl repo failed, continuing scan",
				slog.String("repo", repo.FullName), slog.Any("error", err))
			continue
		}
		observability.RecordRepoCrawled("scanned")
	}
	return nil
}

// CrawlRepo crawls one repository's authored commits. If username has no
// authored commits in repo, it returns immediately without cloning.
func (c *Crawler) CrawlRepo(ctx domain.Context, username string, repo domain.RemoteRepo, cb CommitCallback, remoteOnly bool) error {
	commits, err := c.api.ListAuthoredCommits(ctx, repo.FullName, username)
	if err != nil {
		return fmt.Errorf("crawler: list commits for %s: %w", repo.FullName, err)
	}
	if len(commits) == 0 {
		return nil
	}

	if remoteOnly {
		for _, rc := range commits {
			item := domain.WorkItem{RepoFullName: repo.FullName, CommitSHA: rc.SHA, AuthoredAt: rc.AuthoredAt}
			if err := cb([]domain.WorkItem{item}); err != nil {
				return err
			}
		}
		return nil
	}

	cloned, err := c.clones.Clone(ctx, repo)
	if err != nil {
		return fmt.Errorf("crawler: clone %s: %w", repo.FullName, err)
	}
	defer cloned.Close()

	for _, rc := range commits {
		commitObj, err := cloned.Repo.CommitObject(plumbing.NewHash(rc.SHA))
		if err != nil {
			c.logger.Warn("commit object lookup failed", slog.String("repo", repo.FullName), slog.String("sha", rc.SHA), slog.Any("error", err))
			continue
		}
		items, err := ClassifyCommit(repo.FullName, commitObj)
		if err != nil {
			c.logger.Warn("commit classification failed", slog.String("repo", repo.FullName), slog.String("sha", rc.SHA), slog.Any("error", err))
			continue
		}
		if len(items) == 0 {
			continue
		}
		if err := cb(items); err != nil {
			return err
		}
	}
	return nil
}

// CrawlCommit is the single-commit variant of CrawlRepo, per spec.md §4.6.
func (c *Crawler) CrawlCommit(ctx domain.Context, repo domain.RemoteRepo, sha string, cb CommitCallback) error {
	cloned, err := c.clones.Clone(ctx, repo)
	if err != nil {
		return fmt.Errorf("crawler: clone %s: %w", repo.FullName, err)
	}
	defer cloned.Close()

	commitObj, err := cloned.Repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return fmt.Errorf("crawler: commit object lookup %s: %w", sha, err)
	}
	items, err := ClassifyCommit(repo.FullName, commitObj)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return cb(items)
}
