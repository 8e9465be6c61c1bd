// Package clonestore implements the cloned-repository manager (C5): scoped
// acquisition of a local working copy, tiered between a tmpfs directory (for
// small repos) and a filesystem directory (for everything else), with
// guaranteed cleanup on scope exit.
package clonestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	_ "github.com/go-git/go-git/v5/plumbing/transport/file" // register local-filesystem clone support

	"github.com/rebase-inc/knowledge-scanner/internal/adapter/observability"
	"github.com/rebase-inc/knowledge-scanner/internal/domain"
)

// Config configures the tmpfs/fs tiering policy of C5.
type Config struct {
	TmpfsDir         string
	FSDir            string
	TmpfsCutoffBytes int64
}

// ClonedRepo is a scoped holder owning a filesystem path and a local
// repository handle, exclusively for the duration of a scan of one remote
// repo. Close removes the directory unless KeepOnClose was called.
type ClonedRepo struct {
	Path string
	Repo *git.Repository

	keep bool
}

// KeepOnClose opts the clone out of directory removal on Close.
func (c *ClonedRepo) KeepOnClose() { c.keep = true }

// Close releases the clone, removing its directory unless the caller opted
// out. Errors during removal are swallowed per spec.md §4.5's all-paths
// release guarantee; cleanup must never be the reason a scan aborts.
func (c *ClonedRepo) Close() error {
	if c.keep {
		return nil
	}
	_ = os.RemoveAll(c.Path)
	return nil
}

// Manager acquires ClonedRepo instances per spec.md §4.5's policy.
type Manager struct {
	cfg Config
}

// NewManager returns a Manager for cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Clone acquires a working copy of repo: small repositories (by SizeKB vs
// TmpfsCutoffBytes) are cloned under TmpfsDir first, falling back to FSDir on
// failure; everything else clones directly under FSDir. The clone path is
// suffixed with repo's full name, which is sufficient since only one scan
// owns one remote repo at a time (spec.md §4.5 concurrency note).
func (m *Manager) Clone(ctx context.Context, repo domain.RemoteRepo) (*ClonedRepo, error) {
	inMemory := repo.SizeKB*1024 <= m.cfg.TmpfsCutoffBytes

	if inMemory {
		cr, err := m.cloneInto(ctx, m.cfg.TmpfsDir, repo)
		if err == nil {
			observability.RecordCloneTier("tmpfs")
			return cr, nil
		}
		// Fallback to fs tier per spec.md §4.5 step 2.
		cr, fallbackErr := m.cloneInto(ctx, m.cfg.FSDir, repo)
		if fallbackErr != nil {
			return nil, fmt.Errorf("%w: tmpfs clone failed (%v), fs fallback failed: %v", domain.ErrCloneFailure, err, fallbackErr)
		}
		observability.RecordCloneTier("fs")
		return cr, nil
	}

	cr, err := m.cloneInto(ctx, m.cfg.FSDir, repo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCloneFailure, err)
	}
	observability.RecordCloneTier("fs")
	return cr, nil
}

func (m *Manager) cloneInto(ctx context.Context, baseDir string, repo domain.RemoteRepo) (*ClonedRepo, error) {
	dir := filepath.Join(baseDir, sanitizeDirName(repo.FullName))
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, err
	}

	gitRepo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL: repo.CloneURL,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return &ClonedRepo{Path: dir, Repo: gitRepo}, nil
}

func sanitizeDirName(fullName string) string {
	return strings.ReplaceAll(fullName, "/", "__")
}
