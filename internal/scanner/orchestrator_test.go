package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	_ "github.com/go-git/go-git/v5/plumbing/transport/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebase-inc/knowledge-scanner/internal/adapter/blobstore"
	"github.com/rebase-inc/knowledge-scanner/internal/adapter/clonestore"
	"github.com/rebase-inc/knowledge-scanner/internal/adapter/population"
	"github.com/rebase-inc/knowledge-scanner/internal/codeparser"
	"github.com/rebase-inc/knowledge-scanner/internal/crawler"
	"github.com/rebase-inc/knowledge-scanner/internal/domain"
)

type fakeAPI struct {
	fullName string
	language string
	commits  []domain.RemoteCommit
}

func (f *fakeAPI) ListRepos(ctx domain.Context, username string) ([]domain.RemoteRepo, error) {
	return []domain.RemoteRepo{{FullName: f.fullName, Name: f.fullName, CloneURL: f.fullName, Language: f.language}}, nil
}

func (f *fakeAPI) ListAuthoredCommits(ctx domain.Context, repoFullName, username string) ([]domain.RemoteCommit, error) {
	if repoFullName != f.fullName {
		return nil, nil
	}
	return f.commits, nil
}

func buildOneCommitRepo(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("import os\n"), 0o644))
	_, err = wt.Add("main.py")
	require.NoError(t, err)
	sha, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "t", Email: "t@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir, sha.String()
}

type fakeJobRepo struct {
	mu       sync.Mutex
	statuses []domain.ScanStatus
}

func (f *fakeJobRepo) Create(ctx domain.Context, j domain.ScanJob) (string, error) { return j.ID, nil }
func (f *fakeJobRepo) UpdateStatus(ctx domain.Context, id string, status domain.ScanStatus, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}
func (f *fakeJobRepo) Get(ctx domain.Context, id string) (domain.ScanJob, error) {
	return domain.ScanJob{ID: id}, nil
}

type fakeProgressRepo struct {
	mu   sync.Mutex
	last domain.ScanProgress
}

func (f *fakeProgressRepo) Upsert(ctx domain.Context, p domain.ScanProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = p
	return nil
}
func (f *fakeProgressRepo) Get(ctx domain.Context, jobID string) (domain.ScanProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, nil
}

type fakeRelationalStore struct{}

func (fakeRelationalStore) GithubUserID(ctx domain.Context, login string) (int64, error) { return 1, nil }
func (fakeRelationalStore) AccountUserID(ctx domain.Context, githubUserID int64) (int64, error) {
	return 1, nil
}
func (fakeRelationalStore) ContractorRoleID(ctx domain.Context, userID int64) (int64, error) {
	return 1, nil
}
func (fakeRelationalStore) UpdateSkills(ctx domain.Context, skillSetID int64, skills []byte) error {
	return nil
}

// fakePythonParser gives the dispatcher a parser for the test repo's
// language, so the execution pass analyzes its commit instead of skipping it.
type fakePythonParser struct{}

func (fakePythonParser) Language() string { return "python" }
func (fakePythonParser) Analyze(ctx context.Context, item domain.WorkItem, sink codeparser.Sink) error {
	sink(item.AuthoredAt, 1, "python", "os")
	return nil
}

func newTestOrchestrator(t *testing.T, api domain.CodeHostingAPI, jobs *fakeJobRepo, prog *fakeProgressRepo) *Orchestrator {
	t.Helper()
	clones := clonestore.NewManager(clonestore.Config{
		TmpfsDir:         t.TempDir(),
		FSDir:            t.TempDir(),
		TmpfsCutoffBytes: 1 << 20,
	})
	cr := crawler.New(api, clones, nil)
	disp := codeparser.NewDispatcher()
	disp.Register(fakePythonParser{})
	blobs := blobstore.New()
	pop := population.New(blobs, fakeRelationalStore{})

	return New(Config{
		API:                api,
		Crawler:            cr,
		Dispatcher:         disp,
		Jobs:               jobs,
		Progress:           prog,
		Population:         pop,
		KnowledgeVersion:   "v1",
		RepetitionPenalty:  0.3,
		NormalizationDepth: 3,
		WatchdogInterval:   0,
	})
}

func TestRunSkipsWhenKnowledgeAlreadyPublished(t *testing.T) {
	dir, sha := buildOneCommitRepo(t)
	api := &fakeAPI{
		fullName: dir,
		language: "Python",
		commits:  []domain.RemoteCommit{{SHA: sha, AuthoredAt: time.Now()}},
	}
	jobs := &fakeJobRepo{}
	prog := &fakeProgressRepo{}
	o := newTestOrchestrator(t, api, jobs, prog)

	require.NoError(t, o.population.PublishKnowledge(context.Background(), "alice", population.UserHash("alice"), "v1", nil))

	err := o.Run(context.Background(), "job-1", "alice", false)
	require.NoError(t, err)
	assert.Contains(t, jobs.statuses, domain.ScanSkipped)
	assert.NotContains(t, jobs.statuses, domain.ScanCompleted)
}

func TestRunCompletesMeasurementAndExecutionPasses(t *testing.T) {
	dir, sha := buildOneCommitRepo(t)
	api := &fakeAPI{
		fullName: dir,
		language: "Python",
		commits:  []domain.RemoteCommit{{SHA: sha, AuthoredAt: time.Now()}},
	}
	jobs := &fakeJobRepo{}
	prog := &fakeProgressRepo{}
	o := newTestOrchestrator(t, api, jobs, prog)

	err := o.Run(context.Background(), "job-2", "bob", false)
	require.NoError(t, err)

	assert.Equal(t, []domain.ScanStatus{domain.ScanMeasuring, domain.ScanExecuting, domain.ScanCompleted}, jobs.statuses)
	assert.Equal(t, 1, prog.last.ReposTotal)
	assert.Equal(t, 1, prog.last.CommitsTotal)
	assert.Equal(t, 1, prog.last.CommitsDone)

	exists, err := o.population.UserKnowledgeExists(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRunSkipsUnsupportedLanguageRepoDuringExecution(t *testing.T) {
	dir, sha := buildOneCommitRepo(t)
	api := &fakeAPI{
		fullName: dir,
		language: "Rust",
		commits:  []domain.RemoteCommit{{SHA: sha, AuthoredAt: time.Now()}},
	}
	jobs := &fakeJobRepo{}
	prog := &fakeProgressRepo{}
	o := newTestOrchestrator(t, api, jobs, prog)

	err := o.Run(context.Background(), "job-3", "carol", false)
	require.NoError(t, err)

	assert.Equal(t, domain.ScanCompleted, jobs.statuses[len(jobs.statuses)-1])
	assert.Equal(t, 1, prog.last.CommitsTotal, "measurement pass always counts commits regardless of language support")
}

func TestWatchdogFiresWhenKeepaliveStalls(t *testing.T) {
	fired := make(chan struct{}, 1)
	w := newWatchdog(10*time.Millisecond, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	defer w.Stop()

	select {
	case <-fired:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("watchdog never fired")
	}
}

func TestWatchdogKeepaliveDefersFire(t *testing.T) {
	fired := make(chan struct{}, 1)
	w := newWatchdog(80*time.Millisecond, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	defer w.Stop()

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		w.Keepalive()
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-fired:
		t.Fatal("watchdog fired despite regular keepalive calls")
	default:
	}
}
