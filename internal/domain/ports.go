package domain

import "time"

// RemoteRepo describes a repository as reported by the upstream code-hosting API.
// Only the fields the crawler and cloned-repository manager need are modeled here;
// the upstream API itself is an out-of-scope external collaborator (spec §1).
type RemoteRepo struct {
	FullName string
	Name     string
	CloneURL string
	SizeKB   int64
	Fork     bool
	// Language is the upstream API's primary-language guess for the repo,
	// used to skip repos with no registered parser cheaply (spec.md §4.7's
	// supports_any_of). Empty when the upstream reports no language.
	Language string
}

// RemoteCommit describes one commit as reported by the upstream code-hosting API.
type RemoteCommit struct {
	SHA        string
	AuthoredAt time.Time
	ParentSHAs []string
}

// CodeHostingAPI is the paginated, rate-limited REST surface the crawler consumes.
// Concrete adapters (internal/adapter/githubapi) implement retry, back-off, and
// request dedup per C4; this port only models the logical operations.
type CodeHostingAPI interface {
	// ListRepos returns the non-fork repositories owned by username.
	ListRepos(ctx Context, username string) ([]RemoteRepo, error)
	// ListAuthoredCommits returns commits in repo authored by username, oldest first.
	ListAuthoredCommits(ctx Context, repoFullName, username string) ([]RemoteCommit, error)
}

// BlobStore is the out-of-scope key/value collaborator backing the population
// store (spec §1, §4.10). Keys are opaque strings; values are opaque bytes.
// A real deployment points this at an object store; spec.md explicitly asks us
// to specify only the interface.
type BlobStore interface {
	// Put writes data under key and returns an opaque version tag (an ETag
	// analogue) used by WaitUntilVisible.
	Put(ctx Context, key string, data []byte) (etag string, err error)
	// Get reads the bytes stored under key.
	Get(ctx Context, key string) ([]byte, error)
	// Delete removes key; a missing key is not an error.
	Delete(ctx Context, key string) error
	// ListByPrefix returns all keys beginning with prefix.
	ListByPrefix(ctx Context, prefix string) ([]string, error)
	// WaitUntilVisible blocks until a read of key returns the version tagged etag.
	WaitUntilVisible(ctx Context, key, etag string) error
}

// RelationalStore is the out-of-scope SQL collaborator mirroring computed
// rankings (spec §1, §6). It models exactly the four queries spec.md §6 names.
type RelationalStore interface {
	// GithubUserID resolves a login to its github_user.id.
	GithubUserID(ctx Context, login string) (int64, error)
	// AccountUserID resolves a github_user.id to its github_account.user_id.
	AccountUserID(ctx Context, githubUserID int64) (int64, error)
	// ContractorRoleID resolves a user_id to its contractor role.id (== skill_set.id).
	ContractorRoleID(ctx Context, userID int64) (int64, error)
	// UpdateSkills overwrites skill_set.skills for skillSetID with the serialized
	// nested-ranking tree.
	UpdateSkills(ctx Context, skillSetID int64, skills []byte) error
}

// ScanJobRepository persists ScanJob records.
type ScanJobRepository interface {
	Create(ctx Context, j ScanJob) (string, error)
	UpdateStatus(ctx Context, id string, status ScanStatus, errMsg *string) error
	Get(ctx Context, id string) (ScanJob, error)
}

// ScanProgressRepository persists ScanProgress records, one per ScanJob.
type ScanProgressRepository interface {
	Upsert(ctx Context, p ScanProgress) error
	Get(ctx Context, jobID string) (ScanProgress, error)
}

// ScanQueue enqueues a scan to run asynchronously (ambient job-queue plumbing;
// spec §1 lists this as out-of-scope-to-design external collaborator whose
// interface we specify).
type ScanQueue interface {
	EnqueueScan(ctx Context, jobID, username string, forceOverwrite bool) error
}
