// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrInternal               = errors.New("internal error")
	ErrTransientUpstream      = errors.New("transient upstream failure")
	ErrRateLimitMaxRetries    = errors.New("rate limited: max retries exceeded")
	ErrUnrecognizedExtension  = errors.New("unrecognized file extension")
	ErrMissingLanguageSupport = errors.New("no parser registered for language")
	ErrUnparsableCode         = errors.New("code could not be parsed by any backend")
	ErrCloneFailure           = errors.New("repository clone failed")
	ErrTaskCancelled          = errors.New("task cancelled")
)

// PrivateSentinel is the reserved dotted-path component that marks a reference as
// belonging to a private, never-admitted symbol. A reference whose first dotted
// component equals PrivateSentinel is silently dropped by Knowledge.AddReference.
const PrivateSentinel = "__private__"

// UnknownSentinel left-pads dotted names shorter than the configured normalization
// depth so every bucket has a stable, comparable key.
const UnknownSentinel = "__unknown__"

// OverallKey is the synthetic child key attached to every strict prefix of a
// normalized dotted name, holding the rollup of its descendants' scores.
const OverallKey = "__overall__"

// Context is a type alias to stdlib context.Context for convenience across layers,
// matching the teacher's convention of exposing context at the domain boundary
// without importing anything heavier than the standard library.
type Context = context.Context

// Reference is a single dated symbol-use attribution. It is immutable once created;
// its Day is a proleptic Gregorian ordinal (see time.Time.AddDate(0,0,n) semantics —
// we store days-since-epoch so activation is a pure function of "today - Day").
type Reference struct {
	Day int
}

// NewReference builds a Reference from a calendar date, truncating to its ordinal day.
func NewReference(date time.Time) Reference {
	return Reference{Day: Ordinal(date)}
}

// Ordinal returns the proleptic Gregorian ordinal day number for t, matching
// Python's datetime.date.toordinal() used by the original knowledge model.
func Ordinal(t time.Time) int {
	y, m, d := t.UTC().Date()
	days := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
	return int(days) + 719163
}

// WorkItem describes a single code change to analyze: a before/after tree-and-path
// pair. Before is absent for file creation, After is absent for deletion; both are
// present for modification. One-sided work items (all-addition) are also produced
// for a repository's initial commit.
type WorkItem struct {
	RepoFullName string
	CommitSHA    string
	AuthoredAt   time.Time
	PathBefore   *string
	PathAfter    *string
	BlobBefore   []byte
	BlobAfter    []byte

	// TreePaths lists every file path present in the commit's tree, shared
	// across every WorkItem produced for that commit. Language parsers use
	// it to derive the set of private (in-tree) modules a change could
	// import, per spec.md §4.8.
	TreePaths []string
}

// ParserHealth holds process-wide counters keyed by extension/language, mutated
// only within the dispatcher's single-threaded per-analyze-call section.
type ParserHealth struct {
	Attempted    int
	Unrecognized map[string]int
	Unsupported  map[string]int
	Unparsable   map[string]int
}

// NewParserHealth returns a zero-valued ParserHealth with initialized counter maps.
func NewParserHealth() *ParserHealth {
	return &ParserHealth{
		Unrecognized: map[string]int{},
		Unsupported:  map[string]int{},
		Unparsable:   map[string]int{},
	}
}

// UserKnowledgeRecord is the JSON shape written to the blob store's users/<username> key.
type UserKnowledgeRecord struct {
	UserHash  string             `json:"user_hash,omitempty"`
	Version   string             `json:"version"`
	Knowledge map[string]float64 `json:"knowledge"`
}

// Ranking is a user's position within a population of scores for one dotted name.
type Ranking struct {
	Rank       int
	Population int
	Relevance  int
}

// ScanStatus captures the lifecycle state of an orchestrated scan.
type ScanStatus string

// Scan status values.
const (
	ScanQueued     ScanStatus = "queued"
	ScanMeasuring  ScanStatus = "measuring"
	ScanExecuting  ScanStatus = "executing"
	ScanCompleted  ScanStatus = "completed"
	ScanFailed     ScanStatus = "failed"
	ScanSkipped    ScanStatus = "skipped"
)

// ScanJob is the domain model for one orchestrated scan of a user's repositories.
type ScanJob struct {
	ID             string
	Username       string
	Status         ScanStatus
	Error          string
	ForceOverwrite bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ScanProgress reports count-pass and execute-pass progress for a running scan,
// keyed by the owning ScanJob's ID.
type ScanProgress struct {
	JobID        string
	ReposTotal   int
	ReposDone    int
	CommitsTotal int
	CommitsDone  int
	UpdatedAt    time.Time
}
