// Package population implements the population/ranking store (C10): blob
// store key layout, leaderboard ranking, publish, and the nested-ranking
// tree view, per spec.md §4.10.
package population

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rebase-inc/knowledge-scanner/internal/domain"
	"github.com/rebase-inc/knowledge-scanner/internal/knowledge"
)

const (
	usersPrefix       = "users/"
	leaderboardPrefix = "leaderboard/"
)

// Store implements C10 against a BlobStore and a RelationalStore mirror.
type Store struct {
	blobs domain.BlobStore
	repo  domain.RelationalStore
}

// New returns a Store backed by blobs (the population blob store) and repo
// (the relational mirror written on ranking publish).
func New(blobs domain.BlobStore, repo domain.RelationalStore) *Store {
	return &Store{blobs: blobs, repo: repo}
}

func userKey(username string) string {
	return usersPrefix + username
}

// leaderboardPrefixFor returns the leaderboard key prefix for dottedName,
// split into one path segment per dotted component
// ("leaderboard/<comp1>/<comp2>/.../"), matching spec.md §6's documented key
// layout (the original's "leaderboard/{lang}/{mod}/..." hierarchy) rather
// than encoding the whole dotted name as a single segment.
func leaderboardPrefixFor(dottedName string) string {
	return leaderboardPrefix + strings.ReplaceAll(dottedName, ".", "/") + "/"
}

func leaderboardMarkerKey(dottedName, username string, score float64) string {
	return fmt.Sprintf("%s%s:%.2f", leaderboardPrefixFor(dottedName), username, score)
}

// UserKnowledgeExists reports whether username already has a published
// knowledge record, used by the orchestrator to skip re-scanning unless
// force-overwrite was requested.
func (s *Store) UserKnowledgeExists(ctx domain.Context, username string) (bool, error) {
	_, err := s.blobs.Get(ctx, userKey(username))
	if err != nil {
		return false, nil
	}
	return true, nil
}

// PublishKnowledge writes a user's normalized knowledge to the blob store
// per spec.md §4.10's publish algorithm: write the user object, rewrite that
// user's leaderboard markers for every scored name, then wait until every
// written object is visible by ETag.
func (s *Store) PublishKnowledge(ctx domain.Context, username, userHash, version string, nk knowledge.NormalizedKnowledge) error {
	record := domain.UserKnowledgeRecord{UserHash: userHash, Version: version, Knowledge: map[string]float64(nk)}
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("population: marshal user record: %w", err)
	}

	uKey := userKey(username)
	uEtag, err := s.blobs.Put(ctx, uKey, body)
	if err != nil {
		return fmt.Errorf("population: write user object: %w", err)
	}

	type written struct{ key, etag string }
	var markers []written

	for name, score := range nk {
		if err := s.clearExistingMarkers(ctx, name, username); err != nil {
			return err
		}
		mKey := leaderboardMarkerKey(name, username, score)
		mEtag, err := s.blobs.Put(ctx, mKey, nil)
		if err != nil {
			return fmt.Errorf("population: write leaderboard marker %s: %w", mKey, err)
		}
		markers = append(markers, written{mKey, mEtag})
	}

	if err := s.blobs.WaitUntilVisible(ctx, uKey, uEtag); err != nil {
		return fmt.Errorf("population: user object not visible: %w", err)
	}
	for _, w := range markers {
		if err := s.blobs.WaitUntilVisible(ctx, w.key, w.etag); err != nil {
			return fmt.Errorf("population: leaderboard marker not visible: %w", err)
		}
	}
	return nil
}

// clearExistingMarkers removes username's prior marker(s) under name, of
// which there should be at most one per spec.md §4.10 step 2.
func (s *Store) clearExistingMarkers(ctx domain.Context, name, username string) error {
	keys, err := s.blobs.ListByPrefix(ctx, leaderboardPrefixFor(name)+username+":")
	if err != nil {
		return fmt.Errorf("population: list existing markers: %w", err)
	}
	for _, k := range keys {
		if err := s.blobs.Delete(ctx, k); err != nil {
			return fmt.Errorf("population: delete marker %s: %w", k, err)
		}
	}
	return nil
}

// Rank computes a user's ranking for dottedName given score, against every
// leaderboard marker currently published under that name, per spec.md
// §4.10's bisect_right-based formula.
func (s *Store) Rank(ctx domain.Context, dottedName string, score float64) (domain.Ranking, error) {
	keys, err := s.blobs.ListByPrefix(ctx, leaderboardPrefixFor(dottedName))
	if err != nil {
		return domain.Ranking{}, fmt.Errorf("population: list leaderboard %s: %w", dottedName, err)
	}

	scores := make([]float64, 0, len(keys))
	var sum float64
	for _, k := range keys {
		sc, ok := scoreFromKey(k)
		if !ok {
			continue
		}
		scores = append(scores, sc)
		sum += sc
	}
	sort.Float64s(scores)

	rounded := roundTo(score, 2)
	population := len(scores)
	rank := population - bisectRight(scores, rounded)
	relevance := int(math.Floor(sum + score))

	return domain.Ranking{Rank: rank, Population: population, Relevance: relevance}, nil
}

// scoreFromKey extracts the ":<score>" suffix of a leaderboard marker key.
func scoreFromKey(key string) (float64, bool) {
	idx := strings.LastIndexByte(key, ':')
	if idx < 0 {
		return 0, false
	}
	score, err := strconv.ParseFloat(key[idx+1:], 64)
	if err != nil {
		return 0, false
	}
	return score, true
}

// bisectRight mirrors Python's bisect.bisect_right over an ascending-sorted
// slice: the insertion point to the right of any existing equal entries.
func bisectRight(sorted []float64, x float64) int {
	return sort.Search(len(sorted), func(i int) bool { return sorted[i] > x })
}

func roundTo(x float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(x*mult) / mult
}

// PublishRankingTree serializes the nested-ranking tree for username's
// normalized knowledge and overwrites the relational mirror's skill_set row,
// per spec.md §6's github_user → github_account → contractor role chain.
func (s *Store) PublishRankingTree(ctx domain.Context, username string, nk knowledge.NormalizedKnowledge) error {
	tree, err := s.BuildRankingTree(ctx, nk)
	if err != nil {
		return err
	}
	body, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("population: marshal ranking tree: %w", err)
	}

	githubUserID, err := s.repo.GithubUserID(ctx, username)
	if err != nil {
		return fmt.Errorf("population: resolve github user: %w", err)
	}
	accountUserID, err := s.repo.AccountUserID(ctx, githubUserID)
	if err != nil {
		return fmt.Errorf("population: resolve account user: %w", err)
	}
	skillSetID, err := s.repo.ContractorRoleID(ctx, accountUserID)
	if err != nil {
		return fmt.Errorf("population: resolve contractor role: %w", err)
	}
	if err := s.repo.UpdateSkills(ctx, skillSetID, body); err != nil {
		return fmt.Errorf("population: update skills: %w", err)
	}
	return nil
}

// UserHash returns a stable, non-reversible identifier for username, used as
// the UserKnowledgeRecord.UserHash field.
func UserHash(username string) string {
	sum := sha256.Sum256([]byte(username))
	return hex.EncodeToString(sum[:])
}
