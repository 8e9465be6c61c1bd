package population

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebase-inc/knowledge-scanner/internal/adapter/blobstore"
	"github.com/rebase-inc/knowledge-scanner/internal/domain"
	"github.com/rebase-inc/knowledge-scanner/internal/knowledge"
)

type fakeRelationalStore struct {
	skillSetID int64
	skills     []byte
}

func (f *fakeRelationalStore) GithubUserID(ctx domain.Context, login string) (int64, error) { return 1, nil }
func (f *fakeRelationalStore) AccountUserID(ctx domain.Context, githubUserID int64) (int64, error) {
	return 2, nil
}
func (f *fakeRelationalStore) ContractorRoleID(ctx domain.Context, userID int64) (int64, error) {
	return f.skillSetID, nil
}
func (f *fakeRelationalStore) UpdateSkills(ctx domain.Context, skillSetID int64, skills []byte) error {
	f.skills = skills
	return nil
}

func TestPublishAndRank(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.New()
	repo := &fakeRelationalStore{skillSetID: 42}
	store := New(blobs, repo)

	nk := knowledge.NormalizedKnowledge{"python.__overall__": 0.5}
	require.NoError(t, store.PublishKnowledge(ctx, "alice", UserHash("alice"), "v1", nk))

	exists, err := store.UserKnowledgeExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	nkBob := knowledge.NormalizedKnowledge{"python.__overall__": 0.8}
	require.NoError(t, store.PublishKnowledge(ctx, "bob", UserHash("bob"), "v1", nkBob))

	ranking, err := store.Rank(ctx, "python.__overall__", 0.8)
	require.NoError(t, err)
	assert.Equal(t, 2, ranking.Population)
	assert.Equal(t, 0, ranking.Rank, "nobody scores above bob's 0.8, so his rank (count of people above) is 0")

	aliceRanking, err := store.Rank(ctx, "python.__overall__", 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, aliceRanking.Rank, "bob's 0.8 is above alice's 0.5")
}

func TestRepublishReplacesMarker(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.New()
	store := New(blobs, &fakeRelationalStore{})

	require.NoError(t, store.PublishKnowledge(ctx, "alice", UserHash("alice"), "v1",
		knowledge.NormalizedKnowledge{"python.__overall__": 0.3}))
	require.NoError(t, store.PublishKnowledge(ctx, "alice", UserHash("alice"), "v1",
		knowledge.NormalizedKnowledge{"python.__overall__": 0.9}))

	keys, err := blobs.ListByPrefix(ctx, leaderboardPrefixFor("python.__overall__"))
	require.NoError(t, err)
	assert.Len(t, keys, 1, "republishing must leave exactly one marker for alice")
	assert.Contains(t, keys[0], "0.90")
}

func TestBuildRankingTreeNestsOverallUnderParent(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.New()
	store := New(blobs, &fakeRelationalStore{})

	nk := knowledge.NormalizedKnowledge{
		"python.__overall__":      0.6,
		"python.acme.__overall__": 0.4,
		"python.acme.widgets":     0.2,
	}
	require.NoError(t, store.PublishKnowledge(ctx, "alice", UserHash("alice"), "v1", nk))

	tree, err := store.BuildRankingTree(ctx, nk)
	require.NoError(t, err)

	pythonNode, ok := tree["python"]
	require.True(t, ok)
	require.NotNil(t, pythonNode.Modules)
	acmeNode, ok := pythonNode.Modules["acme"]
	require.True(t, ok)
	require.NotNil(t, acmeNode.Modules)
	_, ok = acmeNode.Modules["widgets"]
	assert.True(t, ok)
}

func TestPublishRankingTreeWritesSkills(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.New()
	repo := &fakeRelationalStore{skillSetID: 7}
	store := New(blobs, repo)

	nk := knowledge.NormalizedKnowledge{"python.__overall__": 0.5}
	require.NoError(t, store.PublishKnowledge(ctx, "alice", UserHash("alice"), "v1", nk))
	require.NoError(t, store.PublishRankingTree(ctx, "alice", nk))
	assert.NotEmpty(t, repo.skills)
}
