package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebase-inc/knowledge-scanner/internal/domain"
)

func TestPutGetRoundTrip(t *testing.T) {
	store := New()
	etag, err := store.Put(context.Background(), "users/alice", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.NotEmpty(t, etag)

	data, err := store.Get(context.Background(), "users/alice")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	store := New()
	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListByPrefix(t *testing.T) {
	store := New()
	ctx := context.Background()
	_, _ = store.Put(ctx, "leaderboard/python/alice:1.00", nil)
	_, _ = store.Put(ctx, "leaderboard/python/bob:2.00", nil)
	_, _ = store.Put(ctx, "leaderboard/javascript/alice:1.00", nil)

	keys, err := store.ListByPrefix(ctx, "leaderboard/python/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"leaderboard/python/alice:1.00", "leaderboard/python/bob:2.00"}, keys)
}

func TestWaitUntilVisibleMatchesEtag(t *testing.T) {
	store := New()
	ctx := context.Background()
	etag, err := store.Put(ctx, "users/alice", []byte("v1"))
	require.NoError(t, err)
	require.NoError(t, store.WaitUntilVisible(ctx, "users/alice", etag))

	err = store.WaitUntilVisible(ctx, "users/alice", "stale-etag")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestDeleteThenGetNotFound(t *testing.T) {
	store := New()
	ctx := context.Background()
	_, _ = store.Put(ctx, "k", []byte("v"))
	require.NoError(t, store.Delete(ctx, "k"))
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
