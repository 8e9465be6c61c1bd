package githubapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListReposFiltersForks(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Query().Get("page") == "1" {
			w.Write([]byte(`[{"full_name":"u/a","name":"a","clone_url":"https://x/a","size":10,"fork":false},
			{"full_name":"u/b","name":"b","clone_url":"https://x/b","size":20,"fork":true}]`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MinDelay: time.Millisecond}, srv.Client())
	repos, err := c.ListRepos(context.Background(), "u")
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "u/a", repos[0].FullName)
}

func TestDedupCacheAvoidsSecondCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MinDelay: time.Millisecond}, srv.Client())
	_, err := c.ListRepos(context.Background(), "dup")
	require.NoError(t, err)
	_, err = c.ListRepos(context.Background(), "dup")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "identical request tuples should be served from the dedup cache")
}

func TestMinDelayThrottle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MinDelay: 100 * time.Millisecond}, srv.Client())
	start := time.Now()
	_, err := c.ListRepos(context.Background(), "u1")
	require.NoError(t, err)
	_, err = c.ListRepos(context.Background(), "u2")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}
