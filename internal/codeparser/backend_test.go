package codeparser

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebase-inc/knowledge-scanner/internal/domain"
	"github.com/rebase-inc/knowledge-scanner/internal/tcp"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func startTCP(t *testing.T, h tcp.Handler) int {
	t.Helper()
	port := freePort(t)
	srv := tcp.NewServer(tcp.ServerConfig{Address: "127.0.0.1", Port: port}, h, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.ListenAndServe(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = srv.Shutdown(context.Background())
	})
	time.Sleep(30 * time.Millisecond)
	return port
}

func clientAt(port int) *tcp.Client {
	return tcp.NewClient(tcp.ClientConfig{Host: "127.0.0.1", Port: port, ReadTimeout: 2 * time.Second})
}

func fixedUseCount(counts map[string]int) tcp.Handler {
	return func(_ context.Context, _ json.RawMessage) (any, error) {
		return backendResponse{UseCount: counts}, nil
	}
}

func alwaysError(message string) tcp.Handler {
	return func(_ context.Context, _ json.RawMessage) (any, error) {
		return backendResponse{Error: message}, nil
	}
}

func alwaysImpact(impact int) tcp.Handler {
	return func(_ context.Context, _ json.RawMessage) (any, error) {
		return oracleResponse{Impact: impact}, nil
	}
}

func isStdlibOnly(stdlib map[string]bool) StdlibPredicate {
	return func(symbol string) bool { return stdlib[symbol] }
}

func noContext(item domain.WorkItem, path string) (map[string]any, map[string]bool) {
	return map[string]any{"path": path}, map[string]bool{}
}

func TestBackendParserDeltaOrderingAndEmission(t *testing.T) {
	afterPort := startTCP(t, fixedUseCount(map[string]int{"os": 3, "acme.widgets": 1, "requests": 5}))
	oraclePort := startTCP(t, alwaysImpact(1)) // everything non-stdlib is relevant

	backend := clientAt(afterPort)
	oracle := clientAt(oraclePort)
	p := NewBackendParser("python", []*tcp.Client{backend}, oracle, isStdlibOnly(map[string]bool{"os": true}), noContext)

	after := "pkg/a.py"
	item := domain.WorkItem{
		AuthoredAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PathAfter:  &after,
		BlobAfter:  []byte("import os\n"),
	}

	var emitted [][]string
	err := p.Analyze(context.Background(), item, func(_ time.Time, count int, path ...string) {
		emitted = append(emitted, append([]string{}, path...))
		_ = count
	})
	require.NoError(t, err)
	require.Len(t, emitted, 3)
	// Descending |Δ| order: requests(5) > os(3) > acme.widgets(1).
	assert.Equal(t, []string{"python", "requests"}, emitted[0])
	assert.Equal(t, []string{"python", "os"}, emitted[1])
	assert.Equal(t, []string{"python", "acme", "widgets"}, emitted[2])
}

func TestBackendParserMRUPromotion(t *testing.T) {
	failingPort := startTCP(t, alwaysError("syntax error"))
	workingPort := startTCP(t, fixedUseCount(map[string]int{"sys": 1}))
	oraclePort := startTCP(t, alwaysImpact(0))

	failing := clientAt(failingPort)
	working := clientAt(workingPort)
	oracle := clientAt(oraclePort)

	p := NewBackendParser("python", []*tcp.Client{failing, working}, oracle, isStdlibOnly(map[string]bool{"sys": true}), noContext)

	after := "a.py"
	item := domain.WorkItem{PathAfter: &after, BlobAfter: []byte("import sys\n")}

	var emitted int
	sink := func(time.Time, int, ...string) { emitted++ }
	require.NoError(t, (p).Analyze(context.Background(), item, sink))
	assert.Equal(t, 1, emitted)

	p.mu.Lock()
	promoted := p.backends[0]
	p.mu.Unlock()
	assert.Same(t, working, promoted, "successful backend must be promoted to the head of the MRU list")
}

func TestBackendParserAllBackendsFailYieldsUnparsable(t *testing.T) {
	failingPort := startTCP(t, alwaysError("boom"))
	failing := clientAt(failingPort)
	oraclePort := startTCP(t, alwaysImpact(0))
	oracle := clientAt(oraclePort)

	p := NewBackendParser("python", []*tcp.Client{failing}, oracle, isStdlibOnly(nil), noContext)
	after := "a.py"
	item := domain.WorkItem{PathAfter: &after, BlobAfter: []byte("???")}

	err := p.Analyze(context.Background(), item, func(time.Time, int, ...string) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnparsableCode)
}

func TestBackendParserRelevanceFilterDropsIrrelevantSymbols(t *testing.T) {
	afterPort := startTCP(t, fixedUseCount(map[string]int{"os": 1, "some_unused_lib": 2}))
	oraclePort := startTCP(t, alwaysImpact(0)) // nothing non-stdlib is relevant

	backend := clientAt(afterPort)
	oracle := clientAt(oraclePort)
	p := NewBackendParser("python", []*tcp.Client{backend}, oracle, isStdlibOnly(map[string]bool{"os": true}), noContext)

	after := "a.py"
	item := domain.WorkItem{PathAfter: &after, BlobAfter: []byte("import os\nimport some_unused_lib\n")}

	var emitted [][]string
	err := p.Analyze(context.Background(), item, func(_ time.Time, _ int, path ...string) {
		emitted = append(emitted, append([]string{}, path...))
	})
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	assert.Equal(t, []string{"python", "os"}, emitted[0])
}
