package codeparser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rebase-inc/knowledge-scanner/internal/domain"
	"github.com/rebase-inc/knowledge-scanner/internal/tcp"
)

type backendRequest struct {
	Code    string         `json:"code"`
	Context map[string]any `json:"context"`
}

type backendResponse struct {
	Error    string         `json:"error,omitempty"`
	UseCount map[string]int `json:"use_count,omitempty"`
}

type oracleRequest struct {
	Module string `json:"module"`
}

type oracleResponse struct {
	Impact int `json:"impact"`
}

// StdlibPredicate reports whether symbol belongs to a language's standard
// library (or another always-relevant grammar token), per spec.md §4.8.
type StdlibPredicate func(symbol string) bool

// ContextBuilder returns the JSON-able context fields sent alongside a
// backend request for path (e.g. a commit URL and language-specific fields),
// plus the set of private in-tree module names relevant to item.
type ContextBuilder func(item domain.WorkItem, path string) (fields map[string]any, private map[string]bool)

// BackendParser implements the algorithm common to every C8 language parser:
// MRU-ordered backend fallback, relevance filtering, and delta emission.
// Concrete language packages (python, javascript) are thin wrappers that
// supply a StdlibPredicate and a ContextBuilder.
type BackendParser struct {
	language string
	oracle   *tcp.Client
	isStdlib StdlibPredicate
	buildCtx ContextBuilder

	mu       sync.Mutex
	backends []*tcp.Client
}

// NewBackendParser returns a BackendParser for language, trying backends in
// the given order (mutated in place as calls promote a successful backend to
// the head, per spec.md §4.8 step 3) and consulting oracle for relevance.
func NewBackendParser(language string, backends []*tcp.Client, oracle *tcp.Client, isStdlib StdlibPredicate, buildCtx ContextBuilder) *BackendParser {
	ordered := make([]*tcp.Client, len(backends))
	copy(ordered, backends)
	return &BackendParser{
		language: language,
		oracle:   oracle,
		isStdlib: isStdlib,
		buildCtx: buildCtx,
		backends: ordered,
	}
}

func (p *BackendParser) Language() string { return p.language }

// Analyze implements spec.md §4.8's algorithm: count symbol usage on both
// sides of item (an absent side yields an empty multiset), compute the
// absolute delta, and emit one sink call per symbol with a nonzero delta,
// ordered by descending |Δ|. The original ties-break by Counter insertion
// order, which survives through Python's order-preserving dict/json.loads;
// Go's encoding/json decodes objects into unordered maps, so an alphabetical
// tie-break stands in as the nearest deterministic equivalent.
func (p *BackendParser) Analyze(ctx context.Context, item domain.WorkItem, sink Sink) error {
	before, err := p.counts(ctx, item, item.PathBefore, item.BlobBefore)
	if err != nil {
		return err
	}
	after, err := p.counts(ctx, item, item.PathAfter, item.BlobAfter)
	if err != nil {
		return err
	}

	type symbolDelta struct {
		symbol string
		delta  int
	}
	seen := map[string]struct{}{}
	var deltas []symbolDelta
	for symbol := range before {
		seen[symbol] = struct{}{}
	}
	for symbol := range after {
		seen[symbol] = struct{}{}
	}
	for symbol := range seen {
		d := after[symbol] - before[symbol]
		if d < 0 {
			d = -d
		}
		if d > 0 {
			deltas = append(deltas, symbolDelta{symbol, d})
		}
	}
	sort.Slice(deltas, func(i, j int) bool {
		if deltas[i].delta != deltas[j].delta {
			return deltas[i].delta > deltas[j].delta
		}
		return deltas[i].symbol < deltas[j].symbol
	})

	for _, sd := range deltas {
		parts := strings.Split(sd.symbol, ".")
		path := append([]string{p.language}, parts...)
		sink(item.AuthoredAt, sd.delta, path...)
	}
	return nil
}

// counts returns the relevance-filtered symbol-usage multiset for one side
// of item. An absent path (addition/deletion) yields an empty multiset
// without contacting any backend, per spec.md §4.8 step 1.
func (p *BackendParser) counts(ctx context.Context, item domain.WorkItem, path *string, blob []byte) (map[string]int, error) {
	if path == nil {
		return map[string]int{}, nil
	}

	fields, private := p.buildCtx(item, *path)
	raw, err := p.invokeBackends(fields, blob)
	if err != nil {
		return nil, err
	}

	filtered := make(map[string]int, len(raw))
	for symbol, count := range raw {
		if count <= 0 {
			continue
		}
		if p.isStdlib(symbol) || private[symbol] {
			filtered[symbol] = count
			continue
		}
		impact, err := p.oracleImpact(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if impact > 0 {
			filtered[symbol] = count
		}
	}
	return filtered, nil
}

// invokeBackends tries each backend in MRU order, promoting the first one
// that succeeds to the head of the list. It returns ErrUnparsableCode if
// every backend reports an error.
func (p *BackendParser) invokeBackends(fields map[string]any, blob []byte) (map[string]int, error) {
	req := backendRequest{Code: base64.StdEncoding.EncodeToString(blob), Context: fields}

	p.mu.Lock()
	ordered := make([]*tcp.Client, len(p.backends))
	copy(ordered, p.backends)
	p.mu.Unlock()

	var lastErr error
	for i, backend := range ordered {
		raw, err := backend.Send(req)
		if err != nil {
			lastErr = err
			continue
		}
		var resp backendResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			lastErr = err
			continue
		}
		if resp.Error != "" {
			lastErr = fmt.Errorf("backend reported: %s", resp.Error)
			continue
		}
		p.promote(i)
		return resp.UseCount, nil
	}
	return nil, fmt.Errorf("%w: language=%s: %v", domain.ErrUnparsableCode, p.language, lastErr)
}

// promote moves the backend at index i (within the snapshot used by the
// caller) to the head of the shared MRU list, visible to every subsequent
// Analyze call for any work item, per spec.md §6 supplement #4.
func (p *BackendParser) promote(i int) {
	if i == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.backends) {
		return
	}
	backend := p.backends[i]
	p.backends = append(p.backends[:i], p.backends[i+1:]...)
	p.backends = append([]*tcp.Client{backend}, p.backends...)
}

// oracleImpact asks the relevance oracle about symbol's root module, per
// spec.md §6: the wire request carries only the first dotted component, not
// the full symbol or any context fields.
func (p *BackendParser) oracleImpact(ctx context.Context, symbol string) (int, error) {
	if p.oracle == nil {
		return 0, nil
	}
	module := symbol
	if i := strings.IndexByte(module, '.'); i >= 0 {
		module = module[:i]
	}
	raw, err := p.oracle.Send(oracleRequest{Module: module})
	if err != nil {
		return 0, fmt.Errorf("codeparser: relevance oracle: %w", err)
	}
	var resp oracleResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("codeparser: relevance oracle response: %w", err)
	}
	return resp.Impact, nil
}
