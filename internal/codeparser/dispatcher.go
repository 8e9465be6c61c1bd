// Package codeparser implements the parser dispatcher (C7) and the shared
// backend-parser algorithm used by every language package under
// internal/codeparser/{python,javascript} (C8).
package codeparser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/rebase-inc/knowledge-scanner/internal/adapter/observability"
	"github.com/rebase-inc/knowledge-scanner/internal/domain"
)

// Sink receives one classified reference. Its signature matches
// knowledge.Model.AddReference exactly, so a *knowledge.Model's method value
// can be passed directly as a Sink.
type Sink func(date time.Time, count int, path ...string)

// LanguageParser analyzes one WorkItem and reports symbol-usage deltas to a
// Sink, per spec.md §4.8.
type LanguageParser interface {
	Language() string
	Analyze(ctx context.Context, item domain.WorkItem, sink Sink) error
}

// extensionLanguage resolves the common, unambiguous extensions directly to
// a language token without needing content sniffing, per spec.md §4.7's
// "extension → MIME type → language token" pipeline; it also carries the
// explicit override ".jsx" → JavaScript.
var extensionLanguage = map[string]string{
	".py":  "python",
	".pyi": "python",
	".js":  "javascript",
	".mjs": "javascript",
	".cjs": "javascript",
	".jsx": "javascript",
}

// mimeToLanguage maps a sniffed MIME type (or one of its ancestors in the
// mimetype hierarchy) to a language token, used as a fallback when an
// extension isn't in extensionLanguage. Both parser packages register under
// matching tokens.
var mimeToLanguage = map[string]string{
	"text/x-python":          "python",
	"text/x-script.python":   "python",
	"application/javascript": "javascript",
	"text/javascript":        "javascript",
	"application/ecmascript": "javascript",
}

// Dispatcher routes a WorkItem to its language's parser, tracking health
// counters for unrecognized extensions, unsupported languages, and
// unparsable code, per spec.md §4.7.
type Dispatcher struct {
	mu      sync.Mutex
	parsers map[string]LanguageParser
	health  *domain.ParserHealth
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		parsers: map[string]LanguageParser{},
		health:  domain.NewParserHealth(),
	}
}

// Register adds p to the dispatch table, keyed by p.Language().
func (d *Dispatcher) Register(p LanguageParser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parsers[p.Language()] = p
}

// Health returns the dispatcher's live counters.
func (d *Dispatcher) Health() *domain.ParserHealth {
	return d.health
}

// SupportsAnyOf reports whether any of languages has a registered parser,
// used by the crawler to skip repositories cheaply per spec.md §4.7.
func (d *Dispatcher) SupportsAnyOf(languages ...string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, lang := range languages {
		if _, ok := d.parsers[lang]; ok {
			return true
		}
	}
	return false
}

// Dispatch guesses item's language, looks up its parser, and invokes it
// within a health scope: ErrUnrecognizedExtension, ErrMissingLanguageSupport,
// and ErrUnparsableCode are counted and returned; any other error from the
// parser propagates unchanged, per spec.md §4.7.
func (d *Dispatcher) Dispatch(ctx context.Context, item domain.WorkItem, sink Sink) error {
	d.mu.Lock()
	d.health.Attempted++
	d.mu.Unlock()

	path := primaryPath(item)
	ext := strings.ToLower(filepath.Ext(path))
	lang, ok := guessLanguage(ext, primaryBlob(item))
	if !ok {
		d.mu.Lock()
		d.health.Unrecognized[ext]++
		d.mu.Unlock()
		observability.RecordParserDispatch("unknown", "unrecognized_extension")
		return fmt.Errorf("%w: %s", domain.ErrUnrecognizedExtension, ext)
	}

	d.mu.Lock()
	parser, ok := d.parsers[lang]
	d.mu.Unlock()
	if !ok {
		d.mu.Lock()
		d.health.Unsupported[lang]++
		d.mu.Unlock()
		observability.RecordParserDispatch(lang, "unsupported_language")
		return fmt.Errorf("%w: %s", domain.ErrMissingLanguageSupport, lang)
	}

	start := time.Now()
	err := parser.Analyze(ctx, item, sink)
	observability.ObserveParserBackendLatency(lang, time.Since(start))
	if err != nil {
		if errors.Is(err, domain.ErrUnparsableCode) {
			d.mu.Lock()
			d.health.Unparsable[lang]++
			d.mu.Unlock()
			observability.RecordParserDispatch(lang, "unparsable")
		} else {
			observability.RecordParserDispatch(lang, "error")
		}
		return err
	}
	observability.RecordParserDispatch(lang, "ok")
	return nil
}

func guessLanguage(ext string, sample []byte) (string, bool) {
	if lang, ok := extensionLanguage[ext]; ok {
		return lang, true
	}
	if len(sample) == 0 {
		return "", false
	}
	mime := mimetype.Detect(sample)
	for m := mime; m != nil; m = m.Parent() {
		if lang, ok := mimeToLanguage[m.String()]; ok {
			return lang, true
		}
	}
	return "", false
}

func primaryPath(item domain.WorkItem) string {
	if item.PathAfter != nil {
		return *item.PathAfter
	}
	if item.PathBefore != nil {
		return *item.PathBefore
	}
	return ""
}

func primaryBlob(item domain.WorkItem) []byte {
	if item.BlobAfter != nil {
		return item.BlobAfter
	}
	return item.BlobBefore
}
