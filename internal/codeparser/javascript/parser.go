// Package javascript wires the JavaScript-dialect backend parsers and
// relevance oracle into a codeparser.BackendParser, per spec.md §4.8.
package javascript

import (
	"fmt"
	"strings"

	"github.com/rebase-inc/knowledge-scanner/internal/codeparser"
	"github.com/rebase-inc/knowledge-scanner/internal/domain"
	"github.com/rebase-inc/knowledge-scanner/internal/tcp"
)

// globals is a baked-in set of well-known global identifiers and builtins,
// standing in for the original's hand-maintained JavaScript global list,
// including typed-array names per spec.md §4.8.
var globals = buildSet([]string{
	"Array", "ArrayBuffer", "Boolean", "DataView", "Date", "Error",
	"EvalError", "Float32Array", "Float64Array", "Function", "Infinity",
	"Int8Array", "Int16Array", "Int32Array", "JSON", "Map", "Math", "NaN",
	"Number", "Object", "Promise", "Proxy", "RangeError", "ReferenceError",
	"Reflect", "RegExp", "Set", "String", "Symbol", "SyntaxError",
	"TypeError", "URIError", "Uint8Array", "Uint8ClampedArray",
	"Uint16Array", "Uint32Array", "WeakMap", "WeakSet", "clearInterval",
	"clearTimeout", "console", "decodeURI", "decodeURIComponent",
	"encodeURI", "encodeURIComponent", "globalThis", "isFinite", "isNaN",
	"parseFloat", "parseInt", "setInterval", "setTimeout", "undefined",
})

func buildSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func isStdlib(symbol string) bool {
	root := symbol
	if i := strings.IndexByte(symbol, '.'); i >= 0 {
		root = symbol[:i]
	}
	return globals[root]
}

// privateModules derives dotted module names from in-tree JavaScript-family
// source files, converted relative to the repository root, per spec.md
// §4.8's private-module note (generalized from the Python-specific wording
// to this language's file layout).
func privateModules(item domain.WorkItem) map[string]bool {
	set := map[string]bool{}
	for _, p := range item.TreePaths {
		var trimmed string
		switch {
		case strings.HasSuffix(p, ".jsx"):
			trimmed = strings.TrimSuffix(p, ".jsx")
		case strings.HasSuffix(p, ".js"):
			trimmed = strings.TrimSuffix(p, ".js")
		default:
			continue
		}
		dotted := strings.ReplaceAll(trimmed, "/", ".")
		dotted = strings.TrimSuffix(dotted, ".index")
		if dotted == "" {
			continue
		}
		set[dotted] = true
	}
	return set
}

func buildContext(item domain.WorkItem, path string) (map[string]any, map[string]bool) {
	private := privateModules(item)
	privateList := make([]string, 0, len(private))
	for name := range private {
		privateList = append(privateList, name)
	}
	fields := map[string]any{
		"path":            path,
		"commit_url":      fmt.Sprintf("https://github.com/%s/commit/%s", item.RepoFullName, item.CommitSHA),
		"private_modules": privateList,
	}
	return fields, private
}

// New returns a JavaScript language parser backed by backends (tried in MRU
// order) and oracle (the relevance oracle).
func New(backends []*tcp.Client, oracle *tcp.Client) *codeparser.BackendParser {
	return codeparser.NewBackendParser("javascript", backends, oracle, isStdlib, buildContext)
}
