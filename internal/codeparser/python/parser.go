// Package python wires the Python-dialect backend parsers and relevance
// oracle into a codeparser.BackendParser, per spec.md §4.8.
package python

import (
	"fmt"
	"strings"

	"github.com/rebase-inc/knowledge-scanner/internal/codeparser"
	"github.com/rebase-inc/knowledge-scanner/internal/domain"
	"github.com/rebase-inc/knowledge-scanner/internal/tcp"
)

// grammarPrefix is the reserved dotted-name prefix used for language-grammar
// constructs (not a real importable symbol), always considered relevant per
// spec.md §4.8.
const grammarPrefix = "__grammar__"

// stdlibModules is a baked-in union of top-level standard library module
// names across recent CPython releases (3.8–3.12), standing in for the
// original's stdlib_list package lookup.
var stdlibModules = buildStdlibSet([]string{
	"abc", "argparse", "array", "ast", "asyncio", "atexit", "base64", "bisect",
	"builtins", "bz2", "calendar", "collections", "configparser", "contextlib",
	"copy", "copyreg", "csv", "ctypes", "dataclasses", "datetime", "decimal",
	"difflib", "dis", "email", "enum", "errno", "fcntl", "fnmatch", "functools",
	"gc", "getopt", "getpass", "glob", "gzip", "hashlib", "heapq", "hmac",
	"html", "http", "importlib", "inspect", "io", "ipaddress", "itertools",
	"json", "keyword", "linecache", "locale", "logging", "lzma", "math",
	"mimetypes", "multiprocessing", "numbers", "operator", "os", "pathlib",
	"pickle", "pkgutil", "platform", "posixpath", "pprint", "queue", "random",
	"re", "reprlib", "sched", "secrets", "select", "selectors", "shelve",
	"shlex", "shutil", "signal", "site", "smtplib", "socket", "socketserver",
	"sqlite3", "ssl", "stat", "statistics", "string", "stringprep", "struct",
	"subprocess", "sys", "sysconfig", "tarfile", "tempfile", "textwrap",
	"threading", "time", "timeit", "tkinter", "token", "tokenize", "trace",
	"traceback", "types", "typing", "unicodedata", "unittest", "urllib",
	"uuid", "venv", "warnings", "weakref", "xml", "xmlrpc", "zipapp",
	"zipfile", "zipimport", "zlib",
})

func buildStdlibSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// isStdlib reports whether symbol's dotted name roots at a standard-library
// top-level module, or carries the reserved grammar prefix.
func isStdlib(symbol string) bool {
	if strings.HasPrefix(symbol, grammarPrefix) {
		return true
	}
	root := symbol
	if i := strings.IndexByte(symbol, '.'); i >= 0 {
		root = symbol[:i]
	}
	return stdlibModules[root]
}

// privateModules derives the dotted module names present in item's commit
// tree: every ".py" path (its package __init__ suffix stripped), converted
// to a dotted name relative to the repository root, per spec.md §4.8.
func privateModules(item domain.WorkItem) map[string]bool {
	set := map[string]bool{}
	for _, p := range item.TreePaths {
		if !strings.HasSuffix(p, ".py") {
			continue
		}
		dotted := strings.TrimSuffix(p, ".py")
		dotted = strings.ReplaceAll(dotted, "/", ".")
		dotted = strings.TrimSuffix(dotted, ".__init__")
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

// New returns a Python language parser backed by backends (tried in MRU
// order) and oracle (the relevance oracle).
func New(backends []*tcp.Client, oracle *tcp.Client) *codeparser.BackendParser {
	return codeparser.NewBackendParser("python", backends, oracle, isStdlib, buildContext)
}
