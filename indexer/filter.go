package indexer

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// binaryExts are the extensions with a registered binary extraction
// handler. A file that fails the UTF-8 sniff is only eligible through
// one of these.
var binaryExts = map[string]bool{
	".pdf":  true,
	".xlsx": true,
}

// Filter decides which filesystem entries are eligible for indexing.
// It is compiled once from the configuration and all its methods are
// pure predicates.
type Filter struct {
	types    map[string]bool
	patterns []*regexp.Regexp
	folders  map[string]bool
	depth    int
}

func NewFilter(cfg *Config) (*Filter, error) {
	f := &Filter{
		folders: make(map[string]bool),
		depth:   cfg.Depth,
	}

	if cfg.Types != nil {
		f.types = make(map[string]bool, len(cfg.Types))
		for _, t := range cfg.Types {
			f.types[strings.ToLower(t)] = true
		}
	}

	for _, p := range cfg.IgnoredFiles {
		re, err := regexp.Compile(wildcardToRegex(p))
		if err != nil {
			return nil, err
		}
		f.patterns = append(f.patterns, re)
	}

	for _, name := range cfg.IgnoredFolders {
		f.folders[name] = true
	}
	// The cache's own storage folder is never indexed.
	f.folders[filepath.Base(cfg.IndexPath)] = true

	return f, nil
}

// wildcardToRegex turns a shell-style wildcard into an anchored regex.
// Only '*' is special; everything else matches literally.
func wildcardToRegex(wildcard string) string {
	escaped := strings.ReplaceAll(regexp.QuoteMeta(wildcard), `\*`, ".*")
	return "^" + escaped + "$"
}

// Eligible reports whether the file at path can be indexed. Unreadable
// or unclassifiable files are silently excluded.
func (f *Filter) Eligible(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if f.types != nil && !f.types[ext] {
		return false
	}

	name := filepath.Base(path)
	for _, p := range f.patterns {
		if p.MatchString(name) {
			return false
		}
	}

	if IsPlainText(path) {
		return true
	}

	return binaryExts[ext]
}

// WithinDepth reports whether a root-relative file path sits at or
// above the configured maximum traversal depth. A file directly under
// the root counts as depth 1.
func (f *Filter) WithinDepth(rel string) bool {
	depth := strings.Count("/"+filepath.ToSlash(rel), "/")
	return depth <= f.depth
}

// SkipDir reports whether a root-relative directory path should be
// pruned from traversal: any segment matching an ignored folder name
// excludes the whole subtree.
func (f *Filter) SkipDir(rel string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if f.folders[seg] {
			return true
		}
	}

	return false
}

// IsPlainText reports whether the file's entire byte content decodes as
// UTF-8. Read failures classify the file as not plain text.
func IsPlainText(path string) bool {
	buf, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	return utf8.Valid(buf)
}
