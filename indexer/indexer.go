// Package indexer maintains a persistent, incrementally updated index
// over a directory tree of documents. It owns the on-disk cache layout
// (menu.json plus one artifact folder per document), decides which
// documents are stale, rebuilds them concurrently and composes the
// per-document sub-indices into a single queryable engine.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/chenjiayi8/docindex/engine"
	"github.com/chenjiayi8/docindex/readers"
)

// ErrNotIndexed is returned when a query engine is requested for a file
// or folder scope that the registry does not know about.
var ErrNotIndexed = errors.New("not indexed")

// ErrNoReader is returned when a file passed the eligibility filter but
// no extraction handler is registered for its type. This means the
// filter and reader allow-lists are out of sync.
var ErrNoReader = errors.New("no reader for file type")

// FileReader extracts plain text from one binary document format.
type FileReader interface {
	Ext() string
	ReadText(path string) (string, error)
}

// Indexer is the single owner of the index cache. All mutable state
// (registry, artifact map, composed engine) is held here: loaded at
// construction, mutated during build passes, flushed when changed.
type Indexer struct {
	log      *slog.Logger
	cfg      *Config
	filter   *Filter
	eng      engine.Engine
	registry *Registry
	store    *Store

	readers map[string]FileReader
	plain   FileReader

	artifacts map[ContentId]Artifact
	qe        engine.QueryEngine
	lock      *flock.Flock
	mu        sync.Mutex
}

// Open loads the persisted index state and takes an exclusive lock on
// the index folder. Registry entries whose artifact cannot be loaded
// are dropped, so an interrupted earlier run heals itself here.
func Open(cfg *Config, eng engine.Engine, log *slog.Logger) (*Indexer, error) {
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	filter, err := NewFilter(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid filter configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.IndexPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index folder: %w", err)
	}

	lock := flock.New(filepath.Join(cfg.IndexPath, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock index folder: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("index folder %s is locked by another process", cfg.IndexPath)
	}

	registry, err := LoadRegistry(cfg.IndexPath)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	ix := &Indexer{
		log:       log,
		cfg:       cfg,
		filter:    filter,
		eng:       eng,
		registry:  registry,
		store:     NewStore(cfg.IndexPath, eng),
		readers:   make(map[string]FileReader),
		plain:     &readers.PlainReader{},
		artifacts: make(map[ContentId]Artifact),
		lock:      lock,
	}

	if err := ix.RegisterReader(&readers.PdfReader{}, &readers.XlsxReader{}); err != nil {
		lock.Unlock()
		return nil, err
	}

	healed := false
	for _, id := range registry.IDs() {
		art, ok, err := ix.store.Load(id)
		if err != nil {
			lock.Unlock()
			return nil, err
		}
		if !ok {
			entry, _ := registry.Get(id)
			log.Warn("dropping registry entry without artifact", "path", entry.Path)
			registry.Delete(id)
			healed = true
			continue
		}

		ix.artifacts[id] = art
	}

	if healed {
		if err := registry.Save(); err != nil {
			lock.Unlock()
			return nil, err
		}
	}

	return ix, nil
}

// Close releases the index folder lock.
func (ix *Indexer) Close() error {
	return ix.lock.Unlock()
}

func (ix *Indexer) RegisterReader(rs ...FileReader) error {
	for _, r := range rs {
		if _, ok := ix.readers[r.Ext()]; ok {
			return fmt.Errorf("reader already registered for type %s", r.Ext())
		}

		ix.readers[r.Ext()] = r
	}

	return nil
}

type diskFile struct {
	name     string
	rel      string
	abs      string
	modified float64
}

type buildTask struct {
	id   ContentId
	name string
	rel  string
	text string
}

type buildResult struct {
	summary string
	sub     engine.SubIndex
	err     error
}

// Build runs one incremental pass: discover eligible files, rebuild the
// stale ones in parallel, drop removed ones, and persist the registry
// if anything changed. A pass over an untouched tree writes nothing and
// reports false.
func (ix *Indexer) Build(ctx context.Context) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return ix.build(ctx)
}

func (ix *Indexer) build(ctx context.Context) (bool, error) {
	discovered, err := ix.discover()
	if err != nil {
		return false, err
	}

	changed := false

	// Files gone from the eligible set lose their entry and artifact.
	for _, id := range ix.registry.IDs() {
		if _, ok := discovered[id]; ok {
			continue
		}

		entry, _ := ix.registry.Get(id)
		ix.log.Info("removing deleted document", "path", entry.Path)
		if err := ix.drop(ctx, id); err != nil {
			return false, err
		}
		changed = true
	}

	tasks, taskChanged, err := ix.collectTasks(ctx, discovered)
	if err != nil {
		return false, err
	}
	changed = changed || taskChanged

	results := make([]buildResult, len(tasks))
	g := new(errgroup.Group)
	g.SetLimit(ix.cfg.Concurrency)
	for i, t := range tasks {
		g.Go(func() error {
			results[i] = ix.runTask(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	// Single-threaded merge: only now do results touch shared state.
	for i, t := range tasks {
		res := results[i]
		if res.err != nil {
			ix.log.Warn("failed to index document", "path", t.rel, "error", res.err)
			if err := ix.drop(ctx, t.id); err != nil {
				return false, err
			}
			continue
		}

		art := Artifact{Summary: res.summary, Index: res.sub}
		if err := ix.store.Save(t.id, t.name, t.rel, art); err != nil {
			return false, err
		}

		ix.artifacts[t.id] = art
		ix.registry.Put(t.id, Entry{Name: t.name, Path: t.rel, Modified: discovered[t.id].modified})
	}

	if changed {
		if err := ix.registry.Save(); err != nil {
			return false, err
		}
	}

	return changed, nil
}

// collectTasks diffs the discovered files against the registry and
// extracts text for every stale one. Extraction failures drop the
// document and the pass continues.
func (ix *Indexer) collectTasks(ctx context.Context, discovered map[ContentId]diskFile) ([]buildTask, bool, error) {
	ids := make([]ContentId, 0, len(discovered))
	for id := range discovered {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return discovered[ids[i]].rel < discovered[ids[j]].rel })

	changed := false
	var tasks []buildTask
	for _, id := range ids {
		f := discovered[id]
		entry, known := ix.registry.Get(id)
		if known && entry.Modified == f.modified {
			continue
		}

		// Stale or first seen. The sentinel stays until the artifact is
		// committed, so an interrupted pass leaves the entry stale
		// instead of falsely done.
		ix.registry.Put(id, Entry{Name: f.name, Path: f.rel, Modified: NotBuilt})

		text, err := ix.extractText(f.abs)
		if errors.Is(err, ErrNoReader) {
			return nil, false, fmt.Errorf("%w: %s", err, f.rel)
		}
		if err != nil || len(text) == 0 {
			if err != nil {
				ix.log.Warn("failed to extract text", "path", f.rel, "error", err)
			} else {
				ix.log.Warn("document yields no text", "path", f.rel)
			}
			if err := ix.drop(ctx, id); err != nil {
				return nil, false, err
			}
			changed = changed || known
			continue
		}

		tasks = append(tasks, buildTask{id: id, name: f.name, rel: f.rel, text: text})
		changed = true
	}

	return tasks, changed, nil
}

func (ix *Indexer) runTask(ctx context.Context, t buildTask) buildResult {
	sub, err := ix.eng.BuildIndex(ctx, string(t.id), t.text)
	if err != nil {
		return buildResult{err: err}
	}

	summary, err := ix.eng.Summarize(ctx, sub)
	if err != nil {
		return buildResult{err: err}
	}

	return buildResult{summary: summary, sub: sub}
}

// discover walks the tree once and returns every eligible, within-depth
// file keyed by its ContentId.
func (ix *Indexer) discover() (map[ContentId]diskFile, error) {
	root := ix.cfg.Root
	found := make(map[ContentId]diskFile)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			ix.log.Warn("skipping unreadable entry", "path", path, "error", err)
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if d.IsDir() {
			if rel != "." && ix.filter.SkipDir(rel) {
				return fs.SkipDir
			}
			return nil
		}

		if !ix.filter.WithinDepth(rel) || !ix.filter.Eligible(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			ix.log.Warn("skipping unreadable entry", "path", path, "error", err)
			return nil
		}

		found[HashPath(rel)] = diskFile{
			name:     d.Name(),
			rel:      filepath.ToSlash(rel),
			abs:      path,
			modified: mtime(info),
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	return found, nil
}

func mtime(info fs.FileInfo) float64 {
	return float64(info.ModTime().UnixNano()) / 1e9
}

func (ix *Indexer) extractText(path string) (string, error) {
	if IsPlainText(path) {
		return ix.plain.ReadText(path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	r, ok := ix.readers[ext]
	if !ok {
		return "", ErrNoReader
	}

	return r.ReadText(path)
}

// drop removes one document everywhere: registry, artifact cache, disk
// folder and the engine's stored vectors.
func (ix *Indexer) drop(ctx context.Context, id ContentId) error {
	ix.registry.Delete(id)
	delete(ix.artifacts, id)

	if err := ix.store.Remove(id); err != nil {
		return fmt.Errorf("failed to remove artifact folder: %w", err)
	}
	if err := ix.eng.Drop(ctx, string(id)); err != nil {
		return err
	}

	return nil
}

// Query answers a natural-language question over the whole corpus. A
// build pass runs first so the answer reflects the current tree; the
// composed engine is rebuilt whenever that pass changed anything.
func (ix *Indexer) Query(ctx context.Context, text string) (engine.Response, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	changed, err := ix.build(ctx)
	if err != nil {
		return engine.Response{}, err
	}

	if changed || ix.qe == nil {
		ix.qe = ix.queryEngine(nil, ix.cfg.TopK)
	}

	return ix.qe.Query(ctx, text)
}

// FileEngine returns an engine scoped to exactly one document.
func (ix *Indexer) FileEngine(rel string, topK int) (engine.QueryEngine, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rel = filepath.ToSlash(rel)
	if _, ok := ix.registry.Get(HashPath(rel)); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotIndexed, rel)
	}

	return ix.queryEngine([]string{rel}, topK), nil
}

// FolderEngine returns an engine scoped to every document whose
// relative path starts with the given prefix.
func (ix *Indexer) FolderEngine(prefix string, topK int) (engine.QueryEngine, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	prefix = filepath.ToSlash(prefix)
	var paths []string
	for _, p := range ix.registry.Paths() {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: folder %s", ErrNotIndexed, prefix)
	}

	return ix.queryEngine(paths, topK), nil
}

// PathOf resolves a ContentId back to its registered relative path.
func (ix *Indexer) PathOf(id string) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	e, ok := ix.registry.Get(ContentId(id))
	return e.Path, ok
}

func (ix *Indexer) queryEngine(paths []string, topK int) engine.QueryEngine {
	if topK <= 0 {
		topK = ix.cfg.TopK
	}
	if paths == nil {
		paths = ix.eligiblePaths()
	}

	var units []engine.Unit
	for _, p := range paths {
		id := HashPath(p)
		art, ok := ix.artifacts[id]
		if !ok {
			continue
		}

		units = append(units, engine.Unit{ID: string(id), Summary: art.Summary, Sub: art.Index})
	}

	return engine.Compose(ix.eng, units, topK)
}

// eligiblePaths re-applies the filter to the registry, so documents
// excluded by a configuration change after they were built do not leak
// into query results.
func (ix *Indexer) eligiblePaths() []string {
	var out []string
	for _, p := range ix.registry.Paths() {
		abs := filepath.Join(ix.cfg.Root, filepath.FromSlash(p))
		if ix.filter.WithinDepth(p) && ix.filter.Eligible(abs) {
			out = append(out, p)
		}
	}

	return out
}
