package indexer

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ContentId is the content-addressed key joining the registry and the
// document store: the hex md5 digest of a document's slash-normalized
// root-relative path. A rename therefore produces a new id.
type ContentId string

func HashPath(rel string) ContentId {
	sum := md5.Sum([]byte(filepath.ToSlash(rel)))
	return ContentId(hex.EncodeToString(sum[:]))
}

// NotBuilt is the Modified sentinel for an entry that has been seen but
// whose artifact has not been committed yet. An interrupted pass leaves
// such entries stale rather than falsely done.
const NotBuilt = -1

type Entry struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Modified float64 `json:"modified"`
}

const menuFile = "menu.json"

// Registry is the persistent mapping from ContentId to document
// metadata, mirrored wholesale in menu.json. It is the single source of
// truth for what is indexed.
type Registry struct {
	path    string
	entries map[ContentId]Entry
}

// LoadRegistry reads menu.json from the index folder, creating an empty
// one if it does not exist yet.
func LoadRegistry(indexPath string) (*Registry, error) {
	r := &Registry{
		path:    filepath.Join(indexPath, menuFile),
		entries: make(map[ContentId]Entry),
	}

	raw, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := r.Save(); err != nil {
			return nil, err
		}
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	if err := json.Unmarshal(raw, &r.entries); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}

	return r, nil
}

// Save rewrites menu.json wholesale. Map keys marshal in sorted order,
// so an unchanged registry produces byte-identical output.
func (r *Registry) Save() error {
	raw, err := json.MarshalIndent(r.entries, "", "    ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(r.path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}

	return nil
}

func (r *Registry) Get(id ContentId) (Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

func (r *Registry) Put(id ContentId, e Entry) {
	r.entries[id] = e
}

func (r *Registry) Delete(id ContentId) {
	delete(r.entries, id)
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// IDs returns every registered ContentId in stable sorted order.
func (r *Registry) IDs() []ContentId {
	ids := make([]ContentId, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Paths returns the relative paths of every registered document, sorted.
func (r *Registry) Paths() []string {
	paths := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		paths = append(paths, e.Path)
	}
	sort.Strings(paths)

	return paths
}
