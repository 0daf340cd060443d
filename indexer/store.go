package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/chenjiayi8/docindex/engine"
)

// Artifact is the in-memory counterpart of one document's on-disk
// folder: the one-line summary plus the sub-index handle.
type Artifact struct {
	Summary string
	Index   engine.SubIndex
}

type docData struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Summary string `json:"summary"`
}

// Store persists one folder per ContentId under the index path: a
// data.json with the document's metadata and an index/ folder whose
// contents are owned by the engine.
type Store struct {
	root string
	eng  engine.Engine
}

func NewStore(indexPath string, eng engine.Engine) *Store {
	return &Store{root: indexPath, eng: eng}
}

func (s *Store) folder(id ContentId) string {
	return filepath.Join(s.root, string(id))
}

// DataPath returns the location of the document's metadata file. The
// registry's self-heal keys on its existence.
func (s *Store) DataPath(id ContentId) string {
	return filepath.Join(s.folder(id), "data.json")
}

func (s *Store) Save(id ContentId, name, rel string, art Artifact) error {
	folder := s.folder(id)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact folder: %w", err)
	}

	raw, err := json.MarshalIndent(docData{Name: name, Path: rel, Summary: art.Summary}, "", "    ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.DataPath(id), raw, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact metadata: %w", err)
	}

	if err := s.eng.Persist(art.Index, filepath.Join(folder, "index")); err != nil {
		return fmt.Errorf("failed to persist sub-index: %w", err)
	}

	return nil
}

// Load reads one document's artifact back. A missing folder or file
// reports not-present rather than an error.
func (s *Store) Load(id ContentId) (Artifact, bool, error) {
	raw, err := os.ReadFile(s.DataPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return Artifact{}, false, nil
	}
	if err != nil {
		return Artifact{}, false, fmt.Errorf("failed to read artifact metadata: %w", err)
	}

	var data docData
	if err := json.Unmarshal(raw, &data); err != nil {
		return Artifact{}, false, fmt.Errorf("failed to parse artifact metadata: %w", err)
	}

	sub, err := s.eng.Restore(filepath.Join(s.folder(id), "index"))
	if errors.Is(err, engine.ErrNotPersisted) {
		return Artifact{}, false, nil
	}
	if err != nil {
		return Artifact{}, false, err
	}

	return Artifact{Summary: data.Summary, Index: sub}, true, nil
}

func (s *Store) Remove(id ContentId) error {
	return os.RemoveAll(s.folder(id))
}
