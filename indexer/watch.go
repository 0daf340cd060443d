package indexer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch follows filesystem events under the root and triggers a build
// pass after each quiet period. It returns once the watcher is running;
// the watcher stops when ctx is cancelled.
func (ix *Indexer) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := ix.watchTree(w, ix.cfg.Root); err != nil {
		w.Close()
		return err
	}

	go ix.watchLoop(ctx, w)

	return nil
}

// watchTree registers dir and every non-ignored directory below it.
func (ix *Indexer) watchTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(ix.cfg.Root, path)
		if err != nil {
			return err
		}
		if rel != "." && ix.filter.SkipDir(rel) {
			return fs.SkipDir
		}

		return w.Add(path)
	})
}

func (ix *Indexer) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()

	debounce := time.Duration(ix.cfg.DebounceMs) * time.Millisecond
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}

			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := ix.watchTree(w, ev.Name); err != nil {
						ix.log.Warn("failed to watch new folder", "path", ev.Name, "error", err)
					}
				}
			}

			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			ix.log.Warn("watcher error", "error", err)

		case <-timer.C:
			if _, err := ix.Build(ctx); err != nil {
				ix.log.Error("build pass failed", "error", err)
			}
		}
	}
}
