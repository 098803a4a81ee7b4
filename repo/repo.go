// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

// Package repo implements a filesystem-backed document index (spec.md
// §4.8 step 1's document-index collaborator, C15): it loads every `*.json`
// policy/policy-set document beneath a root directory, decodes it via
// ast.DecodeDocument, and watches the tree with fsnotify so edits are
// picked up without a restart — grounded on the teacher's
// filewatcher/filewatcher.go (watch paths, debounce via a single reload
// callback) and runtime/runtime.go (initial load-then-watch sequencing).
package repo

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/saplcore/pdp/ast"
	"github.com/saplcore/pdp/eval"
	"github.com/saplcore/pdp/logging"
)

// Repo is a pdp.Index over a directory of JSON-encoded documents. All
// documents are currently returned as candidates for every subscription —
// spec.md §4.8 step 1 treats the index's filtering stage as a
// collaborator's concern, not this module's (§1, "persistent policy
// storage... out of scope" beyond this consumption contract). A Repo
// provides a conservative default: return everything, let target
// evaluation do the filtering it already must do regardless.
type Repo struct {
	root   string
	logger logging.Logger

	mu   sync.RWMutex
	docs map[string]ast.Document // path -> decoded document
}

// New constructs a Repo rooted at dir without loading anything yet; call
// Load to populate it and Watch to keep it live.
func New(dir string, logger logging.Logger) *Repo {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Repo{root: dir, logger: logger, docs: map[string]ast.Document{}}
}

// Load walks root and decodes every *.json file found, replacing the
// current snapshot wholesale on success. A malformed document aborts the
// whole reload (spec.md gives no partial-bundle semantics) and leaves the
// previous snapshot in place.
func (r *Repo) Load() error {
	next := map[string]ast.Document{}
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		doc, err := ast.DecodeDocument(raw)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", path, err)
		}
		next[path] = doc
		return nil
	})
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.docs = next
	r.mu.Unlock()
	r.logger.Info("loaded %d document(s) from %s", len(next), r.root)
	return nil
}

// Candidates implements pdp.Index.
func (r *Repo) Candidates(context.Context, eval.Subscription) ([]ast.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ast.Document, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, d)
	}
	return out, nil
}

// Watch starts an fsnotify watch over root and reloads on every
// create/write/remove/rename event until ctx is cancelled, mirroring the
// teacher's FileWatcher.readWatcher event-to-mask mapping.
func (r *Repo) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addRecursive(watcher, r.root); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		const mask = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
		for {
			select {
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if evt.Op&mask == 0 {
					continue
				}
				r.logger.Debug("document change detected: %s", evt)
				if err := r.Load(); err != nil {
					r.logger.Error("reload failed: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Error("watch error: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
