// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package watcher recursively watches a directory tree for `.jsonl`
// transcript file changes and emits transcript.FileEvent values.
package watcher

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ccobservatory/core/internal/transcript"
)

const defaultModifyDebounce = 75 * time.Millisecond

// StartupError wraps an unrecoverable failure during Start.
type StartupError struct {
	Root string
	Err  error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("watcher: startup failed for root %q: %v", e.Root, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// Watcher recursively watches root for create/modify/delete/move events on
// files named *.jsonl, emitting a transcript.FileEvent per change on Sink.
// Directories created under root are added to the underlying fsnotify
// watch automatically, so new project/session subdirectories are covered
// without a restart.
type Watcher struct {
	root      string
	sink      chan<- transcript.FileEvent
	debounce  *Debouncer
	fsWatcher *fsnotify.Watcher

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Watcher for root, delivering events on sink. modifyWindow
// debounces bursts of write events on the same file; if <= 0 it defaults
// to 75ms.
func New(root string, sink chan<- transcript.FileEvent, modifyWindow time.Duration) *Watcher {
	if modifyWindow <= 0 {
		modifyWindow = defaultModifyDebounce
	}
	return &Watcher{
		root:     root,
		sink:     sink,
		debounce: NewDebouncer(modifyWindow),
	}
}

// Start creates root if absent, walks the tree adding a watch for every
// directory found, and begins delivering events. Start is idempotent: a
// second call is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		log.Printf("watcher: Start called on an already-started watcher for %q", w.root)
		return nil
	}

	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return &StartupError{Root: w.root, Err: err}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return &StartupError{Root: w.root, Err: err}
	}

	if err := filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	}); err != nil {
		fsw.Close()
		return &StartupError{Root: w.root, Err: err}
	}

	w.fsWatcher = fsw
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.started = true

	go w.run()
	return nil
}

// Stop tears the watcher down. Idempotent; a second call is a no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		log.Println("watcher: Stop called on a watcher that was never started")
		return
	}
	w.started = false
	stopCh := w.stopCh
	doneCh := w.doneCh
	w.mu.Unlock()

	close(stopCh)
	<-doneCh
	w.debounce.Stop()
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	defer w.fsWatcher.Close()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: transient error on %q: %v", w.root, err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	info, statErr := os.Lstat(event.Name)
	isDir := statErr == nil && info.IsDir()

	if event.Has(fsnotify.Create) && isDir {
		if err := w.fsWatcher.Add(event.Name); err != nil {
			log.Printf("watcher: failed to add watch for new directory %q: %v", event.Name, err)
		}
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		w.emitFiltered(transcript.EventCreated, event.Name, "", isDir)
	case event.Has(fsnotify.Write):
		w.debounce.Debounce(event.Name, func() {
			w.emitFiltered(transcript.EventModified, event.Name, "", isDir)
		})
	case event.Has(fsnotify.Remove):
		w.debounce.Cancel(event.Name)
		w.emitFiltered(transcript.EventDeleted, event.Name, "", isDir)
	case event.Has(fsnotify.Rename):
		// fsnotify surfaces a rename as an event on the old path only; it
		// does not expose the inotify move-cookie needed to pair it with
		// the new path's Create, so we cannot populate dest_path reliably.
		// Emit deleted for the old path instead of fabricating a moved
		// event with an invalid dest_path; the OS delivers a separate
		// Create for the new name, which the filter picks up normally.
		w.debounce.Cancel(event.Name)
		w.emitFiltered(transcript.EventDeleted, event.Name, "", isDir)
	}
}

func (w *Watcher) emitFiltered(kind transcript.EventKind, src, dest string, isDir bool) {
	if isDir {
		return
	}
	if !matchesFilter(src) && !matchesFilter(dest) {
		return
	}

	fe, err := transcript.NewFileEvent(kind, src, dest, isDir, time.Now().UTC())
	if err != nil {
		log.Printf("watcher: dropping malformed event: %v", err)
		return
	}

	select {
	case w.sink <- fe:
	default:
		// Bounded queue is full; log and drop rather than block the
		// watcher goroutine indefinitely (delivery is best-effort).
		log.Printf("watcher: sink full, dropping event for %q", src)
	}
}

func matchesFilter(path string) bool {
	if path == "" {
		return false
	}
	return strings.HasSuffix(path, ".jsonl")
}
