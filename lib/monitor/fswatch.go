// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/seacliff-io/pier/lib/ipc"
)

// FSWatch is a filesystem Monitor: it watches a directory tree and
// emits one event per create/write/rename/remove. Directories created
// while watching are added to the watch set.
type FSWatch struct {
	connectorID string
	root        string

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	done     chan struct{}
	finished sync.WaitGroup

	processed atomic.Uint64
	startTime time.Time
}

// NewFSWatch returns a monitor for the directory tree rooted at root.
// The tree is walked at Start time; a root that does not exist is a
// Start error.
func NewFSWatch(connectorID, root string) *FSWatch {
	return &FSWatch{
		connectorID: connectorID,
		root:        root,
	}
}

// Start walks the tree, registers watches, and begins delivering
// events to callback from an internal goroutine.
func (w *FSWatch) Start(callback Callback) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return fmt.Errorf("monitor: filesystem watch already started")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("monitor: creating filesystem watcher: %w", err)
	}

	walkErr := filepath.WalkDir(w.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if walkErr != nil {
		watcher.Close()
		return fmt.Errorf("monitor: watching %s: %w", w.root, walkErr)
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	w.startTime = time.Now()
	w.finished.Add(1)
	go w.run(watcher, w.done, callback)
	return nil
}

// Stop halts detection and waits for the delivery goroutine to exit.
func (w *FSWatch) Stop() error {
	w.mu.Lock()
	watcher := w.watcher
	done := w.done
	w.watcher = nil
	w.done = nil
	w.mu.Unlock()

	if watcher == nil {
		return nil
	}
	close(done)
	watcher.Close()
	w.finished.Wait()
	return nil
}

// Statistics returns the snapshot.
func (w *FSWatch) Statistics() Statistics {
	w.mu.Lock()
	running := w.watcher != nil
	startTime := w.startTime
	w.mu.Unlock()
	return Statistics{
		EventsProcessed: w.processed.Load(),
		StartTime:       startTime,
		Running:         running,
	}
}

func (w *FSWatch) run(watcher *fsnotify.Watcher, done chan struct{}, callback Callback) {
	defer w.finished.Done()

	for {
		select {
		case <-done:
			return
		case notification, open := <-watcher.Events:
			if !open {
				return
			}
			// New directories join the watch set so the whole tree
			// stays covered.
			if notification.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(notification.Name); err == nil && info.IsDir() {
					watcher.Add(notification.Name)
				}
			}
			w.processed.Add(1)
			callback(ipc.Event{
				ConnectorID: w.connectorID,
				Type:        "file_" + opName(notification.Op),
				Timestamp:   time.Now(),
				Payload: map[string]any{
					"path":      notification.Name,
					"operation": opName(notification.Op),
				},
			})
		case _, open := <-watcher.Errors:
			if !open {
				return
			}
		}
	}
}

// opName reduces an fsnotify op bitmask to its dominant operation.
func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "created"
	case op.Has(fsnotify.Write):
		return "modified"
	case op.Has(fsnotify.Remove):
		return "deleted"
	case op.Has(fsnotify.Rename):
		return "renamed"
	case op.Has(fsnotify.Chmod):
		return "chmod"
	default:
		return strings.ToLower(op.String())
	}
}
