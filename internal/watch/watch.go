// Package watch turns filesystem write events under the workspace into
// document-saved signals for the client.
package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/refinelabs/refine/internal/logging"
)

// SaveHandler receives the path of a document that was persisted.
type SaveHandler func(path string)

// SaveWatcher watches a workspace tree and reports file writes. It is the
// save-event source: purely cosmetic from the lifecycle's point of view,
// used to flip the status to Loading pending the next diagnostics round.
type SaveWatcher struct {
	watcher *fsnotify.Watcher
	handler SaveHandler
	log     *logging.Logger

	closeOnce sync.Once
}

// New creates a watcher rooted at root and starts delivering save events
// to handler. Hidden directories are skipped.
func New(root string, handler SaveHandler, log *logging.Logger) (*SaveWatcher, error) {
	if log == nil {
		log = logging.Null
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &SaveWatcher{
		watcher: fsw,
		handler: handler,
		log:     log,
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); strings.HasPrefix(name, ".") && path != root {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}

	go w.loop()

	return w, nil
}

// loop consumes watcher events until the watcher closes.
func (w *SaveWatcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					// New directories join the watch set as they appear.
					_ = w.watcher.Add(event.Name)
					continue
				}
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
				w.handler(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Debug("watcher: %v", err)
		}
	}
}

// Close stops the watcher. Safe to call multiple times.
func (w *SaveWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
	})
	return err
}
