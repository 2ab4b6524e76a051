package settings

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Watcher reloads the settings document when it changes on disk outside
// this process (e.g. edited by hand or restored from a backup). The store's
// own atomic writes land as rename events on the same path and are absorbed
// harmlessly by the reload.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching the store's document directory.
func Watch(store *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "settings: create watcher")
	}

	// Watch the directory, not the file: editors and atomic writers replace
	// the file, which would silently drop a file-level watch.
	if err := fsw.Add(filepath.Dir(store.Path())); err != nil {
		fsw.Close()
		return nil, errors.Wrap(err, "settings: watch directory")
	}

	w := &Watcher{store: store, watcher: fsw, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	target := filepath.Base(w.store.Path())
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := w.store.Reload(); err != nil {
				log.Printf("settings: reload after external change: %v", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("settings: watcher error: %v", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
