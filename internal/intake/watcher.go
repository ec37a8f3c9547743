// Package intake feeds media files arriving in a directory into the
// dispatch queue.
package intake

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher enqueues every regular file that appears in the intake
// directory. Files already present at startup are picked up by
// ScanExisting; Run handles everything that arrives afterwards.
type Watcher struct {
	dir     string
	enqueue func(path string)
	logger  *log.Logger
}

// New creates a watcher over dir. Each queued file is reported through
// enqueue with its absolute path: job paths travel to workers, which
// fetch them over rsync, so a path relative to the coordinator's working
// directory would resolve against the wrong root on the remote side.
func New(dir string, enqueue func(path string), logger *log.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("intake: resolve %s: %w", dir, err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Watcher{dir: abs, enqueue: enqueue, logger: logger}, nil
}

// EnsureDir creates the intake directory when it does not exist.
func (w *Watcher) EnsureDir() error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("intake: create %s: %w", w.dir, err)
	}
	return nil
}

// ScanExisting enqueues the regular files already present in the intake
// directory, in directory order. Called once before Run so files that
// arrived while the coordinator was down are not lost.
func (w *Watcher) ScanExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("intake: scan %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		w.logger.Printf("intake: queued %s", path)
		w.enqueue(path)
	}
	return nil
}

// Run watches the intake directory for newly created files. Blocks until
// ctx is cancelled. Any watcher error is returned and the caller must
// treat it as fatal: a coordinator that has stopped noticing new files
// must not keep serving.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("intake: start watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("intake: watch %s: %w", w.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			// Creation events fire for directories and sockets too;
			// only regular files are convertible.
			info, err := os.Stat(event.Name)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			w.logger.Printf("intake: queued %s", event.Name)
			w.enqueue(event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("intake: watch %s: %w", w.dir, err)
		}
	}
}
