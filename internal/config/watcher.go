package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk and hands the
// fresh Config to a callback. Only tunables read through accessor methods
// (ranking weights, forgetting thresholds) take effect without a restart;
// storage and transport settings need a restart.
type Watcher struct {
	path     string
	onReload func(*Config)
	logger   *log.Logger

	fs     *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// debounceWindow coalesces the burst of events editors emit per save.
const debounceWindow = 250 * time.Millisecond

// NewWatcher starts watching path. onReload runs on the watcher goroutine
// after each successful reload.
func NewWatcher(path string, onReload func(*Config), logger *log.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: editors replace files on save,
	// which drops a file-level watch.
	if err := fs.Add(filepath.Dir(path)); err != nil {
		_ = fs.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     path,
		onReload: onReload,
		logger:   logger,
		fs:       fs,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.loop(ctx)
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.cancel()
	<-w.done
	return w.fs.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(debounceWindow)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Printf("config: watcher error: %v", err)
			}
		case <-pending:
			pending = nil
			cfg, err := Load(w.path)
			if err != nil {
				if w.logger != nil {
					w.logger.Printf("config: reload failed, keeping previous config: %v", err)
				}
				continue
			}
			if w.logger != nil {
				w.logger.Printf("config: reloaded %s", w.path)
			}
			if w.onReload != nil {
				w.onReload(cfg)
			}
		}
	}
}
