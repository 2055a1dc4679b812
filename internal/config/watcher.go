package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher keeps the latest valid configuration loaded from a file. Edits that
// fail to parse or validate are logged and the previous snapshot is kept.
type Watcher struct {
	path    string
	log     *slog.Logger
	current atomic.Pointer[Config]

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	onChange []func(Config)
	done     chan struct{}
}

func NewWatcher(path string, initial Config, log *slog.Logger) *Watcher {
	w := &Watcher{
		path: path,
		log:  log.With(slog.String("component", "config-watcher")),
		done: make(chan struct{}),
	}
	w.current.Store(&initial)
	return w
}

// Current returns the latest valid configuration.
func (w *Watcher) Current() Config {
	return *w.current.Load()
}

// OnChange registers fn to run after each successful reload.
func (w *Watcher) OnChange(fn func(Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start watches the config file's directory so editors that replace the file
// on save are still picked up.
func (w *Watcher) Start(ctx context.Context) error {
	if w.path == "" {
		close(w.done)
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	w.mu.Lock()
	w.watcher = fw
	w.mu.Unlock()

	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) Close() {
	w.mu.Lock()
	fw := w.watcher
	w.watcher = nil
	w.mu.Unlock()
	if fw != nil {
		_ = fw.Close()
		<-w.done
	}
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	defer close(w.done)
	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.Reload()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

// Reload re-reads the file and swaps the snapshot when it is valid.
func (w *Watcher) Reload() bool {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("ignoring invalid config change", slog.String("path", w.path), slog.String("error", err.Error()))
		return false
	}
	w.current.Store(&cfg)
	w.log.Info("config reloaded", slog.String("path", w.path))

	w.mu.Lock()
	callbacks := append([]func(Config){}, w.onChange...)
	w.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return true
}
