package manifest

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchDebounce sets the debounce duration for file change events.
func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// ChangeEvent is delivered when the reloaded project differs from the last
// one seen.
type ChangeEvent struct {
	Project        *Project
	OldFingerprint string
	NewFingerprint string
	Time           time.Time
}

// Watcher reloads a manifest when it or one of its script files changes and
// invokes a callback with the new project. It watches directories rather
// than files so atomic saves (rename-over) are seen.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onChange func(ChangeEvent)

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	last    string
	watched map[string]struct{}

	mu      sync.Mutex
	pending time.Time
}

// NewWatcher creates a Watcher for the manifest at path.
func NewWatcher(path string, onChange func(ChangeEvent), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     path,
		debounce: 500 * time.Millisecond,
		logger:   slog.Default(),
		onChange: onChange,
		done:     make(chan struct{}),
		watched:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start loads the project once and begins watching. The initial project is
// returned; onChange only fires for later changes.
func (w *Watcher) Start() (*Project, error) {
	p, err := Load(w.path)
	if err != nil {
		return nil, err
	}
	w.last = p.Fingerprint()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("manifest watcher: create fsnotify: %w", err)
	}
	w.fsWatcher = fsw
	if err := w.watch(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w.watchSources(p)

	w.wg.Add(1)
	go w.loop()
	return p, nil
}

// Stop terminates the watcher and waits for the background goroutine to
// exit. It is safe to call Stop multiple times.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

func (w *Watcher) watch(dir string) error {
	if _, ok := w.watched[dir]; ok {
		return nil
	}
	if err := w.fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("manifest watcher: watch %s: %w", dir, err)
	}
	w.watched[dir] = struct{}{}
	return nil
}

// watchSources adds the directories of script files, which may be new
// after a reload.
func (w *Watcher) watchSources(p *Project) {
	for _, dir := range p.sourceDirs() {
		if err := w.watch(dir); err != nil {
			w.logger.Warn("manifest watcher: cannot watch script directory", "dir", dir, "error", err)
		}
	}
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("manifest watcher error", "error", err)

		case <-ticker.C:
			w.mu.Lock()
			ready := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if ready {
				w.pending = time.Time{}
			}
			w.mu.Unlock()
			if ready {
				w.reload()
			}
		}
	}
}

// reload loads the project and calls onChange if its fingerprint moved.
// A manifest that fails to load is logged and otherwise ignored; the next
// change is tried again.
func (w *Watcher) reload() {
	p, err := Load(w.path)
	if err != nil {
		w.logger.Error("manifest watcher: failed to load manifest", "path", w.path, "error", err)
		return
	}
	fp := p.Fingerprint()
	if fp == w.last {
		w.logger.Debug("manifest watcher: project unchanged, skipping", "path", w.path)
		return
	}
	old := w.last
	w.last = fp
	w.watchSources(p)

	w.logger.Info("manifest changed", "path", w.path, "old_fingerprint", old[:8], "new_fingerprint", fp[:8])
	w.onChange(ChangeEvent{
		Project:        p,
		OldFingerprint: old,
		NewFingerprint: fp,
		Time:           time.Now(),
	})
}
