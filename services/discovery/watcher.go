package discovery

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/upb/llm-cascade/services/candidates"
)

// ErrEmptyTable is returned when a candidates file holds no entries
var ErrEmptyTable = errors.New("candidates file has no entries")

// Watcher reloads a candidates file into a registry whenever it changes. The
// file is read as TOML when it ends in .toml and as YAML otherwise.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	target   *candidates.Registry
	debounce time.Duration
	logger   *zap.Logger
	onReload func(version uint64, err error)

	stopCh       chan struct{}
	stopOnce     sync.Once
	mu           sync.Mutex
	pendingTimer *time.Timer
}

// NewWatcher creates a watcher for path. The directory is watched rather than
// the file so editors that replace the file on save are still noticed.
func NewWatcher(path string, target *candidates.Registry, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsWatcher.Close()
		return nil, err
	}
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return &Watcher{
		watcher:  fsWatcher,
		path:     abs,
		target:   target,
		debounce: debounce,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

// OnReload registers a callback invoked after every reload attempt
func (w *Watcher) OnReload(fn func(version uint64, err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// Load reads the file once and replaces the registry table. An empty file
// leaves the registry untouched.
func (w *Watcher) Load() (uint64, error) {
	table, err := candidates.LoadTableFile(w.path)
	if err != nil {
		return 0, err
	}
	if table.Len() == 0 {
		return 0, ErrEmptyTable
	}
	version := w.target.Replace(table)
	w.logger.Info("candidates file loaded",
		zap.String("path", w.path),
		zap.Int("candidates", table.Len()),
		zap.Uint64("version", version),
	)
	return version, nil
}

// Start begins watching in a background goroutine
func (w *Watcher) Start() {
	go w.run()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("candidates watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	w.logger.Debug("candidates file changed",
		zap.String("path", event.Name),
		zap.String("op", event.Op.String()),
	)
	w.triggerReload()
}

func (w *Watcher) triggerReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.pendingTimer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.pendingTimer = nil
		callback := w.onReload
		w.mu.Unlock()

		version, err := w.Load()
		if err != nil {
			// a broken file keeps the current table
			w.logger.Error("candidates reload failed", zap.String("path", w.path), zap.Error(err))
		}
		if callback != nil {
			callback(version, err)
		}
	})
}

// Stop stops watching
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)

		w.mu.Lock()
		if w.pendingTimer != nil {
			w.pendingTimer.Stop()
		}
		w.mu.Unlock()

		err = w.watcher.Close()
	})
	return err
}
