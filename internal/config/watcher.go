package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is the default delay for debouncing file system events.
// Editors often write a settings file several times in quick succession
// (truncate, write, rename); one reload per burst is enough.
const DebounceDelay = 100 * time.Millisecond

// SettingsWatcher monitors the settings file and notifies a callback with
// the freshly parsed configuration after each change. Parse failures are
// logged and skipped; the previous configuration stays in effect.
type SettingsWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	onChange func(*Config)
	logger   *slog.Logger

	debounceMu    sync.Mutex
	debounceDelay time.Duration
	debounceTimer *time.Timer

	done    chan struct{}
	stopped chan struct{}
}

// NewSettingsWatcher creates a watcher for the given settings file.
// Call Start() to begin watching and Close() when done.
func NewSettingsWatcher(path string, onChange func(*Config), logger *slog.Logger) (*SettingsWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	// Watch the directory, not the file: atomic saves replace the inode
	// and a file-level watch would go stale after the first rename.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &SettingsWatcher{
		watcher:       fsw,
		path:          path,
		onChange:      onChange,
		logger:        logger,
		debounceDelay: DebounceDelay,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}, nil
}

// SetDebounceDelay overrides the debounce delay. Must be called before
// Start().
func (w *SettingsWatcher) SetDebounceDelay(d time.Duration) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	w.debounceDelay = d
}

// Start begins the event processing loop.
func (w *SettingsWatcher) Start() {
	go w.eventLoop()
}

// Close stops the watcher and releases resources.
func (w *SettingsWatcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	<-w.stopped
	return err
}

func (w *SettingsWatcher) eventLoop() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
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
			w.logger.Warn("settings watcher error", "error", err)
		}
	}
}

func (w *SettingsWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}
	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.fireChange)
	w.debounceMu.Unlock()
}

func (w *SettingsWatcher) fireChange() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("settings reload failed, keeping previous configuration",
			"path", w.path, "error", err)
		return
	}
	w.logger.Debug("settings reloaded", "path", w.path)
	w.onChange(cfg)
}
