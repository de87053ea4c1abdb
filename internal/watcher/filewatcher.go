package watcher

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileWatcher watches a directory holding one or more CSV policy files
// (spec §6) and fires its registered UpdateCallback, debounced, whenever
// a file under it changes. It advertises only the coarse Update() path:
// a plain file has no efficient way to report which rule changed, so
// every notification is a full-reload signal.
type FileWatcher struct {
	fsw    *fsnotify.Watcher
	path   string
	logger *zap.Logger

	debounce time.Duration
	mu       sync.Mutex
	callback UpdateCallback
	timer    *time.Timer

	stop chan struct{}
	once sync.Once
}

var _ Watcher = (*FileWatcher)(nil)

// NewFileWatcher starts watching path (a directory or a single file).
// A nil logger defaults to zap.NewNop(), matching the ambient logging
// convention used throughout this module.
func NewFileWatcher(path string, logger *zap.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: creating fsnotify watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watcher: watching %s: %w", path, err)
	}

	fw := &FileWatcher{
		fsw:      fsw,
		path:     path,
		logger:   logger,
		debounce: 500 * time.Millisecond,
		stop:     make(chan struct{}),
	}
	go fw.run()
	return fw, nil
}

// SetUpdateCallback registers the callback invoked (debounced) after a
// filesystem change settles.
func (fw *FileWatcher) SetUpdateCallback(fn UpdateCallback) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.callback = fn
}

// Update notifies peers that this instance changed policy. FileWatcher
// has no remote peers of its own (it is the local half of the watcher
// contract); Update is a no-op that succeeds, matching a single-node
// deployment's expectations.
func (fw *FileWatcher) Update() error { return nil }

func (fw *FileWatcher) run() {
	for {
		select {
		case ev, ok := <-fw.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			fw.scheduleFire()
		case err, ok := <-fw.fsw.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("watcher: fsnotify error", zap.Error(err))
		case <-fw.stop:
			return
		}
	}
}

func (fw *FileWatcher) scheduleFire() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(fw.debounce, fw.fire)
}

func (fw *FileWatcher) fire() {
	fw.mu.Lock()
	cb := fw.callback
	fw.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Close stops watching and releases the underlying fsnotify handle.
func (fw *FileWatcher) Close() error {
	fw.once.Do(func() { close(fw.stop) })
	return fw.fsw.Close()
}
