package directory

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher invalidates a directory's cache when the document file on disk
// changes, so hand edits and other processes' deploys are picked up.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	debounce  time.Duration
	onChange  func()
	done      chan struct{}
	stopped   chan struct{}

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stopErr  error
}

// NewWatcher watches the file at path and calls onChange once per burst of
// events, after debounce of quiet.
func NewWatcher(path string, debounce time.Duration, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Watcher{
		fsWatcher: fsw,
		path:      filepath.Clean(path),
		debounce:  debounce,
		onChange:  onChange,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// WatchDirectory wires a watcher to d's cache.
func WatchDirectory(d *Directory, path string, debounce time.Duration) (*Watcher, error) {
	return NewWatcher(path, debounce, d.Invalidate)
}

// Start watches the directory containing the file. It fails after Stop or
// when called twice.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.done:
		return fmt.Errorf("watcher for %s is stopped", w.path)
	default:
	}
	if w.started {
		return fmt.Errorf("watcher for %s already started", w.path)
	}
	dir := filepath.Dir(w.path)
	if err := w.fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("watching directory %s: %w", dir, err)
	}
	w.started = true
	go w.loop()
	return nil
}

// Stop terminates the watcher and releases resources. It is safe to call
// before Start and more than once.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		close(w.done)
		started := w.started
		w.mu.Unlock()
		w.stopErr = w.fsWatcher.Close()
		if started {
			<-w.stopped
		}
	})
	return w.stopErr
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.isRelevantEvent(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if w.onChange != nil {
				w.onChange()
			}
		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	return filepath.Clean(event.Name) == w.path
}
