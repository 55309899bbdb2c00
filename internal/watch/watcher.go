// Package watch detects external modifications to open documents. It
// watches the parent directory of each registered file rather than the
// file itself, so atomic rename-replace writes by other programs are
// still observed. Events are debounced per path, and events arriving
// inside the grace window after a save by this process are dropped as
// self-triggered.
package watch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind classifies a coalesced file change.
type ChangeKind string

const (
	// ChangeModified means the file still exists with new content.
	ChangeModified ChangeKind = "modified"
	// ChangeRemoved means the file no longer exists.
	ChangeRemoved ChangeKind = "removed"
)

// Change is one coalesced external change to a watched file.
type Change struct {
	Path string
	Kind ChangeKind
}

// Handler receives coalesced changes. Called from a timer goroutine;
// implementations must not block for long.
type Handler func(Change)

// Watcher tracks a set of files and reports external changes to them.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	grace    time.Duration
	handler  Handler

	mu      sync.Mutex
	watched map[string]bool
	dirRefs map[string]int
	timers  map[string]*time.Timer

	// saved maps a path to the expiry of its post-save grace window.
	saved map[string]time.Time

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWatcher starts a watcher. Changes are coalesced per path over
// debounce; events within grace of a MarkSaved call are dropped.
func NewWatcher(debounce, grace time.Duration, handler Handler) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start file watcher: %w", err)
	}
	w := &Watcher{
		fsw:      fsw,
		debounce: debounce,
		grace:    grace,
		handler:  handler,
		watched:  make(map[string]bool),
		dirRefs:  make(map[string]int),
		timers:   make(map[string]*time.Timer),
		saved:    make(map[string]time.Time),
		closed:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Watch registers path for change notifications.
func (w *Watcher) Watch(path string) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watched[path] {
		return nil
	}
	if w.dirRefs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.dirRefs[dir]++
	w.watched[path] = true
	return nil
}

// Unwatch stops notifications for path. Idempotent.
func (w *Watcher) Unwatch(path string) {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watched[path] {
		return
	}
	delete(w.watched, path)
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
	w.dirRefs[dir]--
	if w.dirRefs[dir] <= 0 {
		delete(w.dirRefs, dir)
		_ = w.fsw.Remove(dir)
	}
}

// MarkSaved opens the grace window for path: events arriving before it
// expires are treated as echoes of this process's own write.
func (w *Watcher) MarkSaved(path string) {
	path = filepath.Clean(path)
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()
	for p, expiry := range w.saved {
		if now.After(expiry) {
			delete(w.saved, p)
		}
	}
	w.saved[path] = now.Add(w.grace)
}

// Close stops the watcher and waits for the event loop to exit. Pending
// debounce timers are cancelled. Idempotent.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		err = w.fsw.Close()

		w.mu.Lock()
		for path, t := range w.timers {
			t.Stop()
			delete(w.timers, path)
		}
		w.mu.Unlock()

		w.wg.Wait()
	})
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.observe(filepath.Clean(ev.Name))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("file watcher error", "error", err)
		case <-w.closed:
			return
		}
	}
}

// observe arms (or re-arms) the debounce timer for a watched path.
func (w *Watcher) observe(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watched[path] {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.fire(path)
	})
}

// fire delivers one coalesced change. The grace window is checked here,
// after the debounce, so a save that completes while the timer is
// pending still suppresses its own event.
func (w *Watcher) fire(path string) {
	select {
	case <-w.closed:
		return
	default:
	}

	w.mu.Lock()
	delete(w.timers, path)
	if !w.watched[path] {
		w.mu.Unlock()
		return
	}
	if expiry, ok := w.saved[path]; ok && time.Now().Before(expiry) {
		w.mu.Unlock()
		slog.Debug("ignoring self-triggered file event", "path", path)
		return
	}
	w.mu.Unlock()

	kind := ChangeModified
	if _, err := os.Stat(path); err != nil {
		kind = ChangeRemoved
	}
	w.handler(Change{Path: path, Kind: kind})
}
