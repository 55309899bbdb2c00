// Package engine ties the synchronization pieces together behind the
// types.Engine interface: documents loaded from TOML files, display
// mappings and filters, debounced atomic saves, permission recovery,
// derived computations with a persistent result cache, and external
// change detection.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/mesh-intelligence/trestle/internal/cache"
	"github.com/mesh-intelligence/trestle/internal/compute"
	"github.com/mesh-intelligence/trestle/internal/generation"
	"github.com/mesh-intelligence/trestle/internal/recovery"
	"github.com/mesh-intelligence/trestle/internal/storage"
	"github.com/mesh-intelligence/trestle/internal/watch"
	"github.com/mesh-intelligence/trestle/pkg/types"
)

const (
	// watchDebounce coalesces bursts of file events before the engine
	// reacts. Much shorter than the save debounce: it only has to absorb
	// editors that write in several syscalls.
	watchDebounce = 100 * time.Millisecond

	resultBuffer = 64
	eventBuffer  = 32
)

// Engine is the concrete types.Engine. Zero value is not usable; call
// New, then Attach.
type Engine struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	fs       storage.FS
	fns      map[string]compute.Function
	docs     map[string]*document

	tracker  *generation.Tracker
	writer   *storage.Writer
	recovery *recovery.Manager
	exec     *compute.Executor
	cache    *cache.Cache
	watcher  *watch.Watcher

	events  chan types.Event
	results chan types.ComputationResult
	done    chan struct{}
	wg      sync.WaitGroup
}

// New returns a detached Engine backed by the real filesystem.
func New() *Engine {
	return NewWithFS(storage.NewOSFS())
}

// NewWithFS returns a detached Engine using fsys for document IO. The
// derived-result cache and the file watcher always use the real
// filesystem.
func NewWithFS(fsys storage.FS) *Engine {
	return &Engine{
		fs:  fsys,
		fns: make(map[string]compute.Function),
	}
}

// Attach starts the engine: result cache, file watcher, computation
// workers, and the permission recheck loop.
func (e *Engine) Attach(config types.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.attached {
		return types.ErrAlreadyAttached
	}
	cfg := config.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	var cc *cache.Cache
	if cfg.CacheDir != "" {
		cc = cache.NewCache()
		if err := cc.Attach(cfg.CacheDir, cfg.CacheCapacity); err != nil {
			return fmt.Errorf("attach result cache: %w", err)
		}
	}

	watcher, err := watch.NewWatcher(watchDebounce, cfg.WatchGrace, e.handleFileChange)
	if err != nil {
		if cc != nil {
			_ = cc.Detach()
		}
		return err
	}

	e.config = cfg
	e.cache = cc
	e.watcher = watcher
	e.tracker = generation.NewTracker()
	e.writer = storage.NewWriter(e.fs)
	e.recovery = recovery.NewManager(e.fs, e.notifyPermission)
	e.exec = compute.NewExecutor(e.tracker, cfg.ComputeWorkers, resultBuffer)
	for name, fn := range e.fns {
		e.exec.Register(name, fn)
	}
	e.exec.Start()

	e.docs = make(map[string]*document)
	e.events = make(chan types.Event, eventBuffer)
	e.results = make(chan types.ComputationResult, resultBuffer)
	e.done = make(chan struct{})

	e.wg.Add(1)
	go e.pumpResults(e.exec, cc, e.results)
	if cfg.RecheckInterval > 0 {
		e.wg.Add(1)
		go e.recheckLoop(cfg.RecheckInterval, e.done)
	}

	e.attached = true
	slog.Info("engine attached",
		"workers", cfg.ComputeWorkers, "debounce", cfg.DebounceInterval, "cache", cfg.CacheDir != "")
	return nil
}

// Detach flushes dirty documents, stops the watcher, workers, and
// recheck loop, and closes the event and result channels. Idempotent.
func (e *Engine) Detach() error {
	e.mu.Lock()
	if !e.attached {
		e.mu.Unlock()
		return nil
	}
	e.attached = false
	docs := e.docs
	e.docs = make(map[string]*document)
	e.mu.Unlock()

	var errs error
	for _, d := range docs {
		d.deb.Stop()
		if d.isDirty() {
			if _, err := e.saveDocument(d); err != nil {
				slog.Warn("flush on detach failed", "path", d.path, "table", d.table, "error", err)
				errs = errors.Join(errs, err)
			}
		}
	}

	if err := e.watcher.Close(); err != nil {
		errs = errors.Join(errs, err)
	}
	close(e.done)
	e.exec.Stop()
	e.wg.Wait()
	close(e.events)

	if e.cache != nil {
		if err := e.cache.Detach(); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	slog.Info("engine detached")
	return errs
}

// RegisterFunction makes a derived function available under name.
func (e *Engine) RegisterFunction(name string, fn func(types.Row) (any, error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fns[name] = compute.Function(fn)
	if e.attached {
		e.exec.Register(name, compute.Function(fn))
	}
}

// Results delivers completed, still-fresh computation results. Nil
// before the first Attach.
func (e *Engine) Results() <-chan types.ComputationResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.results
}

// Events delivers engine notifications. Nil before the first Attach.
func (e *Engine) Events() <-chan types.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.events
}

// document returns the open document for (path, table).
func (e *Engine) document(path, table string) (*document, error) {
	path = filepath.Clean(path)
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.attached {
		return nil, types.ErrDetached
	}
	d, ok := e.docs[docKey(path, table)]
	if !ok {
		return nil, fmt.Errorf("%w: %s table %s", types.ErrDocumentNotOpen, path, table)
	}
	return d, nil
}

// docsOnPath returns every open document backed by path.
func (e *Engine) docsOnPath(path string) []*document {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*document
	for _, d := range e.docs {
		if d.path == path {
			out = append(out, d)
		}
	}
	return out
}

func docKey(path, table string) string {
	return path + "\x00" + table
}

// emit delivers an event without blocking; a full channel drops the
// event with a warning.
func (e *Engine) emit(ev types.Event) {
	select {
	case e.events <- ev:
	default:
		slog.Warn("dropping engine event", "kind", string(ev.Kind), "path", ev.Path)
	}
}

// deliver pushes a result produced outside the executor, such as a cache
// hit, without blocking.
func (e *Engine) deliver(res types.ComputationResult) {
	select {
	case e.results <- res:
	default:
		slog.Warn("dropping computation result, channel full",
			"path", res.Key.Path, "row", res.Key.Index, "function", res.Function)
	}
}

// notifyPermission forwards permission transitions from the recovery
// manager as events.
func (e *Engine) notifyPermission(path string, state types.PermissionState) {
	e.emit(types.Event{Kind: types.EventPermissionChanged, Path: path, Permission: state})
}

// pumpResults copies executor results to the public channel, writing
// successful values through to the persistent cache. The cache write
// happens first, so a result dropped on a full channel is still served
// as a hit on the next submission. Closes out once the executor stops.
func (e *Engine) pumpResults(exec *compute.Executor, cc *cache.Cache, out chan types.ComputationResult) {
	defer e.wg.Done()
	for res := range exec.Results() {
		if res.Err == nil && cc != nil {
			if err := cc.Put(context.Background(), res.Key, res.Function, res.Generation, res.Value); err != nil {
				slog.Warn("caching result failed",
					"path", res.Key.Path, "row", res.Key.Index, "function", res.Function, "error", err)
			}
		}
		select {
		case out <- res:
		default:
			slog.Warn("dropping computation result, channel full",
				"path", res.Key.Path, "row", res.Key.Index, "function", res.Function)
		}
	}
	close(out)
}

// recheckLoop periodically probes degraded files and replays their
// queues once write access returns.
func (e *Engine) recheckLoop(interval time.Duration, done <-chan struct{}) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, path := range e.recovery.DegradedPaths() {
				if e.recovery.Probe(path) != types.PermReadWrite {
					continue
				}
				if _, err := e.drainAndSave(path); err != nil {
					slog.Warn("pending replay failed", "path", path, "error", err)
				}
			}
		case <-done:
			return
		}
	}
}
