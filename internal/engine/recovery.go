package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/mesh-intelligence/trestle/internal/watch"
	"github.com/mesh-intelligence/trestle/pkg/types"
)

// CheckPermissionState reports the file's permission state and queued
// update count. Passive: no probe is performed.
func (e *Engine) CheckPermissionState(path string) (types.PermissionState, int) {
	path = filepath.Clean(path)
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.attached {
		return types.PermReadWrite, 0
	}
	return e.recovery.State(path), e.recovery.PendingCount(path)
}

// RetryPendingUpdates probes the file now and, if writable, replays the
// queue in enqueue order and saves. Returns the number applied. With an
// empty queue and a healthy file this is a no-op.
func (e *Engine) RetryPendingUpdates(path string) (int, error) {
	path = filepath.Clean(path)
	e.mu.RLock()
	attached := e.attached
	e.mu.RUnlock()
	if !attached {
		return 0, types.ErrDetached
	}

	if e.recovery.State(path) == types.PermReadWrite && e.recovery.PendingCount(path) == 0 {
		return 0, nil
	}
	if state := e.recovery.Probe(path); state != types.PermReadWrite {
		return 0, fmt.Errorf("%w: %s is %s", types.ErrPermissionDenied, path, state)
	}
	return e.drainAndSave(path)
}

// drainAndSave replays the path's queued updates through the normal edit
// path and saves every affected document. Updates that fail to apply
// stay queued; an applied count is reported as an event.
func (e *Engine) drainAndSave(path string) (int, error) {
	applied, drainErr := e.recovery.Drain(path, func(u types.PendingUpdate) error {
		e.mu.RLock()
		d, ok := e.docs[docKey(path, u.Table)]
		e.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: %s table %s", types.ErrDocumentNotOpen, path, u.Table)
		}

		d.mu.Lock()
		defer d.mu.Unlock()
		if u.RowIndex < 0 || u.RowIndex >= len(d.doc.Rows) {
			return fmt.Errorf("%w: row %d", types.ErrIndexOutOfRange, u.RowIndex)
		}
		e.applyEditLocked(d, u.RowIndex, u.Column, u.Value)
		return nil
	})

	var saveErr error
	for _, d := range e.docsOnPath(path) {
		if !d.isDirty() {
			continue
		}
		if _, err := e.saveDocument(d); err != nil {
			saveErr = errors.Join(saveErr, err)
		}
	}

	if applied > 0 {
		slog.Info("replayed pending updates", "path", path, "applied", applied)
		e.emit(types.Event{Kind: types.EventPendingApplied, Path: path, Applied: applied})
	}
	return applied, errors.Join(drainErr, saveErr)
}

// handleFileChange reacts to a coalesced watcher notification: removal
// and conflicting external changes become events, a clean external
// change reloads in place.
func (e *Engine) handleFileChange(c watch.Change) {
	for _, d := range e.docsOnPath(c.Path) {
		switch {
		case c.Kind == watch.ChangeRemoved:
			slog.Warn("open document removed on disk", "path", d.path, "table", d.table)
			e.emit(types.Event{Kind: types.EventFileRemoved, Path: d.path, Table: d.table})

		case d.isDirty():
			slog.Warn("external change conflicts with unsaved edits", "path", d.path, "table", d.table)
			e.emit(types.Event{Kind: types.EventConflict, Path: d.path, Table: d.table})

		default:
			if _, err := e.reloadDocument(d); err != nil {
				slog.Warn("reload after external change failed",
					"path", d.path, "table", d.table, "error", err)
				continue
			}
			e.emit(types.Event{Kind: types.EventExternalChange, Path: d.path, Table: d.table})
		}
	}
}
