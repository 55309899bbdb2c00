package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/trestle/internal/docsync"
	"github.com/mesh-intelligence/trestle/internal/filter"
	"github.com/mesh-intelligence/trestle/internal/index"
	"github.com/mesh-intelligence/trestle/internal/storage"
	"github.com/mesh-intelligence/trestle/pkg/types"
)

// document is the engine's per-(path, table) state: the loaded rows, the
// display mapping, filter visibility, the save/load state machine, and
// the debounced save timer.
type document struct {
	path  string
	table string

	mu  sync.Mutex
	doc *types.Document

	machine *docsync.StateMachine
	trans   *index.Translator
	filter  *filter.Manager
	deb     *docsync.Debouncer

	// lastSavedSig is the content signature of the last persisted
	// snapshot; a save matching it is dropped. metaDirty forces a save
	// when only the view state changed, since the signature covers
	// content only.
	lastSavedSig string
	metaDirty    bool
	dirty        bool
}

func (d *document) isDirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty || d.metaDirty
}

// snapshotLocked copies the document for callers outside the engine.
// Caller holds d.mu.
func (d *document) snapshotLocked() *types.Document {
	headers := make([]string, len(d.doc.Headers))
	copy(headers, d.doc.Headers)
	rows := make([]types.Row, len(d.doc.Rows))
	for i, r := range d.doc.Rows {
		rows[i] = r.Clone()
	}
	return &types.Document{
		Path:    d.path,
		Table:   d.table,
		Headers: headers,
		Rows:    rows,
		Meta:    d.viewMetaLocked(),
	}
}

func (d *document) snapshot() *types.Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// viewMetaLocked assembles the live view state in its persisted form,
// nil when the view is the plain storage order. Caller holds d.mu.
func (d *document) viewMetaLocked() *types.ViewMeta {
	spec := d.trans.Spec()
	filters := d.filter.Conditions()
	if spec == nil && len(filters) == 0 {
		return nil
	}
	return &types.ViewMeta{Sort: spec, Filters: filters}
}

// Open loads the named table from path, sweeps the directory for
// orphaned temp files, restores any persisted view state, and registers
// the file with the watcher. Opening an open document returns a snapshot
// without touching the file.
func (e *Engine) Open(path, table string) (*types.Document, error) {
	path = filepath.Clean(path)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.attached {
		return nil, types.ErrDetached
	}
	key := docKey(path, table)
	if d, ok := e.docs[key]; ok {
		return d.snapshot(), nil
	}

	dir := filepath.Dir(path)
	if removed, err := e.writer.CleanOrphans(dir); err != nil {
		slog.Warn("orphan sweep failed", "dir", dir, "error", err)
	} else if removed > 0 {
		slog.Info("removed orphaned temp files", "dir", dir, "count", removed)
	}

	d := &document{path: path, table: table, machine: docsync.NewStateMachine()}
	if err := d.machine.BeginLoad(); err != nil {
		return nil, err
	}
	doc, err := storage.Load(e.fs, path, table)
	if err != nil {
		d.machine.EndLoad(err)
		return nil, err
	}
	d.doc = doc
	d.trans = index.NewTranslator(len(doc.Rows))
	d.filter = filter.NewManager(len(doc.Rows))
	d.lastSavedSig = storage.Signature(doc)
	d.deb = docsync.NewDebouncer(e.config.DebounceInterval, func() { e.debouncedSave(d) })
	e.restoreView(d)
	d.machine.EndLoad(nil)

	if err := e.watcher.Watch(path); err != nil {
		slog.Warn("file watch unavailable", "path", path, "error", err)
	}
	e.docs[key] = d
	slog.Info("document opened", "path", path, "table", table, "rows", len(doc.Rows))
	return d.snapshot(), nil
}

// restoreView replays persisted sort and filter state onto a freshly
// loaded document. Entries that no longer validate are dropped with a
// warning rather than failing the open.
func (e *Engine) restoreView(d *document) {
	meta := d.doc.Meta
	if meta == nil {
		return
	}
	if meta.Sort != nil {
		if _, err := d.trans.Apply(d.doc.Rows, d.doc.Headers, *meta.Sort); err != nil {
			slog.Warn("dropping persisted sort", "path", d.path, "column", meta.Sort.Column, "error", err)
		}
	}
	for _, f := range meta.Filters {
		if err := d.filter.SetColumnFilter(f.Column, f.Condition, d.doc.Rows); err != nil {
			slog.Warn("dropping persisted filter", "path", d.path, "column", f.Column, "error", err)
		}
	}
}

// Close saves unsaved edits, then releases the document's watcher
// registration and state. The document is closed even when the final
// save fails; the error is returned.
func (e *Engine) Close(path, table string) error {
	path = filepath.Clean(path)

	e.mu.Lock()
	if !e.attached {
		e.mu.Unlock()
		return types.ErrDetached
	}
	key := docKey(path, table)
	d, ok := e.docs[key]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s table %s", types.ErrDocumentNotOpen, path, table)
	}
	delete(e.docs, key)
	shared := false
	for _, other := range e.docs {
		if other.path == path {
			shared = true
		}
	}
	e.mu.Unlock()

	d.deb.Stop()
	var saveErr error
	if d.isDirty() {
		if _, err := e.saveDocument(d); err != nil {
			saveErr = err
		}
	}
	if !shared {
		e.watcher.Unwatch(path)
	}
	e.tracker.Forget(path, table)
	slog.Info("document closed", "path", path, "table", table)
	return saveErr
}

// Reload rereads the document from disk. The display mapping is rebuilt
// by content matching, visibility recomputed, generations reset, and
// cached results for the document invalidated. The live view state wins
// over whatever metadata the file carries.
func (e *Engine) Reload(path, table string) (*types.Document, error) {
	d, err := e.document(path, table)
	if err != nil {
		return nil, err
	}
	return e.reloadDocument(d)
}

func (e *Engine) reloadDocument(d *document) (*types.Document, error) {
	if err := d.machine.BeginLoad(); err != nil {
		return nil, err
	}
	doc, err := storage.Load(e.fs, d.path, d.table)
	if err != nil {
		d.machine.EndLoad(err)
		return nil, err
	}

	d.mu.Lock()
	d.doc = doc
	d.trans.Rebuild(doc.Rows, doc.Headers)
	d.filter.Recompute(doc.Rows)
	d.lastSavedSig = storage.Signature(doc)
	d.dirty = false
	snap := d.snapshotLocked()
	d.mu.Unlock()

	e.tracker.Forget(d.path, d.table)
	if e.cache != nil {
		if err := e.cache.InvalidateDocument(context.Background(), d.path); err != nil {
			slog.Warn("cache invalidation failed", "path", d.path, "error", err)
		}
	}
	d.machine.EndLoad(nil)
	slog.Info("document reloaded", "path", d.path, "table", d.table, "rows", len(doc.Rows))
	return snap, nil
}

// Save persists the document now. Unchanged content with a clean view is
// dropped as a no-op success.
func (e *Engine) Save(path, table string) (types.SaveResult, error) {
	d, err := e.document(path, table)
	if err != nil {
		return types.SaveResult{}, err
	}
	d.deb.Stop()
	return e.saveDocument(d)
}

// debouncedSave runs when the quiet period after an edit expires. If a
// save or load is already in flight the edit rides the next window.
func (e *Engine) debouncedSave(d *document) {
	if _, err := e.saveDocument(d); err != nil {
		if errors.Is(err, types.ErrInvalidStateTransition) {
			d.deb.Arm()
			return
		}
		slog.Warn("debounced save failed", "path", d.path, "table", d.table, "error", err)
	}
}

// saveDocument is the one save path: single-flight via the state
// machine, unchanged-content drop, ID assignment, serialization under
// the document lock, and the atomic write outside it. A permission
// failure degrades the file and leaves the machine idle; any other
// failure parks it in the error state until acknowledged or retried.
func (e *Engine) saveDocument(d *document) (types.SaveResult, error) {
	if err := d.machine.BeginSave(); err != nil {
		return types.SaveResult{}, err
	}

	d.mu.Lock()
	sig := storage.Signature(d.doc)
	if sig == d.lastSavedSig && !d.metaDirty {
		d.dirty = false
		d.mu.Unlock()
		d.machine.EndSave(nil)
		slog.Debug("save dropped, content unchanged", "path", d.path, "table", d.table)
		return types.SaveResult{}, nil
	}

	generated := e.assignIDsLocked(d)
	if generated > 0 {
		sig = storage.Signature(d.doc)
	}
	d.doc.Meta = d.viewMetaLocked()
	data, err := storage.Serialize(d.doc)
	if err != nil {
		d.mu.Unlock()
		d.machine.EndSave(err)
		return types.SaveResult{}, err
	}
	prevSig, prevMeta, prevDirty := d.lastSavedSig, d.metaDirty, d.dirty
	d.lastSavedSig, d.metaDirty, d.dirty = sig, false, false
	d.mu.Unlock()

	if err := e.writer.Write(d.path, data); err != nil {
		d.mu.Lock()
		d.lastSavedSig = prevSig
		d.metaDirty = d.metaDirty || prevMeta
		d.dirty = d.dirty || prevDirty
		d.mu.Unlock()

		if errors.Is(err, types.ErrPermissionDenied) {
			state := e.recovery.HandleWriteFailure(d.path)
			slog.Warn("save blocked by file permissions", "path", d.path, "state", string(state))
			d.machine.EndSave(nil)
			return types.SaveResult{}, err
		}
		d.machine.EndSave(err)
		return types.SaveResult{}, err
	}

	e.watcher.MarkSaved(d.path)
	d.machine.EndSave(nil)
	slog.Debug("document saved", "path", d.path, "table", d.table, "generated_ids", generated)
	return types.SaveResult{GeneratedIDs: generated}, nil
}

// assignIDsLocked gives every row without an identifier a fresh UUID,
// adding the id column when the document lacks one, and refreshes the
// display mapping's fingerprints afterwards. Caller holds d.mu.
func (e *Engine) assignIDsLocked(d *document) int {
	generated := 0
	for _, row := range d.doc.Rows {
		if types.CellString(row[types.IDColumn]) != "" {
			continue
		}
		row[types.IDColumn] = generateID()
		generated++
	}
	if generated == 0 {
		return 0
	}

	if !hasColumn(d.doc.Headers, types.IDColumn) {
		at := sort.SearchStrings(d.doc.Headers, types.IDColumn)
		d.doc.Headers = append(d.doc.Headers, "")
		copy(d.doc.Headers[at+1:], d.doc.Headers[at:])
		d.doc.Headers[at] = types.IDColumn
	}

	// Fingerprints include the new cells; reinstall the mapping without
	// changing the order the user sees.
	if spec := d.trans.Spec(); spec != nil {
		if _, err := d.trans.Apply(d.doc.Rows, d.doc.Headers, *spec); err != nil {
			slog.Warn("sort refresh after id assignment failed", "path", d.path, "error", err)
		}
	} else {
		d.trans.Clear(d.doc.Rows, d.doc.Headers)
	}
	return generated
}

// Edit sets one cell addressed in display coordinates. The index is
// translated to storage order first, then the row's generation is bumped
// and a debounced save scheduled. While the file is degraded the edit is
// queued instead of applied.
func (e *Engine) Edit(path, table string, displayIndex int, column string, value any) error {
	d, err := e.document(path, table)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if !hasColumn(d.doc.Headers, column) {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrColumnNotFound, column)
	}
	storageIdx, err := d.trans.DisplayToStorage(displayIndex)
	if err != nil {
		d.mu.Unlock()
		return err
	}

	if e.recovery.State(d.path) != types.PermReadWrite {
		d.mu.Unlock()
		e.recovery.Enqueue(d.path, types.PendingUpdate{
			Table:      d.table,
			RowIndex:   storageIdx,
			Column:     column,
			Value:      value,
			EnqueuedAt: time.Now(),
		})
		slog.Info("edit queued while file degraded", "path", d.path, "row", storageIdx, "column", column)
		return nil
	}

	e.applyEditLocked(d, storageIdx, column, value)
	d.mu.Unlock()

	d.deb.Arm()
	return nil
}

// applyEditLocked mutates one cell in storage coordinates: generation
// bump, cell write, fingerprint refresh, visibility recompute, cache
// invalidation. Caller holds d.mu.
func (e *Engine) applyEditLocked(d *document, storageIdx int, column string, value any) {
	key := types.RowKey{Path: d.path, Table: d.table, Index: storageIdx}
	e.tracker.Bump(key)
	if d.doc.Rows[storageIdx] == nil {
		d.doc.Rows[storageIdx] = types.Row{}
	}
	d.doc.Rows[storageIdx][column] = value
	d.trans.RefreshRow(storageIdx, d.doc.Rows[storageIdx], d.doc.Headers)
	d.filter.Recompute(d.doc.Rows)
	d.dirty = true

	if e.cache != nil {
		if err := e.cache.InvalidateRow(context.Background(), key); err != nil {
			slog.Warn("cache invalidation failed", "path", d.path, "row", storageIdx, "error", err)
		}
	}
}

// SetSort sorts the document by column. The new view persists with the
// next save.
func (e *Engine) SetSort(path, table, column string, ascending bool) (types.DisplayMapping, error) {
	d, err := e.document(path, table)
	if err != nil {
		return types.DisplayMapping{}, err
	}

	d.mu.Lock()
	mapping, err := d.trans.Apply(d.doc.Rows, d.doc.Headers, types.SortSpec{Column: column, Ascending: ascending})
	if err != nil {
		d.mu.Unlock()
		return types.DisplayMapping{}, err
	}
	d.metaDirty = true
	d.mu.Unlock()

	d.deb.Arm()
	return mapping, nil
}

// ClearSort restores storage order.
func (e *Engine) ClearSort(path, table string) (types.DisplayMapping, error) {
	d, err := e.document(path, table)
	if err != nil {
		return types.DisplayMapping{}, err
	}

	d.mu.Lock()
	mapping := d.trans.Clear(d.doc.Rows, d.doc.Headers)
	d.metaDirty = true
	d.mu.Unlock()

	d.deb.Arm()
	return mapping, nil
}

// SetColumnFilter activates cond on column and returns the storage
// indices now hidden.
func (e *Engine) SetColumnFilter(path, table, column string, cond types.FilterCondition) ([]int, error) {
	d, err := e.document(path, table)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if !hasColumn(d.doc.Headers, column) {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", types.ErrColumnNotFound, column)
	}
	if err := d.filter.SetColumnFilter(column, cond, d.doc.Rows); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	d.metaDirty = true
	hidden := d.filter.HiddenRows()
	d.mu.Unlock()

	d.deb.Arm()
	return hidden, nil
}

// ClearColumnFilter removes the predicate on column.
func (e *Engine) ClearColumnFilter(path, table, column string) ([]int, error) {
	d, err := e.document(path, table)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.filter.ClearColumnFilter(column, d.doc.Rows)
	d.metaDirty = true
	hidden := d.filter.HiddenRows()
	d.mu.Unlock()

	d.deb.Arm()
	return hidden, nil
}

// ClearFilters removes every active predicate.
func (e *Engine) ClearFilters(path, table string) error {
	d, err := e.document(path, table)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.filter.ClearAll(len(d.doc.Rows))
	d.metaDirty = true
	d.mu.Unlock()

	d.deb.Arm()
	return nil
}

// TranslateRowIndex maps a display index to its storage index.
func (e *Engine) TranslateRowIndex(path, table string, displayIndex int) (int, error) {
	d, err := e.document(path, table)
	if err != nil {
		return 0, err
	}
	return d.trans.DisplayToStorage(displayIndex)
}

// SubmitComputation queues the named function for the row at
// displayIndex, capturing its generation now. A cached value for the
// same generation short-circuits straight to Results.
func (e *Engine) SubmitComputation(path, table string, displayIndex int, function string) error {
	d, err := e.document(path, table)
	if err != nil {
		return err
	}
	e.mu.RLock()
	_, known := e.fns[function]
	e.mu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", types.ErrFunctionUnknown, function)
	}

	d.mu.Lock()
	storageIdx, err := d.trans.DisplayToStorage(displayIndex)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	key := types.RowKey{Path: d.path, Table: d.table, Index: storageIdx}
	req := types.ComputationRequest{
		Key:        key,
		Function:   function,
		RowData:    d.doc.Rows[storageIdx].Clone(),
		Generation: e.tracker.Current(key),
		Visible:    d.filter.IsRowVisible(storageIdx),
	}
	d.mu.Unlock()

	if e.cache != nil {
		value, ok, err := e.cache.Get(context.Background(), key, function, req.Generation)
		if err != nil {
			slog.Warn("cache lookup failed", "path", d.path, "row", storageIdx, "function", function, "error", err)
		} else if ok {
			e.deliver(types.ComputationResult{
				Key:        key,
				Function:   function,
				Value:      value,
				Generation: req.Generation,
			})
			return nil
		}
	}
	return e.exec.Submit(req)
}

func hasColumn(headers []string, column string) bool {
	for _, h := range headers {
		if h == column {
			return true
		}
	}
	return false
}

// generateID returns a new row identifier, preferring time-ordered V7.
func generateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
