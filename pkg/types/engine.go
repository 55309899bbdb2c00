package types

import "errors"

// Engine synchronizes table documents between an in-memory editing view
// and their files. Callers attach once, open documents by (path, table),
// edit in display coordinates, and detach when done. All methods are safe
// for concurrent use; operations on different documents proceed in
// parallel, while a second save or load on one document fails fast with
// ErrInvalidStateTransition.
type Engine interface {
	// Attach starts the engine with the given configuration.
	// Returns ErrAlreadyAttached if called while attached.
	Attach(config Config) error

	// Detach flushes debounced saves, stops background workers, and
	// releases resources. Idempotent: multiple calls succeed.
	Detach() error

	// Open loads the named table from path, scans its directory for
	// orphaned temp files, and registers a file watcher. Returns the
	// loaded document. Opening an already-open document returns the
	// live document without reloading.
	Open(path, table string) (*Document, error)

	// Close releases the document's watcher and per-document state.
	// Unsaved edits are saved first.
	Close(path, table string) error

	// Reload rereads the document from disk, rebuilding the display
	// mapping by content matching and recomputing visibility.
	Reload(path, table string) (*Document, error)

	// Save persists the document now, bypassing the debounce window.
	// A save whose content matches the last-persisted snapshot is
	// dropped and reports success. SaveResult's GeneratedIDs count is
	// nonzero when rows were assigned identifiers; callers should
	// reload to pick them up.
	Save(path, table string) (SaveResult, error)

	// Edit sets one cell addressed in display coordinates. The index
	// is translated to storage order, the row's generation bumped, and
	// a debounced save scheduled. While the file is not writable the
	// edit is queued as a PendingUpdate instead.
	Edit(path, table string, displayIndex int, column string, value any) error

	// SetSort sorts the document by column and returns the new display
	// mapping. At most one sort is active per document.
	SetSort(path, table, column string, ascending bool) (DisplayMapping, error)

	// ClearSort restores storage order and returns the identity
	// mapping.
	ClearSort(path, table string) (DisplayMapping, error)

	// SetColumnFilter activates a predicate on column and returns the
	// storage indices now hidden. Filters on distinct columns AND
	// together.
	SetColumnFilter(path, table, column string, cond FilterCondition) ([]int, error)

	// ClearColumnFilter removes the predicate on column and returns
	// the remaining hidden rows.
	ClearColumnFilter(path, table, column string) ([]int, error)

	// ClearFilters removes every active predicate.
	ClearFilters(path, table string) error

	// TranslateRowIndex maps a display index to its storage index
	// under the current sort.
	TranslateRowIndex(path, table string, displayIndex int) (int, error)

	// SubmitComputation queues the named derived function for the row
	// at displayIndex, capturing its generation now. The result, if
	// still fresh at completion, arrives on Results.
	SubmitComputation(path, table string, displayIndex int, function string) error

	// RegisterFunction makes a derived function available under name.
	RegisterFunction(name string, fn func(Row) (any, error))

	// Results delivers completed, still-fresh computation results.
	Results() <-chan ComputationResult

	// Events delivers permission changes, pending-replay outcomes, and
	// external file-change notifications.
	Events() <-chan Event

	// CheckPermissionState reports the file's permission state and how
	// many updates are queued against it.
	CheckPermissionState(path string) (PermissionState, int)

	// RetryPendingUpdates probes the file and, if writable, applies
	// queued updates in enqueue order and saves. Returns the number
	// applied. Updates that fail to apply stay queued.
	RetryPendingUpdates(path string) (int, error)
}

// EventKind discriminates Engine events.
type EventKind string

// Event kinds.
const (
	EventPermissionChanged EventKind = "permission-changed"
	EventPendingApplied    EventKind = "pending-applied"
	EventExternalChange    EventKind = "external-change"
	EventConflict          EventKind = "conflict"
	EventFileRemoved       EventKind = "file-removed"
)

// Event is an asynchronous engine notification.
type Event struct {
	Kind  EventKind
	Path  string
	Table string

	// Permission is set on permission-changed events.
	Permission PermissionState

	// Applied is the replay count on pending-applied events.
	Applied int
}

// Engine lifecycle errors.
var (
	ErrAlreadyAttached = errors.New("engine is already attached")
	ErrDetached        = errors.New("engine is detached")
)
