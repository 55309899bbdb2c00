package types

import (
	"errors"
	"time"
)

// SyncState is the per-document save/load state.
type SyncState string

// Sync states. A document is idle unless exactly one save or load is in
// flight, or a failed operation awaits acknowledgement.
const (
	SyncIdle    SyncState = "idle"
	SyncSaving  SyncState = "saving"
	SyncLoading SyncState = "loading"
	SyncError   SyncState = "error"
)

// PermissionState is the per-file filesystem access state.
type PermissionState string

// Permission states.
const (
	PermReadWrite  PermissionState = "read-write"
	PermReadOnly   PermissionState = "read-only"
	PermUnreadable PermissionState = "unreadable"
)

// PendingUpdate is one edit queued while its file is not writable. Updates
// are applied in enqueue order once write access returns; a later edit to
// the same row and column replaces the queued value in place. RowIndex is
// a storage index: display translation happened when the edit was made.
type PendingUpdate struct {
	Table      string
	RowIndex   int
	Column     string
	Value      any
	EnqueuedAt time.Time
}

// State machine errors.
var (
	ErrInvalidStateTransition = errors.New("invalid sync state transition")
)

// Write errors. Permission-denied writes route to recovery instead of
// surfacing as generic failures.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrWriteFailed      = errors.New("write failed")
)

// Recovery errors.
var (
	ErrQueueReplayFailed = errors.New("pending update failed to reapply")
)
