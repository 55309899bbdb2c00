// Package recovery tracks per-file write access and carries edits across
// permission loss. While a file is not writable, edits queue as pending
// updates; when access returns they replay in enqueue order through the
// normal edit path, so nothing the user typed is lost to a read-only
// window.
package recovery

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"

	"github.com/mesh-intelligence/trestle/internal/storage"
	"github.com/mesh-intelligence/trestle/pkg/types"
)

// Manager holds permission state and the pending-update queue per file.
// Files start read-write; a classified write failure degrades them and a
// successful probe restores them.
type Manager struct {
	mu     sync.Mutex
	fs     storage.FS
	states map[string]types.PermissionState
	queues map[string][]types.PendingUpdate

	// notify observes state changes. May be nil.
	notify func(path string, state types.PermissionState)
}

// NewManager returns a Manager probing through fsys. notify, when not
// nil, is called outside the manager's lock on every state change.
func NewManager(fsys storage.FS, notify func(path string, state types.PermissionState)) *Manager {
	return &Manager{
		fs:     fsys,
		states: make(map[string]types.PermissionState),
		queues: make(map[string][]types.PendingUpdate),
		notify: notify,
	}
}

// State returns the file's permission state, read-write by default.
func (m *Manager) State(path string) types.PermissionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked(path)
}

// PendingCount returns how many updates are queued against path.
func (m *Manager) PendingCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[path])
}

// HandleWriteFailure classifies a permission-denied write: read-only when
// the file is still readable, unreadable otherwise. Returns the new
// state.
func (m *Manager) HandleWriteFailure(path string) types.PermissionState {
	state := types.PermReadOnly
	if _, err := m.fs.Stat(path); err != nil {
		state = types.PermUnreadable
	}
	m.setState(path, state)
	return state
}

// Enqueue queues an edit made while the file is degraded. A later edit to
// the same row and column replaces the queued value in place, keeping the
// earlier entry's position, so drains stay in enqueue order with at most
// one update per cell.
func (m *Manager) Enqueue(path string, update types.PendingUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.queues[path]
	for i := range queue {
		if queue[i].Table == update.Table && queue[i].RowIndex == update.RowIndex && queue[i].Column == update.Column {
			queue[i].Value = update.Value
			queue[i].EnqueuedAt = update.EnqueuedAt
			return
		}
	}
	m.queues[path] = append(queue, update)
}

// Probe rechecks the file's permission and updates the state. Probing
// does not drain; the caller replays the queue once the returned state is
// read-write.
func (m *Manager) Probe(path string) types.PermissionState {
	state := m.classify(path)
	m.setState(path, state)
	return state
}

// Drain applies queued updates in enqueue order. Updates that fail to
// apply are retained in their original relative order and reported via
// ErrQueueReplayFailed; everything else leaves the queue. Returns the
// number applied. After a drain with no failures the queue is empty.
func (m *Manager) Drain(path string, apply func(types.PendingUpdate) error) (int, error) {
	m.mu.Lock()
	queue := m.queues[path]
	delete(m.queues, path)
	m.mu.Unlock()

	applied := 0
	var retained []types.PendingUpdate
	var failures []error
	for _, update := range queue {
		if err := apply(update); err != nil {
			slog.Warn("pending update failed to reapply",
				"path", path, "row", update.RowIndex, "column", update.Column, "error", err)
			retained = append(retained, update)
			failures = append(failures, err)
			continue
		}
		applied++
	}

	if len(retained) > 0 {
		m.mu.Lock()
		m.queues[path] = append(retained, m.queues[path]...)
		m.mu.Unlock()
		return applied, fmt.Errorf("%w: %d of %d retained: %v",
			types.ErrQueueReplayFailed, len(retained), len(queue), errors.Join(failures...))
	}
	return applied, nil
}

// DegradedPaths lists files currently not read-write, sorted.
func (m *Manager) DegradedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for path, state := range m.states {
		if state != types.PermReadWrite {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// classify probes path: writable means read-write, readable but not
// writable means read-only, anything else is unreadable.
func (m *Manager) classify(path string) types.PermissionState {
	err := m.fs.CheckWrite(path)
	if err == nil {
		return types.PermReadWrite
	}
	if errors.Is(err, fs.ErrPermission) {
		if _, statErr := m.fs.Stat(path); statErr == nil {
			return types.PermReadOnly
		}
	}
	return types.PermUnreadable
}

// setState records the state and fires the observer when it changed.
func (m *Manager) setState(path string, state types.PermissionState) {
	m.mu.Lock()
	previous := m.stateLocked(path)
	if state == types.PermReadWrite {
		delete(m.states, path)
	} else {
		m.states[path] = state
	}
	m.mu.Unlock()

	if previous != state {
		slog.Info("permission state changed", "path", path, "from", previous, "to", state)
		if m.notify != nil {
			m.notify(path, state)
		}
	}
}

func (m *Manager) stateLocked(path string) types.PermissionState {
	if state, ok := m.states[path]; ok {
		return state
	}
	return types.PermReadWrite
}
