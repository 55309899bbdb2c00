// Package generation tracks per-row edit generations against one global
// monotonic counter, so a generation value is comparable across rows and
// documents. Derived computations capture a row's generation at submission
// and are discarded when it has moved by completion.
package generation

import (
	"sync"
	"sync/atomic"

	"github.com/mesh-intelligence/trestle/pkg/types"
)

// Tracker assigns generations to rows. The zero generation means the row
// has never been edited; rows are created implicitly on first use.
type Tracker struct {
	counter atomic.Uint64

	mu   sync.RWMutex
	rows map[types.RowKey]uint64
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{rows: make(map[types.RowKey]uint64)}
}

// Current returns the row's generation, 0 for rows never bumped.
func (t *Tracker) Current(key types.RowKey) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rows[key]
}

// Snapshot returns the row's generation for capture in a
// ComputationRequest. Identical to Current.
func (t *Tracker) Snapshot(key types.RowKey) uint64 {
	return t.Current(key)
}

// Bump advances the global counter, assigns the new value to the row, and
// returns it. Bump is the only mutator and is called exactly once per
// accepted edit, before the edit is queued for persistence.
func (t *Tracker) Bump(key types.RowKey) uint64 {
	gen := t.counter.Add(1)
	t.mu.Lock()
	t.rows[key] = gen
	t.mu.Unlock()
	return gen
}

// Forget drops tracking state for every row of the given document. Used
// when a document is closed or reloaded from disk.
func (t *Tracker) Forget(path, table string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.rows {
		if key.Path == path && key.Table == table {
			delete(t.rows, key)
		}
	}
}
