// Package filter computes row visibility for a document from its active
// column predicates. Visibility is a projection only: filtered rows stay
// in storage and are always persisted.
package filter

import (
	"sort"
	"sync"

	"github.com/mesh-intelligence/trestle/pkg/types"
)

// Manager holds the active predicates and the visibility they produce for
// one document. The boolean vector is authoritative; the hidden-row list
// is re-derived from it whenever a predicate or the row sequence changes,
// never mutated independently.
type Manager struct {
	mu         sync.RWMutex
	conditions map[string]types.FilterCondition
	visible    []bool
	hidden     []int
}

// NewManager returns a Manager with no active filters over n rows.
func NewManager(n int) *Manager {
	m := &Manager{conditions: make(map[string]types.FilterCondition)}
	m.recomputeLocked(nil, n)
	return m
}

// SetColumnFilter activates cond on column, replacing any previous
// condition there, and recomputes visibility over rows.
func (m *Manager) SetColumnFilter(column string, cond types.FilterCondition, rows []types.Row) error {
	if err := cond.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.conditions[column] = cond
	m.recomputeLocked(rows, len(rows))
	return nil
}

// ClearColumnFilter removes the condition on column. Clearing a column
// with no active condition is a no-op.
func (m *Manager) ClearColumnFilter(column string, rows []types.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conditions, column)
	m.recomputeLocked(rows, len(rows))
}

// ClearAll removes every condition and makes all n rows visible.
func (m *Manager) ClearAll(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conditions = make(map[string]types.FilterCondition)
	m.recomputeLocked(nil, n)
}

// Recompute re-derives visibility over rows with the current conditions.
// Called after edits, reloads, and structural changes.
func (m *Manager) Recompute(rows []types.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recomputeLocked(rows, len(rows))
}

// IsRowVisible reports whether the row at storageIndex passes every
// active condition. Out-of-range indices are not visible.
func (m *Manager) IsRowVisible(storageIndex int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if storageIndex < 0 || storageIndex >= len(m.visible) {
		return false
	}
	return m.visible[storageIndex]
}

// HiddenRows returns the storage indices currently excluded, ascending.
func (m *Manager) HiddenRows() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int, len(m.hidden))
	copy(out, m.hidden)
	return out
}

// Conditions returns the active predicates as a persistable filter list,
// ordered by column name.
func (m *Manager) Conditions() []types.ColumnFilter {
	m.mu.RLock()
	defer m.mu.RUnlock()

	columns := make([]string, 0, len(m.conditions))
	for col := range m.conditions {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	out := make([]types.ColumnFilter, len(columns))
	for i, col := range columns {
		out[i] = types.ColumnFilter{Column: col, Condition: m.conditions[col]}
	}
	return out
}

// recomputeLocked rebuilds the visibility vector and the hidden
// projection. A row is visible only if every active condition matches.
// The caller must hold m.mu.
func (m *Manager) recomputeLocked(rows []types.Row, n int) {
	m.visible = make([]bool, n)
	m.hidden = m.hidden[:0]
	for i := 0; i < n; i++ {
		m.visible[i] = true
		if len(m.conditions) == 0 || i >= len(rows) {
			continue
		}
		for column, cond := range m.conditions {
			if !cond.Matches(rows[i][column]) {
				m.visible[i] = false
				break
			}
		}
		if !m.visible[i] {
			m.hidden = append(m.hidden, i)
		}
	}
}
