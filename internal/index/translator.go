// Package index maintains the bidirectional mapping between a document's
// storage order and its sorted display order. Every edit made in display
// coordinates is translated to a storage index here before anything else
// touches it; persistence always works in storage order.
package index

import (
	"sort"
	"strings"
	"sync"

	"github.com/mesh-intelligence/trestle/pkg/types"
)

// sigSep separates cell values inside a row fingerprint. Unit separator,
// so ordinary cell text cannot collide with a neighboring column.
const sigSep = "\x1f"

// Translator holds the current display mapping for one document. The two
// permutations it maintains are always inverses of each other. A cached
// mapping is valid only for the row count it was built against; after an
// insertion or removal the caller rebuilds it from live row contents.
type Translator struct {
	mu      sync.RWMutex
	spec    *types.SortSpec
	mapping types.DisplayMapping

	// sigs holds row fingerprints in display order, kept for rebuilds
	// after the row sequence changes shape.
	sigs []string
}

// NewTranslator returns a Translator with the identity mapping for n rows.
func NewTranslator(n int) *Translator {
	return &Translator{mapping: types.IdentityMapping(n)}
}

// Apply sorts the rows by spec and installs the resulting mapping. The
// sort is stable and total: ties keep their prior display order and every
// storage row appears exactly once. Returns ErrColumnNotFound when the
// sort column is not in headers.
func (tr *Translator) Apply(rows []types.Row, headers []string, spec types.SortSpec) (types.DisplayMapping, error) {
	if !hasHeader(headers, spec.Column) {
		return types.DisplayMapping{}, types.ErrColumnNotFound
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	// Order the previous display sequence, not raw storage order, so
	// re-sorting keeps ties where the user last saw them.
	order := tr.displayOrderLocked(len(rows))
	sort.SliceStable(order, func(i, j int) bool {
		return cellLess(rows[order[i]][spec.Column], rows[order[j]][spec.Column], spec.Ascending)
	})

	tr.spec = &spec
	tr.installLocked(order, rows, headers)
	return tr.copyMappingLocked(), nil
}

// Clear restores the identity mapping over the given rows.
func (tr *Translator) Clear(rows []types.Row, headers []string) types.DisplayMapping {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	tr.spec = nil
	tr.installLocked(order, rows, headers)
	return tr.copyMappingLocked()
}

// Rebuild rederives the mapping from live row contents after a structural
// change. Display rows are matched to storage rows by fingerprint
// equality, preserving the previous display order for rows that survived;
// unmatched storage rows append in storage order. The result is always a
// permutation of the new row count.
func (tr *Translator) Rebuild(rows []types.Row, headers []string) types.DisplayMapping {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	bySig := make(map[string][]int, len(rows))
	for i, row := range rows {
		sig := fingerprint(row, headers)
		bySig[sig] = append(bySig[sig], i)
	}

	used := make([]bool, len(rows))
	order := make([]int, 0, len(rows))
	for _, sig := range tr.sigs {
		candidates := bySig[sig]
		for len(candidates) > 0 && used[candidates[0]] {
			candidates = candidates[1:]
		}
		if len(candidates) == 0 {
			continue
		}
		idx := candidates[0]
		used[idx] = true
		bySig[sig] = candidates[1:]
		order = append(order, idx)
	}
	for i := range rows {
		if !used[i] {
			order = append(order, i)
		}
	}

	tr.installLocked(order, rows, headers)
	return tr.copyMappingLocked()
}

// RefreshRow updates the stored fingerprint for one storage row after
// its content changed in place. Keeps rebuild matching accurate without
// disturbing the current order.
func (tr *Translator) RefreshRow(storageIndex int, row types.Row, headers []string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if storageIndex < 0 || storageIndex >= len(tr.mapping.StorageToDisplay) {
		return
	}
	tr.sigs[tr.mapping.StorageToDisplay[storageIndex]] = fingerprint(row, headers)
}

// Spec returns the active sort, nil when display order equals storage
// order.
func (tr *Translator) Spec() *types.SortSpec {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	if tr.spec == nil {
		return nil
	}
	spec := *tr.spec
	return &spec
}

// Len returns the row count the current mapping was built against.
func (tr *Translator) Len() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.mapping.Len()
}

// Mapping returns a copy of the current mapping.
func (tr *Translator) Mapping() types.DisplayMapping {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.copyMappingLocked()
}

// DisplayToStorage maps a display index to its storage index.
func (tr *Translator) DisplayToStorage(displayIndex int) (int, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	if displayIndex < 0 || displayIndex >= len(tr.mapping.DisplayToStorage) {
		return 0, types.ErrIndexOutOfRange
	}
	return tr.mapping.DisplayToStorage[displayIndex], nil
}

// StorageToDisplay maps a storage index to its display index.
func (tr *Translator) StorageToDisplay(storageIndex int) (int, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	if storageIndex < 0 || storageIndex >= len(tr.mapping.StorageToDisplay) {
		return 0, types.ErrIndexOutOfRange
	}
	return tr.mapping.StorageToDisplay[storageIndex], nil
}

// displayOrderLocked returns the current display order as storage indices,
// falling back to identity when the cached mapping does not cover n rows.
func (tr *Translator) displayOrderLocked(n int) []int {
	order := make([]int, n)
	if len(tr.mapping.DisplayToStorage) == n {
		copy(order, tr.mapping.DisplayToStorage)
		return order
	}
	for i := range order {
		order[i] = i
	}
	return order
}

// installLocked stores order as the display mapping, builds the inverse,
// and refreshes the fingerprints.
func (tr *Translator) installLocked(order []int, rows []types.Row, headers []string) {
	inverse := make([]int, len(order))
	sigs := make([]string, len(order))
	for display, storage := range order {
		inverse[storage] = display
		sigs[display] = fingerprint(rows[storage], headers)
	}
	tr.mapping = types.DisplayMapping{DisplayToStorage: order, StorageToDisplay: inverse}
	tr.sigs = sigs
}

func (tr *Translator) copyMappingLocked() types.DisplayMapping {
	d := make([]int, len(tr.mapping.DisplayToStorage))
	s := make([]int, len(tr.mapping.StorageToDisplay))
	copy(d, tr.mapping.DisplayToStorage)
	copy(s, tr.mapping.StorageToDisplay)
	return types.DisplayMapping{DisplayToStorage: d, StorageToDisplay: s}
}

// fingerprint builds a positional signature for one row from its cell
// values in header order.
func fingerprint(row types.Row, headers []string) string {
	parts := make([]string, len(headers))
	for i, h := range headers {
		parts[i] = types.CellString(row[h])
	}
	return strings.Join(parts, sigSep)
}

func hasHeader(headers []string, column string) bool {
	for _, h := range headers {
		if h == column {
			return true
		}
	}
	return false
}

// cellLess orders two cell values. Numbers (including numeric strings)
// compare numerically, booleans false before true, everything else by
// case-insensitive string form. Empty cells sort last in both directions.
func cellLess(a, b any, ascending bool) bool {
	aEmpty := a == nil || types.CellString(a) == ""
	bEmpty := b == nil || types.CellString(b) == ""
	if aEmpty || bEmpty {
		return !aEmpty && bEmpty
	}
	cmp := compareCells(a, b)
	if ascending {
		return cmp < 0
	}
	return cmp > 0
}

func compareCells(a, b any) int {
	if an, aok := types.CellNumber(a); aok {
		if bn, bok := types.CellNumber(b); bok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			default:
				return 0
			}
		}
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			default:
				return 1
			}
		}
	}
	return strings.Compare(strings.ToLower(types.CellString(a)), strings.ToLower(types.CellString(b)))
}
