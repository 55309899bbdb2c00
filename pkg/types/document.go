package types

import "errors"

// IDColumn is the column holding a row's identifier. Rows missing a value
// here receive a generated UUID during save.
const IDColumn = "id"

// Row holds one table row's cells keyed by column name. A missing key and
// a nil value are equivalent: the cell is empty.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RowKey identifies one row for generation tracking: the document it
// belongs to and its 0-based storage index.
type RowKey struct {
	Path  string
	Table string
	Index int
}

// Document is one named table loaded from a file. Rows are kept in storage
// order; Headers is the stable column list established at load time.
type Document struct {
	Path    string
	Table   string
	Headers []string
	Rows    []Row

	// Meta is the engine-owned view state persisted in the file's
	// metadata section. Nil when the file carries none.
	Meta *ViewMeta
}

// ViewMeta is the sort and filter state persisted alongside the table so a
// reopened document restores the same view.
type ViewMeta struct {
	Sort    *SortSpec      `toml:"sort,omitempty"`
	Filters []ColumnFilter `toml:"filters,omitempty"`
}

// ColumnFilter pairs a column name with its active condition, in the form
// persisted to the metadata section.
type ColumnFilter struct {
	Column    string          `toml:"column"`
	Condition FilterCondition `toml:"condition"`
}

// SaveResult reports the outcome of a successful save.
type SaveResult struct {
	// GeneratedIDs counts rows that were assigned a new identifier
	// during the save. Nonzero means the caller should reload.
	GeneratedIDs int
}

// Document and index errors.
var (
	ErrDocumentNotOpen = errors.New("document is not open")
	ErrTableNotFound   = errors.New("table not found in document")
	ErrColumnNotFound  = errors.New("column not found")
	ErrIndexOutOfRange = errors.New("row index out of range")
)

// Load errors.
var (
	ErrNotFound     = errors.New("document file not found")
	ErrParseFailure = errors.New("document parse failure")
)
