package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/mesh-intelligence/trestle/pkg/types"
)

// metaKey is the engine-owned top-level section holding persisted view
// state. Not addressable as a table.
const metaKey = "metadata"

// metaEnvelope extracts the metadata section from a document file.
// Unknown top-level keys (the tables themselves) are ignored.
type metaEnvelope struct {
	Metadata *types.ViewMeta `toml:"metadata"`
}

// Load reads and parses the named table from path. Row order is storage
// order; headers are the sorted union of every row's keys. The file's
// metadata section, when present and well-formed, is attached to the
// returned document.
func Load(fsys FS, path, table string) (*types.Document, error) {
	if table == metaKey {
		return nil, types.ErrTableNotFound
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, classifyRead(path, err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w: %v", path, types.ErrParseFailure, err)
	}

	rows, err := tableRows(raw, table)
	if err != nil {
		return nil, err
	}

	doc := &types.Document{
		Path:    path,
		Table:   table,
		Headers: headerUnion(rows),
		Rows:    rows,
		Meta:    loadMeta(data, path),
	}
	return doc, nil
}

// Serialize renders the document back to TOML bytes: the table's rows as
// an array of tables plus the engine-owned metadata section. Nil cells
// are dropped; a missing key and a nil value mean the same empty cell.
func Serialize(doc *types.Document) ([]byte, error) {
	rows := make([]map[string]any, len(doc.Rows))
	for i, row := range doc.Rows {
		clean := make(map[string]any, len(row))
		for k, v := range row {
			if v != nil {
				clean[k] = v
			}
		}
		rows[i] = clean
	}

	out := map[string]any{doc.Table: rows}
	if doc.Meta != nil && (doc.Meta.Sort != nil || len(doc.Meta.Filters) > 0) {
		out[metaKey] = doc.Meta
	}

	data, err := toml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("serializing %s: %w", doc.Path, err)
	}
	return data, nil
}

// Signature fingerprints the document's header and row content. Two
// documents with equal signatures serialize to the same table data, which
// is how redundant saves are detected. View metadata is not part of the
// signature.
func Signature(doc *types.Document) string {
	h := sha256.New()
	for _, header := range doc.Headers {
		h.Write([]byte(header))
		h.Write([]byte{0x1f})
	}
	h.Write([]byte{0x1e})
	for _, row := range doc.Rows {
		for _, header := range doc.Headers {
			h.Write([]byte(types.CellString(row[header])))
			h.Write([]byte{0x1f})
		}
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// tableRows extracts the named table's rows from the decoded file.
func tableRows(raw map[string]any, table string) ([]types.Row, error) {
	value, ok := raw[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrTableNotFound, table)
	}

	switch v := value.(type) {
	case []map[string]any:
		rows := make([]types.Row, len(v))
		for i, m := range v {
			rows[i] = types.Row(m)
		}
		return rows, nil
	case []any:
		rows := make([]types.Row, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("table %s: %w: row %d is not a table", table, types.ErrParseFailure, len(rows))
			}
			rows = append(rows, types.Row(m))
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("table %s: %w: not an array of tables", table, types.ErrParseFailure)
	}
}

// headerUnion returns the sorted union of all row keys.
func headerUnion(rows []types.Row) []string {
	set := make(map[string]bool)
	for _, row := range rows {
		for k := range row {
			set[k] = true
		}
	}
	headers := make([]string, 0, len(set))
	for k := range set {
		headers = append(headers, k)
	}
	sort.Strings(headers)
	return headers
}

// loadMeta decodes the metadata section. A malformed section is logged
// and treated as absent rather than failing the load.
func loadMeta(data []byte, path string) *types.ViewMeta {
	var envelope metaEnvelope
	if err := toml.Unmarshal(data, &envelope); err != nil {
		slog.Warn("ignoring malformed metadata section", "path", path, "error", err)
		return nil
	}
	return envelope.Metadata
}

// classifyRead wraps a read failure with the matching load sentinel.
func classifyRead(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("loading %s: %w", path, types.ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("loading %s: %w", path, types.ErrPermissionDenied)
	default:
		return fmt.Errorf("loading %s: %w", path, err)
	}
}
