package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/trestle/pkg/types"
)

const sampleTOML = `[[tasks]]
id = "a"
title = "First"
rank = 3

[[tasks]]
id = "b"
title = "Second"

[metadata]
[metadata.sort]
column = "rank"
ascending = false
`

func seededFS(t *testing.T) *MemFS {
	t.Helper()
	mfs := NewMemFS()
	mfs.Seed("/docs/deck.toml", []byte(sampleTOML))
	return mfs
}

func TestLoadParsesRowsInStorageOrder(t *testing.T) {
	doc, err := Load(seededFS(t), "/docs/deck.toml", "tasks")
	require.NoError(t, err)

	require.Len(t, doc.Rows, 2)
	assert.Equal(t, "a", doc.Rows[0]["id"])
	assert.Equal(t, "b", doc.Rows[1]["id"])
	assert.Equal(t, int64(3), doc.Rows[0]["rank"])

	// Headers are the sorted union of row keys; the second row has no
	// rank but the column still exists.
	assert.Equal(t, []string{"id", "rank", "title"}, doc.Headers)
	assert.Nil(t, doc.Rows[1]["rank"])
}

func TestLoadRestoresViewMeta(t *testing.T) {
	doc, err := Load(seededFS(t), "/docs/deck.toml", "tasks")
	require.NoError(t, err)

	require.NotNil(t, doc.Meta)
	require.NotNil(t, doc.Meta.Sort)
	assert.Equal(t, "rank", doc.Meta.Sort.Column)
	assert.False(t, doc.Meta.Sort.Ascending)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(*MemFS)
		path    string
		table   string
		wantErr error
	}{
		{
			name:    "missing file",
			prepare: func(*MemFS) {},
			path:    "/docs/absent.toml",
			table:   "tasks",
			wantErr: types.ErrNotFound,
		},
		{
			name: "unreadable file",
			prepare: func(m *MemFS) {
				m.SetUnreadable("/docs/deck.toml", true)
			},
			path:    "/docs/deck.toml",
			table:   "tasks",
			wantErr: types.ErrPermissionDenied,
		},
		{
			name: "malformed toml",
			prepare: func(m *MemFS) {
				m.Seed("/docs/bad.toml", []byte("[[tasks]\nid = "))
			},
			path:    "/docs/bad.toml",
			table:   "tasks",
			wantErr: types.ErrParseFailure,
		},
		{
			name:    "table not in file",
			prepare: func(*MemFS) {},
			path:    "/docs/deck.toml",
			table:   "notes",
			wantErr: types.ErrTableNotFound,
		},
		{
			name: "key is not an array of tables",
			prepare: func(m *MemFS) {
				m.Seed("/docs/scalar.toml", []byte("tasks = 5\n"))
			},
			path:    "/docs/scalar.toml",
			table:   "tasks",
			wantErr: types.ErrParseFailure,
		},
		{
			name:    "metadata is not addressable",
			prepare: func(*MemFS) {},
			path:    "/docs/deck.toml",
			table:   "metadata",
			wantErr: types.ErrTableNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mfs := seededFS(t)
			tt.prepare(mfs)

			_, err := Load(mfs, tt.path, tt.table)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	mfs := seededFS(t)
	doc, err := Load(mfs, "/docs/deck.toml", "tasks")
	require.NoError(t, err)

	doc.Rows[1]["rank"] = int64(7)
	data, err := Serialize(doc)
	require.NoError(t, err)

	mfs.Seed("/docs/copy.toml", data)
	reloaded, err := Load(mfs, "/docs/copy.toml", "tasks")
	require.NoError(t, err)

	require.Len(t, reloaded.Rows, 2)
	assert.Equal(t, "a", reloaded.Rows[0]["id"])
	assert.Equal(t, int64(7), reloaded.Rows[1]["rank"])
	require.NotNil(t, reloaded.Meta)
	assert.Equal(t, "rank", reloaded.Meta.Sort.Column)
}

func TestSerializeDropsNilCells(t *testing.T) {
	doc := &types.Document{
		Path:    "/docs/deck.toml",
		Table:   "tasks",
		Headers: []string{"id", "title"},
		Rows: []types.Row{
			{"id": "a", "title": nil},
		},
	}

	data, err := Serialize(doc)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "title")
}

func TestMalformedMetaIgnored(t *testing.T) {
	mfs := NewMemFS()
	mfs.Seed("/docs/deck.toml", []byte("[[tasks]]\nid = \"a\"\n\n[metadata]\nsort = \"rank\"\n"))

	doc, err := Load(mfs, "/docs/deck.toml", "tasks")
	require.NoError(t, err)
	assert.Nil(t, doc.Meta)
}

func TestSignatureTracksContentOnly(t *testing.T) {
	mfs := seededFS(t)
	doc, err := Load(mfs, "/docs/deck.toml", "tasks")
	require.NoError(t, err)

	base := Signature(doc)
	assert.Equal(t, base, Signature(doc), "signature not deterministic")

	// View metadata does not disturb the content signature.
	doc.Meta = &types.ViewMeta{Sort: &types.SortSpec{Column: "id", Ascending: true}}
	assert.Equal(t, base, Signature(doc))

	// A cell edit does.
	doc.Rows[0]["title"] = "Changed"
	assert.NotEqual(t, base, Signature(doc))
}
