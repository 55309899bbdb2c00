// Package cache persists derived computation results in a SQLite
// database so they survive restarts. Entries are keyed by document path,
// table, row index, and function name, and carry the generation they
// were computed at: a lookup hits only on an exact generation match, so
// an edited row can never serve a stale value. Least recently used
// entries are evicted once the configured capacity is exceeded.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/trestle/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// dbFileName is the cache database file inside the cache directory.
const dbFileName = "results.db"

// Cache is a persistent LRU store for derived results.
type Cache struct {
	mu       sync.Mutex
	attached bool
	db       *sql.DB
	capacity int

	// accessSeq is the last issued access sequence number. Every read
	// and write bumps it, so ordering by access_seq yields LRU order.
	accessSeq int64
}

// NewCache returns a detached Cache; call Attach before use.
func NewCache() *Cache {
	return &Cache{}
}

// Attach opens (or creates) the cache database under dir. Capacity is
// the maximum number of entries kept before LRU eviction.
// Returns ErrAlreadyAttached if already attached.
func (c *Cache) Attach(dir string, capacity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attached {
		return types.ErrAlreadyAttached
	}
	if capacity <= 0 {
		return fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, dbFileName))
	if err != nil {
		return fmt.Errorf("open cache database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return fmt.Errorf("apply cache schema: %w", err)
	}

	// Resume the access sequence where the previous run left off.
	var seq sql.NullInt64
	if err := db.QueryRow("SELECT MAX(access_seq) FROM derived_results").Scan(&seq); err != nil {
		db.Close()
		return fmt.Errorf("read access sequence: %w", err)
	}

	c.db = db
	c.capacity = capacity
	c.accessSeq = seq.Int64
	c.attached = true
	return nil
}

// Detach closes the database. Idempotent.
func (c *Cache) Detach() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.attached {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	c.attached = false
	return err
}

// Get looks up the cached value for key and function. It hits only when
// the stored generation equals generation; a hit refreshes the entry's
// LRU position.
func (c *Cache) Get(ctx context.Context, key types.RowKey, function string, generation uint64) (any, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.attached {
		return nil, false, types.ErrDetached
	}

	var stored int64
	var encoded string
	err := c.db.QueryRowContext(ctx,
		"SELECT generation, value_json FROM derived_results WHERE path = ? AND tbl = ? AND row_idx = ? AND func = ?",
		key.Path, key.Table, key.Index, function,
	).Scan(&stored, &encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	if uint64(stored) != generation {
		return nil, false, nil
	}

	c.accessSeq++
	if _, err := c.db.ExecContext(ctx,
		"UPDATE derived_results SET access_seq = ? WHERE path = ? AND tbl = ? AND row_idx = ? AND func = ?",
		c.accessSeq, key.Path, key.Table, key.Index, function,
	); err != nil {
		return nil, false, fmt.Errorf("cache touch: %w", err)
	}

	var value any
	if err := json.Unmarshal([]byte(encoded), &value); err != nil {
		return nil, false, fmt.Errorf("decode cached value: %w", err)
	}
	return value, true, nil
}

// Put stores a computed value, replacing any previous entry for the same
// key and function, then evicts least recently used entries beyond
// capacity.
func (c *Cache) Put(ctx context.Context, key types.RowKey, function string, generation uint64, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached value: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.attached {
		return types.ErrDetached
	}

	c.accessSeq++
	if _, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO derived_results
		 (path, tbl, row_idx, func, generation, value_json, access_seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.Path, key.Table, key.Index, function, int64(generation), string(encoded), c.accessSeq,
	); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}

	return c.evictLocked(ctx)
}

// InvalidateRow removes every cached function value for one row.
func (c *Cache) InvalidateRow(ctx context.Context, key types.RowKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.attached {
		return types.ErrDetached
	}
	_, err := c.db.ExecContext(ctx,
		"DELETE FROM derived_results WHERE path = ? AND tbl = ? AND row_idx = ?",
		key.Path, key.Table, key.Index,
	)
	if err != nil {
		return fmt.Errorf("cache invalidate row: %w", err)
	}
	return nil
}

// InvalidateDocument removes every cached value for one document path.
func (c *Cache) InvalidateDocument(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.attached {
		return types.ErrDetached
	}
	_, err := c.db.ExecContext(ctx, "DELETE FROM derived_results WHERE path = ?", path)
	if err != nil {
		return fmt.Errorf("cache invalidate document: %w", err)
	}
	return nil
}

// Len reports the number of cached entries.
func (c *Cache) Len(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.attached {
		return 0, types.ErrDetached
	}
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM derived_results").Scan(&n); err != nil {
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return n, nil
}

// evictLocked deletes the least recently used entries until the count is
// back within capacity. Caller holds c.mu.
func (c *Cache) evictLocked(ctx context.Context) error {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM derived_results").Scan(&n); err != nil {
		return fmt.Errorf("cache count: %w", err)
	}
	if n <= c.capacity {
		return nil
	}
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM derived_results WHERE rowid IN
		 (SELECT rowid FROM derived_results ORDER BY access_seq ASC LIMIT ?)`,
		n-c.capacity,
	)
	if err != nil {
		return fmt.Errorf("cache evict: %w", err)
	}
	return nil
}
