// Engine integration tests on the real filesystem: file watching, save
// suppression, conflict detection, and cache persistence across restarts.
package integration

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mesh-intelligence/trestle/pkg/engine"
	"github.com/mesh-intelligence/trestle/pkg/types"
)

const lifecycleDoc = `[[tasks]]
id = "t1"
title = "write report"
rank = 2

[[tasks]]
id = "t2"
title = "fix bug"
rank = 1
`

// setupLibEngine attaches an engine against a fresh temp tree. The save
// debounce is long so only explicit saves touch the filesystem; tests for
// the debounce itself live with the engine package.
func setupLibEngine(t *testing.T) (types.Engine, string) {
	t.Helper()
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docs, 0o755); err != nil {
		t.Fatalf("mkdir docs: %v", err)
	}

	eng := engine.New()
	cfg := types.Config{
		DebounceInterval: 10 * time.Second,
		WatchGrace:       300 * time.Millisecond,
		ComputeWorkers:   2,
		CacheDir:         filepath.Join(dir, "cache"),
		CacheCapacity:    64,
	}
	if err := eng.Attach(cfg); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(func() { eng.Detach() })
	return eng, docs
}

// writeLifecycleDoc writes the standard two-row document and returns its path.
func writeLifecycleDoc(t *testing.T, docs string) string {
	t.Helper()
	path := filepath.Join(docs, "tasks.toml")
	if err := os.WriteFile(path, []byte(lifecycleDoc), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	return path
}

// waitEngineEvent reads events until one of the wanted kind arrives.
func waitEngineEvent(t *testing.T, ch <-chan types.Event, kind types.EventKind) types.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("events channel closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within 3s", kind)
		}
	}
}

// assertNoEngineEvent fails if any event arrives within the window.
func assertNoEngineEvent(t *testing.T, ch <-chan types.Event, window time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected %s event for %s", ev.Kind, ev.Path)
	case <-time.After(window):
	}
}

func TestLifecycleEditSaveReopen(t *testing.T) {
	eng, docs := setupLibEngine(t)
	path := writeLifecycleDoc(t, docs)

	if _, err := eng.Open(path, "tasks"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := eng.Edit(path, "tasks", 0, "title", "write the report"); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if _, err := eng.SetSort(path, "tasks", "rank", true); err != nil {
		t.Fatalf("SetSort: %v", err)
	}
	if _, err := eng.Save(path, "tasks"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := eng.Close(path, "tasks"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	doc, err := eng.Open(path, "tasks")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if doc.Rows[0]["title"] != "write the report" {
		t.Errorf("edit lost across close: %v", doc.Rows[0]["title"])
	}
	if doc.Meta == nil || doc.Meta.Sort == nil || doc.Meta.Sort.Column != "rank" {
		t.Errorf("sort view lost across close: %+v", doc.Meta)
	}
	storageIdx, err := eng.TranslateRowIndex(path, "tasks", 0)
	if err != nil {
		t.Fatalf("TranslateRowIndex: %v", err)
	}
	if storageIdx != 1 {
		t.Errorf("rank ascending should put the rank-1 row first, got storage %d", storageIdx)
	}
}

func TestExternalChangeReloadsCleanDocument(t *testing.T) {
	eng, docs := setupLibEngine(t)
	path := writeLifecycleDoc(t, docs)

	if _, err := eng.Open(path, "tasks"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	changed := strings.Replace(lifecycleDoc, "write report", "rewritten elsewhere", 1)
	if err := os.WriteFile(path, []byte(changed), 0o644); err != nil {
		t.Fatalf("external write: %v", err)
	}

	ev := waitEngineEvent(t, eng.Events(), types.EventExternalChange)
	if ev.Path != path {
		t.Errorf("event path = %s, want %s", ev.Path, path)
	}

	doc, err := eng.Open(path, "tasks")
	if err != nil {
		t.Fatalf("Open after reload: %v", err)
	}
	if doc.Rows[0]["title"] != "rewritten elsewhere" {
		t.Errorf("engine did not pick up external content: %v", doc.Rows[0]["title"])
	}
}

func TestOwnSaveIsSuppressed(t *testing.T) {
	eng, docs := setupLibEngine(t)
	path := writeLifecycleDoc(t, docs)

	if _, err := eng.Open(path, "tasks"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := eng.Edit(path, "tasks", 0, "title", "edited by us"); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if _, err := eng.Save(path, "tasks"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// The engine's own write lands within the grace window and must not
	// come back as an external change.
	assertNoEngineEvent(t, eng.Events(), 600*time.Millisecond)
}

func TestConflictKeepsLocalEdits(t *testing.T) {
	eng, docs := setupLibEngine(t)
	path := writeLifecycleDoc(t, docs)

	if _, err := eng.Open(path, "tasks"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := eng.Edit(path, "tasks", 0, "title", "local unsaved edit"); err != nil {
		t.Fatalf("Edit: %v", err)
	}

	changed := strings.Replace(lifecycleDoc, "fix bug", "changed elsewhere", 1)
	if err := os.WriteFile(path, []byte(changed), 0o644); err != nil {
		t.Fatalf("external write: %v", err)
	}

	waitEngineEvent(t, eng.Events(), types.EventConflict)

	// The dirty document is left alone for the caller to resolve.
	doc, err := eng.Open(path, "tasks")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if doc.Rows[0]["title"] != "local unsaved edit" {
		t.Errorf("conflict clobbered the local edit: %v", doc.Rows[0]["title"])
	}
	if doc.Rows[1]["title"] != "fix bug" {
		t.Errorf("conflict pulled in external content: %v", doc.Rows[1]["title"])
	}
}

func TestRemovedFileEmitsEvent(t *testing.T) {
	eng, docs := setupLibEngine(t)
	path := writeLifecycleDoc(t, docs)

	if _, err := eng.Open(path, "tasks"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	ev := waitEngineEvent(t, eng.Events(), types.EventFileRemoved)
	if ev.Path != path {
		t.Errorf("event path = %s, want %s", ev.Path, path)
	}
}

func TestComputationCachePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docs, 0o755); err != nil {
		t.Fatalf("mkdir docs: %v", err)
	}
	path := writeLifecycleDoc(t, docs)
	cfg := types.Config{
		DebounceInterval: 10 * time.Second,
		WatchGrace:       300 * time.Millisecond,
		ComputeWorkers:   2,
		CacheDir:         filepath.Join(dir, "cache"),
		CacheCapacity:    64,
	}

	runOnce := func(calls *atomic.Int32) any {
		eng := engine.New()
		eng.RegisterFunction("word-count", func(row types.Row) (any, error) {
			calls.Add(1)
			return len(strings.Fields(types.CellString(row["title"]))), nil
		})
		if err := eng.Attach(cfg); err != nil {
			t.Fatalf("Attach: %v", err)
		}
		defer eng.Detach()

		if _, err := eng.Open(path, "tasks"); err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := eng.SubmitComputation(path, "tasks", 0, "word-count"); err != nil {
			t.Fatalf("SubmitComputation: %v", err)
		}
		select {
		case res, ok := <-eng.Results():
			if !ok {
				t.Fatal("results channel closed")
			}
			if res.Err != nil {
				t.Fatalf("computation failed: %v", res.Err)
			}
			return res.Value
		case <-time.After(3 * time.Second):
			t.Fatal("no computation result within 3s")
			return nil
		}
	}

	var first atomic.Int32
	value := runOnce(&first)
	if n, ok := types.CellNumber(value); !ok || n != 2 {
		t.Errorf("first run value = %v, want 2", value)
	}
	if first.Load() != 1 {
		t.Errorf("first run invoked the function %d times, want 1", first.Load())
	}

	// Same cache directory, fresh process state: the stored result serves
	// the request and the function never runs.
	var second atomic.Int32
	value = runOnce(&second)
	if n, ok := types.CellNumber(value); !ok || n != 2 {
		t.Errorf("second run value = %v, want 2", value)
	}
	if second.Load() != 0 {
		t.Errorf("second run invoked the function %d times, want 0 (cache hit)", second.Load())
	}
}
