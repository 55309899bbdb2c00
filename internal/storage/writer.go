package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/mesh-intelligence/trestle/pkg/types"
)

// orphanPattern matches the temp-file naming convention: process id and
// timestamp joined by an underscore.
var orphanPattern = regexp.MustCompile(`^\d+_\d+\.tmp$`)

// Writer persists document bytes crash-safely. New content lands in a
// uniquely named temp file in the target's directory, is forced to stable
// storage, and is renamed over the target in a single operation, so a
// crash mid-write can never leave a half-written document.
type Writer struct {
	fs  FS
	pid int
	now func() time.Time
}

// NewWriter returns a Writer over the given filesystem.
func NewWriter(fsys FS) *Writer {
	return &Writer{fs: fsys, pid: os.Getpid(), now: time.Now}
}

// Write replaces path's contents with data. Permission failures return
// ErrPermissionDenied so the caller can route to recovery; every other
// failure wraps ErrWriteFailed. The target is untouched on failure.
func (w *Writer) Write(path string, data []byte) error {
	tmp := w.tempName(path)

	if err := w.fs.WriteFileSync(tmp, data, 0o644); err != nil {
		return classifyWrite("writing temp file", err)
	}

	if err := w.fs.Rename(tmp, path); err != nil {
		// Leave no litter on a failed rename; the startup scan covers
		// anything a crash leaves behind.
		_ = w.fs.Remove(tmp)
		return classifyWrite("renaming temp file", err)
	}

	return nil
}

// CleanOrphans deletes temp files in dir left behind by crashed writes,
// returning the number removed.
func (w *Writer) CleanOrphans(dir string) (int, error) {
	entries, err := w.fs.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("scanning %s: %w", dir, err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !orphanPattern.MatchString(entry.Name()) {
			continue
		}
		if err := w.fs.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return removed, fmt.Errorf("removing orphan %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// tempName builds the colocated temp path: <pid>_<unixNano>.tmp next to
// the target.
func (w *Writer) tempName(path string) string {
	return filepath.Join(filepath.Dir(path), fmt.Sprintf("%d_%d.tmp", w.pid, w.now().UnixNano()))
}

// classifyWrite wraps err with the matching sentinel. Permission denials
// are kept distinct from other I/O failures.
func classifyWrite(op string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%s: %w: %v", op, types.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%s: %w: %v", op, types.ErrWriteFailed, err)
}
