package storage

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemFS is an in-memory FS for tests. Beyond plain file storage it can
// mark paths read-only or unreadable and inject one-shot errors on write
// and rename, which is how permission loss and mid-write crashes are
// simulated.
type MemFS struct {
	mu         sync.Mutex
	files      map[string][]byte
	mtimes     map[string]time.Time
	readOnly   map[string]bool
	unreadable map[string]bool

	writeErr  map[string]error
	renameErr map[string]error
}

// NewMemFS returns an empty in-memory filesystem.
func NewMemFS() *MemFS {
	return &MemFS{
		files:      make(map[string][]byte),
		mtimes:     make(map[string]time.Time),
		readOnly:   make(map[string]bool),
		unreadable: make(map[string]bool),
		writeErr:   make(map[string]error),
		renameErr:  make(map[string]error),
	}
}

// Seed stores a file without any permission checks.
func (m *MemFS) Seed(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = append([]byte(nil), data...)
	m.mtimes[path] = time.Now()
}

// SetReadOnly makes writes and renames onto path fail with a permission
// error while reads keep working.
func (m *MemFS) SetReadOnly(path string, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readOnly[path] = v
}

// SetUnreadable makes every access to path fail with a permission error.
func (m *MemFS) SetUnreadable(path string, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreadable[path] = v
}

// FailNextWrite makes the next WriteFileSync touching a path with the
// given prefix return err.
func (m *MemFS) FailNextWrite(prefix string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr[prefix] = err
}

// FailNextRename makes the next Rename onto newpath return err.
func (m *MemFS) FailNextRename(newpath string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renameErr[newpath] = err
}

// Contents returns the current bytes of path and whether it exists.
func (m *MemFS) Contents(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Paths returns every stored path, sorted.
func (m *MemFS) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (m *MemFS) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreadable[path] {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrPermission}
	}
	data, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

func (m *MemFS) WriteFileSync(path string, data []byte, _ fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for prefix, err := range m.writeErr {
		if strings.HasPrefix(path, prefix) {
			delete(m.writeErr, prefix)
			return &fs.PathError{Op: "write", Path: path, Err: err}
		}
	}
	if m.readOnly[path] || m.unreadable[path] {
		return &fs.PathError{Op: "write", Path: path, Err: fs.ErrPermission}
	}
	m.files[path] = append([]byte(nil), data...)
	m.mtimes[path] = time.Now()
	return nil
}

func (m *MemFS) Rename(oldpath, newpath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.renameErr[newpath]; ok {
		delete(m.renameErr, newpath)
		return &fs.PathError{Op: "rename", Path: newpath, Err: err}
	}
	if m.readOnly[newpath] || m.unreadable[newpath] {
		return &fs.PathError{Op: "rename", Path: newpath, Err: fs.ErrPermission}
	}
	data, ok := m.files[oldpath]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldpath, Err: fs.ErrNotExist}
	}
	delete(m.files, oldpath)
	delete(m.mtimes, oldpath)
	m.files[newpath] = data
	m.mtimes[newpath] = time.Now()
	return nil
}

func (m *MemFS) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; !ok {
		return &fs.PathError{Op: "remove", Path: path, Err: fs.ErrNotExist}
	}
	delete(m.files, path)
	delete(m.mtimes, path)
	return nil
}

func (m *MemFS) Stat(path string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreadable[path] {
		return nil, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrPermission}
	}
	data, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist}
	}
	return memFileInfo{name: filepath.Base(path), size: int64(len(data)), mtime: m.mtimes[path]}, nil
}

func (m *MemFS) ReadDir(dir string) ([]fs.DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clean := filepath.Clean(dir)
	var names []string
	for path := range m.files {
		if filepath.Dir(path) == clean {
			names = append(names, filepath.Base(path))
		}
	}
	sort.Strings(names)
	entries := make([]fs.DirEntry, len(names))
	for i, name := range names {
		entries[i] = memDirEntry{name: name}
	}
	return entries, nil
}

func (m *MemFS) CheckWrite(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreadable[path] || m.readOnly[path] {
		return &fs.PathError{Op: "open", Path: path, Err: fs.ErrPermission}
	}
	if _, ok := m.files[path]; !ok {
		return &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return nil
}

type memFileInfo struct {
	name  string
	size  int64
	mtime time.Time
}

func (fi memFileInfo) Name() string       { return fi.name }
func (fi memFileInfo) Size() int64        { return fi.size }
func (fi memFileInfo) Mode() fs.FileMode  { return 0o644 }
func (fi memFileInfo) ModTime() time.Time { return fi.mtime }
func (fi memFileInfo) IsDir() bool        { return false }
func (fi memFileInfo) Sys() any           { return nil }

type memDirEntry struct {
	name string
}

func (e memDirEntry) Name() string               { return e.name }
func (e memDirEntry) IsDir() bool                { return false }
func (e memDirEntry) Type() fs.FileMode          { return 0 }
func (e memDirEntry) Info() (fs.FileInfo, error) { return memFileInfo{name: e.name}, nil }
