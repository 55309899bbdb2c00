// Package storage persists table documents: a crash-safe atomic writer,
// the TOML codec for the on-disk format, and the filesystem capability
// interface both run against.
package storage

import (
	"io/fs"
	"os"
)

// FS is the filesystem capability surface the storage layer needs. The
// engine injects OSFS in production and MemFS in tests, so write-failure
// and permission paths are exercised without touching real disk state.
type FS interface {
	// ReadFile returns the file's full contents.
	ReadFile(path string) ([]byte, error)

	// WriteFileSync creates path exclusively, writes data, and forces
	// it to stable storage before returning.
	WriteFileSync(path string, data []byte, perm fs.FileMode) error

	// Rename atomically replaces newpath with oldpath.
	Rename(oldpath, newpath string) error

	// Remove deletes the named file.
	Remove(path string) error

	// Stat returns file metadata.
	Stat(path string) (fs.FileInfo, error)

	// ReadDir lists the directory's entries.
	ReadDir(dir string) ([]fs.DirEntry, error)

	// CheckWrite probes whether path can be opened for writing without
	// modifying it.
	CheckWrite(path string) error
}

// OSFS implements FS against the real filesystem.
type OSFS struct{}

// NewOSFS returns the real-filesystem implementation.
func NewOSFS() OSFS {
	return OSFS{}
}

func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (OSFS) WriteFileSync(path string, data []byte, perm fs.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (OSFS) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

func (OSFS) Remove(path string) error {
	return os.Remove(path)
}

func (OSFS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (OSFS) ReadDir(dir string) ([]fs.DirEntry, error) {
	return os.ReadDir(dir)
}

func (OSFS) CheckWrite(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return err
	}
	return f.Close()
}
