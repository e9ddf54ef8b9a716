package fs

import (
	"io"
	"os"
	"path/filepath"
)

// File represents an open file.
type File interface {
	io.ReadWriteCloser
	io.ReaderAt
	Sync() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
}

// FileSystem abstracts file system operations for testability.
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	Remove(name string) error
	Rename(oldpath, newpath string) error
	Stat(name string) (os.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
	ReadDir(name string) ([]os.DirEntry, error)
}

// LocalFS implements FileSystem using the local os package.
type LocalFS struct{}

func (LocalFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(name, flag, perm)
}

func (LocalFS) Remove(name string) error                     { return os.Remove(name) }
func (LocalFS) Rename(oldpath, newpath string) error         { return os.Rename(oldpath, newpath) }
func (LocalFS) Stat(name string) (os.FileInfo, error)        { return os.Stat(name) }
func (LocalFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (LocalFS) ReadDir(name string) ([]os.DirEntry, error)   { return os.ReadDir(name) }

// Default is the default local file system.
var Default FileSystem = LocalFS{}

// TempName returns the staging name used while path is being written.
func TempName(path string) string {
	return path + ".tmp"
}

// Create opens the staging file for path, creating parent directories.
// The caller commits it with Commit or discards it with Abort.
func Create(fsys FileSystem, path string) (File, error) {
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return fsys.OpenFile(TempName(path), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
}

// Commit syncs and closes f, then renames the staging file onto path.
func Commit(fsys FileSystem, f File, path string) error {
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = fsys.Remove(TempName(path))
		return err
	}
	if err := f.Close(); err != nil {
		_ = fsys.Remove(TempName(path))
		return err
	}
	return fsys.Rename(TempName(path), path)
}

// Abort closes f and removes the staging file.
func Abort(fsys FileSystem, f File, path string) {
	_ = f.Close()
	_ = fsys.Remove(TempName(path))
}

// WriteFile writes data to path through a staging file.
func WriteFile(fsys FileSystem, path string, data []byte) error {
	f, err := Create(fsys, path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		Abort(fsys, f, path)
		return err
	}
	return Commit(fsys, f, path)
}

// ReadFile reads the whole file at path.
func ReadFile(fsys FileSystem, path string) ([]byte, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
