package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hupe1980/colgraph/internal/fs"
	"github.com/hupe1980/colgraph/internal/mmap"
)

// LocalStore implements BlobStore on a local directory. Blobs are
// memory-mapped on Open.
type LocalStore struct {
	root string
	fsys fs.FileSystem
}

// NewLocalStore creates a LocalStore rooted at root.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root, fsys: fs.Default}
}

// Root returns the directory the store is rooted at.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Open maps the named file.
func (s *LocalStore) Open(_ context.Context, name string) (Blob, error) {
	m, err := mmap.Open(s.path(name))
	if err != nil {
		return nil, err
	}
	return &localBlob{m: m}, nil
}

// Create stages a new file; it is renamed into place on Close.
func (s *LocalStore) Create(_ context.Context, name string) (WritableBlob, error) {
	path := s.path(name)
	f, err := fs.Create(s.fsys, path)
	if err != nil {
		return nil, err
	}
	return &localWritableBlob{fsys: s.fsys, f: f, path: path}, nil
}

// Put writes data atomically.
func (s *LocalStore) Put(_ context.Context, name string, data []byte) error {
	return fs.WriteFile(s.fsys, s.path(name), data)
}

// Delete removes the named file.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	return s.fsys.Remove(s.path(name))
}

// List returns the sorted slash separated names starting with prefix.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

type localBlob struct {
	m *mmap.Mapping
}

func (b *localBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	data := b.m.Bytes()
	if off < 0 || off >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *localBlob) Close() error { return b.m.Close() }

func (b *localBlob) Size() int64 { return int64(b.m.Size()) }

func (b *localBlob) Bytes() ([]byte, error) { return b.m.Bytes(), nil }

// Advise forwards an access pattern hint to the mapping.
func (b *localBlob) Advise(a mmap.Advice) error { return b.m.Advise(a) }

type localWritableBlob struct {
	fsys fs.FileSystem
	f    fs.File
	path string
	err  error
}

func (w *localWritableBlob) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		w.err = err
	}
	return n, err
}

// Abort removes the staged file.
func (w *localWritableBlob) Abort() error {
	if errors.Is(w.err, ErrAborted) {
		return nil
	}
	w.err = ErrAborted
	fs.Abort(w.fsys, w.f, w.path)
	return nil
}

func (w *localWritableBlob) Close() error {
	if errors.Is(w.err, ErrAborted) {
		return ErrAborted
	}
	if w.err != nil {
		fs.Abort(w.fsys, w.f, w.path)
		return w.err
	}
	return fs.Commit(w.fsys, w.f, w.path)
}
