// Package idmap maps sparse external keys to dense row ids.
//
// A Builder collects (key, value) pairs during a streaming pass over
// unsorted input and appends them to a flat file of fixed-width
// little-endian records on Extend. Only the first value pushed for a key
// is kept; later pushes of the same key are dropped. The file is the
// source of truth and can be read back with Load.
//
//	b, err := idmap.Open[uint64, uint32](fs.Default, "ids/works.map")
//	b.Push(4210987, 0)
//	err = b.Extend()
package idmap

import (
	"bufio"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/hupe1980/colgraph/attr"
	"github.com/hupe1980/colgraph/internal/fs"
)

// ErrCorrupt is returned when a map file is not a whole number of records.
var ErrCorrupt = errors.New("idmap: corrupt map file")

// Unsigned is the set of key and value types.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

type entry[K, V Unsigned] struct {
	key   K
	value V
}

// Builder is an append-only key to value map backed by a record file.
// It is not safe for concurrent use.
type Builder[K, V Unsigned] struct {
	fsys    fs.FileSystem
	path    string
	f       fs.File
	kw, vw  attr.Width
	flushed map[K]V
	pending []entry[K, V]
	failed  error
}

func widthOf[T Unsigned]() attr.Width {
	var z T
	return attr.Width(unsafe.Sizeof(z))
}

// RecordSize returns the byte size of one (K, V) record.
func RecordSize[K, V Unsigned]() int {
	return widthOf[K]().Bytes() + widthOf[V]().Bytes()
}

// Open opens the map file at path, loading any records already in it.
func Open[K, V Unsigned](fsys fs.FileSystem, path string) (*Builder[K, V], error) {
	if fsys == nil {
		fsys = fs.Default
	}
	flushed, err := Load[K, V](fsys, path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if flushed == nil {
		flushed = make(map[K]V)
	}

	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("idmap: open %s: %w", path, err)
	}

	return &Builder[K, V]{
		fsys:    fsys,
		path:    path,
		f:       f,
		kw:      widthOf[K](),
		vw:      widthOf[V](),
		flushed: flushed,
	}, nil
}

// Push buffers a candidate entry. It becomes visible after Extend.
func (b *Builder[K, V]) Push(key K, value V) {
	b.pending = append(b.pending, entry[K, V]{key: key, value: value})
}

// Pending returns the number of buffered entries.
func (b *Builder[K, V]) Pending() int { return len(b.pending) }

// Extend appends the buffered entries whose keys are new to the file, in
// push order, and clears the buffer.
func (b *Builder[K, V]) Extend() error {
	if b.failed != nil {
		return b.failed
	}
	if len(b.pending) == 0 {
		return nil
	}

	info, err := b.f.Stat()
	if err != nil {
		return fmt.Errorf("idmap: stat %s: %w", b.path, err)
	}
	size := info.Size()

	fresh := make(map[K]V)
	bw := bufio.NewWriter(b.f)
	var buf [16]byte
	rec := buf[:b.kw.Bytes()+b.vw.Bytes()]

	for _, e := range b.pending {
		if _, ok := b.flushed[e.key]; ok {
			continue
		}
		if _, ok := fresh[e.key]; ok {
			continue
		}
		fresh[e.key] = e.value

		_ = attr.Put(rec, b.kw, uint64(e.key))
		_ = attr.Put(rec[b.kw.Bytes():], b.vw, uint64(e.value))
		if _, err := bw.Write(rec); err != nil {
			return b.rollback(size, fmt.Errorf("idmap: write %s: %w", b.path, err))
		}
	}
	if err := bw.Flush(); err != nil {
		return b.rollback(size, fmt.Errorf("idmap: write %s: %w", b.path, err))
	}
	if err := b.f.Sync(); err != nil {
		return b.rollback(size, fmt.Errorf("idmap: sync %s: %w", b.path, err))
	}

	maps.Copy(b.flushed, fresh)
	b.pending = b.pending[:0]
	return nil
}

// rollback cuts the file back to size after a failed Extend, so a retry
// does not append the same records twice. If that fails too, the builder
// refuses further writes.
func (b *Builder[K, V]) rollback(size int64, err error) error {
	if terr := b.f.Truncate(size); terr != nil {
		b.failed = fmt.Errorf("idmap: %s left with partial records: %w", b.path, err)
		return b.failed
	}
	return err
}

// Get returns the value kept for key.
func (b *Builder[K, V]) Get(key K) (V, bool) {
	v, ok := b.flushed[key]
	return v, ok
}

// Len returns the number of distinct keys in the file.
func (b *Builder[K, V]) Len() int { return len(b.flushed) }

// ToMap returns a copy of the flushed entries.
func (b *Builder[K, V]) ToMap() map[K]V {
	return maps.Clone(b.flushed)
}

// Close flushes pending entries and closes the file.
func (b *Builder[K, V]) Close() error {
	err := b.Extend()
	if cerr := b.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Load reads the map file at path.
func Load[K, V Unsigned](fsys fs.FileSystem, path string) (map[K]V, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}

	kw, vw := widthOf[K](), widthOf[V]()
	size := kw.Bytes() + vw.Bytes()
	if len(data)%size != 0 {
		return nil, fmt.Errorf("%w: %s has %d bytes, record size %d", ErrCorrupt, path, len(data), size)
	}

	m := make(map[K]V, len(data)/size)
	for off := 0; off < len(data); off += size {
		k := K(attr.Get(data[off:], kw))
		if _, ok := m[k]; ok {
			continue
		}
		m[k] = V(attr.Get(data[off+kw.Bytes():], vw))
	}
	return m, nil
}
