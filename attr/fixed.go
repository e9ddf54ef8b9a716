package attr

import (
	"bufio"
	"context"
	"fmt"
	"iter"

	"github.com/hupe1980/colgraph/blobstore"
	"github.com/hupe1980/colgraph/internal/fs"
)

// FixedColumn is a read-only fixed column.
type FixedColumn struct {
	spec Spec
	meta Meta
	blob blobstore.Blob
	data []byte
	w    int
}

func (s *Store) openFixed(ctx context.Context, spec Spec) (*FixedColumn, error) {
	meta, err := s.Meta(ctx, spec)
	if err != nil {
		return nil, err
	}
	if err := meta.check(spec); err != nil {
		return nil, err
	}
	blob, data, err := s.readBlob(ctx, spec, dataExt, meta.Layout().Data)
	if err != nil {
		return nil, err
	}
	return &FixedColumn{
		spec: spec.WithWidth(meta.Width),
		meta: meta,
		blob: blob,
		data: data,
		w:    meta.Width.Bytes(),
	}, nil
}

func (s *Store) readBlob(ctx context.Context, spec Spec, ext string, want int64) (blobstore.Blob, []byte, error) {
	blob, err := s.blobs.Open(ctx, blobName(spec, ext))
	if err != nil {
		return nil, nil, fmt.Errorf("attr: open %s%s: %w", spec.Path(), ext, err)
	}
	if blob.Size() != want {
		_ = blob.Close()
		return nil, nil, fmt.Errorf("%w: %s%s has %d bytes, want %d", ErrCorrupt, spec.Path(), ext, blob.Size(), want)
	}
	data, err := blobstore.ReadAll(ctx, blob)
	if err != nil {
		_ = blob.Close()
		return nil, nil, err
	}
	return blob, data, nil
}

// Spec returns the column declaration with the stored width resolved.
func (c *FixedColumn) Spec() Spec { return c.spec }

// Len returns the number of rows.
func (c *FixedColumn) Len() int { return c.meta.Rows }

// Width returns the stored width.
func (c *FixedColumn) Width() Width { return c.meta.Width }

// Get returns the value of row.
func (c *FixedColumn) Get(row int) (uint64, error) {
	if row < 0 || row >= c.meta.Rows {
		return 0, &BoundsError{Row: row, Count: c.meta.Rows}
	}
	return Get(c.data[row*c.w:], c.meta.Width), nil
}

// All yields every (row, value) pair in row order.
func (c *FixedColumn) All() iter.Seq2[int, uint64] {
	return func(yield func(int, uint64) bool) {
		for row := 0; row < c.meta.Rows; row++ {
			if !yield(row, Get(c.data[row*c.w:], c.meta.Width)) {
				return
			}
		}
	}
}

// Values yields every value in row order.
func (c *FixedColumn) Values() iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		for _, v := range c.All() {
			if !yield(v) {
				return
			}
		}
	}
}

// Close releases the underlying blob.
func (c *FixedColumn) Close() error { return c.blob.Close() }

// FixedWriter writes a fixed column row by row.
type FixedWriter struct {
	s    *Store
	spec Spec
	path string
	f    fs.File
	bw   *bufio.Writer
	buf  [8]byte
	rows int
	err  error
}

// CreateFixed starts writing spec. The width must be resolved.
func (s *Store) CreateFixed(spec Spec) (*FixedWriter, error) {
	if spec.Kind != Fixed {
		return nil, fmt.Errorf("%w: %s is not fixed", ErrKindMismatch, spec)
	}
	if !spec.Width.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWidth, spec)
	}
	path := s.file(spec, dataExt)
	f, err := fs.Create(s.fsys, path)
	if err != nil {
		return nil, fmt.Errorf("attr: create %s: %w", spec, err)
	}
	return &FixedWriter{
		s:    s,
		spec: spec,
		path: path,
		f:    f,
		bw:   bufio.NewWriterSize(f, 64*1024),
	}, nil
}

// Append writes the value of the next row.
func (w *FixedWriter) Append(v uint64) error {
	if w.err != nil {
		return w.err
	}
	if w.rows >= w.spec.Rows() {
		return &BoundsError{Row: w.rows, Count: w.spec.Rows()}
	}
	if err := Put(w.buf[:], w.spec.Width, v); err != nil {
		return fmt.Errorf("%s row %d: %w", w.spec.Path(), w.rows, err)
	}
	if _, err := w.bw.Write(w.buf[:w.spec.Width]); err != nil {
		w.err = err
		return err
	}
	w.rows++
	return nil
}

// Rows returns the number of rows appended so far.
func (w *FixedWriter) Rows() int { return w.rows }

// Close commits the column. Every row must have been appended.
func (w *FixedWriter) Close() error {
	if w.err == nil && w.rows != w.spec.Rows() {
		w.err = fmt.Errorf("%w: %s has %d of %d rows", ErrArity, w.spec, w.rows, w.spec.Rows())
	}
	if w.err == nil {
		w.err = w.bw.Flush()
	}
	if w.err != nil {
		fs.Abort(w.s.fsys, w.f, w.path)
		return w.err
	}
	if err := fs.Commit(w.s.fsys, w.f, w.path); err != nil {
		return fmt.Errorf("attr: commit %s: %w", w.spec, err)
	}
	return w.s.commitMeta(w.spec, Meta{Kind: Fixed, Width: w.spec.Width, Rows: w.rows})
}

// Abort discards the column.
func (w *FixedWriter) Abort() {
	fs.Abort(w.s.fsys, w.f, w.path)
}
