package attr

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/hupe1980/colgraph/blobstore"
	"github.com/hupe1980/colgraph/internal/fs"
)

// VarColumn is a read-only variable column.
type VarColumn struct {
	spec    Spec
	meta    Meta
	offBlob blobstore.Blob
	payBlob blobstore.Blob
	offsets []byte
	payload []byte
	w       int
}

func (s *Store) openVar(ctx context.Context, spec Spec) (*VarColumn, error) {
	meta, err := s.Meta(ctx, spec)
	if err != nil {
		return nil, err
	}
	if err := meta.check(spec); err != nil {
		return nil, err
	}
	layout := meta.Layout()

	offBlob, offsets, err := s.readBlob(ctx, spec, offExt, layout.Offsets)
	if err != nil {
		return nil, err
	}
	payBlob, payload, err := s.readBlob(ctx, spec, dataExt, layout.Data)
	if err != nil {
		_ = offBlob.Close()
		return nil, err
	}

	c := &VarColumn{
		spec:    spec.WithWidth(meta.Width),
		meta:    meta,
		offBlob: offBlob,
		payBlob: payBlob,
		offsets: offsets,
		payload: payload,
		w:       meta.Width.Bytes(),
	}
	if err := c.checkOffsets(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// checkOffsets verifies that the offset table starts at 0, never
// decreases, and ends at the element count.
func (c *VarColumn) checkOffsets() error {
	if first := c.offset(0); first != 0 {
		return fmt.Errorf("%w: %s offset table starts at %d", ErrCorrupt, c.spec, first)
	}
	prev := uint64(0)
	for i := 1; i <= c.meta.Rows; i++ {
		off := c.offset(i)
		if off < prev {
			return fmt.Errorf("%w: %s offset %d decreases from %d to %d", ErrCorrupt, c.spec, i, prev, off)
		}
		prev = off
	}
	if prev != uint64(c.meta.Elements) {
		return fmt.Errorf("%w: %s offset table ends at %d, want %d", ErrCorrupt, c.spec, prev, c.meta.Elements)
	}
	return nil
}

func (c *VarColumn) offset(i int) uint64 {
	return binary.LittleEndian.Uint64(c.offsets[i*offsetLen:])
}

// Spec returns the column declaration with the stored width resolved.
func (c *VarColumn) Spec() Spec { return c.spec }

// Len returns the number of rows.
func (c *VarColumn) Len() int { return c.meta.Rows }

// Width returns the stored element width.
func (c *VarColumn) Width() Width { return c.meta.Width }

// Edges returns the total number of elements.
func (c *VarColumn) Edges() int64 { return c.meta.Elements }

// RowLen returns the number of elements in row.
func (c *VarColumn) RowLen(row int) (int, error) {
	if row < 0 || row >= c.meta.Rows {
		return 0, &BoundsError{Row: row, Count: c.meta.Rows}
	}
	return int(c.offset(row+1) - c.offset(row)), nil
}

// Row appends the elements of row to dst[:0] and returns it.
func (c *VarColumn) Row(row int, dst []uint64) ([]uint64, error) {
	if row < 0 || row >= c.meta.Rows {
		return dst[:0], &BoundsError{Row: row, Count: c.meta.Rows}
	}
	return c.row(row, dst[:0]), nil
}

func (c *VarColumn) row(row int, dst []uint64) []uint64 {
	start, end := int(c.offset(row)), int(c.offset(row+1))
	for i := start; i < end; i++ {
		dst = append(dst, Get(c.payload[i*c.w:], c.meta.Width))
	}
	return dst
}

// All yields every row in order. The slice is reused between rows and
// is never nil, also for empty rows.
func (c *VarColumn) All() iter.Seq2[int, []uint64] {
	return func(yield func(int, []uint64) bool) {
		buf := make([]uint64, 0, 16)
		for row := 0; row < c.meta.Rows; row++ {
			buf = c.row(row, buf[:0])
			if !yield(row, buf) {
				return
			}
		}
	}
}

// Close releases the underlying blobs.
func (c *VarColumn) Close() error {
	err := c.offBlob.Close()
	if perr := c.payBlob.Close(); err == nil {
		err = perr
	}
	return err
}

// VarWriter writes a variable column row by row.
type VarWriter struct {
	s        *Store
	spec     Spec
	payPath  string
	offPath  string
	pay      fs.File
	off      fs.File
	payW     *bufio.Writer
	offW     *bufio.Writer
	buf      [8]byte
	rows     int
	elements uint64
	err      error
}

// CreateVar starts writing spec. The width must be resolved.
func (s *Store) CreateVar(spec Spec) (*VarWriter, error) {
	if spec.Kind != Var {
		return nil, fmt.Errorf("%w: %s is not var", ErrKindMismatch, spec)
	}
	if !spec.Width.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWidth, spec)
	}
	w := &VarWriter{
		s:       s,
		spec:    spec,
		payPath: s.file(spec, dataExt),
		offPath: s.file(spec, offExt),
	}

	var err error
	if w.pay, err = fs.Create(s.fsys, w.payPath); err != nil {
		return nil, fmt.Errorf("attr: create %s: %w", spec, err)
	}
	if w.off, err = fs.Create(s.fsys, w.offPath); err != nil {
		fs.Abort(s.fsys, w.pay, w.payPath)
		return nil, fmt.Errorf("attr: create %s: %w", spec, err)
	}
	w.payW = bufio.NewWriterSize(w.pay, 64*1024)
	w.offW = bufio.NewWriterSize(w.off, 64*1024)

	if err := w.writeOffset(); err != nil {
		w.Abort()
		return nil, err
	}
	return w, nil
}

func (w *VarWriter) writeOffset() error {
	binary.LittleEndian.PutUint64(w.buf[:], w.elements)
	_, err := w.offW.Write(w.buf[:])
	return err
}

// AppendRow writes the elements of the next row.
func (w *VarWriter) AppendRow(vals []uint64) error {
	if w.err != nil {
		return w.err
	}
	if w.rows >= w.spec.Rows() {
		return &BoundsError{Row: w.rows, Count: w.spec.Rows()}
	}
	for _, v := range vals {
		if err := Put(w.buf[:], w.spec.Width, v); err != nil {
			w.err = fmt.Errorf("%s row %d: %w", w.spec.Path(), w.rows, err)
			return w.err
		}
		if _, err := w.payW.Write(w.buf[:w.spec.Width]); err != nil {
			w.err = err
			return err
		}
	}
	w.elements += uint64(len(vals))
	w.rows++
	if err := w.writeOffset(); err != nil {
		w.err = err
		return err
	}
	return nil
}

// Rows returns the number of rows appended so far.
func (w *VarWriter) Rows() int { return w.rows }

// Close commits the column. Every row must have been appended.
func (w *VarWriter) Close() error {
	if w.err == nil && w.rows != w.spec.Rows() {
		w.err = fmt.Errorf("%w: %s has %d of %d rows", ErrArity, w.spec, w.rows, w.spec.Rows())
	}
	if w.err == nil {
		w.err = w.payW.Flush()
	}
	if w.err == nil {
		w.err = w.offW.Flush()
	}
	if w.err != nil {
		w.Abort()
		return w.err
	}
	if err := fs.Commit(w.s.fsys, w.pay, w.payPath); err != nil {
		fs.Abort(w.s.fsys, w.off, w.offPath)
		return fmt.Errorf("attr: commit %s: %w", w.spec, err)
	}
	if err := fs.Commit(w.s.fsys, w.off, w.offPath); err != nil {
		return fmt.Errorf("attr: commit %s: %w", w.spec, err)
	}
	return w.s.commitMeta(w.spec, Meta{
		Kind:     Var,
		Width:    w.spec.Width,
		Rows:     w.rows,
		Elements: int64(w.elements),
	})
}

// Abort discards the column.
func (w *VarWriter) Abort() {
	fs.Abort(w.s.fsys, w.pay, w.payPath)
	fs.Abort(w.s.fsys, w.off, w.offPath)
}
