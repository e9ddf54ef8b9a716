package attr

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/colgraph/internal/fs"
)

// SlotWriter writes a variable column whose row lengths are known up
// front. Values may arrive for rows in any order; each row is filled
// through its own cursor. The payload is held in memory and accounted
// against the store's resource controller.
type SlotWriter struct {
	s       *Store
	spec    Spec
	offsets []uint64
	cursors []uint64
	payload []byte
	w       int
	closed  bool
}

// CreateSlots starts writing spec with counts[r] elements in row r.
func (s *Store) CreateSlots(ctx context.Context, spec Spec, counts []uint64) (*SlotWriter, error) {
	if spec.Kind != Var {
		return nil, fmt.Errorf("%w: %s is not var", ErrKindMismatch, spec)
	}
	if !spec.Width.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWidth, spec)
	}
	if len(counts) != spec.Rows() {
		return nil, fmt.Errorf("%w: %s got %d row counts", ErrArity, spec, len(counts))
	}

	offsets := make([]uint64, len(counts)+1)
	for i, n := range counts {
		offsets[i+1] = offsets[i] + n
	}
	total := offsets[len(counts)]
	size := int64(total) * int64(spec.Width)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Callers already hold the per-target counts.
	if err := s.rc.GrowMemory(size); err != nil {
		return nil, fmt.Errorf("attr: reserve %d bytes for %s: %w", size, spec, err)
	}

	cursors := make([]uint64, len(counts))
	copy(cursors, offsets[:len(counts)])

	return &SlotWriter{
		s:       s,
		spec:    spec,
		offsets: offsets,
		cursors: cursors,
		payload: make([]byte, size),
		w:       spec.Width.Bytes(),
	}, nil
}

// Put stores v in the next free slot of row.
func (w *SlotWriter) Put(row int, v uint64) error {
	if row < 0 || row >= len(w.cursors) {
		return &BoundsError{Row: row, Count: len(w.cursors)}
	}
	at := w.cursors[row]
	if at >= w.offsets[row+1] {
		return fmt.Errorf("%w: %s row %d", ErrSlotFull, w.spec.Path(), row)
	}
	if err := Put(w.payload[int(at)*w.w:], w.spec.Width, v); err != nil {
		return fmt.Errorf("%s row %d: %w", w.spec.Path(), row, err)
	}
	w.cursors[row] = at + 1
	return nil
}

// Close verifies that every slot is filled and commits the column.
func (w *SlotWriter) Close() error {
	if w.closed {
		return nil
	}
	defer w.release()

	for row, c := range w.cursors {
		if c != w.offsets[row+1] {
			return fmt.Errorf("%w: %s row %d has %d of %d values", ErrArity, w.spec, row,
				c-w.offsets[row], w.offsets[row+1]-w.offsets[row])
		}
	}

	off := make([]byte, len(w.offsets)*offsetLen)
	for i, o := range w.offsets {
		binary.LittleEndian.PutUint64(off[i*offsetLen:], o)
	}
	if err := fs.WriteFile(w.s.fsys, w.s.file(w.spec, dataExt), w.payload); err != nil {
		return fmt.Errorf("attr: commit %s: %w", w.spec, err)
	}
	if err := fs.WriteFile(w.s.fsys, w.s.file(w.spec, offExt), off); err != nil {
		return fmt.Errorf("attr: commit %s: %w", w.spec, err)
	}
	return w.s.commitMeta(w.spec, Meta{
		Kind:     Var,
		Width:    w.spec.Width,
		Rows:     len(w.cursors),
		Elements: int64(w.offsets[len(w.cursors)]),
	})
}

// Abort discards the column.
func (w *SlotWriter) Abort() {
	if !w.closed {
		w.release()
	}
}

func (w *SlotWriter) release() {
	w.closed = true
	w.s.rc.ReleaseMemory(int64(len(w.payload)))
	w.payload = nil
}
