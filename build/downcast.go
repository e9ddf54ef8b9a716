package build

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/hupe1980/colgraph/attr"
	"github.com/hupe1980/colgraph/resource"
)

// Downcaster buffers a value stream and writes it with the narrowest
// width that holds its maximum. Buffered bytes are reserved against the
// store's resource controller in chunks.
type Downcaster struct {
	store    *attr.Store
	spec     attr.Spec
	rc       *resource.Controller
	vals     []uint64
	max      uint64
	reserved int64
}

// NewDowncaster creates a Downcaster for spec. The declared width is
// ignored.
func NewDowncaster(store *attr.Store, spec attr.Spec) *Downcaster {
	return &Downcaster{
		store: store,
		spec:  spec,
		rc:    store.Resources(),
	}
}

// Add buffers the value of the next row.
func (d *Downcaster) Add(ctx context.Context, v uint64) error {
	if len(d.vals)%chunkValues == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		size := int64(chunkValues * 8)
		if err := d.rc.GrowMemory(size); err != nil {
			return fmt.Errorf("build: buffer %s: %w", d.spec, err)
		}
		d.reserved += size
	}
	d.vals = append(d.vals, v)
	d.max = maxOf(d.max, v)
	return nil
}

// Len returns the number of buffered values.
func (d *Downcaster) Len() int { return len(d.vals) }

// Finish writes the buffered values and returns the chosen width.
func (d *Downcaster) Finish(ctx context.Context) (attr.Width, error) {
	defer d.Discard()

	release, err := acquire(ctx, d.store)
	if err != nil {
		return 0, err
	}
	defer release()

	w := attr.WidthFor(d.max)
	if err := writeFixed(ctx, d.store, d.spec.WithWidth(w), slices.Values(d.vals)); err != nil {
		return 0, err
	}
	return w, nil
}

// Discard drops the buffer and returns its memory reservation.
func (d *Downcaster) Discard() {
	d.rc.ReleaseMemory(d.reserved)
	d.reserved = 0
	d.vals = nil
	d.max = 0
}

// DowncastTwoPass finds the maximum of seq, then writes it with the
// narrowest fitting width. seq is iterated twice and must yield the same
// values both times.
func DowncastTwoPass(ctx context.Context, store *attr.Store, spec attr.Spec, seq iter.Seq[uint64]) (attr.Width, error) {
	release, err := acquire(ctx, store)
	if err != nil {
		return 0, err
	}
	defer release()

	var hi uint64
	for v := range seq {
		hi = maxOf(hi, v)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	w := attr.WidthFor(hi)
	if err := writeFixed(ctx, store, spec.WithWidth(w), seq); err != nil {
		return 0, err
	}
	return w, nil
}
