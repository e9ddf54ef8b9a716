package build

import (
	"context"
	"fmt"
	"slices"

	"github.com/hupe1980/colgraph/attr"
	"github.com/hupe1980/colgraph/parallel"
)

// RowFunc computes the value of one row.
type RowFunc func(ctx context.Context, row int) (uint64, error)

// ChunkRows is the number of rows handed to a worker at a time.
const ChunkRows = 4096

type rowWorker struct {
	fn  RowFunc
	out []uint64
	max []uint64
}

func (w *rowWorker) Process(ctx context.Context, r parallel.Range) error {
	var hi uint64
	for row := r.Start; row < r.End; row++ {
		v, err := w.fn(ctx, row)
		if err != nil {
			return fmt.Errorf("row %d: %w", row, err)
		}
		w.out[row] = v
		hi = maxOf(hi, v)
	}
	w.max[r.Start/ChunkRows] = hi
	return nil
}

// ParallelFixed computes every row of spec with fn on a worker pool and
// writes the column. Results are placed by row position, so the column is
// in row order whatever order the workers ran in. With attr.Auto the
// narrowest fitting width is chosen.
func ParallelFixed(ctx context.Context, store *attr.Store, spec attr.Spec, fn RowFunc, opts ...parallel.Option) (attr.Width, error) {
	release, err := acquire(ctx, store)
	if err != nil {
		return 0, err
	}
	defer release()

	rows := spec.Rows()
	size := int64(rows) * 8
	rc := store.Resources()
	if err := rc.AcquireMemory(ctx, size); err != nil {
		return 0, fmt.Errorf("build: buffer %s: %w", spec, err)
	}
	defer rc.ReleaseMemory(size)

	w := &rowWorker{
		fn:  fn,
		out: make([]uint64, rows),
		max: make([]uint64, (rows+ChunkRows-1)/ChunkRows),
	}
	opts = append([]parallel.Option{parallel.WithName(spec.Path()), parallel.WithLogger(store.Logger())}, opts...)
	if err := parallel.Run(ctx, w, parallel.Ranges(rows, ChunkRows), opts...); err != nil {
		return 0, fmt.Errorf("build: %s: %w", spec, err)
	}

	width := spec.Width
	if width == attr.Auto {
		width = attr.WidthFor(slices.Max(append(w.max, 0)))
	}
	if err := writeFixed(ctx, store, spec.WithWidth(width), slices.Values(w.out)); err != nil {
		return 0, err
	}
	return width, nil
}
