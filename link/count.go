package link

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hupe1980/colgraph/attr"
	"github.com/hupe1980/colgraph/build"
	"github.com/hupe1980/colgraph/parallel"
)

func checkCountOut(rel Relation, out attr.Spec) error {
	if out.Entity != rel.Source || out.Kind != attr.Fixed {
		return fmt.Errorf("%w: count of %s cannot be written to %s", ErrMismatch, rel, out)
	}
	return nil
}

// Count writes, for every source row, the number of target ids in it.
// With attr.Auto the narrowest fitting width is used.
func Count(ctx context.Context, store *attr.Store, rel Relation, out attr.Spec) (attr.Width, error) {
	if err := checkCountOut(rel, out); err != nil {
		return 0, err
	}
	src, err := openRows(ctx, store, rel)
	if err != nil {
		return 0, err
	}

	seq := func(yield func(uint64) bool) {
		for _, vals := range src.all() {
			if !yield(uint64(len(vals))) {
				return
			}
		}
	}
	w, err := build.Fixed(ctx, store, out, seq)
	if err != nil {
		return 0, fmt.Errorf("link: count %s: %w", rel, err)
	}
	logDerived(ctx, store, "count", out, slog.String("relation", rel.String()))
	return w, nil
}

// CountParallel is Count computed on a worker pool.
func CountParallel(ctx context.Context, store *attr.Store, rel Relation, out attr.Spec, opts ...parallel.Option) (attr.Width, error) {
	if err := checkCountOut(rel, out); err != nil {
		return 0, err
	}
	src, err := openRows(ctx, store, rel)
	if err != nil {
		return 0, err
	}

	w, err := build.ParallelFixed(ctx, store, out, func(_ context.Context, row int) (uint64, error) {
		n, err := src.rowLen(row)
		return uint64(n), err
	}, opts...)
	if err != nil {
		return 0, fmt.Errorf("link: count %s: %w", rel, err)
	}
	logDerived(ctx, store, "count", out, slog.String("relation", rel.String()))
	return w, nil
}

// countTargets returns how many times every target id is referenced.
// The slice is reserved against the store's memory budget; release
// returns it.
func countTargets(ctx context.Context, store *attr.Store, src *rowSource) (counts []uint64, release func(), err error) {
	rel := src.rel
	size := int64(rel.Target.Count) * 8
	rc := store.Resources()
	if err := rc.AcquireMemory(ctx, size); err != nil {
		return nil, nil, fmt.Errorf("link: count targets of %s: %w", rel, err)
	}

	counts = make([]uint64, rel.Target.Count)
	for row, vals := range src.all() {
		for _, v := range vals {
			t, err := targetRow(rel, row, v)
			if err != nil {
				rc.ReleaseMemory(size)
				return nil, nil, err
			}
			counts[t]++
		}
	}
	return counts, func() { rc.ReleaseMemory(size) }, nil
}
