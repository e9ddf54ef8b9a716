// Package build materializes value sequences as columns.
//
// Builders take a declared attr.Spec. A resolved width is enforced as
// declared; attr.Auto makes the builder choose the narrowest width that
// holds every value, either by buffering the stream (Downcaster) or by
// reading it twice (DowncastTwoPass). An empty stream gets attr.W8.
//
// Each exported builder holds one build slot of the store's resource
// controller while it runs.
package build

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/hupe1980/colgraph/attr"
)

const chunkValues = 8192

func acquire(ctx context.Context, store *attr.Store) (func(), error) {
	rc := store.Resources()
	if err := rc.AcquireBuild(ctx); err != nil {
		return nil, err
	}
	return rc.ReleaseBuild, nil
}

// Fixed writes a fixed column from one value per row.
func Fixed(ctx context.Context, store *attr.Store, spec attr.Spec, seq iter.Seq[uint64]) (attr.Width, error) {
	if spec.Width == attr.Auto {
		d := NewDowncaster(store, spec)
		for v := range seq {
			if err := d.Add(ctx, v); err != nil {
				d.Discard()
				return 0, err
			}
		}
		return d.Finish(ctx)
	}

	release, err := acquire(ctx, store)
	if err != nil {
		return 0, err
	}
	defer release()

	return spec.Width, writeFixed(ctx, store, spec, seq)
}

func writeFixed(ctx context.Context, store *attr.Store, spec attr.Spec, seq iter.Seq[uint64]) error {
	w, err := store.CreateFixed(spec)
	if err != nil {
		return err
	}
	n := 0
	for v := range seq {
		if err := w.Append(v); err != nil {
			w.Abort()
			return err
		}
		n++
		if n%chunkValues == 0 {
			if err := ctx.Err(); err != nil {
				w.Abort()
				return err
			}
		}
	}
	return w.Close()
}

// Var writes a variable column from one element slice per row.
//
// With attr.Auto the rows are buffered to find the widest element.
func Var(ctx context.Context, store *attr.Store, spec attr.Spec, seq iter.Seq[[]uint64]) (attr.Width, error) {
	release, err := acquire(ctx, store)
	if err != nil {
		return 0, err
	}
	defer release()

	if spec.Width != attr.Auto {
		return spec.Width, writeVar(ctx, store, spec, seq)
	}

	rc := store.Resources()
	var (
		rows     [][]uint64
		hi       uint64
		reserved int64
	)
	defer func() { rc.ReleaseMemory(reserved) }()

	for row := range seq {
		size := int64(len(row)+3) * 8
		if err := rc.GrowMemory(size); err != nil {
			return 0, fmt.Errorf("build: buffer %s: %w", spec, err)
		}
		reserved += size
		for _, v := range row {
			hi = maxOf(hi, v)
		}
		rows = append(rows, slices.Clone(row))
	}

	w := attr.WidthFor(hi)
	return w, writeVar(ctx, store, spec.WithWidth(w), slices.Values(rows))
}

func writeVar(ctx context.Context, store *attr.Store, spec attr.Spec, seq iter.Seq[[]uint64]) error {
	w, err := store.CreateVar(spec)
	if err != nil {
		return err
	}
	for row := range seq {
		if err := w.AppendRow(row); err != nil {
			w.Abort()
			return err
		}
		if w.Rows()%chunkValues == 0 {
			if err := ctx.Err(); err != nil {
				w.Abort()
				return err
			}
		}
	}
	return w.Close()
}

func maxOf(a, b uint64) uint64 {
	if b > a {
		return b
	}
	return a
}
