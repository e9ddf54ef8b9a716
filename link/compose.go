package link

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hupe1980/colgraph/attr"
	"github.com/hupe1980/colgraph/build"
)

// Compose chains r1: A -> [B] with r2: B -> C or B -> [C] into A -> [C].
// Every B id of an A row is replaced by its C ids, in order; duplicates
// are kept.
//
// A single-valued r1 or r2 may mark a row as unlinked with the all-ones
// value of its width (see NoSource); such rows contribute nothing.
//
// With attr.Auto the element width is the narrowest one holding the
// largest C row id.
func Compose(ctx context.Context, store *attr.Store, r1, r2 Relation, out attr.Spec) (Relation, error) {
	if r1.Target != r2.Source {
		return Relation{}, fmt.Errorf("%w: cannot chain %s and %s", ErrMismatch, r1, r2)
	}
	if out.Entity != r1.Source || out.Kind != attr.Var {
		return Relation{}, fmt.Errorf("%w: composition of %s and %s cannot be written to %s", ErrMismatch, r1, r2, out)
	}
	if out.Width == attr.Auto {
		out.Width = attr.WidthFor(uint64(max(r2.Target.Count-1, 0)))
	}

	a, err := openRows(ctx, store, r1)
	if err != nil {
		return Relation{}, err
	}
	b, err := openRows(ctx, store, r2)
	if err != nil {
		return Relation{}, err
	}

	var (
		seqErr error
		edges  int64
	)
	seq := func(yield func([]uint64) bool) {
		var row, mid []uint64
		for src, vals := range a.all() {
			row = row[:0]
			for _, v := range vals {
				bRow, err := targetRow(r1, src, v)
				if err != nil {
					seqErr = err
					return
				}
				if mid, err = b.row(bRow, mid); err != nil {
					seqErr = err
					return
				}
				for _, c := range mid {
					if _, err := targetRow(r2, bRow, c); err != nil {
						seqErr = err
						return
					}
					row = append(row, c)
				}
			}
			edges += int64(len(row))
			if !yield(row) {
				return
			}
		}
	}

	_, err = build.Var(ctx, store, out, seq)
	if seqErr != nil {
		return Relation{}, fmt.Errorf("link: compose: %w", seqErr)
	}
	if err != nil {
		return Relation{}, fmt.Errorf("link: compose %s and %s: %w", r1, r2, err)
	}

	logDerived(ctx, store, "compose", out,
		slog.String("left", r1.String()),
		slog.String("right", r2.String()),
		slog.Int64("edges", edges),
	)
	return Relation{Attr: out, Source: r1.Source, Target: r2.Target}, nil
}
