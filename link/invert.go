package link

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hupe1980/colgraph/attr"
)

// Invert writes the transpose of rel: for every (s, t) edge of rel the
// output holds s in row t. Edge multiplicity is preserved; within a row
// the source ids appear in source row order.
//
// The transpose is built by counting. The first pass over rel counts the
// references of every target, which fixes the offset table of the output.
// The second pass writes every source id into the next free slot of its
// target. Memory is one counter per target plus the output payload.
//
// With attr.Auto the element width is the narrowest one holding the
// largest source row id.
func Invert(ctx context.Context, store *attr.Store, rel Relation, out attr.Spec) (Relation, error) {
	if out.Entity != rel.Target || out.Kind != attr.Var {
		return Relation{}, fmt.Errorf("%w: inverse of %s cannot be written to %s", ErrMismatch, rel, out)
	}
	if out.Width == attr.Auto {
		out.Width = attr.WidthFor(uint64(max(rel.Source.Count-1, 0)))
	}
	src, err := openRows(ctx, store, rel)
	if err != nil {
		return Relation{}, err
	}

	counts, release, err := countTargets(ctx, store, src)
	if err != nil {
		return Relation{}, err
	}
	defer release()

	if err := ctx.Err(); err != nil {
		return Relation{}, err
	}

	sw, err := store.CreateSlots(ctx, out, counts)
	if err != nil {
		return Relation{}, err
	}
	for row, vals := range src.all() {
		for _, v := range vals {
			if err := sw.Put(int(v), uint64(row)); err != nil {
				sw.Abort()
				return Relation{}, fmt.Errorf("link: invert %s: %w", rel, err)
			}
		}
	}
	if err := sw.Close(); err != nil {
		return Relation{}, fmt.Errorf("link: invert %s: %w", rel, err)
	}

	logDerived(ctx, store, "invert", out,
		slog.String("relation", rel.String()),
		slog.Int64("edges", src.edges()),
	)
	return Relation{Attr: out, Source: rel.Target, Target: rel.Source}, nil
}
