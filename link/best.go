package link

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/hupe1980/colgraph/attr"
	"github.com/hupe1980/colgraph/build"
	"github.com/hupe1980/colgraph/internal/conv"
	"github.com/hupe1980/colgraph/parallel"
)

// WorstQuality is the quartile assumed for unranked sources.
const WorstQuality = 5

// QualityLookup returns the recorded quartile of a source in a year.
type QualityLookup interface {
	Quartile(source uint32, year uint16) (uint8, bool)
}

// QualityKey identifies a QualityTable entry.
type QualityKey struct {
	Source uint32
	Year   uint16
}

// QualityTable is a map backed QualityLookup.
type QualityTable map[QualityKey]uint8

// Set records the quartile of source in year.
func (t QualityTable) Set(source uint32, year uint16, quartile uint8) {
	t[QualityKey{Source: source, Year: year}] = quartile
}

// Quartile implements QualityLookup.
func (t QualityTable) Quartile(source uint32, year uint16) (uint8, bool) {
	q, ok := t[QualityKey{Source: source, Year: year}]
	return q, ok
}

// Quality returns the quartile of source in year, with missing entries
// and the unranked value 0 mapped to WorstQuality.
func Quality(l QualityLookup, source uint32, year uint16) uint8 {
	q, ok := l.Quartile(source, year)
	if !ok || q == 0 {
		return WorstQuality
	}
	return q
}

// Best returns the first candidate with the lowest quality. A later
// candidate replaces the current choice only when strictly better.
func Best(candidates []uint64, quality func(uint64) uint8) (uint64, bool) {
	if len(candidates) == 0 {
		return 0, false
	}
	best, bestQ := candidates[0], quality(candidates[0])
	for _, c := range candidates[1:] {
		if q := quality(c); q < bestQ {
			best, bestQ = c, q
		}
	}
	return best, true
}

// NoSource is the value written for works without candidates: all ones
// in the output width.
func NoSource(w attr.Width) uint64 { return w.Max() }

// BestSource writes, for every work, the candidate source of best quality
// in the work's publication year. sources maps works to candidate
// sources; years is a fixed column over the same works.
//
// With attr.Auto the narrowest width that keeps NoSource distinct from
// every source id is used.
func BestSource(ctx context.Context, store *attr.Store, sources Relation, years attr.Spec, quality QualityLookup, out attr.Spec, opts ...parallel.Option) (attr.Width, error) {
	if years.Entity != sources.Source || out.Entity != sources.Source || out.Kind != attr.Fixed {
		return 0, fmt.Errorf("%w: best source of %s with %s into %s", ErrMismatch, sources, years, out)
	}

	w := out.Width
	if w == attr.Auto {
		w = attr.WidthFor(uint64(sources.Target.Count))
	}
	if w.Max() < uint64(sources.Target.Count) {
		return 0, fmt.Errorf("link: %s cannot hold %d sources and NoSource: %w", out, sources.Target.Count, attr.ErrOverflow)
	}

	src, err := openRows(ctx, store, sources)
	if err != nil {
		return 0, err
	}
	yearCol, err := store.Fixed(ctx, years)
	if err != nil {
		return 0, err
	}

	none := NoSource(w)
	fn := func(_ context.Context, row int) (uint64, error) {
		cands, err := src.row(row, nil)
		if err != nil {
			return 0, err
		}
		y, err := yearCol.Get(row)
		if err != nil {
			return 0, err
		}
		if y > math.MaxUint16 {
			return 0, fmt.Errorf("link: year %d of work %d: %w", y, row, conv.ErrRange)
		}
		for _, c := range cands {
			if _, err := targetRow(sources, row, c); err != nil {
				return 0, err
			}
		}

		best, ok := Best(cands, func(c uint64) uint8 {
			return Quality(quality, uint32(c), uint16(y))
		})
		if !ok {
			return none, nil
		}
		return best, nil
	}

	if _, err := build.ParallelFixed(ctx, store, out.WithWidth(w), fn, opts...); err != nil {
		return 0, fmt.Errorf("link: best source: %w", err)
	}
	logDerived(ctx, store, "best_source", out, slog.String("relation", sources.String()))
	return w, nil
}
