// Package link derives columns from relations between entity types.
//
// A Relation is a column over its Source entity whose values are row ids
// of its Target entity. Variable columns carry many-valued relations and
// fixed columns single-valued ones. The derivations here count, reverse
// and chain relations and write the results through the build package.
package link

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"

	"github.com/hupe1980/colgraph/attr"
	"github.com/hupe1980/colgraph/entity"
)

var (
	// ErrMismatch is returned when relations or output specs do not line
	// up: the attribute is not over Source, or two relations cannot be
	// chained.
	ErrMismatch = errors.New("link: relation mismatch")
)

// Relation is a directed link carried by an attribute.
type Relation struct {
	Attr   attr.Spec
	Source entity.Type
	Target entity.Type
}

// New declares a relation carried by a over source.
func New(a attr.Spec, target entity.Type) Relation {
	return Relation{Attr: a, Source: a.Entity, Target: target}
}

// Validate checks that the attribute is declared over Source.
func (r Relation) Validate() error {
	if r.Attr.Entity != r.Source {
		return fmt.Errorf("%w: %s is not over %s", ErrMismatch, r.Attr, r.Source)
	}
	return nil
}

func (r Relation) String() string {
	return fmt.Sprintf("%s -> %s via %s", r.Source.Name, r.Target.Name, r.Attr.Path())
}

// rowSource reads the target ids of source rows, whatever the kind of
// the relation column. In a fixed column the all-ones value of its width
// marks an unlinked row (see NoSource) when it is not a valid target id;
// such rows read as empty.
type rowSource struct {
	rel Relation
	fix *attr.FixedColumn
	vr  *attr.VarColumn
}

func openRows(ctx context.Context, store *attr.Store, rel Relation) (*rowSource, error) {
	if err := rel.Validate(); err != nil {
		return nil, err
	}
	src := &rowSource{rel: rel}
	var err error
	if rel.Attr.Kind == attr.Var {
		src.vr, err = store.Var(ctx, rel.Attr)
	} else {
		src.fix, err = store.Fixed(ctx, rel.Attr)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (s *rowSource) all() iter.Seq2[int, []uint64] {
	if s.vr != nil {
		return s.vr.All()
	}
	return func(yield func(int, []uint64) bool) {
		buf := make([]uint64, 1)
		for row, v := range s.fix.All() {
			vals := buf
			if s.unlinked(v) {
				vals = buf[:0]
			} else {
				buf[0] = v
			}
			if !yield(row, vals) {
				return
			}
		}
	}
}

func (s *rowSource) unlinked(v uint64) bool {
	return s.fix != nil && v == s.fix.Width().Max() && v >= uint64(s.rel.Target.Count)
}

func (s *rowSource) rowLen(row int) (int, error) {
	if s.vr != nil {
		return s.vr.RowLen(row)
	}
	v, err := s.fix.Get(row)
	if err != nil {
		return 0, err
	}
	if s.unlinked(v) {
		return 0, nil
	}
	return 1, nil
}

func (s *rowSource) row(row int, dst []uint64) ([]uint64, error) {
	if s.vr != nil {
		return s.vr.Row(row, dst)
	}
	v, err := s.fix.Get(row)
	if err != nil {
		return dst[:0], err
	}
	if s.unlinked(v) {
		return dst[:0], nil
	}
	return append(dst[:0], v), nil
}

func (s *rowSource) edges() int64 {
	if s.vr != nil {
		return s.vr.Edges()
	}
	var n int64
	for _, v := range s.fix.All() {
		if !s.unlinked(v) {
			n++
		}
	}
	return n
}

func targetRow(rel Relation, src int, v uint64) (int, error) {
	if v >= uint64(rel.Target.Count) {
		return 0, fmt.Errorf("%s row %d: %w", rel, src, &attr.BoundsError{Row: int(min(v, math.MaxInt)), Count: rel.Target.Count})
	}
	return int(v), nil
}

func logDerived(ctx context.Context, store *attr.Store, op string, out attr.Spec, attrs ...slog.Attr) {
	store.Logger().LogAttrs(ctx, slog.LevelInfo, "column derived",
		append([]slog.Attr{slog.String("op", op), slog.String("column", out.Path())}, attrs...)...)
}
