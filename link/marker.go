package link

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hupe1980/colgraph/attr"
	"github.com/hupe1980/colgraph/build"
	"github.com/hupe1980/colgraph/entity"
	"github.com/hupe1980/colgraph/parallel"
)

// Marker names a derived attribute that any entity type can carry.
// Markers are usually empty struct types.
type Marker interface {
	MarkerName() string
}

// WorkCount marks the number of works linked to an entity.
type WorkCount struct{}

// MarkerName implements Marker.
func (WorkCount) MarkerName() string { return "work_count" }

// CitationCount marks the number of citations received by an entity.
type CitationCount struct{}

// MarkerName implements Marker.
func (CitationCount) MarkerName() string { return "citation_count" }

// Carrier attaches marker M to an entity type through a relation that
// links the entity to works. The relation may point either way: from the
// entity (sources -> [works]) or to it (works -> [sources]).
type Carrier[M Marker] struct {
	Entity entity.Type
	Link   Relation
}

// Name returns the derived attribute name, "<entity>-<marker>".
func (c Carrier[M]) Name() string {
	var m M
	return c.Entity.Name + "-" + m.MarkerName()
}

// Spec returns the derived column declaration.
func (c Carrier[M]) Spec() attr.Spec {
	return attr.FixedSpec(c.Entity, c.Name(), attr.Auto).InNamespace(entity.Derived)
}

// CountLinked writes, for every row of the carrier's entity, the number
// of works linked to it, under the carrier's derived name.
func CountLinked[M Marker](ctx context.Context, store *attr.Store, c Carrier[M], opts ...parallel.Option) (attr.Spec, error) {
	out := c.Spec()

	switch c.Entity {
	case c.Link.Source:
		w, err := CountParallel(ctx, store, c.Link, out, opts...)
		if err != nil {
			return attr.Spec{}, err
		}
		return out.WithWidth(w), nil

	case c.Link.Target:
		src, err := openRows(ctx, store, c.Link)
		if err != nil {
			return attr.Spec{}, err
		}
		counts, release, err := countTargets(ctx, store, src)
		if err != nil {
			return attr.Spec{}, err
		}
		defer release()

		w, err := build.Fixed(ctx, store, out, slices.Values(counts))
		if err != nil {
			return attr.Spec{}, fmt.Errorf("link: %s: %w", c.Name(), err)
		}
		logDerived(ctx, store, "count_linked", out, slog.String("relation", c.Link.String()))
		return out.WithWidth(w), nil
	}

	return attr.Spec{}, fmt.Errorf("%w: %s does not touch %s", ErrMismatch, c.Link, c.Entity)
}
