package link

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colgraph/attr"
	"github.com/hupe1980/colgraph/entity"
	"github.com/hupe1980/colgraph/parallel"
	"github.com/hupe1980/colgraph/resource"
)

var (
	works        = entity.Type{Namespace: "works", Name: "works", Count: 5}
	authors      = entity.Type{Namespace: "authors", Name: "authors", Count: 4}
	institutions = entity.Type{Namespace: "institutions", Name: "institutions", Count: 2}
	topics       = entity.Type{Namespace: "topics", Name: "topics", Count: 3}
)

func newStore(t *testing.T) *attr.Store {
	t.Helper()
	s := attr.NewStore(t.TempDir())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeVar(t *testing.T, s *attr.Store, spec attr.Spec, rows ...[]uint64) {
	t.Helper()
	w, err := s.CreateVar(spec)
	require.NoError(t, err)
	for _, r := range rows {
		require.NoError(t, w.AppendRow(r))
	}
	require.NoError(t, w.Close())
}

func writeFixed(t *testing.T, s *attr.Store, spec attr.Spec, vals ...uint64) {
	t.Helper()
	w, err := s.CreateFixed(spec)
	require.NoError(t, err)
	for _, v := range vals {
		require.NoError(t, w.Append(v))
	}
	require.NoError(t, w.Close())
}

func readVar(t *testing.T, s *attr.Store, spec attr.Spec) [][]uint64 {
	t.Helper()
	col, err := s.Var(context.Background(), spec)
	require.NoError(t, err)
	var rows [][]uint64
	for _, r := range col.All() {
		rows = append(rows, slices.Clone(r))
	}
	return rows
}

func readFixed(t *testing.T, s *attr.Store, spec attr.Spec) []uint64 {
	t.Helper()
	col, err := s.Fixed(context.Background(), spec)
	require.NoError(t, err)
	return slices.Collect(col.Values())
}

// workAuthors: w0 {0,1}, w1 {}, w2 {2}, w3 {1,1,3}, w4 {}.
func workAuthors(t *testing.T, s *attr.Store) Relation {
	t.Helper()
	spec := attr.VarSpec(works, "authorships", attr.W8)
	writeVar(t, s, spec, []uint64{0, 1}, nil, []uint64{2}, []uint64{1, 1, 3}, nil)
	return New(spec, authors)
}

func TestRelationValidate(t *testing.T) {
	rel := Relation{Attr: attr.VarSpec(works, "authorships", attr.W8), Source: authors, Target: works}
	assert.ErrorIs(t, rel.Validate(), ErrMismatch)
	assert.NoError(t, New(attr.VarSpec(works, "authorships", attr.W8), authors).Validate())
}

func TestCount(t *testing.T) {
	s := newStore(t)
	rel := workAuthors(t, s)

	out := attr.FixedSpec(works, "author_count", attr.Auto)
	w, err := Count(context.Background(), s, rel, out)
	require.NoError(t, err)
	assert.Equal(t, attr.W8, w)
	assert.Equal(t, []uint64{2, 0, 1, 3, 0}, readFixed(t, s, out))

	par := attr.FixedSpec(works, "author_count_par", attr.W32)
	w, err = CountParallel(context.Background(), s, rel, par, parallel.WithThreads(3))
	require.NoError(t, err)
	assert.Equal(t, attr.W32, w)
	assert.Equal(t, []uint64{2, 0, 1, 3, 0}, readFixed(t, s, par))

	_, err = Count(context.Background(), s, rel, attr.FixedSpec(authors, "bad", attr.Auto))
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestInvert(t *testing.T) {
	s := newStore(t)
	rel := workAuthors(t, s)

	inv, err := Invert(context.Background(), s, rel, attr.VarSpec(authors, "works", attr.Auto))
	require.NoError(t, err)
	assert.Equal(t, authors, inv.Source)
	assert.Equal(t, works, inv.Target)
	assert.Equal(t, attr.WidthFor(uint64(works.Count-1)), inv.Attr.Width)

	assert.Equal(t, [][]uint64{{0}, {0, 3, 3}, {2}, {3}}, readVar(t, s, inv.Attr))

	col, err := s.Var(context.Background(), inv.Attr)
	require.NoError(t, err)
	assert.Equal(t, int64(6), col.Edges())
}

func TestInvertTwiceRestoresEdges(t *testing.T) {
	s := newStore(t)
	// Unsorted rows with repeats.
	spec := attr.VarSpec(works, "refs", attr.W8)
	orig := [][]uint64{{3, 0, 3}, {}, {2, 1}, {1}, {0, 0}}
	writeVar(t, s, spec, orig...)
	rel := New(spec, authors)

	inv, err := Invert(context.Background(), s, rel, attr.VarSpec(authors, "refs_inv", attr.Auto))
	require.NoError(t, err)
	back, err := Invert(context.Background(), s, inv, attr.VarSpec(works, "refs_back", attr.Auto))
	require.NoError(t, err)

	got := readVar(t, s, back.Attr)
	require.Len(t, got, len(orig))
	for i := range orig {
		want := slices.Clone(orig[i])
		slices.Sort(want)
		have := slices.Clone(got[i])
		slices.Sort(have)
		assert.Equal(t, want, have, "row %d", i)
	}
}

func TestInvertFixedRelation(t *testing.T) {
	s := newStore(t)
	spec := attr.FixedSpec(authors, "institution", attr.W8)
	writeFixed(t, s, spec, 1, 0, 1, 1)

	inv, err := Invert(context.Background(), s, New(spec, institutions), attr.VarSpec(institutions, "authors", attr.Auto))
	require.NoError(t, err)
	assert.Equal(t, [][]uint64{{1}, {0, 2, 3}}, readVar(t, s, inv.Attr))
}

func TestInvertOutOfBounds(t *testing.T) {
	s := newStore(t)
	spec := attr.VarSpec(works, "broken", attr.W8)
	writeVar(t, s, spec, []uint64{0}, nil, []uint64{4}, nil, nil)

	_, err := Invert(context.Background(), s, New(spec, authors), attr.VarSpec(authors, "broken_inv", attr.Auto))
	assert.ErrorIs(t, err, attr.ErrOutOfBounds)
	assert.False(t, s.Exists(context.Background(), attr.VarSpec(authors, "broken_inv", attr.Auto)))
}

func TestComposeFixed(t *testing.T) {
	s := newStore(t)
	r1 := workAuthors(t, s)

	inst := attr.FixedSpec(authors, "institution", attr.W8)
	writeFixed(t, s, inst, 1, 0, NoSource(attr.W8), 1)
	r2 := New(inst, institutions)

	r3, err := Compose(context.Background(), s, r1, r2, attr.VarSpec(works, "institutions", attr.Auto))
	require.NoError(t, err)
	assert.Equal(t, works, r3.Source)
	assert.Equal(t, institutions, r3.Target)
	assert.Equal(t, [][]uint64{{1, 0}, {}, {}, {0, 0, 1}, {}}, readVar(t, s, r3.Attr))
}

func TestComposeVar(t *testing.T) {
	s := newStore(t)
	r1 := workAuthors(t, s)

	at := attr.VarSpec(authors, "topics", attr.W8)
	writeVar(t, s, at, []uint64{2}, []uint64{0, 1}, nil, []uint64{2, 2})
	r2 := New(at, topics)

	r3, err := Compose(context.Background(), s, r1, r2, attr.VarSpec(works, "topics", attr.Auto))
	require.NoError(t, err)
	assert.Equal(t, [][]uint64{{2, 0, 1}, {}, {}, {0, 1, 0, 1, 2, 2}, {}}, readVar(t, s, r3.Attr))
}

func TestComposeMismatch(t *testing.T) {
	s := newStore(t)
	r1 := workAuthors(t, s)
	_, err := Compose(context.Background(), s, r1, r1, attr.VarSpec(works, "x", attr.Auto))
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestComposeOutOfBounds(t *testing.T) {
	s := newStore(t)
	r1 := workAuthors(t, s)

	inst := attr.FixedSpec(authors, "institution", attr.W8)
	writeFixed(t, s, inst, 1, 0, 7, 1)

	_, err := Compose(context.Background(), s, r1, New(inst, institutions), attr.VarSpec(works, "institutions", attr.Auto))
	assert.ErrorIs(t, err, attr.ErrOutOfBounds)
}

func TestCountLinked(t *testing.T) {
	s := newStore(t)
	rel := workAuthors(t, s)

	c := Carrier[WorkCount]{Entity: authors, Link: rel}
	assert.Equal(t, "authors-work_count", c.Name())

	spec, err := CountLinked(context.Background(), s, c)
	require.NoError(t, err)
	assert.Equal(t, entity.Derived, spec.Dir())
	assert.Equal(t, "derived/authors-work_count", spec.Path())
	assert.Equal(t, []uint64{1, 3, 1, 1}, readFixed(t, s, spec))

	inv, err := Invert(context.Background(), s, rel, attr.VarSpec(authors, "works", attr.Auto))
	require.NoError(t, err)

	c2 := Carrier[CitationCount]{Entity: authors, Link: inv}
	spec2, err := CountLinked(context.Background(), s, c2)
	require.NoError(t, err)
	assert.Equal(t, "authors-citation_count", spec2.Name)
	assert.Equal(t, []uint64{1, 3, 1, 1}, readFixed(t, s, spec2))

	_, err = CountLinked(context.Background(), s, Carrier[WorkCount]{Entity: topics, Link: rel})
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestBest(t *testing.T) {
	q := map[uint64]uint8{10: 3, 11: 1, 12: 1, 13: 5}
	quality := func(c uint64) uint8 { return q[c] }

	best, ok := Best([]uint64{10, 11, 12}, quality)
	require.True(t, ok)
	assert.Equal(t, uint64(11), best, "ties keep the earliest")

	best, _ = Best([]uint64{13, 10}, quality)
	assert.Equal(t, uint64(10), best)

	best, _ = Best([]uint64{13}, quality)
	assert.Equal(t, uint64(13), best, "first candidate is always taken")

	_, ok = Best(nil, quality)
	assert.False(t, ok)
}

func TestQuality(t *testing.T) {
	tbl := QualityTable{}
	tbl.Set(1, 2020, 2)
	tbl.Set(2, 2020, 0)

	assert.Equal(t, uint8(2), Quality(tbl, 1, 2020))
	assert.Equal(t, uint8(WorstQuality), Quality(tbl, 2, 2020))
	assert.Equal(t, uint8(WorstQuality), Quality(tbl, 1, 2021))
}

func TestBestSource(t *testing.T) {
	s := newStore(t)
	ws := entity.Type{Namespace: "works", Name: "works", Count: 4}
	sources := entity.Type{Namespace: "sources", Name: "sources", Count: 3}

	cand := attr.VarSpec(ws, "locations", attr.W8)
	writeVar(t, s, cand, []uint64{0, 1, 2}, nil, []uint64{2, 1}, []uint64{1, 2})
	years := attr.FixedSpec(ws, "year", attr.W16)
	writeFixed(t, s, years, 2020, 2020, 2021, 2021)

	tbl := QualityTable{}
	tbl.Set(0, 2020, 2)
	tbl.Set(1, 2020, 1)
	tbl.Set(2, 2020, 1)
	tbl.Set(2, 2021, 0)
	tbl.Set(1, 2022, 1)

	out := attr.FixedSpec(ws, "best_source", attr.Auto)
	w, err := BestSource(context.Background(), s, New(cand, sources), years, tbl, out, parallel.WithThreads(2))
	require.NoError(t, err)
	assert.Equal(t, attr.W8, w)

	assert.Equal(t, []uint64{1, NoSource(attr.W8), 2, 1}, readFixed(t, s, out))
}

func TestBestSourceNarrowWidth(t *testing.T) {
	s := newStore(t)
	ws := entity.Type{Namespace: "works", Name: "works", Count: 1}
	sources := entity.Type{Namespace: "sources", Name: "sources", Count: 255}

	cand := attr.VarSpec(ws, "locations", attr.W8)
	writeVar(t, s, cand, []uint64{254})
	years := attr.FixedSpec(ws, "year", attr.W16)
	writeFixed(t, s, years, 2020)

	_, err := BestSource(context.Background(), s, New(cand, sources), years, QualityTable{}, attr.FixedSpec(ws, "best", attr.W8))
	require.NoError(t, err)

	sources.Count = 256
	_, err = BestSource(context.Background(), s, New(cand, sources), years, QualityTable{}, attr.FixedSpec(ws, "best", attr.W8))
	assert.ErrorIs(t, err, attr.ErrOverflow)
}

func TestDerivationsSkipNoSource(t *testing.T) {
	s := newStore(t)
	ws := entity.Type{Namespace: "works", Name: "works", Count: 4}
	sources := entity.Type{Namespace: "sources", Name: "sources", Count: 3}

	best := attr.FixedSpec(ws, "best_source", attr.W8)
	writeFixed(t, s, best, 1, NoSource(attr.W8), 2, 1)
	rel := New(best, sources)

	inv, err := Invert(context.Background(), s, rel, attr.VarSpec(sources, "works", attr.Auto))
	require.NoError(t, err)
	assert.Equal(t, [][]uint64{{}, {0, 3}, {2}}, readVar(t, s, inv.Attr))

	out := attr.FixedSpec(ws, "has_source", attr.Auto)
	_, err = Count(context.Background(), s, rel, out)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 0, 1, 1}, readFixed(t, s, out))

	par := attr.FixedSpec(ws, "has_source_par", attr.W8)
	_, err = CountParallel(context.Background(), s, rel, par, parallel.WithThreads(2))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 0, 1, 1}, readFixed(t, s, par))

	// A full-width relation keeps the all-ones value as a real target.
	wide := entity.Type{Namespace: "sources", Name: "all", Count: 256}
	_, err = Invert(context.Background(), s, New(best, wide), attr.VarSpec(wide, "works", attr.Auto))
	require.NoError(t, err)
}

func TestInvertFailsPastMemoryBudget(t *testing.T) {
	// The 32 bytes of target counts fit, the 6 byte payload on top does not.
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 34})
	s := attr.NewStore(t.TempDir(), attr.WithResources(rc))
	t.Cleanup(func() { _ = s.Close() })
	rel := workAuthors(t, s)

	_, err := Invert(context.Background(), s, rel, attr.VarSpec(authors, "works", attr.W8))
	assert.ErrorIs(t, err, resource.ErrMemoryBudget)
	assert.Zero(t, rc.MemoryUsage())
}
