package colgraph

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colgraph/archive"
	"github.com/hupe1980/colgraph/attr"
	"github.com/hupe1980/colgraph/blobstore"
	"github.com/hupe1980/colgraph/entity"
	"github.com/hupe1980/colgraph/link"
	"github.com/hupe1980/colgraph/merge"
	"github.com/hupe1980/colgraph/parallel"
)

func openDB(t *testing.T, optFns ...Option) *DB {
	t.Helper()
	db, err := Open(t.TempDir(), optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// declareGraph writes works -> [authors]: w0 {0,1}, w1 {}, w2 {2}, w3 {1,3}, w4 {0}.
func declareGraph(t *testing.T, db *DB) (entity.Type, entity.Type, link.Relation) {
	t.Helper()
	works, err := db.Declare("openalex", "works", 5)
	require.NoError(t, err)
	authors, err := db.Declare("openalex", "authors", 4)
	require.NoError(t, err)

	spec := attr.VarSpec(works, "authorships", attr.W8)
	w, err := db.Store().CreateVar(spec)
	require.NoError(t, err)
	for _, row := range [][]uint64{{0, 1}, nil, {2}, {1, 3}, {0}} {
		require.NoError(t, w.AppendRow(row))
	}
	require.NoError(t, w.Close())
	return works, authors, link.New(spec, authors)
}

func readFixed(t *testing.T, db *DB, spec attr.Spec) []uint64 {
	t.Helper()
	col, err := db.Store().Fixed(context.Background(), spec)
	require.NoError(t, err)
	return slices.Collect(col.Values())
}

func TestOpenEmptyRoot(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestDeclare(t *testing.T) {
	db := openDB(t)

	works, err := db.Declare("openalex", "works", 10)
	require.NoError(t, err)

	got, err := db.Entity("works")
	require.NoError(t, err)
	assert.Equal(t, works, got)

	_, err = db.Entity("funders")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, entity.ErrUnknown)

	_, err = db.Declare("openalex", "works", 11)
	assert.ErrorIs(t, err, entity.ErrConflict)
}

func TestDerivationsRecordMetrics(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	db := openDB(t, WithMetricsCollector(metrics), WithThreads(2))
	ctx := context.Background()
	works, authors, byWork := declareGraph(t, db)

	byAuthor, err := db.Invert(ctx, byWork, attr.VarSpec(authors, "works", attr.Auto))
	require.NoError(t, err)
	assert.Equal(t, works, byAuthor.Target)

	spec, err := CountLinked(ctx, db, link.Carrier[link.WorkCount]{Entity: authors, Link: byAuthor})
	require.NoError(t, err)
	assert.Equal(t, "derived/authors-work_count", spec.Path())
	assert.Equal(t, []uint64{2, 2, 1, 1}, readFixed(t, db, spec))

	w, err := db.Count(ctx, byWork, attr.FixedSpec(works, "author_count", attr.Auto))
	require.NoError(t, err)
	assert.Equal(t, attr.W8, w)

	stats := metrics.GetStats()
	assert.Equal(t, int64(3), stats.DeriveCount)
	assert.Zero(t, stats.DeriveErrors)
	assert.Equal(t, int64(4), stats.ColumnWrites)
	assert.Equal(t, int64(2), stats.VarColumnWrites)
	assert.Positive(t, stats.ColumnBytes)
	assert.GreaterOrEqual(t, stats.BatchCount, int64(2))
	assert.Zero(t, stats.BatchErrors)
}

func TestDeriveFailureIsRecorded(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	db := openDB(t, WithMetricsCollector(metrics))
	_, authors, byWork := declareGraph(t, db)

	_, err := db.Count(context.Background(), byWork, attr.FixedSpec(authors, "bad", attr.Auto))
	assert.ErrorIs(t, err, ErrMismatch)
	assert.Equal(t, int64(1), metrics.GetStats().DeriveErrors)
}

func TestBestSource(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	works, err := db.Declare("openalex", "works", 3)
	require.NoError(t, err)
	sources, err := db.Declare("openalex", "sources", 3)
	require.NoError(t, err)

	rel := attr.VarSpec(works, "sources", attr.W8)
	vw, err := db.Store().CreateVar(rel)
	require.NoError(t, err)
	for _, row := range [][]uint64{{0, 2}, nil, {1}} {
		require.NoError(t, vw.AppendRow(row))
	}
	require.NoError(t, vw.Close())

	years := attr.FixedSpec(works, "year", attr.W16)
	fw, err := db.Store().CreateFixed(years)
	require.NoError(t, err)
	for _, y := range []uint64{2020, 2021, 2020} {
		require.NoError(t, fw.Append(y))
	}
	require.NoError(t, fw.Close())

	tbl := link.QualityTable{}
	tbl.Set(2, 2020, 1)
	tbl.Set(0, 2020, 3)

	out := attr.FixedSpec(works, "best_source", attr.Auto).InNamespace(entity.Derived)
	w, err := db.BestSource(ctx, link.New(rel, sources), years, tbl, out)
	require.NoError(t, err)
	assert.Equal(t, attr.W8, w)
	assert.Equal(t, []uint64{2, link.NoSource(attr.W8), 1}, readFixed(t, db, out.WithWidth(w)))
}

func TestAggregate(t *testing.T) {
	db := openDB(t)
	countries := entity.Type{Namespace: "geo", Name: "countries", Count: 3}
	works := entity.Type{Namespace: "openalex", Name: "works", Count: 10}
	specs := []merge.BreakdownSpec{
		{Level: "country", Entity: countries},
		{Level: "work", Entity: works},
	}

	h := merge.NewHeap(2)
	for _, tup := range []merge.Tuple{{1, 4}, {0, 2}, {1, 4}, {1, 9}} {
		require.NoError(t, h.Push(tup))
	}

	root, err := db.Aggregate(context.Background(), specs, h, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), root.Count)
	require.Len(t, root.Children, 2)
	assert.Equal(t, "country:0", root.Children[0].Name)
	assert.Equal(t, []merge.Label{{ID: 4, Name: "work:4"}, {ID: 9, Name: "work:9"}}, root.Children[1].Leaves)
}

func TestPublishFetch(t *testing.T) {
	ctx := context.Background()
	remote := blobstore.NewMemoryStore()

	src := openDB(t)
	_, _, byWork := declareGraph(t, src)
	m, err := src.Publish(ctx, "openalex", remote, archive.WithPrefix("2024-06"))
	require.NoError(t, err)
	assert.Len(t, m.Files, 3)

	dst := openDB(t)
	_, err = dst.Fetch(ctx, "openalex", remote, archive.WithPrefix("2024-06"))
	require.NoError(t, err)

	col, err := dst.Store().Var(ctx, byWork.Attr)
	require.NoError(t, err)
	assert.Equal(t, int64(6), col.Edges())
}

func TestBlockCache(t *testing.T) {
	ctx := context.Background()
	src := openDB(t)
	_, _, byWork := declareGraph(t, src)

	db := openDB(t, WithBlobStore(blobstore.NewLocalStore(src.Root())), WithBlockCache(1<<20))
	col, err := db.Store().Var(ctx, byWork.Attr)
	require.NoError(t, err)
	assert.Equal(t, int64(6), col.Edges())

	before, misses := db.CacheStats()
	assert.Positive(t, misses)

	_, err = db.Store().Meta(ctx, byWork.Attr)
	require.NoError(t, err)
	after, _ := db.CacheStats()
	assert.Greater(t, after, before)
}

func TestRunTranslatesPanic(t *testing.T) {
	db := openDB(t)
	w := parallel.WorkerFunc[int](func(_ context.Context, item int) error {
		if item == 3 {
			panic("bad row")
		}
		return nil
	})

	err := Run(context.Background(), db, "rows", w, slices.Values([]int{1, 2, 3, 4}))
	var pe *ErrWorkerPanic
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "rows", pe.Batch)
	assert.Equal(t, "bad row", pe.Value)
}

func TestClosed(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	_, _, byWork := declareGraph(t, db)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err = db.Invert(context.Background(), byWork, attr.VarSpec(byWork.Target, "works", attr.Auto))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = db.Publish(context.Background(), "openalex", blobstore.NewMemoryStore())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	db := openDB(t, WithLogger(logger))
	_, authors, byWork := declareGraph(t, db)

	_, err := db.Invert(context.Background(), byWork, attr.VarSpec(authors, "works", attr.Auto))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "column root opened")
	assert.Contains(t, out, "build completed")
	assert.Contains(t, out, "derive completed")
	assert.Contains(t, out, "op=invert")
	assert.Contains(t, out, "column=openalex/works")
}

func TestNoopLogger(t *testing.T) {
	l := NoopLogger().WithColumn(attr.FixedSpec(entity.Type{Namespace: "a", Name: "b"}, "c", attr.W8))
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
}
