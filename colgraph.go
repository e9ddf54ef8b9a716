package colgraph

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/hupe1980/colgraph/archive"
	"github.com/hupe1980/colgraph/attr"
	"github.com/hupe1980/colgraph/blobstore"
	"github.com/hupe1980/colgraph/entity"
	"github.com/hupe1980/colgraph/link"
	"github.com/hupe1980/colgraph/merge"
	"github.com/hupe1980/colgraph/parallel"
	"github.com/hupe1980/colgraph/resource"
)

// DB is a column root with its entity declarations. Derivations write
// into the root and read earlier columns back through the configured
// blob store. A DB is safe for concurrent use; each output column must
// have a single writer.
type DB struct {
	root     string
	opts     options
	store    *attr.Store
	local    *blobstore.LocalStore
	registry *entity.Registry
	cache    *blobstore.CachingStore
	closed   atomic.Bool
}

// Open opens (or creates) the column root at root.
func Open(root string, optFns ...Option) (*DB, error) {
	if root == "" {
		return nil, errors.New("colgraph: empty root")
	}
	o := applyOptions(optFns)
	if err := o.fsys.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("colgraph: create root: %w", err)
	}

	db := &DB{
		root:     root,
		opts:     o,
		local:    blobstore.NewLocalStore(root),
		registry: entity.NewRegistry(),
	}

	storeOpts := []attr.Option{
		attr.WithFileSystem(o.fsys),
		attr.WithCodec(o.codec),
		attr.WithLogger(o.logger.Logger),
		attr.WithResources(o.resources),
		attr.WithWriteHook(db.onWrite),
	}
	if o.blobs != nil {
		blobs := o.blobs
		if o.blockCacheBytes > 0 {
			db.cache = blobstore.NewCachingStore(blobs, o.blockCacheBytes, o.resources, 0)
			blobs = db.cache
		}
		storeOpts = append(storeOpts, attr.WithBlobStore(blobs))
	}
	db.store = attr.NewStore(root, storeOpts...)

	o.logger.Info("column root opened", "root", root, "codec", o.codec.Name())
	return db, nil
}

func (db *DB) onWrite(spec attr.Spec, m attr.Meta) {
	l := m.Layout()
	db.opts.metricsCollector.RecordColumnWrite(m.Kind, m.Width, m.Rows, l.Data+l.Offsets)
	db.opts.logger.LogBuild(context.Background(), spec, m.Width, nil)
}

// CacheStats returns the block cache hits and misses. Both are zero
// without WithBlockCache.
func (db *DB) CacheStats() (hits, misses int64) {
	if db.cache == nil {
		return 0, 0
	}
	return db.cache.Stats()
}

// Root returns the column root directory.
func (db *DB) Root() string { return db.root }

// Store returns the column store, for readers and custom builders.
func (db *DB) Store() *attr.Store { return db.store }

// Registry returns the entity declarations.
func (db *DB) Registry() *entity.Registry { return db.registry }

// Logger returns the configured logger.
func (db *DB) Logger() *Logger { return db.opts.logger }

// Resources returns the resource controller, which may be nil.
func (db *DB) Resources() *resource.Controller { return db.opts.resources }

// Declare registers an entity type.
func (db *DB) Declare(namespace, name string, count int) (entity.Type, error) {
	t, err := db.registry.Declare(namespace, name, count)
	return t, translateError("", err)
}

// Entity returns the type declared under name.
func (db *DB) Entity(name string) (entity.Type, error) {
	t, err := db.registry.Lookup(name)
	return t, translateError("", err)
}

// ParallelOptions returns the batch options derived from the DB
// configuration for a batch called name.
func (db *DB) ParallelOptions(name string) []parallel.Option {
	return []parallel.Option{
		parallel.WithName(name),
		parallel.WithThreads(db.opts.threads),
		parallel.WithCapacity(db.opts.capacity),
		parallel.WithLogger(db.opts.logger.Logger),
		parallel.WithOnDone(func(st parallel.Stats) {
			db.opts.metricsCollector.RecordBatch(st.Items, st.Duration, st.Err)
			db.opts.logger.LogBatch(context.Background(), st)
		}),
	}
}

// Run runs w over seq with the DB's batch options.
func Run[T any](ctx context.Context, db *DB, name string, w parallel.Worker[T], seq iter.Seq[T]) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return translateError(name, parallel.Run(ctx, w, seq, db.ParallelOptions(name)...))
}

func (db *DB) checkOpen() error {
	if db.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (db *DB) derive(ctx context.Context, op string, out attr.Spec, fn func() error) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	err := translateError(op, fn())
	d := time.Since(start)
	db.opts.metricsCollector.RecordDerive(op, d, err)
	db.opts.logger.LogDerive(ctx, op, out, d, err)
	return err
}

// Count writes, for every source row of rel, the number of targets.
func (db *DB) Count(ctx context.Context, rel link.Relation, out attr.Spec) (attr.Width, error) {
	var w attr.Width
	err := db.derive(ctx, "count", out, func() error {
		var err error
		w, err = link.CountParallel(ctx, db.store, rel, out, db.ParallelOptions("count "+out.Path())...)
		return err
	})
	return w, err
}

// Invert writes the reverse of rel and returns it.
func (db *DB) Invert(ctx context.Context, rel link.Relation, out attr.Spec) (link.Relation, error) {
	var inv link.Relation
	err := db.derive(ctx, "invert", out, func() error {
		var err error
		inv, err = link.Invert(ctx, db.store, rel, out)
		return err
	})
	return inv, err
}

// Compose writes the chain r1 then r2 and returns it.
func (db *DB) Compose(ctx context.Context, r1, r2 link.Relation, out attr.Spec) (link.Relation, error) {
	var rel link.Relation
	err := db.derive(ctx, "compose", out, func() error {
		var err error
		rel, err = link.Compose(ctx, db.store, r1, r2, out)
		return err
	})
	return rel, err
}

// CountLinked writes the marker count of c and returns the written spec.
func CountLinked[M link.Marker](ctx context.Context, db *DB, c link.Carrier[M]) (attr.Spec, error) {
	var spec attr.Spec
	err := db.derive(ctx, "count_linked", c.Spec(), func() error {
		var err error
		spec, err = link.CountLinked(ctx, db.store, c, db.ParallelOptions(c.Name())...)
		return err
	})
	return spec, err
}

// BestSource writes, for every work, the best ranked of its sources.
func (db *DB) BestSource(ctx context.Context, sources link.Relation, years attr.Spec, quality link.QualityLookup, out attr.Spec) (attr.Width, error) {
	var w attr.Width
	err := db.derive(ctx, "best_source", out, func() error {
		var err error
		w, err = link.BestSource(ctx, db.store, sources, years, quality, out, db.ParallelOptions("best_source")...)
		return err
	})
	return w, err
}

// Aggregate folds the tuples pushed into h into a breakdown tree and
// attaches labels. h is drained. A nil labels renders every id as a
// placeholder.
func (db *DB) Aggregate(ctx context.Context, specs []merge.BreakdownSpec, h *merge.Heap, labels *merge.Labels) (*merge.LabeledNode, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if labels == nil {
		labels = merge.NewLabels(entity.Type{}, nil, nil, db.opts.logger.Logger)
	}

	start := time.Now()
	tree, err := merge.BuildFromHeap(specs, h)
	var node *merge.LabeledNode
	if err == nil {
		node, err = merge.Attach(ctx, tree, labels)
	}
	db.opts.metricsCollector.RecordDerive("aggregate", time.Since(start), err)
	return node, err
}

func (db *DB) archiveOptions(optFns []archive.Option) []archive.Option {
	return append([]archive.Option{
		archive.WithCodec(db.opts.codec),
		archive.WithResources(db.opts.resources),
		archive.WithLogger(db.opts.logger.Logger),
	}, optFns...)
}

// Publish uploads the columns of namespace to dst.
func (db *DB) Publish(ctx context.Context, namespace string, dst blobstore.BlobStore, optFns ...archive.Option) (*archive.Manifest, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	m, err := archive.Publish(ctx, db.local, dst, namespace, db.archiveOptions(optFns)...)
	return m, translateError("", err)
}

// Fetch downloads a published namespace from src into the root,
// replacing local columns of the same names.
func (db *DB) Fetch(ctx context.Context, namespace string, src blobstore.BlobStore, optFns ...archive.Option) (*archive.Manifest, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	m, err := archive.Fetch(ctx, src, db.local, namespace, db.archiveOptions(optFns)...)
	db.store.Forget(namespace)
	return m, translateError("", err)
}

// Close releases every open column. Close is idempotent.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := db.store.Close()
	if db.cache != nil {
		db.cache.Purge()
	}
	db.opts.logger.Info("column root closed", "root", db.root)
	return err
}
