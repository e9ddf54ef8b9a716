package colgraph

import (
	"log/slog"

	"github.com/hupe1980/colgraph/blobstore"
	"github.com/hupe1980/colgraph/codec"
	"github.com/hupe1980/colgraph/internal/fs"
	"github.com/hupe1980/colgraph/resource"
)

type options struct {
	codec            codec.Codec
	threads          int
	capacity         int
	fsys             fs.FileSystem
	blobs            blobstore.BlobStore
	blockCacheBytes  int64
	resources        *resource.Controller
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Open.
type Option func(*options)

// WithCodec configures the codec used for column sidecars and exported
// trees.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithThreads sets the worker count of parallel derivations.
// Zero uses GOMAXPROCS.
func WithThreads(n int) Option {
	return func(o *options) {
		o.threads = n
	}
}

// WithCapacity sets the channel slots per worker of parallel derivations.
func WithCapacity(n int) Option {
	return func(o *options) {
		o.capacity = n
	}
}

// WithFileSystem replaces the file system columns are written through.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fsys = fsys
	}
}

// WithBlobStore sets the store finished columns are read from. It must
// expose the uncompressed column files under their names relative to the
// root. By default columns are memory-mapped from the root directory.
func WithBlobStore(bs blobstore.BlobStore) Option {
	return func(o *options) {
		o.blobs = bs
	}
}

// WithBlockCache caches up to bytes of the blocks read from the store set
// by WithBlobStore. Cached bytes are charged to the resource controller.
// It has no effect on the default local store.
func WithBlockCache(bytes int64) Option {
	return func(o *options) {
		o.blockCacheBytes = bytes
	}
}

// WithResourceController bounds buffered memory, concurrent builds and
// archive throughput.
//
// Example:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:    4 << 30,
//	    MaxConcurrentBuilds: 2,
//	})
//	db, _ := colgraph.Open("./columns", colgraph.WithResourceController(rc))
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &colgraph.BasicMetricsCollector{}
//	db, _ := colgraph.Open("./columns", colgraph.WithMetricsCollector(metrics))
//	// ... derive columns ...
//	stats := metrics.GetStats()
//	fmt.Printf("Columns: %d, Bytes: %d\n", stats.ColumnWrites, stats.ColumnBytes)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := colgraph.NewJSONLogger(slog.LevelInfo)
//	db, _ := colgraph.Open("./columns", colgraph.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		fsys:             fs.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
