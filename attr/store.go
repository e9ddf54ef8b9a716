package attr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/colgraph/blobstore"
	"github.com/hupe1980/colgraph/codec"
	"github.com/hupe1980/colgraph/internal/fs"
	"github.com/hupe1980/colgraph/resource"
)

// WriteHook is called after a column has been committed.
type WriteHook func(spec Spec, meta Meta)

// Options configures a Store.
type Options struct {
	FileSystem fs.FileSystem
	BlobStore  blobstore.BlobStore
	Codec      codec.Codec
	Logger     *slog.Logger
	Resources  *resource.Controller
	OnWrite    WriteHook
}

// Option configures a Store.
type Option func(*Options)

// WithFileSystem sets the file system used for writes.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *Options) { o.FileSystem = fsys }
}

// WithBlobStore sets the store columns are read from. It must expose the
// same names the store writes, relative to the root.
func WithBlobStore(bs blobstore.BlobStore) Option {
	return func(o *Options) { o.BlobStore = bs }
}

// WithCodec sets the sidecar codec.
func WithCodec(c codec.Codec) Option {
	return func(o *Options) { o.Codec = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithResources sets the controller that accounts buffered payloads.
func WithResources(rc *resource.Controller) Option {
	return func(o *Options) { o.Resources = rc }
}

// WithWriteHook registers a hook called after every committed column.
func WithWriteHook(h WriteHook) Option {
	return func(o *Options) { o.OnWrite = h }
}

// Store reads and writes the columns under a root directory.
//
// Opened columns are cached until the column is rewritten; a Store is safe
// for concurrent readers. Each column must have a single writer.
type Store struct {
	root    string
	fsys    fs.FileSystem
	blobs   blobstore.BlobStore
	codec   codec.Codec
	logger  *slog.Logger
	rc      *resource.Controller
	onWrite WriteHook

	group   singleflight.Group
	mu      sync.Mutex
	open    map[string]io.Closer
	retired []io.Closer
}

// NewStore creates a Store rooted at root.
func NewStore(root string, optFns ...Option) *Store {
	opts := Options{
		FileSystem: fs.Default,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BlobStore == nil {
		opts.BlobStore = blobstore.NewLocalStore(root)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Store{
		root:    root,
		fsys:    opts.FileSystem,
		blobs:   opts.BlobStore,
		codec:   codec.OrDefault(opts.Codec),
		logger:  opts.Logger,
		rc:      opts.Resources,
		onWrite: opts.OnWrite,
		open:    make(map[string]io.Closer),
	}
}

// Root returns the root directory.
func (s *Store) Root() string { return s.root }

// Resources returns the resource controller, which may be nil.
func (s *Store) Resources() *resource.Controller { return s.rc }

// Logger returns the store logger.
func (s *Store) Logger() *slog.Logger { return s.logger }

func (s *Store) file(spec Spec, ext string) string {
	return filepath.Join(s.root, filepath.FromSlash(spec.Path())+ext)
}

func blobName(spec Spec, ext string) string {
	return spec.Path() + ext
}

// Meta reads the sidecar of spec.
func (s *Store) Meta(ctx context.Context, spec Spec) (Meta, error) {
	data, err := blobstore.ReadFile(ctx, s.blobs, blobName(spec, metaExt))
	if err != nil {
		return Meta{}, fmt.Errorf("attr: read sidecar of %s: %w", spec, err)
	}
	var m Meta
	if err := s.codec.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("%w: sidecar of %s: %v", ErrCorrupt, spec, err)
	}
	if c, ok := codec.ByName(m.Codec); ok && c.Name() != s.codec.Name() {
		if err := c.Unmarshal(data, &m); err != nil {
			return Meta{}, fmt.Errorf("%w: sidecar of %s: %v", ErrCorrupt, spec, err)
		}
	}
	return m, nil
}

// Exists reports whether spec has a committed sidecar.
func (s *Store) Exists(ctx context.Context, spec Spec) bool {
	b, err := s.blobs.Open(ctx, blobName(spec, metaExt))
	if err != nil {
		return false
	}
	_ = b.Close()
	return true
}

// Fixed opens a fixed column for reading.
func (s *Store) Fixed(ctx context.Context, spec Spec) (*FixedColumn, error) {
	if spec.Kind != Fixed {
		return nil, fmt.Errorf("%w: %s is not fixed", ErrKindMismatch, spec)
	}
	c, err := s.load(ctx, spec, func() (io.Closer, error) { return s.openFixed(ctx, spec) })
	if err != nil {
		return nil, err
	}
	return c.(*FixedColumn), nil
}

// Var opens a variable column for reading.
func (s *Store) Var(ctx context.Context, spec Spec) (*VarColumn, error) {
	if spec.Kind != Var {
		return nil, fmt.Errorf("%w: %s is not var", ErrKindMismatch, spec)
	}
	c, err := s.load(ctx, spec, func() (io.Closer, error) { return s.openVar(ctx, spec) })
	if err != nil {
		return nil, err
	}
	return c.(*VarColumn), nil
}

func (s *Store) load(ctx context.Context, spec Spec, open func() (io.Closer, error)) (io.Closer, error) {
	key := spec.Path()

	s.mu.Lock()
	c, ok := s.open[key]
	s.mu.Unlock()
	if ok {
		if err := checkCached(c, spec); err != nil {
			return nil, err
		}
		return c, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		s.mu.Lock()
		c, ok := s.open[key]
		s.mu.Unlock()
		if ok {
			return c, nil
		}

		c, err := open()
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.open[key] = c
		s.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	c = v.(io.Closer)
	if err := checkCached(c, spec); err != nil {
		return nil, err
	}
	return c, nil
}

func checkCached(c io.Closer, spec Spec) error {
	switch col := c.(type) {
	case *FixedColumn:
		return col.meta.check(spec)
	case *VarColumn:
		return col.meta.check(spec)
	}
	return nil
}

// invalidate drops the cached reader of spec. The reader stays valid for
// current holders and is released by Close.
func (s *Store) invalidate(spec Spec) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.open[spec.Path()]; ok {
		delete(s.open, spec.Path())
		s.retired = append(s.retired, c)
	}
}

// Forget drops the cached readers of every column in namespace. Call it
// after the files of a namespace were replaced outside the store.
func (s *Store) Forget(namespace string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := namespace + "/"
	for key, c := range s.open {
		if strings.HasPrefix(key, prefix) {
			delete(s.open, key)
			s.retired = append(s.retired, c)
		}
	}
}

func (s *Store) commitMeta(spec Spec, m Meta) error {
	m.Codec = s.codec.Name()
	data, err := s.codec.Marshal(m)
	if err != nil {
		return err
	}
	if err := fs.WriteFile(s.fsys, s.file(spec, metaExt), data); err != nil {
		return fmt.Errorf("attr: write sidecar of %s: %w", spec, err)
	}
	s.invalidate(spec)

	s.logger.Debug("column written",
		slog.String("column", spec.Path()),
		slog.String("kind", m.Kind.String()),
		slog.String("width", m.Width.String()),
		slog.Int("rows", m.Rows),
		slog.Int64("elements", m.Elements),
	)
	if s.onWrite != nil {
		s.onWrite(spec, m)
	}
	return nil
}

// Close releases every reader opened by the store. Columns obtained from
// the store must not be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for key, c := range s.open {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.open, key)
	}
	for _, c := range s.retired {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.retired = nil
	return firstErr
}
