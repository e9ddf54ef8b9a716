// Package archive publishes finished column namespaces to a blob store and
// fetches them back.
//
// Every file of the namespace is stored as one compressed object,
// "<prefix>/<namespace>/<file><ext>", and a manifest
// "<prefix>/<namespace>/MANIFEST.json" lists the files with their raw size
// and CRC32C. The manifest is written last, so a namespace without one is
// incomplete.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/colgraph/blobstore"
	"github.com/hupe1980/colgraph/codec"
	"github.com/hupe1980/colgraph/internal/hash"
	"github.com/hupe1980/colgraph/resource"
)

// ManifestName is the object name of a namespace manifest.
const ManifestName = "MANIFEST.json"

var (
	// ErrChecksum is returned when a fetched file does not match its
	// manifest entry.
	ErrChecksum = errors.New("archive: checksum mismatch")
	// ErrEmpty is returned when publishing a namespace without files.
	ErrEmpty = errors.New("archive: namespace has no files")
	// ErrManifest is returned for a manifest that names another namespace
	// or a file outside its namespace.
	ErrManifest = errors.New("archive: invalid manifest")
)

// File is a manifest entry.
type File struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Stored   int64  `json:"stored"`
	Checksum uint32 `json:"crc32c"`
}

// Manifest describes a published namespace.
type Manifest struct {
	Namespace   string      `json:"namespace"`
	Compression Compression `json:"compression"`
	Created     time.Time   `json:"created"`
	Files       []File      `json:"files"`
}

// Size returns the raw size of all files.
func (m *Manifest) Size() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Size
	}
	return n
}

// Options configures Publish and Fetch.
type Options struct {
	Compression Compression
	Prefix      string
	Codec       codec.Codec
	Resources   *resource.Controller
	Concurrency int
	Logger      *slog.Logger
}

// Option configures Publish and Fetch.
type Option func(*Options)

// WithCompression sets the frame format. Fetch reads it from the manifest.
func WithCompression(c Compression) Option {
	return func(o *Options) { o.Compression = c }
}

// WithPrefix places the archive under prefix in the remote store.
func WithPrefix(prefix string) Option {
	return func(o *Options) { o.Prefix = prefix }
}

// WithCodec sets the manifest codec.
func WithCodec(c codec.Codec) Option {
	return func(o *Options) { o.Codec = c }
}

// WithResources throttles transfers through the controller's IO limit.
func WithResources(rc *resource.Controller) Option {
	return func(o *Options) { o.Resources = rc }
}

// WithConcurrency sets how many files are transferred at once.
func WithConcurrency(n int) Option {
	return func(o *Options) { o.Concurrency = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func resolve(optFns []Option) Options {
	opts := Options{
		Compression: Zstd,
		Concurrency: 4,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Codec = codec.OrDefault(opts.Codec)
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return opts
}

func remoteName(opts Options, namespace, name string) string {
	return path.Join(opts.Prefix, namespace, name)
}

// blobReader reads a Blob sequentially.
type blobReader struct {
	ctx  context.Context
	blob blobstore.Blob
	off  int64
}

func (r *blobReader) Read(p []byte) (int, error) {
	if r.off >= r.blob.Size() {
		return 0, io.EOF
	}
	n, err := r.blob.ReadAt(r.ctx, p, r.off)
	r.off += int64(n)
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Publish copies every file of namespace from src to dst and writes the
// manifest. Staging files and the manifest of a previous publish are
// skipped.
func Publish(ctx context.Context, src, dst blobstore.BlobStore, namespace string, optFns ...Option) (*Manifest, error) {
	opts := resolve(optFns)

	names, err := src.List(ctx, namespace+"/")
	if err != nil {
		return nil, fmt.Errorf("archive: list %s: %w", namespace, err)
	}
	var files []string
	for _, name := range names {
		base := strings.TrimPrefix(name, namespace+"/")
		if base == ManifestName || strings.HasSuffix(base, ".tmp") {
			continue
		}
		files = append(files, base)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, namespace)
	}

	m := &Manifest{
		Namespace:   namespace,
		Compression: opts.Compression,
		Created:     time.Now().UTC(),
		Files:       make([]File, len(files)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, name := range files {
		g.Go(func() error {
			f, err := publishFile(gctx, src, dst, opts, namespace, name)
			if err != nil {
				return fmt.Errorf("archive: publish %s/%s: %w", namespace, name, err)
			}
			m.Files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data, err := opts.Codec.Marshal(m)
	if err != nil {
		return nil, err
	}
	if err := dst.Put(ctx, remoteName(opts, namespace, ManifestName), data); err != nil {
		return nil, fmt.Errorf("archive: write manifest of %s: %w", namespace, err)
	}

	opts.Logger.Info("namespace published",
		slog.String("namespace", namespace),
		slog.String("compression", opts.Compression.String()),
		slog.Int("files", len(m.Files)),
		slog.Int64("bytes", m.Size()),
	)
	return m, nil
}

func publishFile(ctx context.Context, src, dst blobstore.BlobStore, opts Options, namespace, name string) (File, error) {
	blob, err := src.Open(ctx, path.Join(namespace, name))
	if err != nil {
		return File{}, err
	}
	defer blob.Close()

	out, err := dst.Create(ctx, remoteName(opts, namespace, name+opts.Compression.Ext()))
	if err != nil {
		return File{}, err
	}

	stored := &countingWriter{w: resource.NewRateLimitedWriter(ctx, out, opts.Resources)}
	enc, err := compressor(stored, opts.Compression)
	if err != nil {
		_ = out.Abort()
		return File{}, err
	}

	digest := hash.NewDigest()
	if _, err := io.Copy(io.MultiWriter(enc, digest), &blobReader{ctx: ctx, blob: blob}); err != nil {
		_ = enc.Close()
		_ = out.Abort()
		return File{}, err
	}
	if err := enc.Close(); err != nil {
		_ = out.Abort()
		return File{}, err
	}
	if err := out.Close(); err != nil {
		return File{}, err
	}

	return File{
		Name:     name,
		Size:     digest.Size(),
		Stored:   stored.n,
		Checksum: digest.Sum(),
	}, nil
}

// ReadManifest reads the manifest of namespace from src.
func ReadManifest(ctx context.Context, src blobstore.BlobStore, namespace string, optFns ...Option) (*Manifest, error) {
	opts := resolve(optFns)
	data, err := blobstore.ReadFile(ctx, src, remoteName(opts, namespace, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("archive: read manifest of %s: %w", namespace, err)
	}
	var m Manifest
	if err := opts.Codec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("archive: decode manifest of %s: %w", namespace, err)
	}
	if err := m.validate(namespace); err != nil {
		return nil, err
	}
	return &m, nil
}

// validate rejects manifests that would write outside namespace.
func (m *Manifest) validate(namespace string) error {
	if m.Namespace != namespace {
		return fmt.Errorf("%w: manifest of %q is for %q", ErrManifest, namespace, m.Namespace)
	}
	for _, f := range m.Files {
		if !validName(f.Name) {
			return fmt.Errorf("%w: %s lists file %q", ErrManifest, namespace, f.Name)
		}
	}
	return nil
}

func validName(name string) bool {
	if name == "" || strings.ContainsRune(name, '\\') || path.IsAbs(name) || path.Clean(name) != name {
		return false
	}
	return name != ".." && !strings.HasPrefix(name, "../")
}

// Fetch copies a published namespace from src into dst, verifying every
// file against the manifest.
func Fetch(ctx context.Context, src, dst blobstore.BlobStore, namespace string, optFns ...Option) (*Manifest, error) {
	opts := resolve(optFns)
	m, err := ReadManifest(ctx, src, namespace, optFns...)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, f := range m.Files {
		g.Go(func() error {
			if err := fetchFile(gctx, src, dst, opts, m, f); err != nil {
				return fmt.Errorf("archive: fetch %s/%s: %w", namespace, f.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	opts.Logger.Info("namespace fetched",
		slog.String("namespace", namespace),
		slog.Int("files", len(m.Files)),
		slog.Int64("bytes", m.Size()),
	)
	return m, nil
}

func fetchFile(ctx context.Context, src, dst blobstore.BlobStore, opts Options, m *Manifest, f File) error {
	blob, err := src.Open(ctx, remoteName(opts, m.Namespace, f.Name+m.Compression.Ext()))
	if err != nil {
		return err
	}
	defer blob.Close()

	in := resource.NewRateLimitedReader(ctx, &blobReader{ctx: ctx, blob: blob}, opts.Resources)
	dec, err := decompressor(in, m.Compression)
	if err != nil {
		return err
	}
	defer dec.Close()

	out, err := dst.Create(ctx, path.Join(m.Namespace, f.Name))
	if err != nil {
		return err
	}
	digest := hash.NewDigest()
	if _, err := io.Copy(io.MultiWriter(out, digest), dec); err != nil {
		_ = out.Abort()
		return err
	}
	// The local copy is replaced only after verification.
	if digest.Size() != f.Size || digest.Sum() != f.Checksum {
		_ = out.Abort()
		return fmt.Errorf("%w: got %d bytes crc32c %08x, want %d bytes %08x",
			ErrChecksum, digest.Size(), digest.Sum(), f.Size, f.Checksum)
	}
	return out.Close()
}
