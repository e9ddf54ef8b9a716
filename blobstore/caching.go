package blobstore

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/colgraph/internal/cache"
	"github.com/hupe1980/colgraph/resource"
)

// DefaultBlockSize is the cache block size used when none is given.
const DefaultBlockSize = 1 << 20

// CachingStore wraps a BlobStore and caches fixed-size blocks of the blobs
// read through it. Missing blocks of one read are fetched in coalesced
// runs, so reading a whole column costs one ranged request per gap.
type CachingStore struct {
	inner     BlobStore
	cache     *cache.LRU
	blockSize int64
}

// NewCachingStore caches up to capacity bytes of inner. The cached bytes
// are charged to rc, which may be nil. blockSize defaults to
// DefaultBlockSize if <= 0.
func NewCachingStore(inner BlobStore, capacity int64, rc *resource.Controller, blockSize int64) *CachingStore {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &CachingStore{
		inner:     inner,
		cache:     cache.NewLRU(capacity, rc),
		blockSize: blockSize,
	}
}

// Stats returns the block cache hits and misses.
func (s *CachingStore) Stats() (hits, misses int64) {
	return s.cache.Stats()
}

// Purge empties the cache.
func (s *CachingStore) Purge() {
	s.cache.Purge()
}

// Open opens name on the inner store.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &cachingBlob{
		inner:     b,
		cache:     s.cache,
		name:      name,
		blockSize: s.blockSize,
	}, nil
}

// Create passes through; the blocks of name are dropped once the new
// blob is visible.
func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	w, err := s.inner.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	return &invalidatingBlob{WritableBlob: w, cache: s.cache, name: name}, nil
}

// Put writes through and drops the cached blocks of name.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	defer s.cache.Invalidate(name)
	return s.inner.Put(ctx, name, data)
}

// Delete removes name and its cached blocks.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	defer s.cache.Invalidate(name)
	return s.inner.Delete(ctx, name)
}

// List passes through.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

type invalidatingBlob struct {
	WritableBlob
	cache *cache.LRU
	name  string
}

func (b *invalidatingBlob) Close() error {
	defer b.cache.Invalidate(b.name)
	return b.WritableBlob.Close()
}

type cachingBlob struct {
	inner     Blob
	cache     *cache.LRU
	name      string
	blockSize int64
}

func (b *cachingBlob) Close() error { return b.inner.Close() }

func (b *cachingBlob) Size() int64 { return b.inner.Size() }

func (b *cachingBlob) key(blk int64) cache.Key {
	return cache.Key{Path: b.name, Block: blk}
}

func (b *cachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	size := b.Size()
	if off >= size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	want := p
	if rest := size - off; int64(len(want)) > rest {
		want = want[:rest]
	}

	first := off / b.blockSize
	last := (off + int64(len(want)) - 1) / b.blockSize
	fetched, err := b.fill(ctx, first, last)
	if err != nil {
		return 0, err
	}

	n := 0
	for blk := first; blk <= last; blk++ {
		data, ok := fetched[blk]
		if !ok {
			data, err = b.block(ctx, blk)
			if err != nil {
				return n, err
			}
		}
		start := blk * b.blockSize
		lo := max(start, off)
		hi := min(start+int64(len(data)), off+int64(len(want)))
		if hi <= lo {
			return n, io.ErrUnexpectedEOF
		}
		n += copy(want[lo-off:hi-off], data[lo-start:])
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// fill returns the blocks in [first, last], fetching the missing ones in
// coalesced runs. Fetched blocks are returned directly so the caller does
// not depend on them surviving eviction.
func (b *cachingBlob) fill(ctx context.Context, first, last int64) (map[int64][]byte, error) {
	type run struct{ start, count int64 }
	var runs []run
	fetched := make(map[int64][]byte, last-first+1)
	for blk := first; blk <= last; blk++ {
		if data, ok := b.cache.Get(b.key(blk)); ok {
			fetched[blk] = data
			continue
		}
		if n := len(runs); n > 0 && runs[n-1].start+runs[n-1].count == blk {
			runs[n-1].count++
		} else {
			runs = append(runs, run{start: blk, count: 1})
		}
	}
	if len(runs) == 0 {
		return fetched, nil
	}

	results := make([]map[int64][]byte, len(runs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for i, r := range runs {
		g.Go(func() error {
			start := r.start * b.blockSize
			length := min(r.count*b.blockSize, b.Size()-start)
			buf := make([]byte, length)
			n, err := b.inner.ReadAt(gctx, buf, start)
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			buf = buf[:n]

			got := make(map[int64][]byte, r.count)
			for j := range r.count {
				lo := j * b.blockSize
				if lo >= int64(len(buf)) {
					break
				}
				hi := min(lo+b.blockSize, int64(len(buf)))
				// Copy so a cached block does not pin the whole run.
				blk := append([]byte(nil), buf[lo:hi]...)
				b.cache.Set(b.key(r.start+j), blk)
				got[r.start+j] = blk
			}
			results[i] = got
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, got := range results {
		for blk, data := range got {
			fetched[blk] = data
		}
	}
	return fetched, nil
}

func (b *cachingBlob) block(ctx context.Context, blk int64) ([]byte, error) {
	if data, ok := b.cache.Get(b.key(blk)); ok {
		return data, nil
	}
	start := blk * b.blockSize
	buf := make([]byte, min(b.blockSize, b.Size()-start))
	n, err := b.inner.ReadAt(ctx, buf, start)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	buf = buf[:n]
	if n > 0 {
		b.cache.Set(b.key(blk), buf)
	}
	return buf, nil
}
