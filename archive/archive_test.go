package archive

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colgraph/attr"
	"github.com/hupe1980/colgraph/blobstore"
	"github.com/hupe1980/colgraph/codec"
	"github.com/hupe1980/colgraph/entity"
	"github.com/hupe1980/colgraph/resource"
)

var works = entity.Type{Namespace: "works", Name: "works", Count: 1000}

func writeColumns(t *testing.T, dir string) {
	t.Helper()
	s := attr.NewStore(dir)
	defer s.Close()

	w, err := s.CreateFixed(attr.FixedSpec(works, "year", attr.W16))
	require.NoError(t, err)
	for i := range works.Count {
		require.NoError(t, w.Append(uint64(1990+i%30)))
	}
	require.NoError(t, w.Close())

	vw, err := s.CreateVar(attr.VarSpec(works, "refs", attr.W16))
	require.NoError(t, err)
	for i := range works.Count {
		require.NoError(t, vw.AppendRow([]uint64{uint64(i), uint64(i / 2)}))
	}
	require.NoError(t, vw.Close())
}

func TestPublishFetchRoundTrip(t *testing.T) {
	for _, c := range []Compression{None, LZ4, Zstd} {
		t.Run(c.String(), func(t *testing.T) {
			ctx := context.Background()
			srcDir := t.TempDir()
			writeColumns(t, srcDir)

			remote := blobstore.NewMemoryStore()
			m, err := Publish(ctx, blobstore.NewLocalStore(srcDir), remote, "works",
				WithCompression(c), WithPrefix("2024-06"), WithConcurrency(2))
			require.NoError(t, err)
			assert.Equal(t, c, m.Compression)
			assert.Len(t, m.Files, 5) // year.col, year.meta.json, refs.col, refs.off, refs.meta.json

			names, err := remote.List(ctx, "2024-06/works/")
			require.NoError(t, err)
			assert.Contains(t, names, "2024-06/works/"+ManifestName)
			assert.Contains(t, names, "2024-06/works/year.col"+c.Ext())

			dstDir := t.TempDir()
			fetched, err := Fetch(ctx, remote, blobstore.NewLocalStore(dstDir), "works", WithPrefix("2024-06"))
			require.NoError(t, err)
			assert.Equal(t, m.Size(), fetched.Size())

			s := attr.NewStore(dstDir)
			defer s.Close()

			year, err := s.Fixed(ctx, attr.FixedSpec(works, "year", attr.Auto))
			require.NoError(t, err)
			v, err := year.Get(31)
			require.NoError(t, err)
			assert.Equal(t, uint64(1991), v)

			refs, err := s.Var(ctx, attr.VarSpec(works, "refs", attr.Auto))
			require.NoError(t, err)
			row, err := refs.Row(999, nil)
			require.NoError(t, err)
			assert.Equal(t, []uint64{999, 499}, row)
		})
	}
}

func TestZstdShrinksRepetitiveColumns(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	writeColumns(t, srcDir)

	m, err := Publish(ctx, blobstore.NewLocalStore(srcDir), blobstore.NewMemoryStore(), "works", WithCompression(Zstd))
	require.NoError(t, err)

	i := slices.IndexFunc(m.Files, func(f File) bool { return f.Name == "year.col" })
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, int64(2*works.Count), m.Files[i].Size)
	assert.Less(t, m.Files[i].Stored, m.Files[i].Size)
}

func TestFetchDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	writeColumns(t, srcDir)

	remote := blobstore.NewMemoryStore()
	_, err := Publish(ctx, blobstore.NewLocalStore(srcDir), remote, "works", WithCompression(None))
	require.NoError(t, err)

	data, err := blobstore.ReadFile(ctx, remote, "works/year.col")
	require.NoError(t, err)
	data[0] ^= 0xFF
	require.NoError(t, remote.Put(ctx, "works/year.col", data))

	dst := blobstore.NewMemoryStore()
	_, err = Fetch(ctx, remote, dst, "works")
	assert.ErrorIs(t, err, ErrChecksum)

	_, err = dst.Open(ctx, "works/year.col")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestFetchCorruptionKeepsLocalCopy(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	writeColumns(t, srcDir)

	remote := blobstore.NewMemoryStore()
	_, err := Publish(ctx, blobstore.NewLocalStore(srcDir), remote, "works", WithCompression(None))
	require.NoError(t, err)

	dstDir := t.TempDir()
	dst := blobstore.NewLocalStore(dstDir)
	_, err = Fetch(ctx, remote, dst, "works")
	require.NoError(t, err)
	good, err := os.ReadFile(filepath.Join(dstDir, "works", "year.col"))
	require.NoError(t, err)

	data, err := blobstore.ReadFile(ctx, remote, "works/year.col")
	require.NoError(t, err)
	data[0] ^= 0xFF
	require.NoError(t, remote.Put(ctx, "works/year.col", data))

	_, err = Fetch(ctx, remote, dst, "works")
	assert.ErrorIs(t, err, ErrChecksum)

	kept, err := os.ReadFile(filepath.Join(dstDir, "works", "year.col"))
	require.NoError(t, err)
	assert.Equal(t, good, kept)
	_, err = os.Stat(filepath.Join(dstDir, "works", "year.col.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFetchRejectsInvalidManifest(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		file      string
	}{
		{"parent escape", "works", "../../escaped.txt"},
		{"nested escape", "works", "a/../../escaped.txt"},
		{"absolute", "works", "/tmp/escaped.txt"},
		{"empty", "works", ""},
		{"other namespace", "authors", "year.col"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			remote := blobstore.NewMemoryStore()
			m := Manifest{
				Namespace:   tt.namespace,
				Compression: None,
				Files:       []File{{Name: tt.file, Size: 1}},
			}
			data, err := codec.Default.Marshal(&m)
			require.NoError(t, err)
			require.NoError(t, remote.Put(ctx, "works/"+ManifestName, data))
			require.NoError(t, remote.Put(ctx, "works/"+tt.file, []byte("x")))

			dst := blobstore.NewMemoryStore()
			_, err = Fetch(ctx, remote, dst, "works")
			assert.ErrorIs(t, err, ErrManifest)

			names, err := dst.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

func TestPublishEmptyNamespace(t *testing.T) {
	_, err := Publish(context.Background(), blobstore.NewMemoryStore(), blobstore.NewMemoryStore(), "derived")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestFetchMissingManifest(t *testing.T) {
	_, err := Fetch(context.Background(), blobstore.NewMemoryStore(), blobstore.NewMemoryStore(), "derived")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestPublishWithIOLimit(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	writeColumns(t, srcDir)

	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 20})
	remote := blobstore.NewMemoryStore()
	_, err := Publish(ctx, blobstore.NewLocalStore(srcDir), remote, "works", WithResources(rc), WithCompression(LZ4))
	require.NoError(t, err)

	_, err = Fetch(ctx, remote, blobstore.NewMemoryStore(), "works", WithResources(rc))
	require.NoError(t, err)
}

func TestCompressionText(t *testing.T) {
	for _, c := range []Compression{None, LZ4, Zstd} {
		text, err := c.MarshalText()
		require.NoError(t, err)
		var back Compression
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, c, back)
	}
	var c Compression
	assert.Error(t, c.UnmarshalText([]byte("brotli")))
}
