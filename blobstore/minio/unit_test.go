package minio

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/hupe1980/colgraph/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) StatObject(_ context.Context, bucket, key string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	args := m.Called(bucket, key)
	info, _ := args.Get(0).(minio.ObjectInfo)
	return info, args.Error(1)
}

func (m *mockAPI) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	args := m.Called(bucket, key, string(data))
	return minio.UploadInfo{}, args.Error(0)
}

func (m *mockAPI) RemoveObject(_ context.Context, bucket, key string, _ minio.RemoveObjectOptions) error {
	return m.Called(bucket, key).Error(0)
}

func (m *mockAPI) ListObjects(_ context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	objs, _ := m.Called(bucket, opts.Prefix).Get(0).([]minio.ObjectInfo)
	ch := make(chan minio.ObjectInfo, len(objs))
	for _, o := range objs {
		ch <- o
	}
	close(ch)
	return ch
}

func (m *mockAPI) getRange(_ context.Context, _, key string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	args := m.Called(key, opts.Header().Get("Range"))
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(args.String(0))), nil
}

func newMockStore() (*Store, *mockAPI) {
	api := new(mockAPI)
	return &Store{client: api, bucket: "bucket", prefix: "prefix"}, api
}

var errNoSuchKey = minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}

func TestStoreOpenNotFound(t *testing.T) {
	store, api := newMockStore()
	api.On("StatObject", "bucket", "prefix/works/year.col").Return(nil, errNoSuchKey).Once()

	_, err := store.Open(context.Background(), "works/year.col")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
	api.AssertExpectations(t)
}

func TestStoreRangedRead(t *testing.T) {
	ctx := context.Background()
	store, api := newMockStore()
	api.On("StatObject", "bucket", "prefix/works/cites.col").Return(minio.ObjectInfo{Size: 6}, nil).Once()
	api.On("getRange", "prefix/works/cites.col", "bytes=4-5").Return("ef", nil).Once()
	api.On("getRange", "prefix/works/cites.col", "bytes=1-2").Return("bc", nil).Once()

	blob, err := store.Open(ctx, "works/cites.col")
	require.NoError(t, err)
	assert.Equal(t, int64(6), blob.Size())

	buf := make([]byte, 4)
	n, err := blob.ReadAt(ctx, buf, 4)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "ef", string(buf[:n]))

	n, err = blob.ReadAt(ctx, buf, 6)
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, n)

	n, err = blob.ReadAt(ctx, buf[:2], 1)
	require.NoError(t, err)
	assert.Equal(t, "bc", string(buf[:n]))

	api.AssertExpectations(t)
}

func TestStoreRangedReadShortBody(t *testing.T) {
	ctx := context.Background()
	store, api := newMockStore()
	api.On("StatObject", "bucket", "prefix/works/cites.col").Return(minio.ObjectInfo{Size: 6}, nil).Once()
	api.On("getRange", "prefix/works/cites.col", "bytes=0-3").Return("ab", nil).Once()

	blob, err := store.Open(ctx, "works/cites.col")
	require.NoError(t, err)

	_, err = blob.ReadAt(ctx, make([]byte, 4), 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestStoreCreateAndAbort(t *testing.T) {
	ctx := context.Background()
	store, api := newMockStore()
	api.On("PutObject", "bucket", "prefix/works/cites.col", "streamed").Return(nil).Once()

	w, err := store.Create(ctx, "works/cites.col")
	require.NoError(t, err)
	_, err = w.Write([]byte("streamed"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	aborted, err := store.Create(ctx, "works/year.col")
	require.NoError(t, err)
	_, err = aborted.Write([]byte("garbage"))
	require.NoError(t, err)
	require.NoError(t, aborted.Abort())
	assert.Error(t, aborted.Close())

	api.AssertExpectations(t)
	api.AssertNotCalled(t, "PutObject", "bucket", "prefix/works/year.col", mock.Anything)
}

func TestStoreListDelete(t *testing.T) {
	ctx := context.Background()
	store, api := newMockStore()
	api.On("ListObjects", "bucket", "prefix/works").Return([]minio.ObjectInfo{
		{Key: "prefix/works/year.col"},
		{Key: "prefix/works/a.col"},
	}).Once()
	api.On("RemoveObject", "bucket", "prefix/works/year.col").Return(nil).Once()
	api.On("RemoveObject", "bucket", "prefix/works/gone.col").Return(errNoSuchKey).Once()
	api.On("RemoveObject", "bucket", "prefix/works/denied.col").Return(errors.New("access denied")).Once()

	names, err := store.List(ctx, "works/")
	require.NoError(t, err)
	assert.Equal(t, []string{"works/a.col", "works/year.col"}, names)

	require.NoError(t, store.Delete(ctx, "works/year.col"))
	require.NoError(t, store.Delete(ctx, "works/gone.col"))
	assert.Error(t, store.Delete(ctx, "works/denied.col"))

	api.AssertExpectations(t)
}
