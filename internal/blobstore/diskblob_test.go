package blobstore_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zynqcloud/dedupfs/internal/blobstore"
	"github.com/zynqcloud/dedupfs/internal/engineerr"
	"github.com/zynqcloud/dedupfs/internal/pathfs"
)

func newTestDiskBlob(t *testing.T) *blobstore.DiskBlob {
	t.Helper()
	d, err := blobstore.NewDiskBlob(t.TempDir())
	require.NoError(t, err)
	return d
}

func TestDiskBlobWriteAndRead(t *testing.T) {
	ctx := context.Background()
	d := newTestDiskBlob(t)
	data := []byte("Hello World")
	h := pathfs.Hash(data)

	require.NoError(t, d.Write(ctx, h, data))

	got, err := d.Read(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDiskBlobWriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d := newTestDiskBlob(t)
	data := []byte("same bytes")
	h := pathfs.Hash(data)

	require.NoError(t, d.Write(ctx, h, data))
	require.NoError(t, d.Write(ctx, h, data))

	got, err := d.Read(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDiskBlobReadMissingIsBlobMissing(t *testing.T) {
	ctx := context.Background()
	d := newTestDiskBlob(t)
	h := pathfs.Hash([]byte("never written"))

	_, err := d.Read(ctx, h)
	assert.True(t, engineerr.Is(err, engineerr.KindBlobMissing))
}

func TestDiskBlobExists(t *testing.T) {
	ctx := context.Background()
	d := newTestDiskBlob(t)
	h := pathfs.Hash([]byte("x"))

	ok, err := d.Exists(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Write(ctx, h, []byte("x")))
	ok, err = d.Exists(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDiskBlobDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d := newTestDiskBlob(t)
	h := pathfs.Hash([]byte("to-delete"))
	require.NoError(t, d.Write(ctx, h, []byte("to-delete")))

	require.NoError(t, d.Delete(ctx, h))
	require.NoError(t, d.Delete(ctx, h)) // deleting again is not an error

	ok, _ := d.Exists(ctx, h)
	assert.False(t, ok)
}

func TestDiskBlobDeleteManyAllSucceed(t *testing.T) {
	ctx := context.Background()
	d := newTestDiskBlob(t)
	h1 := pathfs.Hash([]byte("one"))
	h2 := pathfs.Hash([]byte("two"))
	require.NoError(t, d.Write(ctx, h1, []byte("one")))
	require.NoError(t, d.Write(ctx, h2, []byte("two")))

	failed, err := d.DeleteMany(ctx, []pathfs.ContentHash{h1, h2})
	assert.NoError(t, err)
	assert.Empty(t, failed)
}

func TestDiskBlobShardedLayout(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	d, err := blobstore.NewDiskBlob(root)
	require.NoError(t, err)

	data := []byte("shard me")
	h := pathfs.Hash(data)
	require.NoError(t, d.Write(ctx, h, data))

	a, b := h.ShardPrefix()
	want := root + "/" + a + "/" + b + "/" + h.String()
	info, err := os.Stat(want)
	require.NoError(t, err, "expected blob at sharded path %q", want)
	assert.False(t, info.IsDir())
}

func TestDiskBlobConcurrentWritesOfSameHashAreSafe(t *testing.T) {
	ctx := context.Background()
	d := newTestDiskBlob(t)
	data := []byte("concurrent payload")
	h := pathfs.Hash(data)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, d.Write(ctx, h, data))
		}()
	}
	wg.Wait()

	got, err := d.Read(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
