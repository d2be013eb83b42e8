package reclaim_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zynqcloud/dedupfs/internal/blobstore"
	"github.com/zynqcloud/dedupfs/internal/fsmeta"
	"github.com/zynqcloud/dedupfs/internal/pathfs"
	"github.com/zynqcloud/dedupfs/internal/reclaim"
)

func TestSweepDeletesOrphansAndLeavesLiveBlobsAlone(t *testing.T) {
	ctx := context.Background()
	meta := fsmeta.NewMemoryStore()
	blob := blobstore.NewMemoryBlob()

	orphan := pathfs.Hash([]byte("orphan"))
	live := pathfs.Hash([]byte("live"))

	require.NoError(t, blob.Write(ctx, orphan, []byte("orphan")))
	require.NoError(t, blob.Write(ctx, live, []byte("live")))

	require.NoError(t, meta.IncrementBlobRefCount(ctx, orphan))
	_, err := meta.DecrementBlobRefCount(ctx, orphan)
	require.NoError(t, err) // refcount now 0, orphaned

	require.NoError(t, meta.IncrementBlobRefCount(ctx, live)) // refcount 1, still live

	r := reclaim.New(meta, blob, zerolog.Nop(), 0)
	deleted, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	exists, err := blob.Exists(ctx, orphan)
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = blob.Exists(ctx, live)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSweepWithNoOrphansIsNoop(t *testing.T) {
	ctx := context.Background()
	meta := fsmeta.NewMemoryStore()
	blob := blobstore.NewMemoryBlob()

	r := reclaim.New(meta, blob, zerolog.Nop(), 10)
	deleted, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestSweepDrainsMultipleBatches(t *testing.T) {
	ctx := context.Background()
	meta := fsmeta.NewMemoryStore()
	blob := blobstore.NewMemoryBlob()

	const n = 7
	for i := 0; i < n; i++ {
		data := []byte{byte(i)}
		h := pathfs.Hash(data)
		require.NoError(t, blob.Write(ctx, h, data))
		require.NoError(t, meta.IncrementBlobRefCount(ctx, h))
		_, err := meta.DecrementBlobRefCount(ctx, h)
		require.NoError(t, err)
	}

	r := reclaim.New(meta, blob, zerolog.Nop(), 3) // force multiple batches of 3
	deleted, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, deleted)
	assert.Equal(t, 0, blob.Count())
}

func TestRunPeriodicStopsOnContextCancel(t *testing.T) {
	meta := fsmeta.NewMemoryStore()
	blob := blobstore.NewMemoryBlob()
	r := reclaim.New(meta, blob, zerolog.Nop(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.RunPeriodic(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunPeriodic did not return after context cancellation")
	}
}
