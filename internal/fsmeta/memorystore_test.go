package fsmeta_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zynqcloud/dedupfs/internal/engineerr"
	"github.com/zynqcloud/dedupfs/internal/fsmeta"
	"github.com/zynqcloud/dedupfs/internal/pathfs"
	"github.com/zynqcloud/dedupfs/internal/tenant"
)

func mustPath(t *testing.T, s string) pathfs.Path {
	t.Helper()
	p, err := pathfs.Parse(s)
	require.NoError(t, err)
	return p
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := fsmeta.NewMemoryStore()
	tn := store.ForTenant(tenant.New())

	dir := fsmeta.DirectoryNode{Path: mustPath(t, "/"), CreatedAt: time.Now(), ModifiedAt: time.Now()}
	require.NoError(t, tn.CreateNode(ctx, dir))

	got, err := tn.GetNodeByPath(ctx, mustPath(t, "/"))
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestMemoryStoreCreateConflict(t *testing.T) {
	ctx := context.Background()
	store := fsmeta.NewMemoryStore()
	tn := store.ForTenant(tenant.New())

	dir := fsmeta.DirectoryNode{Path: mustPath(t, "/"), CreatedAt: time.Now(), ModifiedAt: time.Now()}
	require.NoError(t, tn.CreateNode(ctx, dir))

	err := tn.CreateNode(ctx, dir)
	assert.True(t, engineerr.Is(err, engineerr.KindConflict))
}

func TestMemoryStoreGetMissingReturnsNil(t *testing.T) {
	ctx := context.Background()
	store := fsmeta.NewMemoryStore()
	tn := store.ForTenant(tenant.New())

	got, err := tn.GetNodeByPath(ctx, mustPath(t, "/ghost"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := fsmeta.NewMemoryStore()
	tn := store.ForTenant(tenant.New())

	assert.NoError(t, tn.DeleteNode(ctx, mustPath(t, "/ghost")))
}

func TestMemoryStoreListChildrenOrdering(t *testing.T) {
	ctx := context.Background()
	store := fsmeta.NewMemoryStore()
	tn := store.ForTenant(tenant.New())

	now := time.Now()
	require.NoError(t, tn.CreateNode(ctx, fsmeta.DirectoryNode{Path: mustPath(t, "/"), CreatedAt: now, ModifiedAt: now}))
	require.NoError(t, tn.CreateNode(ctx, fsmeta.FileNode{Path: mustPath(t, "/b.txt"), Hash: pathfs.Hash([]byte("b")), CreatedAt: now, ModifiedAt: now}))
	require.NoError(t, tn.CreateNode(ctx, fsmeta.DirectoryNode{Path: mustPath(t, "/a-dir"), CreatedAt: now, ModifiedAt: now}))
	require.NoError(t, tn.CreateNode(ctx, fsmeta.FileNode{Path: mustPath(t, "/a.txt"), Hash: pathfs.Hash([]byte("a")), CreatedAt: now, ModifiedAt: now}))

	children, err := tn.ListChildren(ctx, mustPath(t, "/"))
	require.NoError(t, err)
	require.Len(t, children, 3)

	var names []string
	for _, c := range children {
		names = append(names, c.NodePath().String())
	}
	assert.Equal(t, []string{"/a-dir", "/a.txt", "/b.txt"}, names)
}

func TestMemoryStoreListChildrenExcludesGrandchildren(t *testing.T) {
	ctx := context.Background()
	store := fsmeta.NewMemoryStore()
	tn := store.ForTenant(tenant.New())

	now := time.Now()
	require.NoError(t, tn.CreateNode(ctx, fsmeta.DirectoryNode{Path: mustPath(t, "/"), CreatedAt: now, ModifiedAt: now}))
	require.NoError(t, tn.CreateNode(ctx, fsmeta.DirectoryNode{Path: mustPath(t, "/a"), CreatedAt: now, ModifiedAt: now}))
	require.NoError(t, tn.CreateNode(ctx, fsmeta.FileNode{Path: mustPath(t, "/a/deep.txt"), Hash: pathfs.Hash([]byte("x")), CreatedAt: now, ModifiedAt: now}))

	children, err := tn.ListChildren(ctx, mustPath(t, "/"))
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "/a", children[0].NodePath().String())
}

func TestMemoryStoreBlobRefCountLifecycle(t *testing.T) {
	ctx := context.Background()
	store := fsmeta.NewMemoryStore()
	h := pathfs.Hash([]byte("content"))

	require.NoError(t, store.IncrementBlobRefCount(ctx, h))
	require.NoError(t, store.IncrementBlobRefCount(ctx, h))

	n, err := store.DecrementBlobRefCount(ctx, h)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = store.DecrementBlobRefCount(ctx, h)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestMemoryStoreDecrementMissingReturnsZero(t *testing.T) {
	ctx := context.Background()
	store := fsmeta.NewMemoryStore()
	h := pathfs.Hash([]byte("never-written"))

	n, err := store.DecrementBlobRefCount(ctx, h)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestMemoryStoreDecrementBelowZeroIsInvariant(t *testing.T) {
	ctx := context.Background()
	store := fsmeta.NewMemoryStore()
	h := pathfs.Hash([]byte("single-ref"))

	require.NoError(t, store.IncrementBlobRefCount(ctx, h))
	_, err := store.DecrementBlobRefCount(ctx, h)
	require.NoError(t, err)

	_, err = store.DecrementBlobRefCount(ctx, h)
	assert.True(t, engineerr.Is(err, engineerr.KindInvariant))
}

func TestMemoryStoreGetOrphanBlobsReturnsEveryOrphan(t *testing.T) {
	ctx := context.Background()
	store := fsmeta.NewMemoryStore()

	h1 := pathfs.Hash([]byte("one"))
	h2 := pathfs.Hash([]byte("two"))

	require.NoError(t, store.IncrementBlobRefCount(ctx, h1))
	require.NoError(t, store.IncrementBlobRefCount(ctx, h2))
	_, err := store.DecrementBlobRefCount(ctx, h1)
	require.NoError(t, err)
	_, err = store.DecrementBlobRefCount(ctx, h2)
	require.NoError(t, err)

	orphans, err := store.GetOrphanBlobs(ctx, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []pathfs.ContentHash{h1, h2}, orphans)
}

func TestMemoryStoreTenantIsolation(t *testing.T) {
	ctx := context.Background()
	store := fsmeta.NewMemoryStore()
	t1 := tenant.New()
	t2 := tenant.New()

	now := time.Now()
	require.NoError(t, store.ForTenant(t1).CreateNode(ctx, fsmeta.DirectoryNode{Path: mustPath(t, "/"), CreatedAt: now, ModifiedAt: now}))

	got, err := store.ForTenant(t2).GetNodeByPath(ctx, mustPath(t, "/"))
	require.NoError(t, err)
	assert.Nil(t, got, "tenant t2 must not see tenant t1's root")
}
