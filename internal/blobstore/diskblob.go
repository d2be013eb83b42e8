// DiskBlob is the reference on-disk blob store.
//
// Blobs are stored at:
//
//	{root}/{hash[0:2]}/{hash[2:4]}/{hash}
//
// Deduplication guarantee: only one goroutine may write a given hash at a
// time. A sync.Map of per-hash mutexes (one entry per hash currently being
// written) provides O(1) lock acquisition without serialising writes to
// different hashes.
//
// Concurrent writes of the same hash:
//  1. The first goroutine to acquire the hash lock checks os.Stat → not
//     found → writes its bytes to a temp file and renames temp → blob path.
//     New blob written.
//  2. The second acquires the lock after the first releases it, checks
//     os.Stat → found → returns. Dedup hit, no temp file, zero additional
//     disk write.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/zynqcloud/dedupfs/internal/engineerr"
	"github.com/zynqcloud/dedupfs/internal/pathfs"
)

// DiskBlob is a content-addressable blob store backed by the local filesystem.
type DiskBlob struct {
	root string
	mu   sync.Map // map[string]*hashEntry — one entry per hash currently being written
}

// hashEntry pairs a mutex with a reference count for the per-hash lock pool.
// When refs drops to zero the entry is removed from the sync.Map to prevent
// unbounded memory growth over the lifetime of the process.
type hashEntry struct {
	mu   sync.Mutex
	refs int32
}

// NewDiskBlob creates a DiskBlob rooted at root, creating the directory if needed.
func NewDiskBlob(root string) (*DiskBlob, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("blobstore: create root %q: %w", root, err)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blobstore: resolve root: %w", err)
	}
	return &DiskBlob{root: absRoot}, nil
}

func (d *DiskBlob) blobPath(hash pathfs.ContentHash) string {
	a, b := hash.ShardPrefix()
	return filepath.Join(d.root, a, b, hash.String())
}

// Write stores data under hash using a temp-file-then-rename discipline so
// concurrent writers of the same hash never observe a half-written object.
func (d *DiskBlob) Write(_ context.Context, hash pathfs.ContentHash, data []byte) error {
	unlock := d.lockHash(hash.String())
	defer unlock()

	dest := d.blobPath(hash)
	if _, err := os.Stat(dest); err == nil {
		return nil // dedup hit — blob already exists, nothing to write
	} else if !os.IsNotExist(err) {
		return engineerr.New(engineerr.KindStoreUnavailable, "blobstore: stat blob", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return engineerr.New(engineerr.KindStoreUnavailable, "blobstore: mkdir blob dir", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".blob-*.tmp")
	if err != nil {
		return engineerr.New(engineerr.KindStoreUnavailable, "blobstore: create tmp", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath) //nolint:errcheck
		return engineerr.New(engineerr.KindStoreUnavailable, "blobstore: write tmp", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return engineerr.New(engineerr.KindStoreUnavailable, "blobstore: flush tmp", err)
	}
	if err := os.Chmod(tmpPath, 0o440); err != nil { // blobs are read-only once written
		os.Remove(tmpPath) //nolint:errcheck
		return engineerr.New(engineerr.KindStoreUnavailable, "blobstore: chmod", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return engineerr.New(engineerr.KindStoreUnavailable, "blobstore: rename to blob path", err)
	}
	return nil
}

// Read returns the bytes stored under hash.
func (d *DiskBlob) Read(_ context.Context, hash pathfs.ContentHash) ([]byte, error) {
	data, err := os.ReadFile(d.blobPath(hash))
	if errors.Is(err, os.ErrNotExist) {
		return nil, engineerr.New(engineerr.KindBlobMissing, "blobstore: blob not found: "+hash.String(), err)
	}
	if err != nil {
		return nil, engineerr.New(engineerr.KindStoreUnavailable, "blobstore: read blob", err)
	}
	return data, nil
}

// Exists reports whether hash is stored.
func (d *DiskBlob) Exists(_ context.Context, hash pathfs.ContentHash) (bool, error) {
	_, err := os.Stat(d.blobPath(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, engineerr.New(engineerr.KindStoreUnavailable, "blobstore: stat blob", err)
}

// Delete removes hash. Missing is not an error.
func (d *DiskBlob) Delete(_ context.Context, hash pathfs.ContentHash) error {
	unlock := d.lockHash(hash.String())
	defer unlock()

	if err := os.Remove(d.blobPath(hash)); err != nil && !os.IsNotExist(err) {
		return engineerr.New(engineerr.KindStoreUnavailable, "blobstore: delete blob", err)
	}
	return nil
}

// DeleteMany removes each hash, collecting any that failed rather than
// aborting the whole batch on the first error.
func (d *DiskBlob) DeleteMany(ctx context.Context, hashes []pathfs.ContentHash) ([]pathfs.ContentHash, error) {
	var failed []pathfs.ContentHash
	for _, h := range hashes {
		if err := d.Delete(ctx, h); err != nil {
			failed = append(failed, h)
		}
	}
	if len(failed) > 0 {
		return failed, fmt.Errorf("blobstore: %d of %d deletes failed", len(failed), len(hashes))
	}
	return nil, nil
}

// lockHash acquires a per-hash mutex and returns an unlock function.
func (d *DiskBlob) lockHash(hash string) (unlock func()) {
	v, _ := d.mu.LoadOrStore(hash, &hashEntry{})
	e := v.(*hashEntry)
	atomic.AddInt32(&e.refs, 1)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		if atomic.AddInt32(&e.refs, -1) == 0 {
			d.mu.CompareAndDelete(hash, e)
		}
	}
}
