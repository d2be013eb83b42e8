package blobstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/zynqcloud/dedupfs/internal/engineerr"
	"github.com/zynqcloud/dedupfs/internal/pathfs"
)

// MemoryBlob is an in-memory Store used by engine unit tests that want to
// exercise dedup/refcount logic without touching the filesystem.
type MemoryBlob struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemoryBlob creates an empty in-memory blob store.
func NewMemoryBlob() *MemoryBlob {
	return &MemoryBlob{blobs: make(map[string][]byte)}
}

func (m *MemoryBlob) Write(_ context.Context, hash pathfs.ContentHash, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[hash.String()]; ok {
		return nil // dedup hit
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[hash.String()] = cp
	return nil
}

func (m *MemoryBlob) Read(_ context.Context, hash pathfs.ContentHash) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[hash.String()]
	if !ok {
		return nil, engineerr.New(engineerr.KindBlobMissing, "blobstore: blob not found: "+hash.String(), nil)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MemoryBlob) Exists(_ context.Context, hash pathfs.ContentHash) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[hash.String()]
	return ok, nil
}

func (m *MemoryBlob) Delete(_ context.Context, hash pathfs.ContentHash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, hash.String())
	return nil
}

func (m *MemoryBlob) DeleteMany(ctx context.Context, hashes []pathfs.ContentHash) ([]pathfs.ContentHash, error) {
	var failed []pathfs.ContentHash
	for _, h := range hashes {
		if err := m.Delete(ctx, h); err != nil {
			failed = append(failed, h)
		}
	}
	if len(failed) > 0 {
		return failed, fmt.Errorf("blobstore: %d of %d deletes failed", len(failed), len(hashes))
	}
	return nil, nil
}

// Count returns the number of distinct blobs currently stored — used by
// tests asserting the dedup property.
func (m *MemoryBlob) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}
