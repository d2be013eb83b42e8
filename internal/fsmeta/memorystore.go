package fsmeta

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zynqcloud/dedupfs/internal/engineerr"
	"github.com/zynqcloud/dedupfs/internal/pathfs"
	"github.com/zynqcloud/dedupfs/internal/tenant"
)

// MemoryStore is an in-memory MetadataStore used by unit tests and any
// deployment that does not need durability across restarts. It is the
// pluggable alternative to SQLiteStore behind the same interface.
type MemoryStore struct {
	mu    sync.Mutex
	nodes map[tenant.ID]map[string]Node // tenantID -> path string -> node
	blobs map[string]*BlobRecord        // hash -> record
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory metadata store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[tenant.ID]map[string]Node),
		blobs: make(map[string]*BlobRecord),
		now:   time.Now,
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) ForTenant(tenantID tenant.ID) TenantNodeStore {
	return &memoryTenantStore{store: s, tenantID: tenantID}
}

type memoryTenantStore struct {
	store    *MemoryStore
	tenantID tenant.ID
}

func (t *memoryTenantStore) tableLocked() map[string]Node {
	s := t.store
	tbl, ok := s.nodes[t.tenantID]
	if !ok {
		tbl = make(map[string]Node)
		s.nodes[t.tenantID] = tbl
	}
	return tbl
}

func (t *memoryTenantStore) CreateNode(_ context.Context, node Node) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	tbl := t.tableLocked()
	key := node.NodePath().String()
	if _, exists := tbl[key]; exists {
		return engineerr.New(engineerr.KindConflict, "path already exists: "+key, nil)
	}
	tbl[key] = node
	return nil
}

func (t *memoryTenantStore) GetNodeByPath(_ context.Context, path pathfs.Path) (Node, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	tbl := t.tableLocked()
	node, ok := tbl[path.String()]
	if !ok {
		return nil, nil
	}
	return node, nil
}

func (t *memoryTenantStore) UpdateNode(_ context.Context, node Node) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	tbl := t.tableLocked()
	key := node.NodePath().String()
	if _, exists := tbl[key]; !exists {
		return nil // no-op, per contract
	}
	tbl[key] = node
	return nil
}

func (t *memoryTenantStore) DeleteNode(_ context.Context, path pathfs.Path) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	tbl := t.tableLocked()
	delete(tbl, path.String()) // idempotent: missing key is a no-op
	return nil
}

func (t *memoryTenantStore) ListChildren(_ context.Context, dir pathfs.Path) ([]Node, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	tbl := t.tableLocked()
	var children []Node
	for _, node := range tbl {
		p := node.NodePath()
		if p.IsRoot() {
			continue
		}
		if p.Parent().String() == dir.String() {
			children = append(children, node)
		}
	}

	sort.Slice(children, func(i, j int) bool {
		di, dj := children[i], children[j]
		_, iIsDir := di.(DirectoryNode)
		_, jIsDir := dj.(DirectoryNode)
		if iIsDir != jIsDir {
			return iIsDir // directories before files
		}
		return strings.Compare(di.NodePath().String(), dj.NodePath().String()) < 0
	})
	return children, nil
}

func (s *MemoryStore) IncrementBlobRefCount(_ context.Context, hash pathfs.ContentHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hash.String()
	rec, ok := s.blobs[key]
	now := s.now()
	if !ok {
		s.blobs[key] = &BlobRecord{
			Hash:           hash,
			ReferenceCount: 1,
			Size:           0,
			CreatedAt:      now,
			LastAccessedAt: now,
		}
		return nil
	}
	rec.ReferenceCount++
	rec.LastAccessedAt = now
	return nil
}

func (s *MemoryStore) DecrementBlobRefCount(_ context.Context, hash pathfs.ContentHash) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hash.String()
	rec, ok := s.blobs[key]
	if !ok {
		return 0, nil
	}
	if rec.ReferenceCount <= 0 {
		return 0, engineerr.New(engineerr.KindInvariant, "refcount would go negative for "+key, nil)
	}
	rec.ReferenceCount--
	rec.LastAccessedAt = s.now()
	return rec.ReferenceCount, nil
}

func (s *MemoryStore) GetOrphanBlobs(_ context.Context, limit int) ([]pathfs.ContentHash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orphans []*BlobRecord
	for _, rec := range s.blobs {
		if rec.ReferenceCount == 0 {
			orphans = append(orphans, rec)
		}
	}
	sort.Slice(orphans, func(i, j int) bool {
		return orphans[i].LastAccessedAt.Before(orphans[j].LastAccessedAt)
	})
	if limit > 0 && len(orphans) > limit {
		orphans = orphans[:limit]
	}
	hashes := make([]pathfs.ContentHash, len(orphans))
	for i, rec := range orphans {
		hashes[i] = rec.Hash
	}
	return hashes, nil
}
