// Package fsmeta defines the metadata-store capability contract and the
// node value types it persists. Two backings implement it: an in-memory
// reference store for tests (memorystore.go) and a SQLite store for
// production use (sqlitestore.go).
package fsmeta

import (
	"context"

	"github.com/zynqcloud/dedupfs/internal/pathfs"
	"github.com/zynqcloud/dedupfs/internal/tenant"
)

// MetadataStore is the capability set a backing must provide. The five
// tenant-scoped node operations live behind ForTenant; the three blob-refcount
// operations are global — the blobs table has no tenant column, since a
// BlobRecord's refcount spans every tenant that references its hash.
type MetadataStore interface {
	// ForTenant returns a handle scoped to tenantID. The handle is cheap to
	// create and carries no shared mutable state — safe to call once per
	// request rather than reused across tenants.
	ForTenant(tenantID tenant.ID) TenantNodeStore

	// IncrementBlobRefCount atomically creates the BlobRecord (refcount 1) if
	// absent, or increments an existing one and bumps LastAccessedAt.
	IncrementBlobRefCount(ctx context.Context, hash pathfs.ContentHash) error

	// DecrementBlobRefCount atomically decrements and returns the new count.
	// A missing row returns 0, nil. A decrement that would drive the count
	// below zero returns an engineerr.Invariant error — never a negative
	// count.
	DecrementBlobRefCount(ctx context.Context, hash pathfs.ContentHash) (int64, error)

	// GetOrphanBlobs returns up to limit hashes with refcount = 0, ordered by
	// LastAccessedAt ascending (oldest first).
	GetOrphanBlobs(ctx context.Context, limit int) ([]pathfs.ContentHash, error)

	// Close releases any held resources (connection pools, file handles).
	Close() error
}

// TenantNodeStore is the per-tenant view of the metadata store: the five
// operations the service uses to read and mutate a single tenant's path
// namespace. Implementations must enforce tenant scoping — no method here
// takes a tenant argument because the handle itself is already scoped.
type TenantNodeStore interface {
	// CreateNode inserts a new node. Returns engineerr.Conflict if the path
	// already exists for this tenant.
	CreateNode(ctx context.Context, node Node) error

	// GetNodeByPath returns the node at path, or nil, nil if no node exists.
	GetNodeByPath(ctx context.Context, path pathfs.Path) (Node, error)

	// UpdateNode replaces the mutable attributes of the node at its path. A
	// no-op if no row matches — callers must have verified existence first.
	UpdateNode(ctx context.Context, node Node) error

	// DeleteNode removes the row at path. Idempotent: deleting an absent
	// path is not an error.
	DeleteNode(ctx context.Context, path pathfs.Path) error

	// ListChildren returns the nodes whose parent is exactly dir, directories
	// before files, then ascending path.
	ListChildren(ctx context.Context, dir pathfs.Path) ([]Node, error)
}
