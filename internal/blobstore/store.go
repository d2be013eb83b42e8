// Package blobstore defines the content-addressed blob store contract and
// its two backings: a sharded on-disk store, and an in-memory store for
// tests.
package blobstore

import (
	"context"

	"github.com/zynqcloud/dedupfs/internal/pathfs"
)

// Store is the capability set a blob backing must provide. Every operation
// takes whole-content []byte, never io.Reader/io.Writer — streaming is out
// of scope for the public contract, even though a backing may stream
// internally to disk.
type Store interface {
	// Write stores data under hash. Idempotent: writing the same (hash,
	// data) twice leaves the store in the same observable state.
	Write(ctx context.Context, hash pathfs.ContentHash, data []byte) error

	// Read returns the bytes stored under hash, or a BlobMissing error.
	Read(ctx context.Context, hash pathfs.ContentHash) ([]byte, error)

	// Exists reports whether hash is stored, without transferring bytes.
	Exists(ctx context.Context, hash pathfs.ContentHash) (bool, error)

	// Delete removes hash. Missing is not an error.
	Delete(ctx context.Context, hash pathfs.ContentHash) error

	// DeleteMany bulk-deletes hashes. Partial failure returns the subset
	// that failed without aborting the rest.
	DeleteMany(ctx context.Context, hashes []pathfs.ContentHash) (failed []pathfs.ContentHash, err error)
}
