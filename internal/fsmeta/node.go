package fsmeta

import (
	"time"

	"github.com/zynqcloud/dedupfs/internal/pathfs"
)

// Node is the closed sum type over the two kinds of metadata record a path
// can resolve to. There are, and will only ever be, two variants — callers
// type-switch rather than relying on virtual dispatch.
type Node interface {
	NodePath() pathfs.Path
	isNode()
}

// FileNode is the metadata record for a path pointing at a blob.
type FileNode struct {
	Path       pathfs.Path
	Hash       pathfs.ContentHash
	Size       int64
	MimeType   string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

func (f FileNode) NodePath() pathfs.Path { return f.Path }
func (FileNode) isNode()                 {}

// DirectoryNode is the metadata record for a path that contains children.
type DirectoryNode struct {
	Path       pathfs.Path
	CreatedAt  time.Time
	ModifiedAt time.Time
}

func (d DirectoryNode) NodePath() pathfs.Path { return d.Path }
func (DirectoryNode) isNode()                 {}

// BlobRecord is the refcounted accounting row for one content hash.
type BlobRecord struct {
	Hash           pathfs.ContentHash
	ReferenceCount int64
	Size           int64
	CreatedAt      time.Time
	LastAccessedAt time.Time
}
