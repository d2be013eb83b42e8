// Package engine implements the file-system service: the only component
// permitted to mutate the metadata/blob pair together.
// It owns path validation, dedup-on-write, refcount maintenance and
// recursive directory operations.
package engine

import (
	"context"
	"mime"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/zynqcloud/dedupfs/internal/blobstore"
	"github.com/zynqcloud/dedupfs/internal/engineerr"
	"github.com/zynqcloud/dedupfs/internal/fsmeta"
	"github.com/zynqcloud/dedupfs/internal/pathfs"
	"github.com/zynqcloud/dedupfs/internal/tenant"
)

const defaultMimeType = "application/octet-stream"

// Engine is the stateful core of the deduplicating file-system. It holds no
// per-request or per-tenant mutable state — every call takes its tenant
// explicitly.
type Engine struct {
	meta fsmeta.MetadataStore
	blob blobstore.Store
	log  zerolog.Logger
}

// New wires a MetadataStore and a Store behind the file-system service.
func New(meta fsmeta.MetadataStore, blob blobstore.Store, log zerolog.Logger) *Engine {
	return &Engine{meta: meta, blob: blob, log: log.With().Str("component", "engine").Logger()}
}

// Info describes a resolved node for getInfo/listDirectory callers without
// leaking the fsmeta package's internal Node type across the public surface.
type Info struct {
	Path       string
	IsDir      bool
	Hash       string
	Size       int64
	MimeType   string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

func infoFromNode(n fsmeta.Node) Info {
	switch v := n.(type) {
	case fsmeta.FileNode:
		return Info{Path: v.Path.String(), IsDir: false, Hash: v.Hash.String(), Size: v.Size, MimeType: v.MimeType, CreatedAt: v.CreatedAt, ModifiedAt: v.ModifiedAt}
	case fsmeta.DirectoryNode:
		return Info{Path: v.Path.String(), IsDir: true, CreatedAt: v.CreatedAt, ModifiedAt: v.ModifiedAt}
	default:
		panic("engine: unknown node type")
	}
}

// parsePath validates a caller-supplied path string. Every public operation
// calls this first — no store call happens on an invalid path.
func parsePath(s string) (pathfs.Path, error) {
	p, err := pathfs.Parse(s)
	if err != nil {
		return pathfs.Path{}, engineerr.New(engineerr.KindInvalidPath, "invalid path: "+s, err)
	}
	return p, nil
}

// CreateDirectory creates an empty directory at pathStr. The parent must
// already exist. The tenant root "/" has no parent and is created here too,
// once, when it does not exist yet.
func (e *Engine) CreateDirectory(ctx context.Context, t tenant.ID, pathStr string) error {
	p, err := parsePath(pathStr)
	if err != nil {
		return err
	}
	store := e.meta.ForTenant(t)

	existing, err := store.GetNodeByPath(ctx, p)
	if err != nil {
		return err
	}
	if existing != nil {
		return engineerr.New(engineerr.KindConflict, "path already exists: "+pathStr, nil)
	}

	if !p.IsRoot() {
		parent, err := store.GetNodeByPath(ctx, p.Parent())
		if err != nil {
			return err
		}
		if _, ok := parent.(fsmeta.DirectoryNode); !ok {
			return engineerr.New(engineerr.KindNotFound, "parent directory not found: "+p.Parent().String(), nil)
		}
	}

	now := time.Now().UTC()
	return store.CreateNode(ctx, fsmeta.DirectoryNode{Path: p, CreatedAt: now, ModifiedAt: now})
}

// WriteFile stores data under pathStr, deduplicating against the blob store
// by content hash and creating or updating the file's metadata node.
func (e *Engine) WriteFile(ctx context.Context, t tenant.ID, pathStr string, data []byte) error {
	p, err := parsePath(pathStr)
	if err != nil {
		return err
	}
	store := e.meta.ForTenant(t)

	hash := pathfs.Hash(data)

	// Blob write happens before any metadata mutation: if the process dies
	// right after this, the blob is an unreferenced orphan, reclaimable
	// later — no data is lost.
	exists, err := e.blob.Exists(ctx, hash)
	if err != nil {
		return err
	}
	if !exists {
		if err := e.blob.Write(ctx, hash, data); err != nil {
			return err
		}
	}

	existing, err := store.GetNodeByPath(ctx, p)
	if err != nil {
		return err
	}

	switch n := existing.(type) {
	case fsmeta.DirectoryNode:
		return engineerr.New(engineerr.KindConflict, "path is a directory: "+pathStr, nil)

	case fsmeta.FileNode:
		if n.Hash.Equal(hash) {
			n.ModifiedAt = time.Now().UTC()
			return store.UpdateNode(ctx, n)
		}
		// Rewrite with different content: incRef the new hash before
		// decRef'ing the old one so the blob is never transiently orphaned.
		if err := e.meta.IncrementBlobRefCount(ctx, hash); err != nil {
			return err
		}
		updated := fsmeta.FileNode{
			Path:       p,
			Hash:       hash,
			Size:       int64(len(data)),
			MimeType:   mimeTypeForPath(pathStr),
			CreatedAt:  n.CreatedAt,
			ModifiedAt: time.Now().UTC(),
		}
		if err := store.UpdateNode(ctx, updated); err != nil {
			return err
		}
		oldCount, err := e.meta.DecrementBlobRefCount(ctx, n.Hash)
		if err != nil {
			return err
		}
		if oldCount == 0 {
			if err := e.blob.Delete(ctx, n.Hash); err != nil {
				e.log.Warn().Err(err).Str("hash", n.Hash.String()).Msg("failed to delete orphaned blob after overwrite")
			}
		}
		return nil

	default: // nothing present
		if !p.IsRoot() {
			parent, err := store.GetNodeByPath(ctx, p.Parent())
			if err != nil {
				return err
			}
			if _, ok := parent.(fsmeta.DirectoryNode); !ok {
				return engineerr.New(engineerr.KindNotFound, "parent directory not found: "+p.Parent().String(), nil)
			}
		}
		now := time.Now().UTC()
		node := fsmeta.FileNode{
			Path:       p,
			Hash:       hash,
			Size:       int64(len(data)),
			MimeType:   mimeTypeForPath(pathStr),
			CreatedAt:  now,
			ModifiedAt: now,
		}
		if err := store.CreateNode(ctx, node); err != nil {
			return err
		}
		return e.meta.IncrementBlobRefCount(ctx, hash)
	}
}

// ReadFile returns the bytes stored at pathStr.
func (e *Engine) ReadFile(ctx context.Context, t tenant.ID, pathStr string) ([]byte, error) {
	p, err := parsePath(pathStr)
	if err != nil {
		return nil, err
	}
	store := e.meta.ForTenant(t)

	node, err := store.GetNodeByPath(ctx, p)
	if err != nil {
		return nil, err
	}
	file, ok := node.(fsmeta.FileNode)
	if !ok {
		return nil, engineerr.New(engineerr.KindNotFound, "file not found: "+pathStr, nil)
	}

	data, err := e.blob.Read(ctx, file.Hash)
	if err != nil {
		if engineerr.Is(err, engineerr.KindBlobMissing) {
			e.log.Error().Str("path", pathStr).Str("hash", file.Hash.String()).Msg("metadata references a missing blob")
		}
		return nil, err
	}
	return data, nil
}

// DeleteFile removes the file at pathStr and drops its blob refcount.
func (e *Engine) DeleteFile(ctx context.Context, t tenant.ID, pathStr string) error {
	p, err := parsePath(pathStr)
	if err != nil {
		return err
	}
	store := e.meta.ForTenant(t)

	node, err := store.GetNodeByPath(ctx, p)
	if err != nil {
		return err
	}
	file, ok := node.(fsmeta.FileNode)
	if !ok {
		return engineerr.New(engineerr.KindNotFound, "file not found: "+pathStr, nil)
	}

	if err := store.DeleteNode(ctx, p); err != nil {
		return err
	}
	count, err := e.meta.DecrementBlobRefCount(ctx, file.Hash)
	if err != nil {
		return err
	}
	if count == 0 {
		if err := e.blob.Delete(ctx, file.Hash); err != nil {
			e.log.Warn().Err(err).Str("hash", file.Hash.String()).Msg("failed to delete orphaned blob after file delete")
		}
	}
	return nil
}

// ListDirectory returns the immediate children of the directory at pathStr.
func (e *Engine) ListDirectory(ctx context.Context, t tenant.ID, pathStr string) ([]Info, error) {
	p, err := parsePath(pathStr)
	if err != nil {
		return nil, err
	}
	store := e.meta.ForTenant(t)

	node, err := store.GetNodeByPath(ctx, p)
	if err != nil {
		return nil, err
	}
	if _, ok := node.(fsmeta.DirectoryNode); !ok {
		return nil, engineerr.New(engineerr.KindNotFound, "directory not found: "+pathStr, nil)
	}

	children, err := store.ListChildren(ctx, p)
	if err != nil {
		return nil, err
	}
	out := make([]Info, len(children))
	for i, c := range children {
		out[i] = infoFromNode(c)
	}
	return out, nil
}

// DeleteDirectory removes the (empty) directory at pathStr. The tenant
// root cannot be deleted.
func (e *Engine) DeleteDirectory(ctx context.Context, t tenant.ID, pathStr string) error {
	p, err := parsePath(pathStr)
	if err != nil {
		return err
	}
	if p.IsRoot() {
		return engineerr.New(engineerr.KindConflict, "cannot delete tenant root", nil)
	}
	store := e.meta.ForTenant(t)

	node, err := store.GetNodeByPath(ctx, p)
	if err != nil {
		return err
	}
	if _, ok := node.(fsmeta.DirectoryNode); !ok {
		return engineerr.New(engineerr.KindNotFound, "directory not found: "+pathStr, nil)
	}

	children, err := store.ListChildren(ctx, p)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return engineerr.New(engineerr.KindConflict, "directory not empty: "+pathStr, nil)
	}
	return store.DeleteNode(ctx, p)
}

// CopyFile creates a new file node at dstStr pointing at the same blob as
// srcStr. No blob I/O: this is purely a metadata operation plus one
// refcount increment, which is the entire point of content addressing.
func (e *Engine) CopyFile(ctx context.Context, t tenant.ID, srcStr, dstStr string) error {
	src, err := parsePath(srcStr)
	if err != nil {
		return err
	}
	dst, err := parsePath(dstStr)
	if err != nil {
		return err
	}
	store := e.meta.ForTenant(t)

	srcNode, err := store.GetNodeByPath(ctx, src)
	if err != nil {
		return err
	}
	srcFile, ok := srcNode.(fsmeta.FileNode)
	if !ok {
		return engineerr.New(engineerr.KindNotFound, "source file not found: "+srcStr, nil)
	}

	dstExisting, err := store.GetNodeByPath(ctx, dst)
	if err != nil {
		return err
	}
	if dstExisting != nil {
		return engineerr.New(engineerr.KindConflict, "destination already exists: "+dstStr, nil)
	}

	if !dst.IsRoot() {
		parent, err := store.GetNodeByPath(ctx, dst.Parent())
		if err != nil {
			return err
		}
		if _, ok := parent.(fsmeta.DirectoryNode); !ok {
			return engineerr.New(engineerr.KindNotFound, "destination parent directory not found: "+dst.Parent().String(), nil)
		}
	}

	now := time.Now().UTC()
	newNode := fsmeta.FileNode{
		Path:       dst,
		Hash:       srcFile.Hash,
		Size:       srcFile.Size,
		MimeType:   srcFile.MimeType,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	// incRef before anything that could later roll back and remove the
	// source — here there is nothing to roll back, but the ordering is kept
	// identical to MoveFile for consistency.
	if err := store.CreateNode(ctx, newNode); err != nil {
		return err
	}
	return e.meta.IncrementBlobRefCount(ctx, srcFile.Hash)
}

// MoveFile copies srcStr to dstStr then deletes the source, with net
// refcount unchanged (incRef then decRef cancel). Destination incRef
// commits before the source's decRef runs.
func (e *Engine) MoveFile(ctx context.Context, t tenant.ID, srcStr, dstStr string) error {
	if err := e.CopyFile(ctx, t, srcStr, dstStr); err != nil {
		return err
	}
	return e.DeleteFile(ctx, t, srcStr)
}

// GetInfo resolves pathStr to its node metadata.
func (e *Engine) GetInfo(ctx context.Context, t tenant.ID, pathStr string) (Info, error) {
	p, err := parsePath(pathStr)
	if err != nil {
		return Info{}, err
	}
	node, err := e.meta.ForTenant(t).GetNodeByPath(ctx, p)
	if err != nil {
		return Info{}, err
	}
	if node == nil {
		return Info{}, engineerr.New(engineerr.KindNotFound, "not found: "+pathStr, nil)
	}
	return infoFromNode(node), nil
}

// mimeTypeForPath derives a MIME type from the path's extension, defaulting
// to application/octet-stream — mime.TypeByExtension is a one-line stdlib
// lookup table; no pack example imports a dedicated MIME-sniffing library
// for this, so the standard library is the right call here (see DESIGN.md).
func mimeTypeForPath(pathStr string) string {
	ext := filepath.Ext(pathStr)
	if ext == "" {
		return defaultMimeType
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return defaultMimeType
}
