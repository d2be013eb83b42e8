package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/zynqcloud/dedupfs/internal/engineerr"
	"github.com/zynqcloud/dedupfs/internal/fsmeta"
	"github.com/zynqcloud/dedupfs/internal/pathfs"
	"github.com/zynqcloud/dedupfs/internal/tenant"
)

// maxRecursiveFanOut bounds how many siblings within one directory a
// recursive operation copies or deletes concurrently.
const maxRecursiveFanOut = 16

// CopyDirectory performs a pre-order traversal of src that creates a
// DirectoryNode under the rewritten path, or copies each file child.
// Failure partway through leaves previously created destination nodes in
// place — this operation is not atomic.
func (e *Engine) CopyDirectory(ctx context.Context, t tenant.ID, srcStr, dstStr string) error {
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
	if _, ok := srcNode.(fsmeta.DirectoryNode); !ok {
		return engineerr.New(engineerr.KindNotFound, "source directory not found: "+srcStr, nil)
	}

	if dstExisting, err := store.GetNodeByPath(ctx, dst); err != nil {
		return err
	} else if dstExisting != nil {
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

	if err := e.CreateDirectory(ctx, t, dst.String()); err != nil {
		return err
	}
	return e.copyChildren(ctx, t, src, dst)
}

// copyChildren fans the children of src out over a bounded worker group,
// copying each into the corresponding position under dst. Each child is
// independent of its siblings, so this is safe even though the subtree as a
// whole is copied non-atomically.
func (e *Engine) copyChildren(ctx context.Context, t tenant.ID, src, dst pathfs.Path) error {
	store := e.meta.ForTenant(t)
	children, err := store.ListChildren(ctx, src)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxRecursiveFanOut)
	for _, child := range children {
		child := child
		dstChild := dst.Join(child.NodePath().Base())
		g.Go(func() error {
			switch child.(type) {
			case fsmeta.DirectoryNode:
				if err := e.CreateDirectory(gctx, t, dstChild.String()); err != nil {
					return err
				}
				return e.copyChildren(gctx, t, child.NodePath(), dstChild)
			case fsmeta.FileNode:
				return e.CopyFile(gctx, t, child.NodePath().String(), dstChild.String())
			default:
				return nil
			}
		})
	}
	return g.Wait()
}

// MoveDirectory runs CopyDirectory then deletes src bottom-up (children
// deleted before their parent). Not atomic, same caveat as CopyDirectory.
func (e *Engine) MoveDirectory(ctx context.Context, t tenant.ID, srcStr, dstStr string) error {
	if err := e.CopyDirectory(ctx, t, srcStr, dstStr); err != nil {
		return err
	}
	src, err := parsePath(srcStr)
	if err != nil {
		return err
	}
	return e.deleteSubtreeBottomUp(ctx, t, src)
}

// deleteSubtreeBottomUp recursively empties and removes path: files are
// deleted directly; directories have their children removed first (fanned
// out over a bounded worker group) before the directory itself is deleted,
// satisfying deleteDirectory's empty-directory precondition at every level.
func (e *Engine) deleteSubtreeBottomUp(ctx context.Context, t tenant.ID, path pathfs.Path) error {
	store := e.meta.ForTenant(t)
	node, err := store.GetNodeByPath(ctx, path)
	if err != nil {
		return err
	}

	if _, ok := node.(fsmeta.FileNode); ok {
		return e.DeleteFile(ctx, t, path.String())
	}

	children, err := store.ListChildren(ctx, path)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxRecursiveFanOut)
	for _, child := range children {
		childPath := child.NodePath()
		g.Go(func() error {
			return e.deleteSubtreeBottomUp(gctx, t, childPath)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return e.DeleteDirectory(ctx, t, path.String())
}
