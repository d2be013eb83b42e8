// Package reclaim implements the orphan blob reclaimer: a periodic sweep
// that finds blobs with a zero reference count and removes them from the
// blob store.
package reclaim

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zynqcloud/dedupfs/internal/blobstore"
	"github.com/zynqcloud/dedupfs/internal/fsmeta"
	"github.com/zynqcloud/dedupfs/internal/pathfs"
)

// defaultBatchSize is the batch size New uses when given none: how many
// orphan hashes each fetch within a sweep asks the metadata store for. A
// batch smaller than the batch size on return ends the sweep.
const defaultBatchSize = 256

// maxDeleteFanOut bounds how many blob deletes within one batch run
// concurrently.
const maxDeleteFanOut = 16

// Reclaimer sweeps a MetadataStore for orphaned blobs and removes them from
// a blobstore.Store.
type Reclaimer struct {
	meta      fsmeta.MetadataStore
	blob      blobstore.Store
	log       zerolog.Logger
	batchSize int
}

// New builds a Reclaimer. batchSize <= 0 falls back to defaultBatchSize.
func New(meta fsmeta.MetadataStore, blob blobstore.Store, log zerolog.Logger, batchSize int) *Reclaimer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Reclaimer{
		meta:      meta,
		blob:      blob,
		log:       log.With().Str("component", "reclaimer").Logger(),
		batchSize: batchSize,
	}
}

// Sweep performs one full reclaim pass: it repeatedly fetches up to
// batchSize orphan hashes and deletes them, stopping once a fetch returns
// fewer hashes than it asked for. It returns the total number of blobs
// successfully deleted. Failures deleting individual hashes are logged and
// those hashes remain orphans to be retried on the next sweep — a returned
// error only means the metadata query itself failed.
func (r *Reclaimer) Sweep(ctx context.Context) (int, error) {
	var total int
	for {
		hashes, err := r.meta.GetOrphanBlobs(ctx, r.batchSize)
		if err != nil {
			return total, err
		}
		if len(hashes) == 0 {
			return total, nil
		}

		deleted := r.deleteBatch(ctx, hashes)
		total += deleted

		if len(hashes) < r.batchSize {
			return total, nil
		}
	}
}

// deleteBatch fans the hashes in one batch out over a bounded worker group
// and returns how many were deleted successfully.
func (r *Reclaimer) deleteBatch(ctx context.Context, hashes []pathfs.ContentHash) int {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxDeleteFanOut)

	results := make([]bool, len(hashes))
	for i, h := range hashes {
		i, h := i, h
		g.Go(func() error {
			if err := r.blob.Delete(gctx, h); err != nil {
				r.log.Warn().Err(err).Str("hash", h.String()).Msg("failed to delete orphan blob, will retry next sweep")
				return nil
			}
			results[i] = true
			return nil
		})
	}
	_ = g.Wait() // deleteBatch never returns a group error; failures are logged per-hash above

	deleted := 0
	for _, ok := range results {
		if ok {
			deleted++
		}
	}
	return deleted
}

// RunPeriodic runs Sweep once immediately, then again on every interval
// until ctx is cancelled: immediate first pass, ticker loop, clean shutdown
// on context cancellation.
func (r *Reclaimer) RunPeriodic(ctx context.Context, interval time.Duration) {
	if n, err := r.Sweep(ctx); err != nil {
		r.log.Warn().Err(err).Msg("reclaim sweep failed")
	} else if n > 0 {
		r.log.Info().Int("deleted", n).Msg("reclaim sweep complete")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := r.Sweep(ctx)
			if err != nil {
				r.log.Warn().Err(err).Msg("reclaim sweep failed")
				continue
			}
			if n > 0 {
				r.log.Info().Int("deleted", n).Msg("reclaim sweep complete")
			}
		case <-ctx.Done():
			return
		}
	}
}
