// Command enginectl is the operator CLI for the dedup file-store engine: it
// bootstraps tenant roots and drives the orphan reclaimer, the same two
// operations an embedding service would otherwise have to script by hand.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zynqcloud/dedupfs/internal/blobstore"
	"github.com/zynqcloud/dedupfs/internal/config"
	"github.com/zynqcloud/dedupfs/internal/engine"
	"github.com/zynqcloud/dedupfs/internal/fsmeta"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enginectl",
		Short: "Operate a dedup file-store engine instance",
	}
	cmd.AddCommand(newBootstrapCmd(), newReclaimCmd())
	return cmd
}

// newLogger builds the engine's structured logger, writing human-readable
// console output — operators run this tool interactively, unlike the
// service itself which would log JSON.
func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

// openStores opens the SQLite metadata store and disk blob store named by
// cfg. The caller closes the returned metadata store.
func openStores(cfg *config.Config) (*fsmeta.SQLiteStore, *blobstore.DiskBlob, error) {
	meta, err := fsmeta.OpenSQLiteStore(cfg.MetadataDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening metadata store: %w", err)
	}
	blob, err := blobstore.NewDiskBlob(cfg.StorageRoot)
	if err != nil {
		meta.Close() //nolint:errcheck
		return nil, nil, fmt.Errorf("opening blob store: %w", err)
	}
	return meta, blob, nil
}

// openEngine wires openStores' result into a ready-to-use Engine, returning
// a close func for the metadata store's connection pool.
func openEngine(cfg *config.Config, log zerolog.Logger) (*engine.Engine, func() error, error) {
	meta, blob, err := openStores(cfg)
	if err != nil {
		return nil, nil, err
	}
	return engine.New(meta, blob, log), meta.Close, nil
}
