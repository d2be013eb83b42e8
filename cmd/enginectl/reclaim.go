package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/zynqcloud/dedupfs/internal/config"
	"github.com/zynqcloud/dedupfs/internal/reclaim"
)

func newReclaimCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Sweep and delete orphaned blobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			cfg := config.Load()

			meta, blob, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer meta.Close() //nolint:errcheck

			r := reclaim.New(meta, blob, log, cfg.ReclaimBatchSize)

			if once {
				n, err := r.Sweep(context.Background())
				if err != nil {
					return fmt.Errorf("reclaim sweep: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d orphan blobs\n", n)
				return nil
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, shutdownSignals...)
			go func() {
				<-quit
				log.Info().Msg("shutdown signal received")
				cancel()
			}()

			log.Info().Dur("interval", cfg.ReclaimInterval).Msg("reclaimer starting")
			r.RunPeriodic(ctx, cfg.ReclaimInterval)
			log.Info().Msg("reclaimer stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit instead of looping")
	return cmd
}
