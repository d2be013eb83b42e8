package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zynqcloud/dedupfs/internal/config"
	"github.com/zynqcloud/dedupfs/internal/tenant"
)

func newBootstrapCmd() *cobra.Command {
	var tenantIDFlag string

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create a new tenant root directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			cfg := config.Load()

			e, closeMeta, err := openEngine(cfg, log)
			if err != nil {
				return err
			}
			defer closeMeta() //nolint:errcheck

			var t tenant.ID
			if tenantIDFlag == "" {
				t = tenant.New()
			} else {
				t, err = tenant.Parse(tenantIDFlag)
				if err != nil {
					return fmt.Errorf("invalid --tenant: %w", err)
				}
			}

			if err := e.CreateDirectory(context.Background(), t, "/"); err != nil {
				return fmt.Errorf("bootstrapping tenant root: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantIDFlag, "tenant", "", "tenant ID to bootstrap (generated if omitted)")
	return cmd
}
