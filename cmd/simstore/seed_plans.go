package main

import (
	"context"
	"fmt"
	"os"

	"github.com/smallbiznis/simstore/internal/clock"
	"github.com/smallbiznis/simstore/internal/config"
	"github.com/smallbiznis/simstore/internal/observability"
	"github.com/smallbiznis/simstore/internal/plan"
	plandomain "github.com/smallbiznis/simstore/internal/plan/domain"
	"github.com/smallbiznis/simstore/internal/seed"
	"github.com/smallbiznis/simstore/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func seedPlansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-plans [catalog.yaml]",
		Short: "Upsert the plan catalog from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			catalog, err := seed.ParseCatalog(data)
			if err != nil {
				return err
			}

			var written int
			app := fx.New(
				config.Module,
				observability.Module,
				db.Module,
				clock.Module,
				plan.Module,
				fx.NopLogger,
				fx.Invoke(func(plans plandomain.Service, log *zap.Logger) error {
					n, err := seed.EnsurePlans(cmd.Context(), plans, catalog)
					written = n
					if err != nil {
						return err
					}
					log.Info("plan catalog seeded", zap.Int("plans", n))
					return nil
				}),
			)
			if err := app.Err(); err != nil {
				return fmt.Errorf("seed plans after %d upserts: %w", written, err)
			}
			if err := app.Start(cmd.Context()); err != nil {
				return err
			}
			stopCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
			defer cancel()
			if err := app.Stop(stopCtx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d plans upserted\n", written)
			return nil
		},
	}
}
