package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/simstore/internal/async"
	"github.com/smallbiznis/simstore/internal/audit"
	"github.com/smallbiznis/simstore/internal/authorization"
	"github.com/smallbiznis/simstore/internal/checkout"
	"github.com/smallbiznis/simstore/internal/clock"
	"github.com/smallbiznis/simstore/internal/commission"
	"github.com/smallbiznis/simstore/internal/config"
	"github.com/smallbiznis/simstore/internal/customer"
	"github.com/smallbiznis/simstore/internal/ledger"
	"github.com/smallbiznis/simstore/internal/metricspush"
	"github.com/smallbiznis/simstore/internal/migration"
	"github.com/smallbiznis/simstore/internal/notification"
	"github.com/smallbiznis/simstore/internal/observability"
	"github.com/smallbiznis/simstore/internal/order"
	"github.com/smallbiznis/simstore/internal/payment"
	"github.com/smallbiznis/simstore/internal/plan"
	"github.com/smallbiznis/simstore/internal/profile"
	"github.com/smallbiznis/simstore/internal/providers"
	"github.com/smallbiznis/simstore/internal/provisioning"
	"github.com/smallbiznis/simstore/internal/ratelimit"
	"github.com/smallbiznis/simstore/internal/rates"
	"github.com/smallbiznis/simstore/internal/receipt"
	"github.com/smallbiznis/simstore/internal/refund"
	"github.com/smallbiznis/simstore/internal/scheduler"
	"github.com/smallbiznis/simstore/internal/server"
	"github.com/smallbiznis/simstore/internal/settings"
	"github.com/smallbiznis/simstore/internal/sideeffect"
	"github.com/smallbiznis/simstore/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// serveCmd runs the storefront API and the sweep in one process.
func serveCmd() *cobra.Command {
	var withoutScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API together with the reconciliation sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{
				config.Module,
				observability.Module,
				fx.Provide(registerSnowflake),
				db.Module,
				clock.Module,
				migration.Module,
				async.Module,
				ratelimit.Module,
				metricspush.Module,
				providers.Module,

				customer.Module,
				ledger.Module,
				plan.Module,
				settings.Module,
				rates.Module,
				order.Module,
				profile.Module,
				commission.Module,
				notification.Module,
				sideeffect.Module,
				provisioning.Module,
				payment.Module,
				checkout.Module,
				refund.Module,
				receipt.Module,

				authorization.Module,
				audit.Module,

				server.Module,
			}
			if !withoutScheduler {
				opts = append(opts, scheduler.Module)
			}
			fx.New(opts...).Run()
			return nil
		},
	}

	cmd.Flags().BoolVar(&withoutScheduler, "no-scheduler", false, "serve HTTP only; run the sweep elsewhere")
	return cmd
}

func registerSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
