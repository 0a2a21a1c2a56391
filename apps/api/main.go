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
	"github.com/smallbiznis/simstore/internal/server"
	"github.com/smallbiznis/simstore/internal/settings"
	"github.com/smallbiznis/simstore/internal/sideeffect"
	"github.com/smallbiznis/simstore/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		async.Module,
		ratelimit.Module,
		providers.Module,

		// Storefront domains
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

		// Operator surface
		authorization.Module,
		audit.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
