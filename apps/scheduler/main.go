package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/simstore/internal/clock"
	"github.com/smallbiznis/simstore/internal/commission"
	"github.com/smallbiznis/simstore/internal/config"
	"github.com/smallbiznis/simstore/internal/customer"
	"github.com/smallbiznis/simstore/internal/ledger"
	"github.com/smallbiznis/simstore/internal/metricspush"
	"github.com/smallbiznis/simstore/internal/notification"
	"github.com/smallbiznis/simstore/internal/observability"
	"github.com/smallbiznis/simstore/internal/order"
	"github.com/smallbiznis/simstore/internal/plan"
	"github.com/smallbiznis/simstore/internal/profile"
	"github.com/smallbiznis/simstore/internal/providers"
	"github.com/smallbiznis/simstore/internal/provisioning"
	"github.com/smallbiznis/simstore/internal/ratelimit"
	"github.com/smallbiznis/simstore/internal/scheduler"
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
		ratelimit.Module,
		metricspush.Module,
		providers.Module,

		// Domain services required by the sweep
		customer.Module,
		ledger.Module,
		plan.Module,
		settings.Module,
		order.Module,
		profile.Module,
		commission.Module,
		notification.Module,
		sideeffect.Module,
		provisioning.Module,

		// No server module; scheduler.Module drives the loop.
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
