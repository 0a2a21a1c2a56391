package metricspush

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
	fx.Invoke(func(lc fx.Lifecycle, pusher Pusher) {
		closer, ok := pusher.(interface{ Close() error })
		if !ok {
			return
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return closer.Close()
			},
		})
	}),
)
