package async

import "go.uber.org/fx"

var Module = fx.Module("async",
	fx.Provide(NewRunner),
)
