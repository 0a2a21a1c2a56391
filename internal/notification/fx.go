package notification

import (
	"github.com/smallbiznis/simstore/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.dispatcher",
	fx.Provide(service.New),
)
