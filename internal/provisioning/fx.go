package provisioning

import (
	"github.com/smallbiznis/simstore/internal/provisioning/client"
	"github.com/smallbiznis/simstore/internal/provisioning/service"
	"go.uber.org/fx"
)

var Module = fx.Module("provisioning.service",
	client.Module,
	fx.Provide(service.New),
)
