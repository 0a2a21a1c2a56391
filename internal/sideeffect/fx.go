package sideeffect

import (
	provisioningdomain "github.com/smallbiznis/simstore/internal/provisioning/domain"
	"github.com/smallbiznis/simstore/internal/sideeffect/domain"
	"github.com/smallbiznis/simstore/internal/sideeffect/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sideeffect.pipeline",
	fx.Provide(service.New),
	fx.Provide(func(p *service.Pipeline) domain.Pipeline { return p }),
	fx.Provide(func(p *service.Pipeline) provisioningdomain.ProvisionedHook { return p }),
)
