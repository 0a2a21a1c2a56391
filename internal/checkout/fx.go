package checkout

import (
	"github.com/smallbiznis/simstore/internal/checkout/domain"
	"github.com/smallbiznis/simstore/internal/checkout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("checkout.service",
	fx.Provide(func() domain.FraudScreener { return domain.AllowAll{} }),
	fx.Provide(service.New),
)
