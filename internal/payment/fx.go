package payment

import (
	"github.com/smallbiznis/simstore/internal/payment/adapters"
	"github.com/smallbiznis/simstore/internal/payment/adapters/stripe"
	"github.com/smallbiznis/simstore/internal/payment/gateway"
	"github.com/smallbiznis/simstore/internal/payment/repository"
	"github.com/smallbiznis/simstore/internal/payment/service"
	"github.com/smallbiznis/simstore/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
		)
	}),
	fx.Provide(gateway.NewStripeGateway),
	fx.Provide(service.NewReconciler),
	fx.Provide(webhook.NewService),
)
