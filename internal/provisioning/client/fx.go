package client

import (
	"github.com/smallbiznis/simstore/internal/provisioning/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("provisioning.client",
	fx.Provide(NewHTTPClient),
	fx.Provide(NewMockClient),
	fx.Provide(NewSelector),
	fx.Provide(func(s *Selector) domain.ClientSelector { return s }),
)
