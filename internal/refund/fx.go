package refund

import (
	paymentdomain "github.com/smallbiznis/simstore/internal/payment/domain"
	"github.com/smallbiznis/simstore/internal/refund/domain"
	"github.com/smallbiznis/simstore/internal/refund/service"
	"go.uber.org/fx"
)

var Module = fx.Module("refund.service",
	fx.Provide(service.New),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
	fx.Provide(func(s *service.Service) paymentdomain.RefundRecorder { return s }),
)
