package client

import (
	"context"

	"github.com/smallbiznis/simstore/internal/provisioning/domain"
	settingsdomain "github.com/smallbiznis/simstore/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Selector returns the mock or the real client according to the mock-mode
// setting in effect at call time.
type Selector struct {
	real     domain.Client
	mock     domain.Client
	settings settingsdomain.Service
	log      *zap.Logger
}

type SelectorParams struct {
	fx.In

	Real     *HTTPClient
	Mock     *MockClient
	Settings settingsdomain.Service
	Log      *zap.Logger
}

func NewSelector(p SelectorParams) *Selector {
	return NewSelectorWith(p.Real, p.Mock, p.Settings, p.Log)
}

func NewSelectorWith(real, mock domain.Client, settings settingsdomain.Service, log *zap.Logger) *Selector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Selector{real: real, mock: mock, settings: settings, log: log.Named("provisioning.selector")}
}

func (s *Selector) For(ctx context.Context) domain.Client {
	current, err := s.settings.Get(ctx)
	if err != nil {
		s.log.Warn("settings unavailable, using real provisioning client", zap.Error(err))
		return s.real
	}
	if current.MockMode {
		return s.mock
	}
	return s.real
}

var _ domain.ClientSelector = (*Selector)(nil)
