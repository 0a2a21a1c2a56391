package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/simstore/internal/clock"
	"github.com/smallbiznis/simstore/internal/config"
	"github.com/smallbiznis/simstore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/simstore/internal/observability/metrics"
	"github.com/smallbiznis/simstore/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/simstore/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const signatureTolerance = 5 * time.Minute

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Adapters   *adapters.Registry
	Repo       paymentdomain.Repository
	Reconciler paymentdomain.Reconciler
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	secrets    map[string]string
	adapters   *adapters.Registry
	repo       paymentdomain.Repository
	reconciler paymentdomain.Reconciler
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	s := &Service{
		db:    p.DB,
		log:   p.Log.Named("payment.webhook"),
		genID: p.GenID,
		clock: p.Clock,
		secrets: map[string]string{
			"stripe": p.Cfg.Stripe.WebhookSecret,
		},
		adapters:   p.Adapters,
		repo:       p.Repo,
		reconciler: p.Reconciler,
		metrics:    p.Metrics,
	}
	for _, provider := range s.adapters.Providers() {
		if strings.TrimSpace(s.secrets[provider]) == "" {
			s.log.Warn("webhook secret not configured; notifications will be rejected", zap.String("provider", provider))
		}
	}
	return s
}

// IngestWebhook verifies, journals and reconciles one notification. A nil
// return means the gateway may stop retrying.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	log := logger.WithContext(ctx, s.log).With(zap.String("provider", provider))
	adapter, err := s.adapters.Resolve(provider, paymentdomain.AdapterConfig{
		WebhookSecret: s.secrets[provider],
		Tolerance:     signatureTolerance,
		Now:           s.clock.Now,
	})
	switch {
	case errors.Is(err, paymentdomain.ErrProviderNotFound):
		return err
	case err != nil:
		log.Error("payment adapter unavailable", zap.Error(err))
		return err
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		log.Warn("webhook signature rejected")
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return nil
		}
		return err
	}
	if event.RawPayload == nil {
		event.RawPayload = payload
	}
	log = log.With(zap.String("event_id", event.ProviderEventID), zap.String("event_type", event.Type))

	record, err := s.journal(ctx, event)
	if err != nil {
		return err
	}
	if record.ProcessedAt != nil {
		log.Info("webhook replay ignored")
		s.metrics.RecordPaymentEvent(ctx, provider, event.Type, "replay")
		return nil
	}

	result, err := s.reconciler.Reconcile(ctx, event)
	switch {
	case err == nil:
	case errors.Is(err, paymentdomain.ErrMissingPlan), errors.Is(err, paymentdomain.ErrEventIgnored):
		// Nothing to act on and nothing a retry would change.
		log.Warn("payment event not actionable", zap.Error(err))
	default:
		log.Error("payment reconciliation failed", zap.Error(err))
		return err
	}

	var orderID *snowflake.ID
	if result.OrderID != 0 {
		orderID = &result.OrderID
	}
	if err := s.repo.MarkProcessed(ctx, s.db, record.ID, orderID, s.clock.Now().UTC()); err != nil {
		log.Warn("failed to mark payment event processed", zap.Error(err))
	}
	return nil
}

// OrderEvents lists the journaled gateway events for an order, oldest first.
func (s *Service) OrderEvents(ctx context.Context, orderID snowflake.ID) ([]paymentdomain.EventRecord, error) {
	if orderID == 0 {
		return nil, nil
	}
	return s.repo.ListByOrder(ctx, s.db, orderID)
}

// journal returns the stored record for the event, inserting it first if
// this is its first delivery.
func (s *Service) journal(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.EventRecord, error) {
	existing, err := s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
	if err != nil || existing != nil {
		return existing, err
	}

	record := &paymentdomain.EventRecord{
		ID:                s.genID.Generate(),
		Provider:          event.Provider,
		ProviderEventID:   event.ProviderEventID,
		ProviderPaymentID: event.ProviderPaymentID,
		EventType:         event.Type,
		OrderID:           event.OrderID,
		Payload:           datatypes.JSON(event.RawPayload),
		ReceivedAt:        s.clock.Now().UTC(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	if inserted {
		return record, nil
	}
	// A concurrent delivery journaled it first.
	existing, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return record, nil
	}
	return existing, nil
}
