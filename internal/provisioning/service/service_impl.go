package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/simstore/internal/clock"
	"github.com/smallbiznis/simstore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/simstore/internal/observability/metrics"
	"github.com/smallbiznis/simstore/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
	profiledomain "github.com/smallbiznis/simstore/internal/profile/domain"
	"github.com/smallbiznis/simstore/internal/provisioning/domain"
	settingsdomain "github.com/smallbiznis/simstore/internal/settings/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultPollAttempts      = 10
	DefaultPollInterval      = 3 * time.Second
	DefaultTransactionPrefix = "SIM"

	usageSyncAge = time.Hour
	parkTimeout  = 5 * time.Second

	profileStatusSuspended = "SUSPENDED"
	profileStatusInUse     = "IN_USE"
	profileStatusRevoked   = "REVOKED"
)

// Options tune the provider poll loop.
type Options struct {
	PollAttempts      int
	PollInterval      time.Duration
	TransactionPrefix string
}

func DefaultOptions() Options {
	return Options{
		PollAttempts:      DefaultPollAttempts,
		PollInterval:      DefaultPollInterval,
		TransactionPrefix: DefaultTransactionPrefix,
	}
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	OrderRepo   orderdomain.Repository
	ProfileRepo profiledomain.Repository
	Settings    settingsdomain.Service
	Clients     domain.ClientSelector
	Hook        domain.ProvisionedHook `optional:"true"`
	Metrics     *obsmetrics.Metrics    `optional:"true"`
	Options     *Options               `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	orderRepo   orderdomain.Repository
	profileRepo profiledomain.Repository
	settings    settingsdomain.Service
	clients     domain.ClientSelector
	hook        domain.ProvisionedHook
	metrics     *obsmetrics.Metrics
	opts        Options
}

func New(p Params) domain.Service {
	opts := DefaultOptions()
	if p.Options != nil {
		opts = *p.Options
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = DefaultPollAttempts
	}
	if opts.PollInterval < 0 {
		opts.PollInterval = 0
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("provisioning.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		orderRepo:   p.OrderRepo,
		profileRepo: p.ProfileRepo,
		settings:    p.Settings,
		clients:     p.Clients,
		hook:        p.Hook,
		metrics:     p.Metrics,
		opts:        opts,
	}
}

func (s *Service) Provision(ctx context.Context, orderID snowflake.ID) (outcome domain.Outcome, err error) {
	ctx, span := otel.Tracer("simstore/provisioning").Start(ctx, "provisioning.provision")
	defer func() {
		span.SetAttributes(tracing.SafeAttributes(
			attribute.String("order_id", orderID.String()),
			attribute.String("status", string(outcome.Status)),
			attribute.Bool("skipped", outcome.Skipped),
		)...)
		if err != nil {
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, "provision failed")
		}
		span.End()
	}()

	log := logger.WithOrder(logger.WithContext(ctx, s.log), orderID.String())
	outcome = domain.Outcome{OrderID: orderID}

	order, err := s.orderRepo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return outcome, err
	}
	if order == nil {
		return outcome, domain.ErrOrderNotFound
	}
	outcome.Status = order.Status
	if !order.Status.IsProvisionable() {
		log.Debug("order not provisionable, skipping", zap.String("status", string(order.Status)))
		outcome.Skipped = true
		return outcome, nil
	}

	client := s.clients.For(ctx)

	orderNo := order.ProviderOrderNumber()
	if orderNo == "" {
		var parked bool
		orderNo, parked, err = s.placeOrder(ctx, log, client, order)
		if err != nil {
			return outcome, err
		}
		if parked {
			return s.finish(ctx, orderID, outcome)
		}
		if orderNo == "" {
			outcome.Skipped = true
			return s.finish(ctx, orderID, outcome)
		}
	} else {
		log.Info("resuming provisioning with stored provider order", zap.String("provider_order_no", orderNo))
	}

	resource, found := s.poll(ctx, log, client, orderNo)
	if !found {
		if err := s.park(ctx, log, order.ID, orderdomain.StatusEsimPending); err != nil {
			return outcome, err
		}
		return s.finish(ctx, orderID, outcome)
	}

	created, err := s.upsertProfile(ctx, order.ID, resource)
	if err != nil {
		return outcome, err
	}
	outcome.Created = created

	moved, err := s.orderRepo.TransitionStatus(ctx, s.db, order.ID, orderdomain.ProvisionableStatuses, orderdomain.StatusEsimCreated, s.clock.Now().UTC())
	if err != nil {
		return outcome, err
	}
	if !moved {
		// Another invocation finished first and owns the side effects.
		log.Info("order already advanced by another worker")
		outcome.Skipped = true
		return s.finish(ctx, orderID, outcome)
	}
	s.metrics.RecordProvisioning(ctx, string(orderdomain.StatusEsimCreated))
	log.Info("profile provisioned", zap.Bool("profile_created", created))

	current, err := s.orderRepo.FindByID(ctx, s.db, order.ID)
	if err != nil {
		return outcome, err
	}
	if s.hook != nil && current != nil {
		if err := s.hook.OnProvisioned(ctx, current); err != nil {
			log.Warn("side effects failed after provisioning", zap.Error(err))
		}
	}
	return s.finish(ctx, orderID, outcome)
}

// placeOrder submits the provider order and stores its id. It reports
// parked=true when the order was moved to a retryable status instead.
func (s *Service) placeOrder(ctx context.Context, log *zap.Logger, client domain.Client, order *orderdomain.Order) (string, bool, error) {
	priceUnits := s.providerCost(ctx, log, client, order)
	txID := domain.TransactionID(s.opts.TransactionPrefix, order.ID.String(), string(order.PaymentMethod))

	result, err := client.Order(ctx, domain.OrderRequest{
		TransactionID: txID,
		PackageCode:   order.PlanCode,
		Count:         1,
		PriceUnits:    priceUnits,
	})
	if err != nil {
		log.Warn("provider order failed", zap.String("transaction_id", txID), zap.Error(err))
		return "", true, s.park(ctx, log, order.ID, orderdomain.StatusEsimOrderFailed)
	}
	if result.OrderNo == "" {
		log.Warn("provider accepted order without order number", zap.String("transaction_id", txID))
		return "", true, s.park(ctx, log, order.ID, orderdomain.StatusEsimNoOrderNo)
	}

	stored, err := s.orderRepo.SetProviderOrderNo(ctx, s.db, order.ID, result.OrderNo, s.clock.Now().UTC())
	if err != nil {
		return "", false, err
	}
	if stored {
		log.Info("provider order placed", zap.String("provider_order_no", result.OrderNo))
		return result.OrderNo, false, nil
	}

	// Lost the race to record a provider order; continue with the winner's.
	current, err := s.orderRepo.FindByID(ctx, s.db, order.ID)
	if err != nil {
		return "", false, err
	}
	if current == nil || !current.Status.IsProvisionable() {
		return "", false, nil
	}
	return current.ProviderOrderNumber(), false, nil
}

func (s *Service) providerCost(ctx context.Context, log *zap.Logger, client domain.Client, order *orderdomain.Order) int64 {
	packages, err := client.Packages(ctx, order.PlanCode)
	if err == nil {
		for _, pkg := range packages {
			if pkg.Code == order.PlanCode && pkg.PriceUnits > 0 {
				return pkg.PriceUnits
			}
		}
		err = domain.ErrPackageNotFound
	}

	markup := int64(0)
	if current, settingsErr := s.settings.Get(ctx); settingsErr == nil {
		markup = current.MarkupPercent
	}
	costCents := domain.CostFromRetail(order.AmountCents, markup)
	log.Warn("provider price lookup failed, deriving cost from markup",
		zap.String("plan_code", order.PlanCode),
		zap.Int64("markup_percent", markup),
		zap.Int64("cost_cents", costCents),
		zap.Error(err),
	)
	return domain.PointsFromCents(costCents)
}

func (s *Service) poll(ctx context.Context, log *zap.Logger, client domain.Client, orderNo string) (domain.Resource, bool) {
	for attempt := 1; attempt <= s.opts.PollAttempts; attempt++ {
		resources, err := client.Query(ctx, orderNo)
		switch {
		case err != nil:
			log.Debug("provider query failed", zap.Int("attempt", attempt), zap.Error(err))
		case len(resources) > 0:
			return resources[0], true
		}
		if attempt == s.opts.PollAttempts {
			break
		}
		if err := sleep(ctx, s.opts.PollInterval); err != nil {
			log.Info("poll interrupted", zap.Error(err))
			break
		}
	}
	log.Warn("provider resource not ready after polling", zap.Int("attempts", s.opts.PollAttempts))
	return domain.Resource{}, false
}

func (s *Service) upsertProfile(ctx context.Context, orderID snowflake.ID, resource domain.Resource) (bool, error) {
	now := s.clock.Now().UTC()
	return s.profileRepo.UpsertByOrderID(ctx, s.db, &profiledomain.Profile{
		ID:                 s.genID.Generate(),
		OrderID:            orderID,
		ExternalTranID:     resource.TranNo,
		ExternalResourceID: resource.ICCID,
		ActivationCode:     resource.ActivationCode,
		Status:             resource.Status,
		CapacityBytes:      resource.TotalBytes,
		UsedBytes:          resource.UsedBytes,
		ExpiresAt:          resource.ExpiresAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
}

// park records a retryable outcome. The write is detached from ctx so an
// attempt cut short by a deadline still moves the order's updated_at and
// rotates it behind orders that have not been tried yet.
func (s *Service) park(ctx context.Context, log *zap.Logger, orderID snowflake.ID, status orderdomain.Status) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), parkTimeout)
	defer cancel()

	moved, err := s.orderRepo.TransitionStatus(ctx, s.db, orderID, orderdomain.ProvisionableStatuses, status, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if moved {
		s.metrics.RecordProvisioning(ctx, string(status))
		log.Info("order parked for retry", zap.String("status", string(status)))
	}
	return nil
}

func (s *Service) finish(ctx context.Context, orderID snowflake.ID, outcome domain.Outcome) (domain.Outcome, error) {
	current, err := s.orderRepo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return outcome, err
	}
	if current != nil {
		outcome.Status = current.Status
	}
	return outcome, nil
}

// SyncUsage refreshes usage and status for live profiles not touched in the
// last hour.
func (s *Service) SyncUsage(ctx context.Context, limit int) (domain.SyncResult, error) {
	var result domain.SyncResult
	now := s.clock.Now().UTC()
	profiles, err := s.profileRepo.ListSyncable(ctx, s.db, now.Add(-usageSyncAge), limit)
	if err != nil {
		return result, err
	}
	if len(profiles) == 0 {
		return result, nil
	}

	client := s.clients.For(ctx)
	tranNos := make([]string, 0, len(profiles))
	for _, p := range profiles {
		if p.ExternalTranID != "" {
			tranNos = append(tranNos, p.ExternalTranID)
		}
	}
	usages := map[string]domain.Usage{}
	if len(tranNos) > 0 {
		list, err := client.Usage(ctx, tranNos)
		if err != nil {
			s.log.Warn("usage lookup failed", zap.Int("profiles", len(tranNos)), zap.Error(err))
		}
		for _, u := range list {
			usages[u.TranNo] = u
		}
	}

	for i := range profiles {
		p := profiles[i]
		result.Checked++
		used, capacity, expiresAt := p.UsedBytes, p.CapacityBytes, p.ExpiresAt
		if u, ok := usages[p.ExternalTranID]; ok {
			used = u.UsedBytes
			if u.TotalBytes > 0 {
				capacity = u.TotalBytes
			}
		}
		status := p.Status
		if order, err := s.orderRepo.FindByID(ctx, s.db, p.OrderID); err == nil && order != nil && order.ProviderOrderNumber() != "" {
			resources, err := client.Query(ctx, order.ProviderOrderNumber())
			if err != nil {
				s.log.Debug("profile status lookup failed", zap.String("profile_id", p.ID.String()), zap.Error(err))
			}
			for _, r := range resources {
				if r.TranNo != p.ExternalTranID && r.ICCID != p.ExternalResourceID {
					continue
				}
				if r.Status != "" {
					status = r.Status
				}
				if r.ExpiresAt != nil {
					expiresAt = r.ExpiresAt
				}
				if r.TotalBytes > 0 && capacity == 0 {
					capacity = r.TotalBytes
				}
			}
		}

		if err := s.profileRepo.UpdateUsage(ctx, s.db, p.ID, used, capacity, expiresAt, now); err != nil {
			result.Failed++
			s.log.Warn("profile usage update failed", zap.String("profile_id", p.ID.String()), zap.Error(err))
			continue
		}
		if status != p.Status {
			if err := s.profileRepo.UpdateStatus(ctx, s.db, p.ID, status, now); err != nil {
				result.Failed++
				s.log.Warn("profile status update failed", zap.String("profile_id", p.ID.String()), zap.Error(err))
				continue
			}
		}
		result.Updated++
	}
	return result, nil
}

func (s *Service) Suspend(ctx context.Context, profileID snowflake.ID) (*profiledomain.Profile, error) {
	return s.changeProfile(ctx, profileID, "suspend", func(c domain.Client, ref domain.ResourceRef) error {
		return c.Suspend(ctx, ref)
	}, profileStatusSuspended)
}

func (s *Service) Unsuspend(ctx context.Context, profileID snowflake.ID) (*profiledomain.Profile, error) {
	return s.changeProfile(ctx, profileID, "unsuspend", func(c domain.Client, ref domain.ResourceRef) error {
		return c.Unsuspend(ctx, ref)
	}, profileStatusInUse)
}

func (s *Service) Revoke(ctx context.Context, profileID snowflake.ID) (*profiledomain.Profile, error) {
	return s.changeProfile(ctx, profileID, "revoke", func(c domain.Client, ref domain.ResourceRef) error {
		return c.Revoke(ctx, ref)
	}, profileStatusRevoked)
}

func (s *Service) changeProfile(ctx context.Context, profileID snowflake.ID, action string, call func(domain.Client, domain.ResourceRef) error, status string) (*profiledomain.Profile, error) {
	profile, err := s.profileRepo.FindByID(ctx, s.db, profileID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, domain.ErrProfileNotFound
	}

	ref := domain.ResourceRef{ICCID: profile.ExternalResourceID, TranNo: profile.ExternalTranID}
	if err := call(s.clients.For(ctx), ref); err != nil {
		s.log.Warn("profile action failed",
			zap.String("action", action),
			zap.String("profile_id", profileID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	now := s.clock.Now().UTC()
	if err := s.profileRepo.UpdateStatus(ctx, s.db, profile.ID, status, now); err != nil {
		return nil, err
	}
	s.log.Info("profile action applied", zap.String("action", action), zap.String("profile_id", profileID.String()))
	return s.profileRepo.FindByID(ctx, s.db, profile.ID)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
