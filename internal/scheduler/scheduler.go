package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/simstore/internal/clock"
	"github.com/smallbiznis/simstore/internal/metricspush"
	obsmetrics "github.com/smallbiznis/simstore/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
	provisioningdomain "github.com/smallbiznis/simstore/internal/provisioning/domain"
	"github.com/smallbiznis/simstore/internal/ratelimit"
	sideeffectdomain "github.com/smallbiznis/simstore/internal/sideeffect/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

const (
	outcomeCreated = "created"
	outcomeParked  = "parked"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      Config `optional:"true"`
	OrderRepo   orderdomain.Repository
	Provisioner provisioningdomain.Service
	Pipeline    sideeffectdomain.Pipeline
	Metrics     *obsmetrics.SchedulerMetrics `optional:"true"`
	Locker      *ratelimit.Locker            `optional:"true"`
	Pusher      metricspush.Pusher           `optional:"true"`
}

// Scheduler periodically re-drives orders left in an intermediate state,
// backfills missed receipts, and refreshes profile usage.
type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	orderRepo   orderdomain.Repository
	provisioner provisioningdomain.Service
	pipeline    sideeffectdomain.Pipeline
	metrics     *obsmetrics.SchedulerMetrics
	locker      *ratelimit.Locker
	pusher      metricspush.Pusher

	inFlight atomic.Bool
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.OrderRepo == nil || p.Provisioner == nil || p.Pipeline == nil {
		return nil, ErrInvalidConfig
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         p.Config.withDefaults(),
		genID:       p.GenID,
		clock:       p.Clock,
		orderRepo:   p.OrderRepo,
		provisioner: p.Provisioner,
		pipeline:    p.Pipeline,
		metrics:     metrics,
		locker:      p.Locker,
		pusher:      p.Pusher,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// Deadline is a soft timeout; the next tick resumes where this one stopped.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce performs one sweep. Overlapping calls in this process and sweeps
// holding the shared lock elsewhere are skipped rather than queued.
func (s *Scheduler) RunOnce(parent context.Context) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.metrics.IncRunSkipped(obsmetrics.SchedulerSkipReasonInFlight)
		s.log.Debug("scheduler.run.skipped", zap.String("reason", obsmetrics.SchedulerSkipReasonInFlight))
		return nil
	}
	defer s.inFlight.Store(false)

	release, ok := s.acquireLock(parent)
	if !ok {
		return nil
	}
	defer release()

	jobs := []struct {
		Name  string
		Batch int
		Run   func(context.Context) error
	}{
		{JobProvisioningRetry, s.cfg.BatchSize, s.ProvisioningRetryJob},
		{JobReceiptBackfill, s.cfg.BatchSize, s.ReceiptBackfillJob},
		{JobUsageSync, s.cfg.UsageSyncBatch, s.UsageSyncJob},
		{JobPendingExpiry, s.cfg.BatchSize, s.PendingExpiryJob},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Batch, s.cfg.JobTimeout, job.Run))
	}

	s.pushMetrics(parent)
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			s.metrics.ObserveRunLoopLag(tick.Sub(nextRun))
			nextRun = tick.Add(s.cfg.RunInterval)
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// acquireLock takes the cross-instance sweep lock when redis is configured.
// Without a locker the in-process guard is the only exclusion.
func (s *Scheduler) acquireLock(ctx context.Context) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	lease, ok, err := s.locker.Acquire(ctx, s.cfg.LockKey, s.cfg.LockTTL)
	if err != nil {
		s.metrics.IncRunSkipped(obsmetrics.SchedulerSkipReasonLockError)
		s.log.Warn("scheduler lock failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		s.metrics.IncRunSkipped(obsmetrics.SchedulerSkipReasonLockHeld)
		s.log.Debug("scheduler.run.skipped", zap.String("reason", obsmetrics.SchedulerSkipReasonLockHeld))
		return nil, false
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			s.log.Warn("scheduler lock release failed", zap.Error(err))
		}
	}, true
}

// ProvisioningRetryJob re-drives parked orders and paid orders whose direct
// provisioning call never completed. One failing order never stops the batch.
func (s *Scheduler) ProvisioningRetryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobProvisioningRetry, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	stalePaidBefore := s.clock.Now().Add(-s.cfg.StalePaidAfter)
	orders, err := s.orderRepo.ListRetryable(ctx, s.db, stalePaidBefore, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	counts := map[string]int{}
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome, err := s.provisioner.Provision(ctx, order.ID)
		if err != nil {
			counts[outcomeFailed]++
			s.logOrderError(ctx, run, "scheduler.order.retry_failed", order.ID.String(), err)
			continue
		}
		run.AddProcessed(1)
		switch {
		case outcome.Skipped:
			counts[outcomeSkipped]++
		case outcome.Status == orderdomain.StatusEsimCreated:
			counts[outcomeCreated]++
		default:
			counts[outcomeParked]++
		}
	}
	for outcome, n := range counts {
		s.metrics.AddBatchProcessed(JobProvisioningRetry, outcome, n)
	}
	return nil
}

// ReceiptBackfillJob drives the side-effect pipeline for created orders
// whose receipt was never claimed, such as after a crash between the
// profile write and the notification.
func (s *Scheduler) ReceiptBackfillJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobReceiptBackfill, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	result, err := s.pipeline.BackfillReceipts(ctx, s.cfg.BatchSize)
	run.AddProcessed(result.Driven)
	for i := 0; i < result.Failed; i++ {
		run.IncError()
	}
	s.metrics.AddBatchProcessed(JobReceiptBackfill, outcomeCreated, result.Driven)
	s.metrics.AddBatchProcessed(JobReceiptBackfill, outcomeFailed, result.Failed)
	return err
}

func (s *Scheduler) UsageSyncJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobUsageSync, s.cfg.UsageSyncBatch)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	result, err := s.provisioner.SyncUsage(ctx, s.cfg.UsageSyncBatch)
	run.AddProcessed(result.Updated)
	for i := 0; i < result.Failed; i++ {
		run.IncError()
	}
	s.metrics.AddBatchProcessed(JobUsageSync, "updated", result.Updated)
	s.metrics.AddBatchProcessed(JobUsageSync, outcomeFailed, result.Failed)
	return err
}

// PendingExpiryJob cancels gateway orders whose checkout was never paid,
// including those whose session could not be opened.
func (s *Scheduler) PendingExpiryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobPendingExpiry, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	now := s.clock.Now().UTC()
	expired, err := s.orderRepo.ExpirePending(ctx, s.db, now.Add(-s.cfg.PendingExpireAfter), now, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	run.AddProcessed(int(expired))
	s.metrics.AddBatchProcessed(JobPendingExpiry, "expired", int(expired))
	return nil
}

func (s *Scheduler) pushMetrics(ctx context.Context) {
	if s.pusher == nil {
		return
	}
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg := s.metrics.Registry(); reg != nil {
		gatherer = reg
	}
	if err := s.pusher.Push(ctx, gatherer); err != nil {
		s.log.Warn("scheduler metrics push failed", zap.Error(err))
	}
}
