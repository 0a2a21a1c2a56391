package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/simstore/internal/clock"
	obsmetrics "github.com/smallbiznis/simstore/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
	orderrepository "github.com/smallbiznis/simstore/internal/order/repository"
	profiledomain "github.com/smallbiznis/simstore/internal/profile/domain"
	provisioningdomain "github.com/smallbiznis/simstore/internal/provisioning/domain"
	"github.com/smallbiznis/simstore/internal/ratelimit"
	sideeffectdomain "github.com/smallbiznis/simstore/internal/sideeffect/domain"
	"github.com/smallbiznis/simstore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var base = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

// scriptedProvisioner records each Provision call and lets a test decide
// the outcome per order and per attempt.
type scriptedProvisioner struct {
	mu      sync.Mutex
	calls   map[snowflake.ID]int
	syncs   int
	provide func(orderID snowflake.ID, attempt int) (provisioningdomain.Outcome, error)
}

func (p *scriptedProvisioner) Provision(_ context.Context, orderID snowflake.ID) (provisioningdomain.Outcome, error) {
	p.mu.Lock()
	if p.calls == nil {
		p.calls = map[snowflake.ID]int{}
	}
	p.calls[orderID]++
	attempt := p.calls[orderID]
	p.mu.Unlock()
	if p.provide == nil {
		return provisioningdomain.Outcome{OrderID: orderID, Status: orderdomain.StatusEsimCreated}, nil
	}
	return p.provide(orderID, attempt)
}

func (p *scriptedProvisioner) SyncUsage(context.Context, int) (provisioningdomain.SyncResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.syncs++
	return provisioningdomain.SyncResult{Checked: 2, Updated: 2}, nil
}

func (p *scriptedProvisioner) Suspend(context.Context, snowflake.ID) (*profiledomain.Profile, error) {
	return nil, nil
}

func (p *scriptedProvisioner) Unsuspend(context.Context, snowflake.ID) (*profiledomain.Profile, error) {
	return nil, nil
}

func (p *scriptedProvisioner) Revoke(context.Context, snowflake.ID) (*profiledomain.Profile, error) {
	return nil, nil
}

func (p *scriptedProvisioner) callCount(id snowflake.ID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

func (p *scriptedProvisioner) totalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, n := range p.calls {
		total += n
	}
	return total
}

type backfillPipeline struct {
	backfills int
	result    sideeffectdomain.BackfillResult
}

func (p *backfillPipeline) OnProvisioned(context.Context, *orderdomain.Order) error { return nil }

func (p *backfillPipeline) BackfillReceipts(context.Context, int) (sideeffectdomain.BackfillResult, error) {
	p.backfills++
	return p.result, nil
}

func (p *backfillPipeline) ResendReceipt(context.Context, snowflake.ID) error { return nil }

func (p *backfillPipeline) NotifyRefund(context.Context, *orderdomain.Order) error { return nil }

type countingPusher struct {
	pushes   int
	gatherer prometheus.Gatherer
}

func (p *countingPusher) Push(_ context.Context, gatherer prometheus.Gatherer) error {
	p.pushes++
	p.gatherer = gatherer
	return nil
}

type fixture struct {
	db          *gorm.DB
	node        *snowflake.Node
	clock       *clock.FakeClock
	registry    *prometheus.Registry
	provisioner *scriptedProvisioner
	pipeline    *backfillPipeline
	sched       *Scheduler
}

type fixtureOption func(*Params)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)
	obsmetrics.ResetSchedulerMetricsForTest()
	metrics := obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "simstore",
		Environment: "test",
	})

	f := &fixture{
		db:          testutil.OpenDB(t),
		node:        testutil.Node(t),
		clock:       clock.NewFakeClock(base.Add(time.Hour)),
		registry:    registry,
		provisioner: &scriptedProvisioner{},
		pipeline:    &backfillPipeline{},
	}
	p := Params{
		DB:          f.db,
		Log:         zap.NewNop(),
		GenID:       f.node,
		Clock:       f.clock,
		Config:      Config{StalePaidAfter: 10 * time.Minute},
		OrderRepo:   orderrepository.Provide(),
		Provisioner: f.provisioner,
		Pipeline:    f.pipeline,
		Metrics:     metrics,
	}
	for _, opt := range opts {
		opt(&p)
	}
	sched, err := New(p)
	require.NoError(t, err)
	f.sched = sched
	return f
}

func (f *fixture) insertOrder(t *testing.T, status orderdomain.Status, updatedAt time.Time) *orderdomain.Order {
	t.Helper()
	ref := "pi_" + f.node.Generate().String()
	order := &orderdomain.Order{
		ID:                 f.node.Generate(),
		CustomerID:         1,
		PlanCode:           "EU-1GB-7D",
		AmountCents:        1000,
		DisplayCurrency:    "USD",
		DisplayAmountCents: 1000,
		Status:             status,
		PaymentMethod:      orderdomain.PaymentMethodGateway,
		PaymentRef:         &ref,
		CreatedAt:          updatedAt,
		UpdatedAt:          updatedAt,
	}
	require.NoError(t, orderrepository.Provide().Insert(context.Background(), f.db, order))
	return order
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	f := newFixture(t)

	err := f.sched.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "simstore",
		"env":     "test",
		"job":     "timeout_job",
	}
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "simstore_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "simstore",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "simstore_scheduler_job_errors_total", errorLabels))
}

func TestRunJobWrapsHardErrors(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")

	err := f.sched.runJob(context.Background(), "broken_job", 1, time.Second, func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken_job")
}

func TestProvisioningRetryRedrivesParkedAndStalePaidOrders(t *testing.T) {
	f := newFixture(t)
	failed := f.insertOrder(t, orderdomain.StatusEsimOrderFailed, base)
	pending := f.insertOrder(t, orderdomain.StatusEsimPending, base)
	noOrderNo := f.insertOrder(t, orderdomain.StatusEsimNoOrderNo, base)
	stalePaid := f.insertOrder(t, orderdomain.StatusPaid, base)
	freshPaid := f.insertOrder(t, orderdomain.StatusPaid, f.clock.Now().Add(-time.Minute))
	created := f.insertOrder(t, orderdomain.StatusEsimCreated, base)
	unpaid := f.insertOrder(t, orderdomain.StatusPending, base)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	for _, order := range []*orderdomain.Order{failed, pending, noOrderNo, stalePaid} {
		assert.Equal(t, 1, f.provisioner.callCount(order.ID), "order %s", order.Status)
	}
	for _, order := range []*orderdomain.Order{freshPaid, created, unpaid} {
		assert.Zero(t, f.provisioner.callCount(order.ID), "order %s", order.Status)
	}
	assert.Equal(t, 1, f.pipeline.backfills)
	assert.Equal(t, 1, f.provisioner.syncs)

	labels := map[string]string{
		"service": "simstore",
		"env":     "test",
		"job":     JobProvisioningRetry,
		"outcome": outcomeCreated,
	}
	assert.Equal(t, 4.0, getCounterValue(t, f.registry, "simstore_scheduler_batch_processed_total", labels))
}

func TestProvisioningRetryContinuesPastFailingOrder(t *testing.T) {
	f := newFixture(t)
	first := f.insertOrder(t, orderdomain.StatusEsimOrderFailed, base)
	second := f.insertOrder(t, orderdomain.StatusEsimOrderFailed, base.Add(time.Minute))
	f.provisioner.provide = func(orderID snowflake.ID, _ int) (provisioningdomain.Outcome, error) {
		if orderID == first.ID {
			return provisioningdomain.Outcome{}, errors.New("database is locked")
		}
		return provisioningdomain.Outcome{OrderID: orderID, Status: orderdomain.StatusEsimCreated}, nil
	}

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, 1, f.provisioner.callCount(first.ID))
	assert.Equal(t, 1, f.provisioner.callCount(second.ID))

	labels := map[string]string{
		"service": "simstore",
		"env":     "test",
		"job":     JobProvisioningRetry,
		"outcome": outcomeFailed,
	}
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "simstore_scheduler_batch_processed_total", labels))
}

func TestParkedOrderIsRedrivenUntilCreated(t *testing.T) {
	f := newFixture(t)
	repo := orderrepository.Provide()
	order := f.insertOrder(t, orderdomain.StatusEsimOrderFailed, base)

	// The provider fails twice, then the third sweep succeeds.
	f.provisioner.provide = func(orderID snowflake.ID, attempt int) (provisioningdomain.Outcome, error) {
		if attempt < 3 {
			return provisioningdomain.Outcome{OrderID: orderID, Status: orderdomain.StatusEsimOrderFailed}, nil
		}
		_, err := repo.TransitionStatus(context.Background(), f.db, orderID, orderdomain.RetryableStatuses, orderdomain.StatusEsimCreated, f.clock.Now())
		return provisioningdomain.Outcome{OrderID: orderID, Status: orderdomain.StatusEsimCreated}, err
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, f.sched.RunOnce(context.Background()))
		f.clock.Advance(time.Minute)
	}

	assert.Equal(t, 3, f.provisioner.callCount(order.ID))
	stored, err := repo.FindByID(context.Background(), f.db, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusEsimCreated, stored.Status)
}

func TestRunOnceSkipsWhileAnotherSweepIsInFlight(t *testing.T) {
	f := newFixture(t)
	f.insertOrder(t, orderdomain.StatusEsimOrderFailed, base)
	f.sched.inFlight.Store(true)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Zero(t, f.provisioner.totalCalls())
	assert.Zero(t, f.pipeline.backfills)

	labels := map[string]string{
		"service": "simstore",
		"env":     "test",
		"reason":  obsmetrics.SchedulerSkipReasonInFlight,
	}
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "simstore_scheduler_runs_skipped_total", labels))
}

func TestRunOnceHonorsSharedLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, func(p *Params) {
		p.Locker = ratelimit.NewLocker(client)
		p.Config.LockKey = "test:sweep"
	})
	order := f.insertOrder(t, orderdomain.StatusEsimOrderFailed, base)

	require.NoError(t, mr.Set("test:sweep", "other-instance"))
	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Zero(t, f.provisioner.callCount(order.ID))

	labels := map[string]string{
		"service": "simstore",
		"env":     "test",
		"reason":  obsmetrics.SchedulerSkipReasonLockHeld,
	}
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "simstore_scheduler_runs_skipped_total", labels))

	mr.Del("test:sweep")
	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, 1, f.provisioner.callCount(order.ID))
	assert.False(t, mr.Exists("test:sweep"), "lock is released after the sweep")
}

func TestRunOnceRunsOnlyEnabledJobs(t *testing.T) {
	f := newFixture(t, func(p *Params) {
		p.Config.EnabledJobs = []string{"USAGE_SYNC"}
	})
	order := f.insertOrder(t, orderdomain.StatusEsimOrderFailed, base)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Zero(t, f.provisioner.callCount(order.ID))
	assert.Zero(t, f.pipeline.backfills)
	assert.Equal(t, 1, f.provisioner.syncs)
}

func TestRunOncePushesSchedulerRegistry(t *testing.T) {
	pusher := &countingPusher{}
	f := newFixture(t, func(p *Params) {
		p.Pusher = pusher
	})
	f.pipeline.result = sideeffectdomain.BackfillResult{Checked: 1, Driven: 1}

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, 1, pusher.pushes)
	assert.Same(t, f.registry, pusher.gatherer)

	labels := map[string]string{
		"service": "simstore",
		"env":     "test",
		"job":     JobReceiptBackfill,
		"outcome": outcomeCreated,
	}
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "simstore_scheduler_batch_processed_total", labels))
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}

func TestPendingExpiryCancelsAbandonedCheckouts(t *testing.T) {
	f := newFixture(t, func(p *Params) {
		p.Config.EnabledJobs = []string{JobPendingExpiry}
	})
	repo := orderrepository.Provide()
	abandoned := f.insertOrder(t, orderdomain.StatusPending, base.Add(-72*time.Hour))
	recent := f.insertOrder(t, orderdomain.StatusPending, base)
	oldPaid := f.insertOrder(t, orderdomain.StatusPaid, base.Add(-72*time.Hour))

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Zero(t, f.provisioner.totalCalls())

	for order, want := range map[*orderdomain.Order]orderdomain.Status{
		abandoned: orderdomain.StatusCancelled,
		recent:    orderdomain.StatusPending,
		oldPaid:   orderdomain.StatusPaid,
	} {
		stored, err := repo.FindByID(context.Background(), f.db, order.ID)
		require.NoError(t, err)
		assert.Equal(t, want, stored.Status)
	}

	labels := map[string]string{
		"service": "simstore",
		"env":     "test",
		"job":     JobPendingExpiry,
		"outcome": "expired",
	}
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "simstore_scheduler_batch_processed_total", labels))
}
