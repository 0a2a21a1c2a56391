package scheduler

import (
	"time"

	"github.com/smallbiznis/simstore/internal/config"
)

const (
	JobProvisioningRetry = "provisioning_retry"
	JobReceiptBackfill   = "receipt_backfill"
	JobUsageSync         = "usage_sync"
	JobPendingExpiry     = "pending_expiry"
)

// Config controls the sweep interval, batch sizes, and cross-instance lock.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	// StalePaidAfter is how long a paid order may sit untouched before the
	// sweep assumes its direct provisioning call was lost.
	StalePaidAfter time.Duration
	// PendingExpireAfter must outlive the gateway's checkout session so an
	// expired order can no longer be paid.
	PendingExpireAfter time.Duration
	LockKey            string
	LockTTL            time.Duration
	UsageSyncBatch     int
	JobTimeout         time.Duration
	EnabledJobs        []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:        time.Minute,
		BatchSize:          50,
		StalePaidAfter:     10 * time.Minute,
		PendingExpireAfter: 48 * time.Hour,
		LockKey:            "simstore:scheduler:sweep",
		LockTTL:            5 * time.Minute,
		UsageSyncBatch:     100,
		JobTimeout:         2 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:        time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second,
		BatchSize:          cfg.Scheduler.BatchSize,
		StalePaidAfter:     time.Duration(cfg.Scheduler.StalePaidAfterSeconds) * time.Second,
		PendingExpireAfter: time.Duration(cfg.Scheduler.PendingExpireAfterSeconds) * time.Second,
		LockTTL:            time.Duration(cfg.Scheduler.LockTTLSeconds) * time.Second,
		EnabledJobs:        cfg.Scheduler.Jobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.StalePaidAfter <= 0 {
		c.StalePaidAfter = defaults.StalePaidAfter
	}
	if c.PendingExpireAfter <= 0 {
		c.PendingExpireAfter = defaults.PendingExpireAfter
	}
	if c.LockKey == "" {
		c.LockKey = defaults.LockKey
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.UsageSyncBatch <= 0 {
		c.UsageSyncBatch = defaults.UsageSyncBatch
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
