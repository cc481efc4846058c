package housekeeping

import (
	"context"
	"log/slog"
	"time"

	"github.com/maltedev/deal-scraper/internal/metrics"
)

type CacheCleaner interface {
	ClearExpired() int
}

type DealStore interface {
	MarkExpired(ctx context.Context, olderThan time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type OutboxPurger interface {
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Config struct {
	Interval    time.Duration
	ExpireAfter time.Duration
	DeleteAfter time.Duration
}

// Report holds the counts of one pass.
type Report struct {
	CacheExpired int   `json:"cache_expired"`
	DealsExpired int64 `json:"deals_expired"`
	DealsDeleted int64 `json:"deals_deleted"`
	OutboxPurged int64 `json:"outbox_purged"`
	FailedTasks  int   `json:"failed_tasks"`
}

// Janitor periodically removes expired cache entries and ages out deals.
// The deal and outbox stores are optional so the janitor also runs in
// cache-only deployments.
type Janitor struct {
	cache   CacheCleaner
	deals   DealStore
	outbox  OutboxPurger
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Janitor)

func WithDeals(deals DealStore) Option {
	return func(j *Janitor) { j.deals = deals }
}

func WithOutbox(outbox OutboxPurger) Option {
	return func(j *Janitor) { j.outbox = outbox }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Janitor) { j.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

func NewJanitor(cache CacheCleaner, cfg Config, logger *slog.Logger, opts ...Option) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	j := &Janitor{
		cache:  cache,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With("component", "janitor"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run executes a pass immediately and then on every interval until ctx is
// cancelled.
func (j *Janitor) Run(ctx context.Context) {
	j.logger.Info("janitor started", "interval", j.cfg.Interval)

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		j.RunOnce(ctx)

		select {
		case <-ctx.Done():
			j.logger.Info("janitor stopping")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs every task once. A failing task is logged and counted,
// the remaining tasks still run.
func (j *Janitor) RunOnce(ctx context.Context) Report {
	var report Report
	now := j.now()

	if j.cache != nil {
		report.CacheExpired = j.cache.ClearExpired()
		j.metrics.Housekeeping("cache_expired", report.CacheExpired)
	}

	if j.deals != nil {
		if j.cfg.ExpireAfter > 0 {
			n, err := j.deals.MarkExpired(ctx, now.Add(-j.cfg.ExpireAfter))
			if err != nil {
				report.FailedTasks++
				j.logger.Error("failed to expire deals", "error", err)
			} else {
				report.DealsExpired = n
				j.metrics.Housekeeping("deals_expired", int(n))
			}
		}

		if j.cfg.DeleteAfter > 0 {
			n, err := j.deals.DeleteOlderThan(ctx, now.Add(-j.cfg.DeleteAfter))
			if err != nil {
				report.FailedTasks++
				j.logger.Error("failed to delete old deals", "error", err)
			} else {
				report.DealsDeleted = n
				j.metrics.Housekeeping("deals_deleted", int(n))
			}
		}
	}

	if j.outbox != nil && j.cfg.DeleteAfter > 0 {
		n, err := j.outbox.DeleteProcessedBefore(ctx, now.Add(-j.cfg.DeleteAfter))
		if err != nil {
			report.FailedTasks++
			j.logger.Error("failed to purge outbox", "error", err)
		} else {
			report.OutboxPurged = n
			j.metrics.Housekeeping("outbox_purged", int(n))
		}
	}

	j.logger.Info("housekeeping pass finished",
		"cache_expired", report.CacheExpired,
		"deals_expired", report.DealsExpired,
		"deals_deleted", report.DealsDeleted,
		"outbox_purged", report.OutboxPurged,
		"failed_tasks", report.FailedTasks)

	return report
}
