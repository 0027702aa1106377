package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"eco-referral/internal/logger"
)

// Expirer marks overdue rewards as expired
type Expirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// ExpiryJob periodically moves issued rewards past their expiry to expired.
// Redemption evaluates expiry lazily, so the job only keeps stored status
// current for listings and stats.
type ExpiryJob struct {
	expirer   Expirer
	interval  time.Duration
	scheduler gocron.Scheduler
	now       func() time.Time
}

// NewExpiryJob creates a new expiry job
func NewExpiryJob(expirer Expirer, interval time.Duration) *ExpiryJob {
	return &ExpiryJob{
		expirer:  expirer,
		interval: interval,
		now:      time.Now,
	}
}

// Start schedules the sweep. It runs once immediately and then every interval.
func (j *ExpiryJob) Start() error {
	if j.interval <= 0 {
		return fmt.Errorf("expiry sweep interval must be positive")
	}

	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(j.interval),
		gocron.NewTask(j.RunOnce),
		gocron.WithName("reward-expiry-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}

	sched.Start()
	j.scheduler = sched

	logger.Info("Expiry sweep started", zap.Duration("interval", j.interval))
	return nil
}

// RunOnce performs a single sweep
func (j *ExpiryJob) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	count, err := j.expirer.ExpireOverdue(ctx, j.now())
	if err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("expiry sweep failed: %w", err))
		return
	}
	logger.Debug("Expiry sweep finished", zap.Int64("expired", count))
}

// Stop shuts the scheduler down and waits for a running sweep
func (j *ExpiryJob) Stop() error {
	if j.scheduler == nil {
		return nil
	}
	logger.Info("Stopping expiry sweep")
	return j.scheduler.Shutdown()
}
