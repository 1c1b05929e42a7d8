package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subscription-checkout/internal/domain"
	"subscription-checkout/internal/repo"

	"github.com/go-redsync/redsync/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sweepLockKey = "locks:job-sweep"

var errInterrupted = errors.New("job interrupted while running")

// Dispatcher is the part of the scheduler the sweeper drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, id uuid.UUID) error
	Abandon(ctx context.Context, job domain.Job, reason string, cause error)
}

type Options struct {
	Interval time.Duration
	// Grace is how late a pending job may be before the sweeper dispatches it
	// itself instead of waiting for its timer.
	Grace time.Duration
	// StuckAfter is how long a job may stay running before it counts as
	// interrupted.
	StuckAfter time.Duration
	BatchSize  int
}

// ReconciliationWorker catches jobs the in-process timers missed: pending
// jobs that are overdue and running jobs whose process went away. Overdue
// jobs are dispatched, interrupted ones are abandoned and never re-run since
// the charge may already have reached the gateway.
type ReconciliationWorker struct {
	jobs       repo.JobRepo
	dispatcher Dispatcher
	rs         *redsync.Redsync
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
}

// NewReconciliationWorker builds the sweeper. With a nil rs every replica
// sweeps on its own, which is still safe because dispatch claims jobs.
func NewReconciliationWorker(
	jobs repo.JobRepo,
	dispatcher Dispatcher,
	rs *redsync.Redsync,
	opts Options,
	logger *zap.Logger,
) *ReconciliationWorker {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Grace <= 0 {
		opts.Grace = 30 * time.Second
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = 15 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &ReconciliationWorker{
		jobs:       jobs,
		dispatcher: dispatcher,
		rs:         rs,
		opts:       opts,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.opts.Interval)
	defer ticker.Stop()

	rw.logger.Info("job sweeper started", zap.Duration("interval", rw.opts.Interval))

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("job sweeper stopped")
			return
		case <-ticker.C:
			if err := rw.Sweep(ctx); err != nil {
				rw.logger.Error("job sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass. When another replica holds the sweep lock it returns
// without doing anything.
func (rw *ReconciliationWorker) Sweep(ctx context.Context) error {
	if rw.rs != nil {
		mutex := rw.rs.NewMutex(sweepLockKey,
			redsync.WithExpiry(rw.opts.Interval),
			redsync.WithTries(1),
		)
		if err := mutex.LockContext(ctx); err != nil {
			rw.logger.Debug("sweep lock busy, skipping", zap.Error(err))
			return nil
		}
		defer func() {
			if _, err := mutex.UnlockContext(ctx); err != nil {
				rw.logger.Warn("failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	now := rw.now()
	if err := rw.abandonInterrupted(ctx, now); err != nil {
		return err
	}
	return rw.dispatchOverdue(ctx, now)
}

func (rw *ReconciliationWorker) abandonInterrupted(ctx context.Context, now time.Time) error {
	stuck, err := rw.jobs.FindStuckRunning(ctx, now.Add(-rw.opts.StuckAfter), rw.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("find stuck jobs: %w", err)
	}
	if len(stuck) > 0 {
		rw.logger.Warn("found interrupted jobs", zap.Int("count", len(stuck)))
	}
	for _, job := range stuck {
		rw.dispatcher.Abandon(ctx, job, "interrupted", errInterrupted)
	}
	return nil
}

func (rw *ReconciliationWorker) dispatchOverdue(ctx context.Context, now time.Time) error {
	overdue, err := rw.jobs.FindOverdue(ctx, now.Add(-rw.opts.Grace), rw.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("find overdue jobs: %w", err)
	}
	if len(overdue) > 0 {
		rw.logger.Info("dispatching overdue jobs", zap.Int("count", len(overdue)))
	}
	for _, job := range overdue {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := rw.dispatcher.Dispatch(ctx, job.ID); err != nil {
			// left pending, the next sweep picks it up again
			rw.logger.Error("overdue job dispatch failed", zap.Stringer("job_id", job.ID), zap.Error(err))
		}
	}
	return nil
}
