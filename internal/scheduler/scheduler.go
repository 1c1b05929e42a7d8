// Package scheduler runs persisted one-shot charge jobs at their due time.
//
// Every job lives in the job store first and in the in-process cron second, so
// a restart loses nothing: Start re-arms all pending jobs. Execution goes
// through Dispatch, which claims the row (pending -> running) before calling
// the handler; whoever loses the claim does nothing. A failed attempt is put
// back to pending with exponential backoff until MaxAttempts, after which the
// job is abandoned and the abandon hook runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"subscription-checkout/internal/domain"
	"subscription-checkout/internal/observability"
	"subscription-checkout/internal/repo"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const settleTimeout = 5 * time.Second

// Handler executes one attempt of a job. Wrap an error with backoff.Permanent
// to abandon the job without further attempts.
type Handler func(ctx context.Context, job domain.Job) error

// AbandonHook is called once when a job reaches the abandoned state.
type AbandonHook func(ctx context.Context, job domain.Job, cause error)

type Policy struct {
	MaxAttempts int
	Backoff     time.Duration // delay before the second attempt
	MaxBackoff  time.Duration
	JobTimeout  time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Backoff <= 0 {
		p.Backoff = time.Hour
	}
	if p.MaxBackoff < p.Backoff {
		p.MaxBackoff = 24 * p.Backoff
	}
	if p.JobTimeout <= 0 {
		p.JobTimeout = 30 * time.Second
	}
	return p
}

type Scheduler struct {
	cron   *cron.Cron
	jobs   repo.JobRepo
	logger *zap.Logger
	policy Policy
	now    func() time.Time

	mu          sync.Mutex
	handlers    map[domain.JobKind]Handler
	entries     map[uuid.UUID]cron.EntryID
	onAbandoned AbandonHook

	ctx    context.Context
	cancel context.CancelFunc
}

func New(jobs repo.JobRepo, logger *zap.Logger, policy Policy) *Scheduler {
	cl := cronLogger{l: logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		jobs:     jobs,
		logger:   logger,
		policy:   policy.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
		handlers: make(map[domain.JobKind]Handler),
		entries:  make(map[uuid.UUID]cron.EntryID),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handle registers the handler for a job kind. Call before Start.
func (s *Scheduler) Handle(kind domain.JobKind, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

func (s *Scheduler) OnAbandoned(h AbandonHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAbandoned = h
}

// Schedule persists job and arms it. It returns false, without error, when a
// job of the same kind already exists for the payment.
func (s *Scheduler) Schedule(ctx context.Context, job domain.Job) (bool, error) {
	inserted, err := s.jobs.Insert(ctx, &job)
	if err != nil {
		return false, fmt.Errorf("scheduler: persist job: %w", err)
	}
	if !inserted {
		s.logger.Info("job already scheduled",
			zap.String("payment_id", job.PaymentID), zap.String("kind", string(job.Kind)))
		return false, nil
	}

	observability.JobsScheduled.WithLabelValues(string(job.Kind)).Inc()
	s.arm(job.ID, job.DueAt)
	s.logger.Info("job scheduled",
		zap.Stringer("job_id", job.ID),
		zap.String("payment_id", job.PaymentID),
		zap.String("kind", string(job.Kind)),
		zap.Time("due_at", job.DueAt))
	return true, nil
}

// Start re-arms every pending job from the store and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	pending, err := s.jobs.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: load pending jobs: %w", err)
	}
	for _, j := range pending {
		s.arm(j.ID, j.DueAt)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("pending_jobs", len(pending)))
	return nil
}

// Shutdown stops arming new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	stopped := s.cron.Stop()
	defer s.cancel()

	select {
	case <-stopped.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler forced to stop with jobs still running")
		return ctx.Err()
	}
}

// Dispatch runs the job if it can be claimed now. It is safe to call from
// several goroutines or processes for the same job.
func (s *Scheduler) Dispatch(ctx context.Context, id uuid.UUID) error {
	job, err := s.jobs.Claim(ctx, id, s.now())
	if err != nil {
		return fmt.Errorf("scheduler: claim job %s: %w", id, err)
	}
	if job == nil {
		s.logger.Debug("job not claimable", zap.Stringer("job_id", id))
		return nil
	}
	s.execute(ctx, *job)
	return nil
}

// Abandon settles a job outside the attempt cycle, for instance one left
// running by a process that died mid-attempt.
func (s *Scheduler) Abandon(ctx context.Context, job domain.Job, reason string, cause error) {
	s.mu.Lock()
	if entryID, ok := s.entries[job.ID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, job.ID)
	}
	s.mu.Unlock()

	log := s.logger.With(
		zap.Stringer("job_id", job.ID),
		zap.String("payment_id", job.PaymentID),
		zap.String("kind", string(job.Kind)),
		zap.Int("attempt", job.Attempts),
	)
	s.abandon(ctx, log, job, reason, cause)
}

func (s *Scheduler) arm(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[id]; ok {
		s.cron.Remove(old)
	}
	s.entries[id] = s.cron.Schedule(&oneShot{at: at}, cron.FuncJob(func() { s.fire(id) }))
}

func (s *Scheduler) fire(id uuid.UUID) {
	s.mu.Lock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if err := s.Dispatch(s.ctx, id); err != nil {
		s.logger.Error("job dispatch failed", zap.Stringer("job_id", id), zap.Error(err))
	}
}

func (s *Scheduler) execute(ctx context.Context, job domain.Job) {
	s.mu.Lock()
	h, ok := s.handlers[job.Kind]
	s.mu.Unlock()

	log := s.logger.With(
		zap.Stringer("job_id", job.ID),
		zap.String("payment_id", job.PaymentID),
		zap.String("kind", string(job.Kind)),
		zap.Int("attempt", job.Attempts),
	)

	if !ok {
		s.abandon(ctx, log, job, "no_handler", backoff.Permanent(fmt.Errorf("no handler for job kind %q", job.Kind)))
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, s.policy.JobTimeout)
	start := time.Now()
	err := runHandler(runCtx, h, job)
	cancel()
	observability.JobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())

	// the attempt is over, its outcome must be recorded even during shutdown
	settleCtx, cancelSettle := settleContext(ctx)
	defer cancelSettle()

	if err == nil {
		if err := s.jobs.MarkDone(settleCtx, job.ID); err != nil {
			log.Error("job succeeded but could not be marked done", zap.Error(err))
		}
		observability.JobsExecuted.WithLabelValues(string(job.Kind), "done").Inc()
		log.Info("job done")
		return
	}

	var perm *backoff.PermanentError
	switch {
	case errors.As(err, &perm):
		s.abandon(ctx, log, job, "permanent", err)
	case job.Attempts >= s.policy.MaxAttempts:
		s.abandon(ctx, log, job, "exhausted", err)
	default:
		due := s.now().Add(s.backoffFor(job.Attempts))
		if rerr := s.jobs.Reschedule(settleCtx, job.ID, due, err.Error()); rerr != nil {
			log.Error("job failed and could not be rescheduled", zap.Error(err), zap.NamedError("reschedule_error", rerr))
			return
		}
		s.arm(job.ID, due)
		observability.JobsExecuted.WithLabelValues(string(job.Kind), "rescheduled").Inc()
		log.Warn("job failed, rescheduled", zap.Time("due_at", due), zap.Error(err))
	}
}

func (s *Scheduler) abandon(ctx context.Context, log *zap.Logger, job domain.Job, reason string, cause error) {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	abandoned, err := s.jobs.MarkAbandoned(ctx, job.ID, cause.Error())
	if err != nil {
		// still running in the store, the sweeper settles it later
		log.Error("could not mark job abandoned", zap.String("reason", reason), zap.Error(err))
		return
	}
	if !abandoned {
		log.Info("job already settled, not abandoning", zap.String("reason", reason))
		return
	}
	observability.JobsExecuted.WithLabelValues(string(job.Kind), "abandoned").Inc()
	observability.JobsAbandoned.WithLabelValues(string(job.Kind), reason).Inc()
	log.Error("job abandoned", zap.String("reason", reason), zap.Error(cause))

	s.mu.Lock()
	hook := s.onAbandoned
	s.mu.Unlock()
	if hook != nil {
		job.Status = domain.JobAbandoned
		job.LastError = cause.Error()
		hook(ctx, job, cause)
	}
}

// settleContext outlives ctx's cancellation but not its values, bounded by
// settleTimeout.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

// backoffFor returns the delay after the given failed attempt: Backoff,
// 2*Backoff, 4*Backoff, ... capped at MaxBackoff.
func (s *Scheduler) backoffFor(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(s.policy.Backoff),
		backoff.WithMaxInterval(s.policy.MaxBackoff),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// runHandler turns a handler panic into an error so the job still settles.
func runHandler(ctx context.Context, h Handler, job domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h(ctx, job)
}
