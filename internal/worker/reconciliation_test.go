package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"subscription-checkout/internal/domain"
	"subscription-checkout/internal/infrastructure/cache"
	"subscription-checkout/internal/repo/repotest"
	"subscription-checkout/internal/scheduler"

	"github.com/go-redsync/redsync/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

type harness struct {
	jobs      *repotest.Jobs
	sched     *scheduler.Scheduler
	ran       atomic.Int32
	abandoned atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{jobs: repotest.NewJobs()}
	h.sched = scheduler.New(h.jobs, zap.NewNop(), scheduler.Policy{MaxAttempts: 3})
	h.sched.Handle(domain.JobRetry, func(context.Context, domain.Job) error {
		h.ran.Add(1)
		return nil
	})
	h.sched.OnAbandoned(func(context.Context, domain.Job, error) {
		h.abandoned.Add(1)
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.sched.Shutdown(ctx)
	})
	return h
}

func (h *harness) status(t *testing.T, job domain.Job) domain.JobStatus {
	t.Helper()
	j, err := h.jobs.FindById(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, j)
	return j.Status
}

func TestSweep_DispatchesOverdueJobs(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()

	overdue := domain.NewJob("pay-overdue", 1, domain.JobRetry, now.Add(-time.Hour))
	h.jobs.Put(overdue)
	withinGrace := domain.NewJob("pay-grace", 1, domain.JobRetry, now.Add(-time.Second))
	h.jobs.Put(withinGrace)
	future := domain.NewJob("pay-future", 1, domain.JobRetry, now.Add(time.Hour))
	h.jobs.Put(future)

	rw := NewReconciliationWorker(h.jobs, h.sched, nil, Options{Grace: time.Minute}, zap.NewNop())
	require.NoError(t, rw.Sweep(context.Background()))

	assert.Equal(t, int32(1), h.ran.Load())
	assert.Equal(t, domain.JobDone, h.status(t, overdue))
	assert.Equal(t, domain.JobPending, h.status(t, withinGrace))
	assert.Equal(t, domain.JobPending, h.status(t, future))
}

func TestSweep_AbandonsInterruptedJobs(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()

	stuck := domain.NewJob("pay-stuck", 1, domain.JobRetry, now.Add(-2*time.Hour))
	stuck.Status = domain.JobRunning
	stuck.Attempts = 1
	stuck.UpdatedAt = now.Add(-time.Hour)
	h.jobs.Put(stuck)

	active := domain.NewJob("pay-active", 1, domain.JobRetry, now.Add(-time.Minute))
	active.Status = domain.JobRunning
	active.Attempts = 1
	active.UpdatedAt = now
	h.jobs.Put(active)

	rw := NewReconciliationWorker(h.jobs, h.sched, nil, Options{StuckAfter: 15 * time.Minute}, zap.NewNop())
	require.NoError(t, rw.Sweep(context.Background()))

	assert.Equal(t, domain.JobAbandoned, h.status(t, stuck))
	assert.Equal(t, domain.JobRunning, h.status(t, active))
	assert.Equal(t, int32(1), h.abandoned.Load())
	assert.Zero(t, h.ran.Load(), "interrupted jobs must not be re-run")
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.jobs.Put(domain.NewJob("pay-1", 1, domain.JobRetry, time.Now().UTC().Add(-time.Hour)))

	rw := NewReconciliationWorker(h.jobs, h.sched, nil, Options{Interval: 20 * time.Millisecond}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rw.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.ran.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestSweep_SkipsWhenLockHeld(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)
	addr, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)

	client, closer, err := cache.New(ctx, cache.Config{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(closer)
	rs := cache.NewRedsync(client)

	h := newHarness(t)
	job := domain.NewJob("pay-locked", 1, domain.JobRetry, time.Now().UTC().Add(-time.Hour))
	h.jobs.Put(job)
	rw := NewReconciliationWorker(h.jobs, h.sched, rs, Options{}, zap.NewNop())

	other := rs.NewMutex(sweepLockKey, redsync.WithExpiry(time.Minute), redsync.WithTries(1))
	require.NoError(t, other.LockContext(ctx))

	require.NoError(t, rw.Sweep(ctx))
	assert.Zero(t, h.ran.Load())
	assert.Equal(t, domain.JobPending, h.status(t, job))

	_, err = other.UnlockContext(ctx)
	require.NoError(t, err)

	require.NoError(t, rw.Sweep(ctx))
	assert.Equal(t, int32(1), h.ran.Load())
	assert.Equal(t, domain.JobDone, h.status(t, job))
}
