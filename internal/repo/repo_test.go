package repo

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"subscription-checkout/internal/apperr"
	"subscription-checkout/internal/database"
	"subscription-checkout/internal/domain"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

// startPostgres runs a throwaway postgres with the schema applied.
func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("checkout"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(zap.NewNop(), dsn))

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seed(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO users (id, tg_id, name) VALUES (1, 1001, 'alice')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO products (id, price) VALUES (1, 100.00), (2, 50.50)`)
	require.NoError(t, err)
}

func TestLedgerRepos(t *testing.T) {
	db := startPostgres(t)
	seed(t, db)
	ctx := context.Background()

	users := NewUserRepo(db)
	products := NewProductRepo(db)
	payments := NewPaymentRepo(db, zap.NewNop())

	t.Run("user lookup", func(t *testing.T) {
		u, err := users.FindById(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.Equal(t, int64(1001), u.TgID)

		missing, err := users.FindById(ctx, 42)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("product price is exact", func(t *testing.T) {
		p, err := products.FindById(ctx, 2)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.True(t, decimal.RequireFromString("50.50").Equal(p.Price))

		missing, err := products.FindById(ctx, 99)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("payment insert is idempotent", func(t *testing.T) {
		p := &domain.Payment{ID: "2d9f1b3c-000f-5000-9000-1a2b3c4d5e6f", UserID: 1, CreatedAt: time.Now().UTC()}

		inserted, err := payments.CreatePayment(ctx, p)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = payments.CreatePayment(ctx, p)
		require.NoError(t, err)
		assert.False(t, inserted)

		got, err := payments.FindById(ctx, p.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(1), got.UserID)

		missing, err := payments.FindById(ctx, "unknown")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("payment for unknown user is a typed conflict", func(t *testing.T) {
		p := &domain.Payment{ID: "3e0a2c4d-000f-5000-9000-1a2b3c4d5e6f", UserID: 404, CreatedAt: time.Now().UTC()}

		inserted, err := payments.CreatePayment(ctx, p)
		require.Error(t, err)
		assert.False(t, inserted)
		assert.True(t, apperr.Is(err, apperr.CodeSQLConflict), "got %v", err)
	})
}

func TestJobRepo_Lifecycle(t *testing.T) {
	db := startPostgres(t)
	seed(t, db)
	ctx := context.Background()
	jobs := NewJobRepo(db, zap.NewNop())

	now := time.Now().UTC()
	job := domain.NewJob("pay-1", 1, domain.JobRetry, now.Add(-time.Second))

	inserted, err := jobs.Insert(ctx, &job)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := domain.NewJob("pay-1", 1, domain.JobRetry, now.Add(time.Hour))
	inserted, err = jobs.Insert(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted, "one job per (payment, kind)")

	pending, err := jobs.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	claimed, err := jobs.Claim(ctx, job.ID, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, domain.JobRunning, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	again, err := jobs.Claim(ctx, job.ID, now)
	require.NoError(t, err)
	assert.Nil(t, again, "running job cannot be claimed twice")

	stuck, err := jobs.FindStuckRunning(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, stuck, 1)

	require.NoError(t, jobs.Reschedule(ctx, job.ID, now.Add(time.Hour), "gateway timeout"))
	notDue, err := jobs.Claim(ctx, job.ID, now)
	require.NoError(t, err)
	assert.Nil(t, notDue, "rescheduled job is not due yet")

	overdue, err := jobs.FindOverdue(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "gateway timeout", overdue[0].LastError)

	abandoned, err := jobs.MarkAbandoned(ctx, job.ID, "gave up")
	require.NoError(t, err)
	assert.False(t, abandoned, "only running jobs can be abandoned")
	assert.Equal(t, domain.JobPending, jobStatus(t, db, job.ID))

	claimed, err = jobs.Claim(ctx, job.ID, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	abandoned, err = jobs.MarkAbandoned(ctx, job.ID, "gave up")
	require.NoError(t, err)
	assert.True(t, abandoned)
	assert.Equal(t, domain.JobAbandoned, jobStatus(t, db, job.ID))
}

func TestJobRepo_AbandonDoesNotOverwriteDone(t *testing.T) {
	db := startPostgres(t)
	seed(t, db)
	ctx := context.Background()
	jobs := NewJobRepo(db, zap.NewNop())

	now := time.Now().UTC()
	job := domain.NewJob("pay-2", 1, domain.JobRenewal, now.Add(-time.Second))
	_, err := jobs.Insert(ctx, &job)
	require.NoError(t, err)
	_, err = jobs.Claim(ctx, job.ID, now)
	require.NoError(t, err)
	require.NoError(t, jobs.MarkDone(ctx, job.ID))

	abandoned, err := jobs.MarkAbandoned(ctx, job.ID, "interrupted")
	require.NoError(t, err)
	assert.False(t, abandoned)
	assert.Equal(t, domain.JobDone, jobStatus(t, db, job.ID))
}

func TestJobRepo_InsertConstraintFailure(t *testing.T) {
	db := startPostgres(t)
	seed(t, db)
	jobs := NewJobRepo(db, zap.NewNop())

	job := domain.NewJob("pay-3", 1, domain.JobKind("refund"), time.Now())
	_, err := jobs.Insert(context.Background(), &job)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeSQLUnknown), "got %v", err)
}

func jobStatus(t *testing.T, db *sql.DB, id uuid.UUID) domain.JobStatus {
	t.Helper()
	var status domain.JobStatus
	require.NoError(t, db.QueryRow(`SELECT status FROM scheduled_jobs WHERE id = $1`, id).Scan(&status))
	return status
}
