package repo

import (
	"context"
	"database/sql"
	"errors"
	"subscription-checkout/internal/apperr"
	"subscription-checkout/internal/domain"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type JobRepo interface {
	// Insert stores a pending job. inserted is false when a job of the same
	// kind already exists for the payment.
	Insert(ctx context.Context, job *domain.Job) (inserted bool, err error)
	ListPending(ctx context.Context) ([]domain.Job, error)
	// Claim moves a due pending job to running and bumps attempts. It returns
	// nil, nil if the job is not pending or not due yet.
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (*domain.Job, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, dueAt time.Time, lastErr string) error
	// MarkAbandoned settles a running job. abandoned is false when the job
	// was no longer running, e.g. it finished in the meantime.
	MarkAbandoned(ctx context.Context, id uuid.UUID, lastErr string) (abandoned bool, err error)
	FindOverdue(ctx context.Context, before time.Time, limit int) ([]domain.Job, error)
	FindStuckRunning(ctx context.Context, before time.Time, limit int) ([]domain.Job, error)
}

const jobColumns = `id, payment_id, user_id, kind, status, due_at, attempts, last_error, created_at, updated_at`

type jobRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewJobRepo(db *sql.DB, logger *zap.Logger) JobRepo {
	return &jobRepo{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(
		&j.ID,
		&j.PaymentID,
		&j.UserID,
		&j.Kind,
		&j.Status,
		&j.DueAt,
		&j.Attempts,
		&j.LastError,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *jobRepo) Insert(ctx context.Context, job *domain.Job) (bool, error) {
	query := `
		INSERT INTO scheduled_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (payment_id, kind) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		job.ID, job.PaymentID, job.UserID, job.Kind, job.Status,
		job.DueAt, job.Attempts, job.LastError, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return false, apperr.HandleSQLError(r.logger, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *jobRepo) ListPending(ctx context.Context) ([]domain.Job, error) {
	return r.query(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE status = $1 ORDER BY due_at`, domain.JobPending)
}

func (r *jobRepo) Claim(ctx context.Context, id uuid.UUID, now time.Time) (*domain.Job, error) {
	query := `
		UPDATE scheduled_jobs
		SET status = $2,
		    attempts = attempts + 1,
		    updated_at = $4
		WHERE id = $1
		  AND status = $3
		  AND due_at <= $4
		RETURNING ` + jobColumns
	row := r.db.QueryRowContext(ctx, query, id, domain.JobRunning, domain.JobPending, now)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // someone else has it, or not due
	}
	return j, err
}

func (r *jobRepo) MarkDone(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = $2, last_error = '', updated_at = now() WHERE id = $1`,
		id, domain.JobDone,
	)
	return err
}

func (r *jobRepo) Reschedule(ctx context.Context, id uuid.UUID, dueAt time.Time, lastErr string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = $2, due_at = $3, last_error = $4, updated_at = now() WHERE id = $1 AND status = $5`,
		id, domain.JobPending, dueAt, lastErr, domain.JobRunning,
	)
	return err
}

func (r *jobRepo) MarkAbandoned(ctx context.Context, id uuid.UUID, lastErr string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = $2, last_error = $3, updated_at = now() WHERE id = $1 AND status = $4`,
		id, domain.JobAbandoned, lastErr, domain.JobRunning,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *jobRepo) FindOverdue(ctx context.Context, before time.Time, limit int) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + ` FROM scheduled_jobs
		WHERE status = $1
		AND due_at < $2
		ORDER BY due_at
		LIMIT $3
	`
	return r.query(ctx, query, domain.JobPending, before, limit)
}

func (r *jobRepo) FindStuckRunning(ctx context.Context, before time.Time, limit int) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + ` FROM scheduled_jobs
		WHERE status = $1
		AND updated_at < $2
		LIMIT $3
	`
	return r.query(ctx, query, domain.JobRunning, before, limit)
}

func (r *jobRepo) query(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}
