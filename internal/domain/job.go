package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	// JobRenewal re-charges a settled payment when the subscription period ends.
	JobRenewal JobKind = "renewal"
	// JobRetry re-charges a canceled payment.
	JobRetry JobKind = "retry"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobAbandoned JobStatus = "abandoned"
)

// Job is a persisted one-shot charge attempt for a payment.
// (PaymentID, Kind) is unique, so a payment schedules at most one job of each kind.
type Job struct {
	ID        uuid.UUID
	PaymentID string
	UserID    int64
	Kind      JobKind
	Status    JobStatus
	DueAt     time.Time
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewJob(paymentID string, userID int64, kind JobKind, dueAt time.Time) Job {
	now := time.Now().UTC()
	return Job{
		ID:        uuid.New(),
		PaymentID: paymentID,
		UserID:    userID,
		Kind:      kind,
		Status:    JobPending,
		DueAt:     dueAt.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
