package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "checkout"

var (
	PaymentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_created_total",
			Help:      "Payments created at the gateway and persisted locally",
		},
		[]string{"origin"}, // purchase | renewal | retry
	)

	PaymentsOrphaned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_orphaned_total",
			Help:      "Payments created at the gateway whose local row could not be written",
		},
	)

	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_received_total",
			Help:      "Gateway notifications by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	NotificationsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "User notifications that could not be delivered",
		},
	)

	JobsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_scheduled_total",
			Help:      "Deferred charge jobs persisted",
		},
		[]string{"kind"},
	)

	JobsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_executed_total",
			Help:      "Deferred charge job attempts by result",
		},
		[]string{"kind", "result"}, // done | rescheduled | abandoned
	)

	JobsAbandoned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_abandoned_total",
			Help:      "Deferred charge jobs that reached the abandoned state",
		},
		[]string{"kind", "reason"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Deferred charge job execution time",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)
