package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"subscription-checkout/internal/apperr"
	"subscription-checkout/internal/domain"
	"subscription-checkout/internal/infrastructure/notify"
	"subscription-checkout/internal/infrastructure/payment"
	"subscription-checkout/internal/observability"
	"subscription-checkout/internal/repo"
	"subscription-checkout/internal/webhook"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const autoChargeDescription = "subscription auto-charge"

type PaymentService interface {
	// CreatePayment prices the cart, creates the gateway payment and returns
	// the checkout URL. An empty idempotenceKey gets a fresh one.
	CreatePayment(ctx context.Context, buyerID int64, items []domain.LineItem, idempotenceKey string) (string, error)
	GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error)
	Refund(ctx context.Context, paymentID string) (*payment.Refund, error)
	Cancel(ctx context.Context, paymentID string) (*payment.Payment, error)
	// Retry re-charges the saved payment method of job.PaymentID. It is the
	// scheduler handler for both renewal and retry jobs.
	Retry(ctx context.Context, job domain.Job) error
	HandleNotification(ctx context.Context, raw []byte) (*Ack, error)
	// NotifyAbandoned tells the user an automatic charge was given up.
	NotifyAbandoned(ctx context.Context, job domain.Job, cause error)
}

// JobScheduler persists and arms deferred jobs.
type JobScheduler interface {
	Schedule(ctx context.Context, job domain.Job) (bool, error)
}

// Deduplicator remembers which notifications were already handled. A claim
// is short-lived until confirmed, so a process dying between Claim and
// Confirm blocks redelivery only briefly.
type Deduplicator interface {
	Claim(ctx context.Context, key string) (bool, error)
	Confirm(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

// Ack is the answer to a handled notification.
type Ack struct {
	Message   string `json:"message"`
	PaymentID string `json:"paymentId"`
	Amount    string `json:"amount"`
}

type Options struct {
	ReturnURL    string
	RenewalDelay time.Duration
	RetryDelay   time.Duration
	Now          func() time.Time
}

type paymentService struct {
	users     repo.UserRepo
	products  repo.ProductRepo
	payments  repo.PaymentRepo
	gateway   payment.PaymentGateway
	notifier  notify.Notifier
	scheduler JobScheduler
	dedupe    Deduplicator
	opts      Options
	logger    *zap.Logger
}

// NewPaymentService wires the orchestrator. dedupe may be nil, in which case
// duplicate notifications are only caught by job uniqueness.
func NewPaymentService(
	logger *zap.Logger,
	users repo.UserRepo,
	products repo.ProductRepo,
	payments repo.PaymentRepo,
	gateway payment.PaymentGateway,
	notifier notify.Notifier,
	scheduler JobScheduler,
	dedupe Deduplicator,
	opts Options,
) PaymentService {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.RenewalDelay <= 0 {
		opts.RenewalDelay = 30 * 24 * time.Hour
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 24 * time.Hour
	}
	return &paymentService{
		users:     users,
		products:  products,
		payments:  payments,
		gateway:   gateway,
		notifier:  notifier,
		scheduler: scheduler,
		dedupe:    dedupe,
		opts:      opts,
		logger:    logger,
	}
}

func (s *paymentService) CreatePayment(ctx context.Context, buyerID int64, items []domain.LineItem, idempotenceKey string) (string, error) {
	buyer, err := s.users.FindById(ctx, buyerID)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("find user %d: %w", buyerID, err))
	}
	if buyer == nil {
		return "", apperr.NotFound("user not found")
	}

	total, err := s.calculateTotal(ctx, items)
	if err != nil {
		return "", err
	}
	if !total.IsPositive() {
		return "", apperr.InvalidInput("order total must be positive")
	}

	if idempotenceKey == "" {
		idempotenceKey = uuid.NewString()
	}
	remote, err := s.gateway.CreatePayment(ctx, payment.CreatePaymentRequest{
		Amount:            payment.Amount{Value: total, Currency: domain.SettlementCurrency},
		PaymentMethodData: &payment.PaymentMethodData{Type: "bank_card"},
		Confirmation:      &payment.Confirmation{Type: "redirect", ReturnURL: s.opts.ReturnURL},
		Capture:           true,
		SavePaymentMethod: true,
		Metadata:          map[string]string{"user_id": strconv.FormatInt(buyer.ID, 10)},
	}, idempotenceKey)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("gateway create payment: %w", err))
	}
	if remote.Confirmation == nil || remote.Confirmation.ConfirmationURL == "" {
		return "", apperr.Internal(fmt.Errorf("gateway payment %s has no confirmation url", remote.ID))
	}

	if _, err := s.payments.CreatePayment(ctx, &domain.Payment{ID: remote.ID, UserID: buyer.ID, CreatedAt: s.opts.Now()}); err != nil {
		observability.PaymentsOrphaned.Inc()
		s.logger.Error("payment created at gateway but not stored locally",
			zap.String("payment_id", remote.ID), zap.Int64("user_id", buyer.ID), zap.Error(err))
		return "", apperr.Internal(fmt.Errorf("store payment %s: %w", remote.ID, err))
	}

	observability.PaymentsCreated.WithLabelValues("purchase").Inc()
	s.logger.Info("payment created",
		zap.String("payment_id", remote.ID),
		zap.Int64("user_id", buyer.ID),
		zap.String("amount", total.StringFixed(2)))
	return remote.Confirmation.ConfirmationURL, nil
}

func (s *paymentService) calculateTotal(ctx context.Context, items []domain.LineItem) (decimal.Decimal, error) {
	if len(items) == 0 {
		return decimal.Zero, apperr.InvalidInput("at least one product is required")
	}
	lines := make([]domain.PricedLine, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return decimal.Zero, apperr.InvalidInput(fmt.Sprintf("amount of product %d must be positive", it.ProductID))
		}
		p, err := s.products.FindById(ctx, it.ProductID)
		if err != nil {
			return decimal.Zero, apperr.Internal(fmt.Errorf("find product %d: %w", it.ProductID, err))
		}
		if p == nil {
			return decimal.Zero, apperr.NotFound(fmt.Sprintf("product with id %d not found", it.ProductID))
		}
		lines = append(lines, domain.PricedLine{Price: p.Price, Quantity: it.Quantity})
	}
	return domain.OrderTotal(lines), nil
}

func (s *paymentService) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return s.findRemote(ctx, paymentID)
}

func (s *paymentService) Refund(ctx context.Context, paymentID string) (*payment.Refund, error) {
	remote, err := s.findRemote(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !remote.Refundable {
		return nil, apperr.Forbidden("your payment is not refundable")
	}

	refund, err := s.gateway.CreateRefund(ctx, payment.CreateRefundRequest{
		PaymentID: paymentID,
		Amount:    payment.Amount{Value: remote.Amount.Value, Currency: domain.SettlementCurrency},
	}, uuid.NewString())
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("gateway refund %s: %w", paymentID, err))
	}
	s.logger.Info("payment refunded", zap.String("payment_id", paymentID), zap.String("refund_id", refund.ID))
	return refund, nil
}

func (s *paymentService) Cancel(ctx context.Context, paymentID string) (*payment.Payment, error) {
	remote, err := s.findRemote(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if remote.Status != payment.StatusWaitingForCapture {
		return nil, apperr.Forbidden(fmt.Sprintf(
			"payment %s cannot be canceled because its status is %s; request a refund if the payment has completed",
			paymentID, remote.Status))
	}

	canceled, err := s.gateway.CancelPayment(ctx, paymentID, uuid.NewString())
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("gateway cancel %s: %w", paymentID, err))
	}
	s.logger.Info("payment canceled", zap.String("payment_id", paymentID))
	return canceled, nil
}

func (s *paymentService) findRemote(ctx context.Context, paymentID string) (*payment.Payment, error) {
	remote, err := s.gateway.FindPayment(ctx, paymentID)
	if errors.Is(err, payment.ErrPaymentNotFound) {
		return nil, apperr.NotFound("your payment not found")
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("gateway find %s: %w", paymentID, err))
	}
	return remote, nil
}

func (s *paymentService) Retry(ctx context.Context, job domain.Job) error {
	source, err := s.gateway.FindPayment(ctx, job.PaymentID)
	if errors.Is(err, payment.ErrPaymentNotFound) {
		return backoff.Permanent(err)
	}
	if err != nil {
		return fmt.Errorf("find source payment %s: %w", job.PaymentID, err)
	}

	pm := source.PaymentMethod
	if pm == nil || pm.ID == "" || !pm.Saved {
		return backoff.Permanent(fmt.Errorf("payment %s has no saved payment method", job.PaymentID))
	}

	// The job id keys the charge, so a repeated attempt after a lost response
	// gets the same gateway payment back instead of a second charge.
	created, err := s.gateway.CreatePayment(ctx, payment.CreatePaymentRequest{
		Amount:          payment.Amount{Value: source.Amount.Value, Currency: domain.SettlementCurrency},
		PaymentMethodID: pm.ID,
		Capture:         true,
		Description:     autoChargeDescription,
		Metadata: map[string]string{
			"user_id":           strconv.FormatInt(job.UserID, 10),
			"source_payment_id": job.PaymentID,
			"job_id":            job.ID.String(),
		},
	}, job.ID.String())
	if err != nil {
		var apiErr *payment.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError && apiErr.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return fmt.Errorf("gateway re-charge for %s: %w", job.PaymentID, err)
	}

	inserted, err := s.payments.CreatePayment(ctx, &domain.Payment{ID: created.ID, UserID: job.UserID, CreatedAt: s.opts.Now()})
	if err != nil {
		observability.PaymentsOrphaned.Inc()
		return fmt.Errorf("store re-charge payment %s: %w", created.ID, err)
	}
	if inserted {
		observability.PaymentsCreated.WithLabelValues(string(job.Kind)).Inc()
	}
	s.logger.Info("automatic charge created",
		zap.String("payment_id", created.ID),
		zap.String("source_payment_id", job.PaymentID),
		zap.String("kind", string(job.Kind)),
		zap.Int64("user_id", job.UserID))
	return nil
}

func (s *paymentService) HandleNotification(ctx context.Context, raw []byte) (*Ack, error) {
	ev, err := webhook.Decode(raw)
	if err != nil {
		observability.WebhooksReceived.WithLabelValues("malformed", "error").Inc()
		return nil, apperr.Internal(err)
	}
	log := s.logger.With(zap.String("payment_id", ev.PaymentID), zap.String("event", ev.Name))

	local, err := s.payments.FindById(ctx, ev.PaymentID)
	if err != nil {
		return nil, s.rejectNotification(ev, apperr.Internal(fmt.Errorf("find payment %s: %w", ev.PaymentID, err)))
	}
	if local == nil {
		return nil, s.rejectNotification(ev, apperr.Internal(fmt.Errorf("notification for unknown payment %s", ev.PaymentID)))
	}
	user, err := s.users.FindById(ctx, local.UserID)
	if err != nil {
		return nil, s.rejectNotification(ev, apperr.Internal(fmt.Errorf("find user %d: %w", local.UserID, err)))
	}
	if user == nil {
		return nil, s.rejectNotification(ev, apperr.Internal(fmt.Errorf("payment %s belongs to missing user %d", ev.PaymentID, local.UserID)))
	}

	var (
		kind  domain.JobKind
		delay time.Duration
		ack   = &Ack{PaymentID: ev.PaymentID, Amount: ev.Amount.StringFixed(2)}
		text  string
	)
	switch ev.Kind {
	case webhook.KindSucceeded:
		kind, delay = domain.JobRenewal, s.opts.RenewalDelay
		ack.Message = "Payment succeeded"
		text = "Payment completed"
	case webhook.KindCanceled:
		kind, delay = domain.JobRetry, s.opts.RetryDelay
		ack.Message = fmt.Sprintf("Payment will be retried in %s", humanDelay(delay))
		text = fmt.Sprintf("The payment will be retried in %s. Reason: %s", humanDelay(delay), ev.Reason)
	default:
		return nil, s.rejectNotification(ev, apperr.InvalidInput(fmt.Sprintf("unsupported event %q", ev.Name)))
	}

	dedupeKey := ev.PaymentID + ":" + ev.Name
	if s.dedupe != nil {
		first, err := s.dedupe.Claim(ctx, dedupeKey)
		if err != nil {
			log.Warn("notification dedupe unavailable, relying on job uniqueness", zap.Error(err))
			first = true
		}
		if !first {
			observability.WebhooksReceived.WithLabelValues(ev.Name, "duplicate").Inc()
			log.Info("duplicate notification ignored")
			return ack, nil
		}
	}

	job := domain.NewJob(ev.PaymentID, user.ID, kind, s.opts.Now().Add(delay))
	scheduled, err := s.scheduler.Schedule(ctx, job)
	if err != nil {
		if s.dedupe != nil {
			if rerr := s.dedupe.Release(ctx, dedupeKey); rerr != nil {
				log.Warn("could not release notification dedupe key", zap.Error(rerr))
			}
		}
		return nil, s.rejectNotification(ev, apperr.Internal(fmt.Errorf("schedule %s job: %w", kind, err)))
	}
	if s.dedupe != nil {
		if err := s.dedupe.Confirm(ctx, dedupeKey); err != nil {
			log.Warn("could not confirm notification dedupe key", zap.Error(err))
		}
	}
	if !scheduled {
		// the job exists, so this event was handled before
		observability.WebhooksReceived.WithLabelValues(ev.Name, "duplicate").Inc()
		log.Info("job already scheduled for notification, skipping user message")
		return ack, nil
	}

	s.notify(ctx, user, text)
	observability.WebhooksReceived.WithLabelValues(ev.Name, "handled").Inc()
	log.Info("notification handled", zap.String("job_kind", string(kind)), zap.Stringer("job_id", job.ID))
	return ack, nil
}

func (s *paymentService) rejectNotification(ev webhook.Event, err error) error {
	observability.WebhooksReceived.WithLabelValues(ev.Name, "error").Inc()
	return err
}

func (s *paymentService) NotifyAbandoned(ctx context.Context, job domain.Job, cause error) {
	user, err := s.users.FindById(ctx, job.UserID)
	if err != nil || user == nil {
		s.logger.Error("cannot notify user about abandoned charge",
			zap.Stringer("job_id", job.ID), zap.Int64("user_id", job.UserID), zap.Error(err))
		return
	}
	s.notify(ctx, user, "We could not charge your saved card automatically and will not try again. Please renew your subscription manually.")
}

// notify is best effort: a failed message never undoes payment state.
func (s *paymentService) notify(ctx context.Context, user *domain.User, text string) {
	if err := s.notifier.Send(ctx, user.TgID, text); err != nil {
		observability.NotificationsFailed.Inc()
		s.logger.Warn("user notification failed", zap.Int64("user_id", user.ID), zap.Error(err))
	}
}

func humanDelay(d time.Duration) string {
	if d >= 48*time.Hour && d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%d days", int(d/(24*time.Hour)))
	}
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	}
	return d.String()
}
