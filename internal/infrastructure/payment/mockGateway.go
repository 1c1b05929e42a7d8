package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockGateway is an in-memory gateway for local simulation. With a non-zero
// timeout rate it reproduces the phantom charge: the payment is created but the
// caller gets a timeout.
type MockGateway struct {
	mu          sync.RWMutex
	payments    map[string]*Payment
	byKey       map[string]string
	refunds     map[string]*Refund
	timeoutRate int // percent
	checkoutURL string
}

func NewMockGateway(checkoutURL string, timeoutRate int) *MockGateway {
	return &MockGateway{
		payments:    make(map[string]*Payment),
		byKey:       make(map[string]string),
		refunds:     make(map[string]*Refund),
		timeoutRate: timeoutRate,
		checkoutURL: checkoutURL,
	}
}

func (pg *MockGateway) CreatePayment(ctx context.Context, req CreatePaymentRequest, idempotenceKey string) (*Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// same key, same answer
	pg.mu.RLock()
	if id, ok := pg.byKey[idempotenceKey]; ok && idempotenceKey != "" {
		p := *pg.payments[id]
		pg.mu.RUnlock()
		return &p, nil
	}
	pg.mu.RUnlock()

	p := &Payment{
		ID:          uuid.NewString(),
		Status:      StatusPending,
		Amount:      req.Amount,
		Description: req.Description,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now().UTC(),
		Test:        true,
	}
	if req.Confirmation != nil {
		p.Confirmation = &Confirmation{Type: req.Confirmation.Type, ConfirmationURL: fmt.Sprintf("%s/%s", pg.checkoutURL, p.ID)}
	}
	if req.PaymentMethodID != "" {
		// charging a saved method needs no checkout page
		p.PaymentMethod = &PaymentMethod{Type: "bank_card", ID: req.PaymentMethodID, Saved: true}
	} else if req.PaymentMethodData != nil {
		p.PaymentMethod = &PaymentMethod{Type: req.PaymentMethodData.Type, ID: uuid.NewString(), Saved: req.SavePaymentMethod}
	}

	pg.mu.Lock()
	pg.payments[p.ID] = p
	if idempotenceKey != "" {
		pg.byKey[idempotenceKey] = p.ID
	}
	pg.mu.Unlock()

	if pg.timeoutRate > 0 && rand.IntN(100) < pg.timeoutRate {
		return nil, errors.New("connection timeout")
	}
	out := *p
	return &out, nil
}

func (pg *MockGateway) FindPayment(ctx context.Context, id string) (*Payment, error) {
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	p, ok := pg.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	out := *p
	return &out, nil
}

func (pg *MockGateway) CancelPayment(ctx context.Context, id string, idempotenceKey string) (*Payment, error) {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	p, ok := pg.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	if p.Status != StatusWaitingForCapture {
		return nil, &APIError{StatusCode: 400, Code: "invalid_request", Description: "payment is in " + p.Status + " status"}
	}
	p.Status = StatusCanceled
	p.CancellationDetails = &CancellationDetails{Party: "merchant", Reason: "canceled_by_merchant"}
	out := *p
	return &out, nil
}

func (pg *MockGateway) CreateRefund(ctx context.Context, req CreateRefundRequest, idempotenceKey string) (*Refund, error) {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	p, ok := pg.payments[req.PaymentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	if !p.Refundable {
		return nil, &APIError{StatusCode: 400, Code: "invalid_request", Description: "payment is not refundable"}
	}
	r := &Refund{
		ID:        uuid.NewString(),
		PaymentID: p.ID,
		Status:    StatusSucceeded,
		Amount:    req.Amount,
		CreatedAt: time.Now().UTC(),
	}
	p.Refundable = false
	pg.refunds[r.ID] = r
	return r, nil
}

// Settle moves a payment to succeeded, as if the buyer paid on the checkout page.
func (pg *MockGateway) Settle(id string) (*Payment, error) {
	return pg.transition(id, func(p *Payment) {
		p.Status = StatusSucceeded
		p.Paid = true
		p.Refundable = true
	})
}

// Decline moves a payment to canceled with the given reason.
func (pg *MockGateway) Decline(id, reason string) (*Payment, error) {
	return pg.transition(id, func(p *Payment) {
		p.Status = StatusCanceled
		p.CancellationDetails = &CancellationDetails{Party: "payment_network", Reason: reason}
	})
}

// Authorize moves a payment to waiting_for_capture.
func (pg *MockGateway) Authorize(id string) (*Payment, error) {
	return pg.transition(id, func(p *Payment) {
		p.Status = StatusWaitingForCapture
		p.Paid = true
	})
}

func (pg *MockGateway) transition(id string, fn func(p *Payment)) (*Payment, error) {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	p, ok := pg.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	fn(p)
	out := *p
	return &out, nil
}

// Payments returns a snapshot of every payment the mock has created.
func (pg *MockGateway) Payments() []Payment {
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	out := make([]Payment, 0, len(pg.payments))
	for _, p := range pg.payments {
		out = append(out, *p)
	}
	return out
}
