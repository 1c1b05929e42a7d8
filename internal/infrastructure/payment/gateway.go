package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway payment statuses.
const (
	StatusPending           = "pending"
	StatusWaitingForCapture = "waiting_for_capture"
	StatusSucceeded         = "succeeded"
	StatusCanceled          = "canceled"
)

var ErrPaymentNotFound = errors.New("gateway: payment not found")

// PaymentGateway is the subset of the processor API the service relies on.
type PaymentGateway interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest, idempotenceKey string) (*Payment, error)
	// FindPayment returns ErrPaymentNotFound for unknown ids.
	FindPayment(ctx context.Context, id string) (*Payment, error)
	CancelPayment(ctx context.Context, id string, idempotenceKey string) (*Payment, error)
	CreateRefund(ctx context.Context, req CreateRefundRequest, idempotenceKey string) (*Refund, error)
}

type Amount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

// MarshalJSON always renders two fraction digits, as the API expects "250.00".
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	}{a.Value.StringFixed(2), a.Currency})
}

type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type PaymentMethodData struct {
	Type string `json:"type"`
}

type PaymentMethod struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Saved bool   `json:"saved"`
	Title string `json:"title,omitempty"`
}

type CancellationDetails struct {
	Party  string `json:"party"`
	Reason string `json:"reason"`
}

type Payment struct {
	ID                  string               `json:"id"`
	Status              string               `json:"status"`
	Paid                bool                 `json:"paid"`
	Amount              Amount               `json:"amount"`
	Confirmation        *Confirmation        `json:"confirmation,omitempty"`
	PaymentMethod       *PaymentMethod       `json:"payment_method,omitempty"`
	Refundable          bool                 `json:"refundable"`
	CancellationDetails *CancellationDetails `json:"cancellation_details,omitempty"`
	Description         string               `json:"description,omitempty"`
	Metadata            map[string]string    `json:"metadata,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	Test                bool                 `json:"test"`
}

type CreatePaymentRequest struct {
	Amount            Amount             `json:"amount"`
	PaymentMethodData *PaymentMethodData `json:"payment_method_data,omitempty"`
	PaymentMethodID   string             `json:"payment_method_id,omitempty"`
	Confirmation      *Confirmation      `json:"confirmation,omitempty"`
	Capture           bool               `json:"capture"`
	SavePaymentMethod bool               `json:"save_payment_method,omitempty"`
	Description       string             `json:"description,omitempty"`
	Metadata          map[string]string  `json:"metadata,omitempty"`
}

type Refund struct {
	ID        string    `json:"id"`
	PaymentID string    `json:"payment_id"`
	Status    string    `json:"status"`
	Amount    Amount    `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateRefundRequest struct {
	PaymentID string `json:"payment_id"`
	Amount    Amount `json:"amount"`
}

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: %d %s: %s", e.StatusCode, e.Code, e.Description)
}
