// Package webhook decodes gateway notification envelopes.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentCanceled  = "payment.canceled"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindSucceeded
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindSucceeded:
		return "succeeded"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ErrMalformedEnvelope is returned for bodies that are not a notification at all.
// A well-formed notification with an unsupported event is not an error; it
// decodes to KindUnknown.
var ErrMalformedEnvelope = errors.New("webhook: malformed envelope")

// Event is a decoded notification.
type Event struct {
	Kind      Kind
	Name      string // raw event name, e.g. "refund.succeeded"
	PaymentID string
	Status    string
	Paid      bool
	Amount    decimal.Decimal
	Currency  string
	Reason    string // canceled only
	Raw       json.RawMessage
}

type envelope struct {
	Type   string `json:"type" validate:"required"`
	Event  string `json:"event" validate:"required"`
	Object object `json:"object"`
}

type object struct {
	ID                  string               `json:"id" validate:"required"`
	Status              string               `json:"status"`
	Paid                bool                 `json:"paid"`
	Amount              *amount              `json:"amount" validate:"required"`
	CancellationDetails *cancellationDetails `json:"cancellation_details"`
}

type amount struct {
	Value    *decimal.Decimal `json:"value" validate:"required"`
	Currency string           `json:"currency" validate:"required,len=3"`
}

type cancellationDetails struct {
	Party  string `json:"party"`
	Reason string `json:"reason"`
}

var validate = validator.New()

// Decode parses raw into an Event. Errors wrap ErrMalformedEnvelope.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := validate.Struct(&env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	ev := Event{
		Kind:      KindUnknown,
		Name:      env.Event,
		PaymentID: env.Object.ID,
		Status:    env.Object.Status,
		Paid:      env.Object.Paid,
		Amount:    *env.Object.Amount.Value,
		Currency:  env.Object.Amount.Currency,
		Raw:       json.RawMessage(raw),
	}

	switch env.Event {
	case EventPaymentSucceeded:
		ev.Kind = KindSucceeded
	case EventPaymentCanceled:
		ev.Kind = KindCanceled
		if cd := env.Object.CancellationDetails; cd != nil {
			ev.Reason = cd.Reason
		}
	}
	return ev, nil
}
