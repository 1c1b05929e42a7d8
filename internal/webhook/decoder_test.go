package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const succeeded = `{
  "type": "notification",
  "event": "payment.succeeded",
  "object": {
    "id": "22d6d597-000f-5000-9000-145f6df21d6f",
    "status": "succeeded",
    "paid": true,
    "amount": {"value": "250.00", "currency": "RUB"},
    "payment_method": {"type": "bank_card", "id": "22d6d597-000f-5000-9000-145f6df21d6f", "saved": true}
  }
}`

const canceled = `{
  "type": "notification",
  "event": "payment.canceled",
  "object": {
    "id": "22d6d597-000f-5000-9000-145f6df21d6f",
    "status": "canceled",
    "paid": false,
    "amount": {"value": "99.90", "currency": "RUB"},
    "cancellation_details": {"party": "payment_network", "reason": "insufficient_funds"}
  }
}`

func TestDecode_Succeeded(t *testing.T) {
	ev, err := Decode([]byte(succeeded))
	require.NoError(t, err)

	assert.Equal(t, KindSucceeded, ev.Kind)
	assert.Equal(t, "22d6d597-000f-5000-9000-145f6df21d6f", ev.PaymentID)
	assert.Equal(t, "250.00", ev.Amount.StringFixed(2))
	assert.Equal(t, "RUB", ev.Currency)
	assert.True(t, ev.Paid)
	assert.Empty(t, ev.Reason)
}

func TestDecode_Canceled(t *testing.T) {
	ev, err := Decode([]byte(canceled))
	require.NoError(t, err)

	assert.Equal(t, KindCanceled, ev.Kind)
	assert.Equal(t, "insufficient_funds", ev.Reason)
	assert.Equal(t, "99.9", ev.Amount.String())
}

func TestDecode_CanceledWithoutDetails(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"notification","event":"payment.canceled","object":{"id":"p","amount":{"value":"1.00","currency":"RUB"}}}`))
	require.NoError(t, err)
	assert.Equal(t, KindCanceled, ev.Kind)
	assert.Empty(t, ev.Reason)
}

func TestDecode_UnsupportedEventIsNotAnError(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"notification","event":"refund.succeeded","object":{"id":"r-1","status":"succeeded","amount":{"value":"10.00","currency":"RUB"}}}`))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, ev.Kind)
	assert.Equal(t, "refund.succeeded", ev.Name)
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"type":`,
		"empty object":      `{}`,
		"missing event":     `{"type":"notification","object":{"id":"p","amount":{"value":"1","currency":"RUB"}}}`,
		"missing id":        `{"type":"notification","event":"payment.succeeded","object":{"amount":{"value":"1","currency":"RUB"}}}`,
		"missing amount":    `{"type":"notification","event":"payment.succeeded","object":{"id":"p"}}`,
		"bad currency":      `{"type":"notification","event":"payment.succeeded","object":{"id":"p","amount":{"value":"1","currency":"RUBLE"}}}`,
		"non-numeric value": `{"type":"notification","event":"payment.succeeded","object":{"id":"p","amount":{"value":"ten","currency":"RUB"}}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(body))
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}
