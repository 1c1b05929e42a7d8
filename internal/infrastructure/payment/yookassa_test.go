package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *YooKassa {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewYooKassa(YooKassaConfig{BaseURL: srv.URL, ShopID: "shop", SecretKey: "secret", Timeout: 2 * time.Second}, zap.NewNop())
}

func TestYooKassa_CreatePayment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("Idempotence-Key"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "shop", user)
		assert.Equal(t, "secret", pass)

		body, _ := io.ReadAll(r.Body)
		var got map[string]any
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, map[string]any{"value": "250.00", "currency": "RUB"}, got["amount"])
		assert.Equal(t, true, got["capture"])
		assert.Equal(t, true, got["save_payment_method"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "2d9f1b3c-000f-5000-9000-1a2b3c4d5e6f",
			"status": "pending",
			"paid": false,
			"amount": {"value": "250.00", "currency": "RUB"},
			"confirmation": {"type": "redirect", "confirmation_url": "https://yoomoney.ru/checkout/payments/v2/contract?orderId=2d9f"},
			"created_at": "2026-10-18T10:00:00.000Z",
			"test": true
		}`)
	})

	p, err := client.CreatePayment(context.Background(), CreatePaymentRequest{
		Amount:            Amount{Value: decimal.RequireFromString("250"), Currency: "RUB"},
		PaymentMethodData: &PaymentMethodData{Type: "bank_card"},
		Confirmation:      &Confirmation{Type: "redirect", ReturnURL: "https://shop/payment/success"},
		Capture:           true,
		SavePaymentMethod: true,
	}, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "2d9f1b3c-000f-5000-9000-1a2b3c4d5e6f", p.ID)
	assert.True(t, decimal.RequireFromString("250.00").Equal(p.Amount.Value))
	assert.Contains(t, p.Confirmation.ConfirmationURL, "orderId=2d9f")
}

func TestYooKassa_FindPayment_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"type":"error","code":"not_found","description":"Payment doesn't exist"}`)
	})

	_, err := client.FindPayment(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestYooKassa_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","code":"invalid_request","description":"bad amount"}`)
	})

	_, err := client.CreateRefund(context.Background(), CreateRefundRequest{PaymentID: "p"}, "k")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "invalid_request", apiErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestYooKassa_ServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		assert.Equal(t, "/payments/p-1/cancel", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":"p-1","status":"canceled","amount":{"value":"10.00","currency":"RUB"}}`)
	})

	p, err := client.CancelPayment(context.Background(), "p-1", "k")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, p.Status)
	assert.Equal(t, int32(2), calls.Load())
}
