package payment

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGateway_IdempotentCreate(t *testing.T) {
	gw := NewMockGateway("https://mock/checkout", 0)
	req := CreatePaymentRequest{Amount: Amount{Value: decimal.NewFromInt(10), Currency: "RUB"}, Confirmation: &Confirmation{Type: "redirect"}}

	first, err := gw.CreatePayment(context.Background(), req, "k")
	require.NoError(t, err)
	second, err := gw.CreatePayment(context.Background(), req, "k")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, gw.Payments(), 1)
	assert.Equal(t, "https://mock/checkout/"+first.ID, first.Confirmation.ConfirmationURL)
}

func TestMockGateway_PhantomCharge(t *testing.T) {
	gw := NewMockGateway("https://mock/checkout", 100)

	_, err := gw.CreatePayment(context.Background(), CreatePaymentRequest{Amount: Amount{Value: decimal.NewFromInt(10), Currency: "RUB"}}, "k")
	require.Error(t, err)
	assert.Len(t, gw.Payments(), 1, "payment exists remotely although the caller saw an error")
}

func TestMockGateway_CancelOnlyWaitingForCapture(t *testing.T) {
	gw := NewMockGateway("https://mock/checkout", 0)
	p, err := gw.CreatePayment(context.Background(), CreatePaymentRequest{Amount: Amount{Value: decimal.NewFromInt(10), Currency: "RUB"}}, "")
	require.NoError(t, err)

	_, err = gw.CancelPayment(context.Background(), p.ID, "c1")
	require.Error(t, err)

	_, err = gw.Authorize(p.ID)
	require.NoError(t, err)
	canceled, err := gw.CancelPayment(context.Background(), p.ID, "c2")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, canceled.Status)
}
