package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("PAYMENT_GATEWAY_URL", srv.URL)
	return NewHTTPClient(zaptest.NewLogger(t))
}

func TestCreatePayment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments", r.URL.Path)

		var req CreatePaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "42", req.OrderRef)

		json.NewEncoder(w).Encode(PaymentIntent{
			BillerRef:       "75556",
			ReferenceNumber: "ref-42",
		})
	})

	intent, err := client.CreatePayment(context.Background(), CreatePaymentRequest{
		AccountRef: "7",
		OrderRef:   "42",
		Amount:     39.98,
	})
	require.NoError(t, err)
	assert.Equal(t, "75556", intent.BillerRef)
	assert.Equal(t, "ref-42", intent.ReferenceNumber)
}

func TestCreateRefund(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refunds", r.URL.Path)
		json.NewEncoder(w).Encode(RefundReceipt{TransactionID: "txn-1"})
	})

	receipt, err := client.CreateRefund(context.Background(), CreateRefundRequest{
		PaymentRef: "ref-42",
		Amount:     39.98,
		Reason:     "lost shipment",
	})
	require.NoError(t, err)
	assert.Equal(t, "txn-1", receipt.TransactionID)
}

func TestCreatePayment_GatewayErrorSurfaced(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	})

	_, err := client.CreatePayment(context.Background(), CreatePaymentRequest{OrderRef: "42"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestBreakerOpensAfterRepeatedGatewayFailures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	for i := 0; i < 5; i++ {
		_, err := client.CreatePayment(context.Background(), CreatePaymentRequest{OrderRef: "42"})
		require.Error(t, err)
	}

	_, err := client.CreatePayment(context.Background(), CreatePaymentRequest{OrderRef: "42"})
	assert.ErrorContains(t, err, "circuit breaker is open")
}
