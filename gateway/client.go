package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"fulfillment-svc/resilience"

	"go.uber.org/zap"
)

// Client issues payable references and refunds against the payment gateway.
// Completion arrives later on the payment webhook, never synchronously.
type Client interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*PaymentIntent, error)
	CreateRefund(ctx context.Context, req CreateRefundRequest) (*RefundReceipt, error)
}

type CreatePaymentRequest struct {
	AccountRef string  `json:"account_ref"`
	OrderRef   string  `json:"order_ref"`
	Amount     float64 `json:"amount"`
}

// PaymentIntent is the BPAY-style payable reference the buyer settles against.
type PaymentIntent struct {
	BillerRef       string    `json:"biller_ref"`
	ReferenceNumber string    `json:"reference_number"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type CreateRefundRequest struct {
	PaymentRef string  `json:"payment_ref"`
	Amount     float64 `json:"amount"`
	Reason     string  `json:"reason"`
}

type RefundReceipt struct {
	TransactionID string `json:"transaction_id"`
}

type HTTPClient struct {
	baseURL string
	http    *http.Client
	breaker *resilience.Breaker
	logger  *zap.Logger
}

func NewHTTPClient(logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: getEnv("PAYMENT_GATEWAY_URL", "http://localhost:9090"),
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: resilience.NewBreaker(5, 30*time.Second),
		logger:  logger,
	}
}

func (c *HTTPClient) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*PaymentIntent, error) {
	var intent PaymentIntent
	err := c.breaker.Do(ctx, func() error {
		return c.post(ctx, "/payments", req, &intent)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("Payment intent created",
		zap.String("order_ref", req.OrderRef),
		zap.String("biller_ref", intent.BillerRef),
	)
	return &intent, nil
}

func (c *HTTPClient) CreateRefund(ctx context.Context, req CreateRefundRequest) (*RefundReceipt, error) {
	var receipt RefundReceipt
	err := c.breaker.Do(ctx, func() error {
		return c.post(ctx, "/refunds", req, &receipt)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("Refund requested",
		zap.String("payment_ref", req.PaymentRef),
		zap.String("transaction_id", receipt.TransactionID),
	)
	return &receipt, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
