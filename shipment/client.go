package shipment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"fulfillment-svc/models"
	"fulfillment-svc/resilience"

	"go.uber.org/zap"
)

// CarrierClient requests dispatch from the external carrier. Delivery status
// arrives later on the delivery webhook.
type CarrierClient interface {
	CreateShipment(ctx context.Context, req CreateShipmentRequest) (*ShipmentConfirmation, error)
}

type CreateShipmentRequest struct {
	OrderID          int                      `json:"order_id"`
	DeliveryPackages []models.DeliveryPackage `json:"delivery_packages"`
	DeliveryAddress  string                   `json:"delivery_address"`
	RecipientName    string                   `json:"recipient_name"`
	RecipientPhone   string                   `json:"recipient_phone"`
	RecipientEmail   string                   `json:"recipient_email"`
}

type ShipmentConfirmation struct {
	ShipmentID        string    `json:"shipment_id"`
	TrackingNumber    string    `json:"tracking_number"`
	Carrier           string    `json:"carrier"`
	EstimatedDelivery time.Time `json:"estimated_delivery"`
}

type HTTPCarrierClient struct {
	baseURL string
	http    *http.Client
	breaker *resilience.Breaker
	logger  *zap.Logger
}

func NewHTTPCarrierClient(logger *zap.Logger) *HTTPCarrierClient {
	return &HTTPCarrierClient{
		baseURL: getEnv("CARRIER_URL", "http://localhost:9091"),
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: resilience.NewBreaker(5, 30*time.Second),
		logger:  logger,
	}
}

func (c *HTTPCarrierClient) CreateShipment(ctx context.Context, req CreateShipmentRequest) (*ShipmentConfirmation, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal shipment request: %w", err)
	}

	var confirmation ShipmentConfirmation
	err = c.breaker.Do(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/shipments", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return fmt.Errorf("carrier request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("carrier returned %d: %s", resp.StatusCode, snippet)
		}
		return json.NewDecoder(resp.Body).Decode(&confirmation)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Shipment created with carrier",
		zap.Int("order_id", req.OrderID),
		zap.String("shipment_id", confirmation.ShipmentID),
		zap.String("tracking_number", confirmation.TrackingNumber),
	)
	return &confirmation, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
