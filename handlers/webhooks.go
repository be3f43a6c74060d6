package handlers

import (
	"net/http"

	"fulfillment-svc/models"
	"fulfillment-svc/saga"
	"fulfillment-svc/shipment"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// WebhookHandler terminates the asynchronous callbacks from the payment
// gateway and the shipment carrier. Both transports redeliver, so a 2xx here
// only means "accepted", the dedupe happens further down.
type WebhookHandler struct {
	saga        *saga.Orchestrator
	coordinator *shipment.Coordinator
	logger      *zap.Logger
}

func NewWebhookHandler(orchestrator *saga.Orchestrator, coordinator *shipment.Coordinator, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		saga:        orchestrator,
		coordinator: coordinator,
		logger:      logger,
	}
}

func (h *WebhookHandler) PaymentWebhook(c *gin.Context) {
	ctx, span := otel.Tracer("fulfillment").Start(c.Request.Context(), "PaymentWebhook")
	defer span.End()

	var hook models.PaymentWebhook
	if err := c.ShouldBindJSON(&hook); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(
		attribute.String("payment.event", hook.Type),
		attribute.Int("order.id", hook.OrderID),
	)

	if err := h.saga.HandlePaymentWebhook(ctx, hook); err != nil {
		span.RecordError(err)
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (h *WebhookHandler) DeliveryWebhook(c *gin.Context) {
	ctx, span := otel.Tracer("fulfillment").Start(c.Request.Context(), "DeliveryWebhook")
	defer span.End()

	var hook models.DeliveryWebhook
	if err := c.ShouldBindJSON(&hook); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(
		attribute.String("shipment.external_id", hook.ShipmentID),
		attribute.String("delivery.event", hook.Event),
	)

	if err := h.coordinator.HandleDeliveryWebhook(ctx, hook); err != nil {
		span.RecordError(err)
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}
