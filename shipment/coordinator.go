package shipment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fulfillment-svc/database"
	"fulfillment-svc/ledger"
	"fulfillment-svc/middleware"
	"fulfillment-svc/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type eventPublisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

type notifier interface {
	Send(ctx context.Context, recipient, template string, params map[string]string)
}

// Coordinator requests dispatch after a stock commit and folds the carrier's
// delivery webhooks back into shipment and order state.
type Coordinator struct {
	db       *sql.DB
	carrier  CarrierClient
	events   eventPublisher
	notifier notifier
	ledger   *ledger.Ledger
	topic    string
	logger   *zap.Logger
}

func NewCoordinator(db *sql.DB, carrier CarrierClient, events eventPublisher, notifier notifier, led *ledger.Ledger, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		db:       db,
		carrier:  carrier,
		events:   events,
		notifier: notifier,
		ledger:   led,
		topic:    getEnv("SAGA_TOPIC", "fulfillment_events"),
		logger:   logger,
	}
}

// RequestShipment dispatches one shipment per order, never more. The order
// must already hold committed stock (status processing).
func (c *Coordinator) RequestShipment(ctx context.Context, order models.Order, packages []models.DeliveryPackage) (*models.Shipment, error) {
	ctx, span := otel.Tracer("shipment").Start(ctx, "RequestShipment")
	defer span.End()
	span.SetAttributes(attribute.Int("order.id", order.ID))

	if order.Status != models.OrderStatusProcessing {
		return nil, fmt.Errorf("%w: order %d is %s, want processing", models.ErrValidation, order.ID, order.Status)
	}

	var existingID int
	err := c.db.QueryRowContext(ctx, "SELECT id FROM shipments WHERE order_id = $1", order.ID).Scan(&existingID)
	if err == nil {
		return nil, fmt.Errorf("%w: shipment for order %d", models.ErrDuplicate, order.ID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check existing shipment: %w", err)
	}

	confirmation, err := c.carrier.CreateShipment(ctx, CreateShipmentRequest{
		OrderID:          order.ID,
		DeliveryPackages: packages,
		DeliveryAddress:  order.ShippingAddress,
		RecipientName:    order.RecipientName,
		RecipientPhone:   order.RecipientPhone,
		RecipientEmail:   order.RecipientEmail,
	})
	if err != nil {
		middleware.RecordShipmentRequested("error")
		span.RecordError(err)
		return nil, fmt.Errorf("carrier dispatch failed: %w", err)
	}

	shipment := models.Shipment{
		OrderID:           order.ID,
		ExternalID:        confirmation.ShipmentID,
		Status:            models.ShipmentStatusCreated,
		Carrier:           confirmation.Carrier,
		TrackingNumber:    confirmation.TrackingNumber,
		DeliveryAddress:   order.ShippingAddress,
		EstimatedDelivery: confirmation.EstimatedDelivery,
	}
	err = c.db.QueryRowContext(ctx,
		`INSERT INTO shipments (order_id, external_id, status, carrier, tracking_number, delivery_address, estimated_delivery)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		shipment.OrderID, shipment.ExternalID, shipment.Status, shipment.Carrier,
		shipment.TrackingNumber, shipment.DeliveryAddress, shipment.EstimatedDelivery,
	).Scan(&shipment.ID, &shipment.CreatedAt, &shipment.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to persist shipment: %w", err)
	}

	middleware.RecordShipmentRequested("success")
	c.logger.Info("Shipment requested",
		zap.Int("order_id", order.ID),
		zap.String("shipment_id", shipment.ExternalID),
	)
	return &shipment, nil
}

// shipmentStatusFor maps a carrier event to the internal shipment status.
func shipmentStatusFor(kind models.DeliveryEventType) models.ShipmentStatus {
	switch kind {
	case models.DeliveryEventCreated:
		return models.ShipmentStatusProcessing
	case models.DeliveryEventPickedUp:
		return models.ShipmentStatusPickedUp
	case models.DeliveryEventInTransit:
		return models.ShipmentStatusInTransit
	case models.DeliveryEventDelivered:
		return models.ShipmentStatusDelivered
	case models.DeliveryEventLost:
		return models.ShipmentStatusLost
	}
	return ""
}

// orderStatusFor maps a carrier event to the order transition it drives.
// The creation event updates the shipment row only.
func orderStatusFor(kind models.DeliveryEventType) (models.OrderStatus, bool) {
	switch kind {
	case models.DeliveryEventPickedUp:
		return models.OrderStatusPickedUp, true
	case models.DeliveryEventInTransit:
		return models.OrderStatusDelivering, true
	case models.DeliveryEventDelivered:
		return models.OrderStatusDelivered, true
	case models.DeliveryEventLost:
		return models.OrderStatusCancelled, true
	}
	return "", false
}

// HandleDeliveryWebhook applies a carrier status report. Duplicate deliveries
// are collapsed through the processed-event ledger before any side effect.
func (c *Coordinator) HandleDeliveryWebhook(ctx context.Context, hook models.DeliveryWebhook) error {
	ctx, span := otel.Tracer("shipment").Start(ctx, "HandleDeliveryWebhook")
	defer span.End()
	span.SetAttributes(
		attribute.String("shipment.external_id", hook.ShipmentID),
		attribute.String("delivery.event", hook.Event),
	)

	kind, err := models.ParseDeliveryEventType(hook.Event)
	if err != nil {
		return err
	}

	var shipmentID, orderID int
	err = c.db.QueryRowContext(ctx,
		"SELECT id, order_id FROM shipments WHERE external_id = $1",
		hook.ShipmentID,
	).Scan(&shipmentID, &orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: shipment %s", models.ErrNotFound, hook.ShipmentID)
	}
	if err != nil {
		return fmt.Errorf("failed to load shipment: %w", err)
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	// Claimed only once the shipment is known: a webhook racing shipment
	// persistence fails without burning its dedupe key and can be redelivered.
	fresh, err := c.ledger.MarkProcessed(ctx, hook.DedupeKey(), "delivery")
	if err != nil {
		return err
	}
	if !fresh {
		c.logger.Info("Duplicate delivery webhook skipped",
			zap.String("shipment_id", hook.ShipmentID),
			zap.String("event", hook.Event),
		)
		return nil
	}

	newStatus := shipmentStatusFor(kind)
	if kind == models.DeliveryEventDelivered {
		delivered := hook.Timestamp
		if delivered.IsZero() {
			delivered = time.Now().UTC()
		}
		_, err = c.db.ExecContext(ctx,
			"UPDATE shipments SET status = $1, actual_delivery = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $3",
			newStatus, delivered, shipmentID,
		)
	} else {
		_, err = c.db.ExecContext(ctx,
			"UPDATE shipments SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
			newStatus, shipmentID,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update shipment status: %w", err)
	}

	if orderStatus, ok := orderStatusFor(kind); ok {
		moved, err := database.TransitionOrder(ctx, c.db, orderID, orderStatus)
		if err != nil {
			return err
		}
		if !moved {
			c.logger.Warn("Order transition skipped",
				zap.Int("order_id", orderID),
				zap.String("to", string(orderStatus)),
			)
		}
	}

	if kind == models.DeliveryEventLost {
		c.compensateLoss(ctx, orderID)
	}

	// The creation event only confirms dispatch; every later status change
	// notifies the buyer.
	if kind != models.DeliveryEventCreated {
		order, err := database.GetOrder(ctx, c.db, orderID)
		if err != nil {
			c.logger.Error("Failed to load order for notification", zap.Int("order_id", orderID), zap.Error(err))
			return nil
		}
		c.notifier.Send(ctx, order.RecipientEmail, models.TemplateShipmentUpdate, map[string]string{
			"order_id": strconv.Itoa(orderID),
			"status":   string(newStatus),
		})
	}

	c.logger.Info("Delivery webhook processed",
		zap.String("shipment_id", hook.ShipmentID),
		zap.String("event", hook.Event),
		zap.Int("order_id", orderID),
	)
	return nil
}

// compensateLoss emits the inventory-rollback and refund events for a lost
// shipment. The ledger claim in HandleDeliveryWebhook guarantees these fire
// once per loss; publish failures are logged for manual reconciliation.
func (c *Coordinator) compensateLoss(ctx context.Context, orderID int) {
	now := time.Now().UTC()

	rollback := models.SagaEvent{
		EventID:   uuid.New().String(),
		Type:      models.EventInventoryRollback,
		OrderID:   orderID,
		Reason:    "shipment lost",
		Timestamp: now,
	}
	if err := c.events.Publish(ctx, c.topic, rollback); err != nil {
		middleware.RecordCompensation("inventory_rollback", "publish_error")
		c.logger.Error("Failed to publish inventory rollback for lost shipment",
			zap.Int("order_id", orderID),
			zap.Error(err),
		)
	} else {
		middleware.RecordCompensation("inventory_rollback", "published")
	}

	refund := models.SagaEvent{
		EventID:   uuid.New().String(),
		Type:      models.EventRefundRequested,
		OrderID:   orderID,
		Reason:    "shipment lost",
		Timestamp: now,
	}
	if err := c.events.Publish(ctx, c.topic, refund); err != nil {
		middleware.RecordCompensation("refund", "publish_error")
		c.logger.Error("Failed to publish refund request for lost shipment",
			zap.Int("order_id", orderID),
			zap.Error(err),
		)
	} else {
		middleware.RecordCompensation("refund", "published")
	}
}
