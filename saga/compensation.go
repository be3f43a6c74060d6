package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fulfillment-svc/middleware"
	"fulfillment-svc/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// publishCompensation emits one compensation event. The publish itself is
// fire-and-forget: a lost event means a divergence fixed by manual
// reconciliation, not a blocked caller.
func (o *Orchestrator) publishCompensation(ctx context.Context, orderID int, kind models.SagaEventType, reason string) {
	event := models.SagaEvent{
		EventID:   uuid.New().String(),
		Type:      kind,
		OrderID:   orderID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	if err := o.events.Publish(ctx, o.topic, event); err != nil {
		middleware.RecordCompensation(string(kind), "publish_error")
		o.logger.Error("Failed to publish compensation event",
			zap.Int("order_id", orderID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return
	}
	middleware.RecordCompensation(string(kind), "published")
}

// HandleSagaEvent consumes one compensation event from Kafka. Consumption is
// at-least-once; the event id is claimed in the ledger before side effects.
// Once a compensation runs and fails it is logged for manual reconciliation,
// never retried automatically.
func (o *Orchestrator) HandleSagaEvent(ctx context.Context, value []byte) error {
	ctx, span := otel.Tracer("saga").Start(ctx, "HandleSagaEvent")
	defer span.End()

	var event models.SagaEvent
	if err := json.Unmarshal(value, &event); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to unmarshal saga event: %w", err)
	}
	span.SetAttributes(
		attribute.String("event.type", string(event.Type)),
		attribute.Int("order.id", event.OrderID),
	)

	fresh, err := o.ledger.MarkProcessed(ctx, "saga:"+event.EventID, string(event.Type))
	if err != nil {
		return err
	}
	if !fresh {
		o.logger.Info("Duplicate saga event skipped",
			zap.String("event_id", event.EventID),
			zap.String("type", string(event.Type)),
		)
		return nil
	}

	switch event.Type {
	case models.EventInventoryRollback:
		if _, err := o.inv.RollbackStock(ctx, event.OrderID); err != nil {
			middleware.RecordCompensation("inventory_rollback", "failed")
			o.logger.Error("Async stock rollback failed, manual reconciliation required",
				zap.Int("order_id", event.OrderID),
				zap.Error(err),
			)
			return nil
		}
		middleware.RecordCompensation("inventory_rollback", "success")
	case models.EventRefundRequested:
		o.handleRefundRequested(ctx, event)
	default:
		o.logger.Warn("Unknown saga event type", zap.String("type", string(event.Type)))
	}
	return nil
}

// handleRefundRequested refunds the order's payment if, and only if, it was
// completed and not refunded yet. Cancellations of unpaid orders and repeat
// loss events land here with nothing to do.
func (o *Orchestrator) handleRefundRequested(ctx context.Context, event models.SagaEvent) {
	_, err := o.refundPayment(ctx, event.OrderID, event.Reason)
	switch {
	case err == nil:
		middleware.RecordCompensation("refund", "success")
	case errors.Is(err, models.ErrDuplicate):
		o.logger.Info("Refund already issued", zap.Int("order_id", event.OrderID))
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrNotFound):
		o.logger.Info("No completed payment to refund",
			zap.Int("order_id", event.OrderID),
			zap.Error(err),
		)
	default:
		middleware.RecordCompensation("refund", "failed")
		o.logger.Error("Refund compensation failed, manual reconciliation required",
			zap.Int("order_id", event.OrderID),
			zap.Error(err),
		)
	}
}
