package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fulfillment-svc/models"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// dedupeTTL bounds how long a delivered event id is remembered.
const dedupeTTL = 24 * time.Hour

// Handler consumes notification events in the notifier binary. Each event id
// is claimed in Redis first so at-least-once delivery does not notify twice.
type Handler struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewHandler(rdb *redis.Client, logger *zap.Logger) *Handler {
	return &Handler{rdb: rdb, logger: logger}
}

func (h *Handler) HandleMessage(ctx context.Context, value []byte) error {
	ctx, span := otel.Tracer("notifier").Start(ctx, "DeliverNotification")
	defer span.End()

	var event models.NotificationEvent
	if err := json.Unmarshal(value, &event); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to unmarshal notification event: %w", err)
	}

	span.SetAttributes(
		attribute.String("notification.template", event.Template),
		attribute.String("notification.event_id", event.EventID),
	)

	fresh, err := h.claim(ctx, event.EventID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !fresh {
		h.logger.Debug("Duplicate notification skipped", zap.String("event_id", event.EventID))
		return nil
	}

	// Delivery itself is out of scope here; the sink logs what a real
	// transport would send.
	h.logger.Info("Notification delivered",
		zap.String("event_id", event.EventID),
		zap.String("template", event.Template),
		zap.String("recipient", event.Recipient),
		zap.Any("params", event.Params),
	)
	return nil
}

func (h *Handler) claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	ok, err := h.rdb.SetNX(ctx, "notification:"+eventID, 1, dedupeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim notification event: %w", err)
	}
	return ok, nil
}
