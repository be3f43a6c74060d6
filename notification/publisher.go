package notification

import (
	"context"
	"os"
	"time"

	"fulfillment-svc/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type eventPublisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

// Publisher sends best-effort notifications. Failures are logged and
// swallowed: the notification sink must never block or fail the saga.
type Publisher struct {
	events eventPublisher
	topic  string
	logger *zap.Logger
}

func NewPublisher(events eventPublisher, logger *zap.Logger) *Publisher {
	return &Publisher{
		events: events,
		topic:  getEnv("NOTIFICATION_TOPIC", "notification_events"),
		logger: logger,
	}
}

func (p *Publisher) Send(ctx context.Context, recipient, template string, params map[string]string) {
	event := models.NotificationEvent{
		EventID:   uuid.New().String(),
		Type:      template,
		Recipient: recipient,
		Template:  template,
		Params:    params,
		Timestamp: time.Now().UTC(),
	}

	if err := p.events.Publish(ctx, p.topic, event); err != nil {
		p.logger.Error("Failed to publish notification",
			zap.String("template", template),
			zap.String("recipient", recipient),
			zap.Error(err),
		)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
