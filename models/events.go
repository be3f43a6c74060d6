package models

import (
	"fmt"
	"time"
)

// PaymentEventType enumerates the payment webhook kinds the gateway delivers.
// Unknown kinds are rejected at the parse boundary instead of being silently
// skipped inside a string switch.
type PaymentEventType string

const (
	PaymentEventCompleted       PaymentEventType = "payment-completed"
	PaymentEventFailed          PaymentEventType = "payment-failed"
	PaymentEventRefundCompleted PaymentEventType = "refund-completed"
)

func ParsePaymentEventType(s string) (PaymentEventType, error) {
	switch PaymentEventType(s) {
	case PaymentEventCompleted, PaymentEventFailed, PaymentEventRefundCompleted:
		return PaymentEventType(s), nil
	}
	return "", fmt.Errorf("%w: unknown payment event type %q", ErrValidation, s)
}

// PaymentWebhook is the inbound payload from the payment gateway.
// Delivery is at-least-once; EventID keys the processed-event ledger.
type PaymentWebhook struct {
	EventID   string    `json:"event_id"`
	Type      string    `json:"type" binding:"required"`
	OrderID   int       `json:"order_id"`
	PaymentID string    `json:"payment_id"`
	Amount    float64   `json:"amount"`
	PaidAt    time.Time `json:"paid_at"`
}

// DedupeKey returns the ledger key for this delivery. Gateways that omit an
// event id fall back to a composite of order and kind, which still collapses
// straight duplicates.
func (w PaymentWebhook) DedupeKey() string {
	if w.EventID != "" {
		return "payment:" + w.EventID
	}
	return fmt.Sprintf("payment:%d:%s", w.OrderID, w.Type)
}

// DeliveryEventType enumerates the carrier webhook kinds.
type DeliveryEventType string

const (
	DeliveryEventCreated   DeliveryEventType = "created"
	DeliveryEventPickedUp  DeliveryEventType = "picked_up"
	DeliveryEventInTransit DeliveryEventType = "in_transit"
	DeliveryEventDelivered DeliveryEventType = "delivered"
	DeliveryEventLost      DeliveryEventType = "lost"
)

func ParseDeliveryEventType(s string) (DeliveryEventType, error) {
	switch DeliveryEventType(s) {
	case DeliveryEventCreated, DeliveryEventPickedUp, DeliveryEventInTransit,
		DeliveryEventDelivered, DeliveryEventLost:
		return DeliveryEventType(s), nil
	}
	return "", fmt.Errorf("%w: unknown delivery event %q", ErrValidation, s)
}

// DeliveryWebhook is the inbound payload from the shipment carrier.
type DeliveryWebhook struct {
	EventID    string    `json:"event_id"`
	ShipmentID string    `json:"shipment_id" binding:"required"`
	Event      string    `json:"event" binding:"required"`
	Timestamp  time.Time `json:"timestamp"`
}

func (w DeliveryWebhook) DedupeKey() string {
	if w.EventID != "" {
		return "delivery:" + w.EventID
	}
	return fmt.Sprintf("delivery:%s:%s", w.ShipmentID, w.Event)
}

// SagaEventType enumerates the internal compensation events published to
// Kafka on the asynchronous cancellation paths.
type SagaEventType string

const (
	EventInventoryRollback SagaEventType = "inventory_rollback_requested"
	EventRefundRequested   SagaEventType = "refund_requested"
)

type SagaEvent struct {
	EventID   string        `json:"event_id"`
	Type      SagaEventType `json:"type"`
	OrderID   int           `json:"order_id"`
	Reason    string        `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NotificationEvent is the best-effort payload for the notification sink.
// Content and templating live in the sink; the saga only names the template.
type NotificationEvent struct {
	EventID   string            `json:"event_id"`
	Type      string            `json:"type"`
	Recipient string            `json:"recipient"`
	Template  string            `json:"template"`
	Params    map[string]string `json:"params,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Notification templates emitted by the saga.
const (
	TemplateOrderCreated      = "order_created"
	TemplateOrderConfirmation = "order_confirmation"
	TemplatePaymentFailed     = "payment_failed"
	TemplateRefundConfirmed   = "refund_confirmed"
	TemplateOrderCancelled    = "order_cancelled"
	TemplateShipmentUpdate    = "shipment_update"
)
