package models

import (
	"errors"
	"testing"
)

func TestParsePaymentEventType(t *testing.T) {
	for _, kind := range []string{"payment-completed", "payment-failed", "refund-completed"} {
		got, err := ParsePaymentEventType(kind)
		if err != nil {
			t.Fatalf("ParsePaymentEventType(%q) returned error: %v", kind, err)
		}
		if string(got) != kind {
			t.Errorf("ParsePaymentEventType(%q) = %q", kind, got)
		}
	}

	for _, kind := range []string{"payment-pending", "PAYMENT-COMPLETED", ""} {
		if _, err := ParsePaymentEventType(kind); !errors.Is(err, ErrValidation) {
			t.Errorf("ParsePaymentEventType(%q): want ErrValidation, got %v", kind, err)
		}
	}
}

func TestParseDeliveryEventType(t *testing.T) {
	for _, kind := range []string{"created", "picked_up", "in_transit", "delivered", "lost"} {
		if _, err := ParseDeliveryEventType(kind); err != nil {
			t.Fatalf("ParseDeliveryEventType(%q) returned error: %v", kind, err)
		}
	}
	if _, err := ParseDeliveryEventType("returned"); !errors.Is(err, ErrValidation) {
		t.Errorf("want ErrValidation for unknown delivery event, got %v", err)
	}
}

func TestPaymentWebhookDedupeKey(t *testing.T) {
	withID := PaymentWebhook{EventID: "evt-1", Type: "payment-completed", OrderID: 7}
	if got := withID.DedupeKey(); got != "payment:evt-1" {
		t.Errorf("DedupeKey with event id = %q", got)
	}

	withoutID := PaymentWebhook{Type: "payment-completed", OrderID: 7}
	if got := withoutID.DedupeKey(); got != "payment:7:payment-completed" {
		t.Errorf("DedupeKey fallback = %q", got)
	}
}

func TestDeliveryWebhookDedupeKey(t *testing.T) {
	hook := DeliveryWebhook{ShipmentID: "trk-9", Event: "lost"}
	if got := hook.DedupeKey(); got != "delivery:trk-9:lost" {
		t.Errorf("DedupeKey fallback = %q", got)
	}
}
