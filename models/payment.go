package models

import "time"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

type Payment struct {
	ID              int           `json:"id"`
	OrderID         int           `json:"order_id"`
	Amount          float64       `json:"amount"`
	Status          PaymentStatus `json:"status"`
	GatewayRef      string        `json:"gateway_ref"`
	BillingCode     string        `json:"billing_code"`
	ReferenceNumber string        `json:"reference_number"`
	ExpiresAt       time.Time     `json:"expires_at"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

type RefundStatus string

const (
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
)

type Refund struct {
	ID            int          `json:"id"`
	PaymentID     int          `json:"payment_id"`
	TransactionID string       `json:"transaction_id"`
	Amount        float64      `json:"amount"`
	Reason        string       `json:"reason"`
	Status        RefundStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
