package models

import "time"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusPickedUp   OrderStatus = "picked_up"
	OrderStatusDelivering OrderStatus = "delivering"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// AllowedPredecessors lists the statuses an order may transition FROM for a
// given target status. Transitions are applied with a conditional UPDATE so a
// stale or duplicate webhook can never move an order backwards; cancelled has
// no successors.
var AllowedPredecessors = map[OrderStatus][]OrderStatus{
	OrderStatusProcessing: {OrderStatusPending},
	OrderStatusPickedUp:   {OrderStatusProcessing},
	OrderStatusDelivering: {OrderStatusPickedUp, OrderStatusProcessing},
	OrderStatusDelivered:  {OrderStatusDelivering},
	OrderStatusCancelled:  {OrderStatusPending, OrderStatusProcessing, OrderStatusDelivering},
}

type Order struct {
	ID              int         `json:"id"`
	UserID          int         `json:"user_id"`
	ProductID       int         `json:"product_id"`
	Quantity        int         `json:"quantity"`
	TotalAmount     float64     `json:"total_amount"`
	Status          OrderStatus `json:"status"`
	RecipientName   string      `json:"recipient_name"`
	RecipientPhone  string      `json:"recipient_phone"`
	RecipientEmail  string      `json:"recipient_email"`
	ShippingAddress string      `json:"shipping_address"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

type CreateOrderRequest struct {
	UserID          int    `json:"user_id" binding:"required"`
	ProductID       int    `json:"product_id" binding:"required"`
	Quantity        int    `json:"quantity" binding:"required,gt=0"`
	RecipientName   string `json:"recipient_name" binding:"required"`
	RecipientPhone  string `json:"recipient_phone"`
	RecipientEmail  string `json:"recipient_email"`
	ShippingAddress string `json:"shipping_address" binding:"required"`
}

type RefundRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Product is a read-only snapshot of catalog data. The catalog itself is
// owned by another service; orders only need the price at checkout time.
type Product struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}
