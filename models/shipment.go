package models

import "time"

type ShipmentStatus string

const (
	ShipmentStatusCreated    ShipmentStatus = "shipment_created"
	ShipmentStatusProcessing ShipmentStatus = "processing"
	ShipmentStatusPickedUp   ShipmentStatus = "picked_up"
	ShipmentStatusInTransit  ShipmentStatus = "in_transit"
	ShipmentStatusDelivered  ShipmentStatus = "delivered"
	ShipmentStatusLost       ShipmentStatus = "lost"
)

type Shipment struct {
	ID                int            `json:"id"`
	OrderID           int            `json:"order_id"`
	ExternalID        string         `json:"external_id"`
	Status            ShipmentStatus `json:"status"`
	Carrier           string         `json:"carrier"`
	TrackingNumber    string         `json:"tracking_number"`
	DeliveryAddress   string         `json:"delivery_address"`
	EstimatedDelivery time.Time      `json:"estimated_delivery"`
	ActualDelivery    *time.Time     `json:"actual_delivery,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// DeliveryPackage is one per-warehouse pickup unit produced by a stock
// commit and handed to the carrier.
type DeliveryPackage struct {
	WarehouseAddress string `json:"warehouse_address"`
	ProductID        int    `json:"product_id"`
	Quantity         int    `json:"quantity"`
}
