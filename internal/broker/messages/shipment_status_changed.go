package messages

import "time"

// ShipmentStatusChanged is published whenever a new tracking event changes
// what is known about a shipment.
type ShipmentStatusChanged struct {
	ShipmentID      string    `json:"shipment_id"`
	OrderID         string    `json:"order_id"`
	TrackingNumber  string    `json:"tracking_number,omitempty"`
	ProviderOrderID string    `json:"provider_order_id,omitempty"`
	Status          string    `json:"status"`
	PreviousStatus  string    `json:"previous_status,omitempty"`
	ProviderStatus  string    `json:"provider_status"`
	OrderStatus     string    `json:"order_status,omitempty"`
	Source          string    `json:"source"`
	OccurredAt      time.Time `json:"occurred_at"`
}
