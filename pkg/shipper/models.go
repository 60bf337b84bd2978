package shipper

import (
	"encoding/json"
	"time"
)

// ShipmentStatus is the internal, provider-independent status of a shipment.
type ShipmentStatus string

const (
	StatusPending        ShipmentStatus = "pending"
	StatusLabelCreated   ShipmentStatus = "label_created"
	StatusPickedUp       ShipmentStatus = "picked_up"
	StatusInTransit      ShipmentStatus = "in_transit"
	StatusOutForDelivery ShipmentStatus = "out_for_delivery"
	StatusDelivered      ShipmentStatus = "delivered"
	StatusFailedDelivery ShipmentStatus = "failed_delivery"
	StatusReturned       ShipmentStatus = "returned"
)

// IsTerminal reports whether no further provider progress is expected.
func (s ShipmentStatus) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusFailedDelivery, StatusReturned:
		return true
	}
	return false
}

// OrderStatus is the status written back to the Order Store.
type OrderStatus string

const (
	OrderShipped        OrderStatus = "shipped"
	OrderDelivered      OrderStatus = "delivered"
	OrderDeliveryFailed OrderStatus = "delivery_failed"
	OrderReturned       OrderStatus = "returned"
	OrderCancelled      OrderStatus = "cancelled"
)

// ProviderStatusCancelled is stored as the provider status of a shipment
// cancelled through this service.
const ProviderStatusCancelled = "cancelled"

// WeightUnit represents weight measurement unit.
type WeightUnit string

const (
	WeightKG WeightUnit = "kg"
	WeightLB WeightUnit = "lb"
)

// Address represents a postal address.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

// Party is a sender or recipient snapshot.
type Party struct {
	Name    string  `json:"name"`
	Phone   string  `json:"phone"`
	Email   string  `json:"email,omitempty"`
	Address Address `json:"address"`
}

// ============================================================================
// Order (external collaborator)
// ============================================================================

// Customer is the user who placed an order.
type Customer struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone"`
}

// OrderItem is a line item of an order.
type OrderItem struct {
	ProductID string  `json:"productId,omitempty"`
	SKU       string  `json:"sku"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// Order is the read model of an order owned by the Order Store.
type Order struct {
	ID              string      `json:"id"`
	OrderNumber     string      `json:"orderNumber"`
	Customer        Customer    `json:"customer"`
	Items           []OrderItem `json:"items"`
	ShippingAddress Address     `json:"shippingAddress"`
	Price           float64     `json:"price"`
	Currency        string      `json:"currency"`
	Status          OrderStatus `json:"status"`
	TrackingNumber  string      `json:"trackingNumber,omitempty"`
}

// ============================================================================
// Shipment aggregate
// ============================================================================

// Shipment is the local record of a provider shipment. There is at most one
// per order and it is never deleted.
type Shipment struct {
	ID                 string         `json:"id"`
	OrderID            string         `json:"orderId"`
	TrackingNumber     string         `json:"trackingNumber"`
	Status             ShipmentStatus `json:"status"`
	ProviderOrderID    string         `json:"providerOrderId,omitempty"`
	ProviderShipmentID string         `json:"providerShipmentId,omitempty"`
	ProviderStatus     string         `json:"providerStatus,omitempty"` // verbatim, for diagnostics
	DeliveryCompany    string         `json:"deliveryCompany,omitempty"`
	Sender             Party          `json:"sender"`
	Recipient          Party          `json:"recipient"`
	WeightKG           float64        `json:"weightKg"`
	PackageCount       int            `json:"packageCount"`
	CODAmount          float64        `json:"codAmount,omitempty"`
	EstimatedDelivery  *time.Time     `json:"estimatedDelivery,omitempty"`
	ActualDelivery     *time.Time     `json:"actualDelivery,omitempty"`
	Metadata           Metadata       `json:"metadata"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// HasProviderOrder reports whether the shipment was accepted by the provider.
func (s *Shipment) HasProviderOrder() bool {
	return s != nil && s.ProviderOrderID != ""
}

// Metadata is free-form audit data kept on a shipment.
type Metadata struct {
	LastProviderResponse json.RawMessage `json:"lastProviderResponse,omitempty"`
	SpecialInstructions  string          `json:"specialInstructions,omitempty"`
	PickupLocationCode   string          `json:"pickupLocationCode,omitempty"`
	CancellationReason   string          `json:"cancellationReason,omitempty"`
	CancelledAt          *time.Time      `json:"cancelledAt,omitempty"`
	DriverID             string          `json:"driverId,omitempty"`
	DriverAssignedAt     *time.Time      `json:"driverAssignedAt,omitempty"`
}

// TrackingEvent is an append-only status observation for a shipment.
// (ShipmentID, ProviderStatus, Timestamp) is unique.
type TrackingEvent struct {
	ID             string          `json:"id"`
	ShipmentID     string          `json:"shipmentId"`
	Status         ShipmentStatus  `json:"status"`
	ProviderStatus string          `json:"providerStatus"`
	Stage          string          `json:"stage,omitempty"`
	Description    string          `json:"description,omitempty"`
	Location       string          `json:"location,omitempty"`
	Timestamp      time.Time       `json:"timestamp"` // provider time
	RawPayload     json.RawMessage `json:"rawPayload,omitempty"`
	// PayloadDigest identifies a payload that carried no event time of its own.
	PayloadDigest string    `json:"payloadDigest,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Box is a package captured at shipment creation.
type Box struct {
	ID         string     `json:"id,omitempty"`
	ShipmentID string     `json:"shipmentId,omitempty"`
	Name       string     `json:"name"`
	Weight     float64    `json:"weight"`
	WeightUnit WeightUnit `json:"weightUnit"`
	Length     float64    `json:"length"`
	Width      float64    `json:"width"`
	Height     float64    `json:"height"`
	DimUnit    string     `json:"dimUnit,omitempty"`
}
