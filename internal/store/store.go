// Package store defines the persistence contracts for orders, shipments,
// tracking events and boxes.
package store

import (
	"context"
	"time"

	"github.com/tournevent/shipsync/pkg/shipper"
)

// Orders is the Order Store collaborator. Orders are owned elsewhere; this
// service only reads them and writes back status and tracking number.
type Orders interface {
	// GetOrder returns shipper.ErrOrderNotFound when id is unknown.
	GetOrder(ctx context.Context, id string) (*shipper.Order, error)

	// SaveOrder inserts or replaces an order.
	SaveOrder(ctx context.Context, order *shipper.Order) error

	// UpdateOrderStatus sets the order status. An empty trackingNumber leaves
	// the stored tracking number unchanged.
	UpdateOrderStatus(ctx context.Context, id string, status shipper.OrderStatus, trackingNumber string) error
}

// Shipments is the Shipment Store.
type Shipments interface {
	// Find* return shipper.ErrShipmentNotFound when nothing matches.
	FindShipment(ctx context.Context, id string) (*shipper.Shipment, error)
	FindShipmentByOrderID(ctx context.Context, orderID string) (*shipper.Shipment, error)
	FindShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (*shipper.Shipment, error)
	FindShipmentByProviderOrderID(ctx context.Context, providerOrderID string) (*shipper.Shipment, error)
	FindShipmentByProviderShipmentID(ctx context.Context, providerShipmentID string) (*shipper.Shipment, error)

	// FindShipments loads the shipments with the given ids in the order
	// given. Unknown and repeated ids are skipped.
	FindShipments(ctx context.Context, ids []string) ([]*shipper.Shipment, error)

	// CreateShipment inserts a shipment. It fails with
	// shipper.ErrShipmentAlreadyExists if the order already has one.
	CreateShipment(ctx context.Context, s *shipper.Shipment) error

	// UpdateShipment replaces a stored shipment.
	UpdateShipment(ctx context.Context, s *shipper.Shipment) error

	// ModifyShipment loads shipment id, passes it to fn and stores the
	// result, all atomically with respect to other writers. An error from
	// fn aborts the write and is returned as is.
	ModifyShipment(ctx context.Context, id string, fn func(*shipper.Shipment) error) (*shipper.Shipment, error)

	// ApplyTrackingEvent appends ev and, only when ev was not already
	// recorded, applies change to the stored shipment. Fields outside change
	// keep their stored values; a change with an empty Status leaves the
	// shipment untouched. Both happen atomically.
	//
	// ev is already recorded when (ShipmentID, ProviderStatus, Timestamp)
	// matches a stored event, or when ev.PayloadDigest is set and a stored
	// event of the same shipment carries the same digest.
	ApplyTrackingEvent(ctx context.Context, ev *shipper.TrackingEvent, change StatusChange) (AppliedEvent, error)

	// ListTrackingEvents returns a shipment's events, newest first.
	ListTrackingEvents(ctx context.Context, shipmentID string) ([]*shipper.TrackingEvent, error)

	// SaveBoxes replaces the boxes of a shipment.
	SaveBoxes(ctx context.Context, shipmentID string, boxes []shipper.Box) error
	ListBoxes(ctx context.Context, shipmentID string) ([]shipper.Box, error)
}

// StatusChange is the part of a shipment a tracking event may change.
type StatusChange struct {
	Status         shipper.ShipmentStatus
	ProviderStatus string
	// ActualDelivery nil keeps the stored value.
	ActualDelivery *time.Time
}

// AppliedEvent is the result of ApplyTrackingEvent.
type AppliedEvent struct {
	Appended bool
	// Previous is the stored status before change was applied.
	Previous shipper.ShipmentStatus
	// Shipment is the stored shipment after change; nil when not appended.
	Shipment *shipper.Shipment
}

// Store is the full persistence surface.
type Store interface {
	Orders
	Shipments
	Close()
}
