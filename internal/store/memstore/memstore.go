// Package memstore is an in-process store used for local runs and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/shipsync/internal/store"
	"github.com/tournevent/shipsync/pkg/shipper"
)

type eventKey struct {
	shipmentID     string
	providerStatus string
	timestamp      int64
}

type digestKey struct {
	shipmentID string
	digest     string
}

// Storage keeps everything in maps guarded by one mutex. Returned values are
// copies; mutating them does not affect stored state.
type Storage struct {
	mu        sync.RWMutex
	orders    map[string]*shipper.Order
	shipments map[string]*shipper.Shipment
	events    map[string][]*shipper.TrackingEvent
	eventKeys map[eventKey]struct{}
	digests   map[digestKey]struct{}
	boxes     map[string][]shipper.Box
	now       func() time.Time
}

var _ store.Store = (*Storage)(nil)

// New creates an empty Storage.
func New() *Storage {
	return &Storage{
		orders:    make(map[string]*shipper.Order),
		shipments: make(map[string]*shipper.Shipment),
		events:    make(map[string][]*shipper.TrackingEvent),
		eventKeys: make(map[eventKey]struct{}),
		digests:   make(map[digestKey]struct{}),
		boxes:     make(map[string][]shipper.Box),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Storage) Close() {}

// ============================================================================
// Orders
// ============================================================================

func (s *Storage) GetOrder(_ context.Context, id string) (*shipper.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, shipper.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *Storage) SaveOrder(_ context.Context, order *shipper.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *Storage) UpdateOrderStatus(_ context.Context, id string, status shipper.OrderStatus, trackingNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return shipper.ErrOrderNotFound
	}
	o.Status = status
	if trackingNumber != "" {
		o.TrackingNumber = trackingNumber
	}
	return nil
}

// ============================================================================
// Shipments
// ============================================================================

func (s *Storage) FindShipment(_ context.Context, id string) (*shipper.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sh, ok := s.shipments[id]
	if !ok {
		return nil, shipper.ErrShipmentNotFound
	}
	return cloneShipment(sh), nil
}

func (s *Storage) FindShipmentByOrderID(_ context.Context, orderID string) (*shipper.Shipment, error) {
	return s.findOne(func(sh *shipper.Shipment) bool { return sh.OrderID == orderID })
}

func (s *Storage) FindShipmentByTrackingNumber(_ context.Context, trackingNumber string) (*shipper.Shipment, error) {
	if trackingNumber == "" {
		return nil, shipper.ErrShipmentNotFound
	}
	return s.findOne(func(sh *shipper.Shipment) bool { return sh.TrackingNumber == trackingNumber })
}

func (s *Storage) FindShipmentByProviderOrderID(_ context.Context, providerOrderID string) (*shipper.Shipment, error) {
	if providerOrderID == "" {
		return nil, shipper.ErrShipmentNotFound
	}
	return s.findOne(func(sh *shipper.Shipment) bool { return sh.ProviderOrderID == providerOrderID })
}

func (s *Storage) FindShipmentByProviderShipmentID(_ context.Context, providerShipmentID string) (*shipper.Shipment, error) {
	if providerShipmentID == "" {
		return nil, shipper.ErrShipmentNotFound
	}
	return s.findOne(func(sh *shipper.Shipment) bool { return sh.ProviderShipmentID == providerShipmentID })
}

func (s *Storage) FindShipments(_ context.Context, ids []string) ([]*shipper.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*shipper.Shipment, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if sh, ok := s.shipments[id]; ok {
			out = append(out, cloneShipment(sh))
		}
	}
	return out, nil
}

func (s *Storage) findOne(match func(*shipper.Shipment) bool) (*shipper.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sh := range s.shipments {
		if match(sh) {
			return cloneShipment(sh), nil
		}
	}
	return nil, shipper.ErrShipmentNotFound
}

func (s *Storage) CreateShipment(_ context.Context, sh *shipper.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.shipments {
		if existing.OrderID == sh.OrderID {
			return shipper.ErrShipmentAlreadyExists
		}
	}

	if sh.ID == "" {
		sh.ID = uuid.New().String()
	}
	now := s.now()
	sh.CreatedAt = now
	sh.UpdatedAt = now
	s.shipments[sh.ID] = cloneShipment(sh)
	return nil
}

func (s *Storage) UpdateShipment(_ context.Context, sh *shipper.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateLocked(sh)
}

func (s *Storage) updateLocked(sh *shipper.Shipment) error {
	existing, ok := s.shipments[sh.ID]
	if !ok {
		return shipper.ErrShipmentNotFound
	}
	sh.CreatedAt = existing.CreatedAt
	sh.UpdatedAt = s.now()
	s.shipments[sh.ID] = cloneShipment(sh)
	return nil
}

func (s *Storage) ModifyShipment(_ context.Context, id string, fn func(*shipper.Shipment) error) (*shipper.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.shipments[id]
	if !ok {
		return nil, shipper.ErrShipmentNotFound
	}
	sh := cloneShipment(existing)
	if err := fn(sh); err != nil {
		return nil, err
	}
	sh.ID = existing.ID
	sh.OrderID = existing.OrderID
	if err := s.updateLocked(sh); err != nil {
		return nil, err
	}
	return cloneShipment(sh), nil
}

func (s *Storage) ApplyTrackingEvent(_ context.Context, ev *shipper.TrackingEvent, change store.StatusChange) (store.AppliedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.shipments[ev.ShipmentID]
	if !ok {
		return store.AppliedEvent{}, shipper.ErrShipmentNotFound
	}

	key := eventKey{
		shipmentID:     ev.ShipmentID,
		providerStatus: ev.ProviderStatus,
		timestamp:      ev.Timestamp.UnixNano(),
	}
	if _, dup := s.eventKeys[key]; dup {
		return store.AppliedEvent{}, nil
	}
	digest := digestKey{shipmentID: ev.ShipmentID, digest: ev.PayloadDigest}
	if ev.PayloadDigest != "" {
		if _, dup := s.digests[digest]; dup {
			return store.AppliedEvent{}, nil
		}
	}

	res := store.AppliedEvent{Appended: true, Previous: current.Status}
	if change.Status != "" {
		current.Status = change.Status
		current.ProviderStatus = change.ProviderStatus
		if change.ActualDelivery != nil {
			t := *change.ActualDelivery
			current.ActualDelivery = &t
		}
		current.UpdatedAt = s.now()
	}
	res.Shipment = cloneShipment(current)

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.CreatedAt = s.now()
	stored := *ev
	s.eventKeys[key] = struct{}{}
	if ev.PayloadDigest != "" {
		s.digests[digest] = struct{}{}
	}
	s.events[ev.ShipmentID] = append(s.events[ev.ShipmentID], &stored)
	return res, nil
}

func (s *Storage) ListTrackingEvents(_ context.Context, shipmentID string) ([]*shipper.TrackingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[shipmentID]
	out := make([]*shipper.TrackingEvent, 0, len(events))
	for _, ev := range events {
		cp := *ev
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (s *Storage) SaveBoxes(_ context.Context, shipmentID string, boxes []shipper.Box) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]shipper.Box, len(boxes))
	for i, b := range boxes {
		if b.ID == "" {
			b.ID = uuid.New().String()
		}
		b.ShipmentID = shipmentID
		stored[i] = b
	}
	s.boxes[shipmentID] = stored
	return nil
}

func (s *Storage) ListBoxes(_ context.Context, shipmentID string) ([]shipper.Box, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]shipper.Box(nil), s.boxes[shipmentID]...), nil
}

func cloneOrder(o *shipper.Order) *shipper.Order {
	cp := *o
	cp.Items = append([]shipper.OrderItem(nil), o.Items...)
	return &cp
}

func cloneShipment(sh *shipper.Shipment) *shipper.Shipment {
	cp := *sh
	if sh.EstimatedDelivery != nil {
		t := *sh.EstimatedDelivery
		cp.EstimatedDelivery = &t
	}
	if sh.ActualDelivery != nil {
		t := *sh.ActualDelivery
		cp.ActualDelivery = &t
	}
	if sh.Metadata.CancelledAt != nil {
		t := *sh.Metadata.CancelledAt
		cp.Metadata.CancelledAt = &t
	}
	if sh.Metadata.DriverAssignedAt != nil {
		t := *sh.Metadata.DriverAssignedAt
		cp.Metadata.DriverAssignedAt = &t
	}
	cp.Metadata.LastProviderResponse = append([]byte(nil), sh.Metadata.LastProviderResponse...)
	return &cp
}
