// Package shipment orchestrates shipment use cases against the provider and
// the local stores.
package shipment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tournevent/shipsync/internal/store"
	"github.com/tournevent/shipsync/internal/telemetry"
	"github.com/tournevent/shipsync/internal/tracking"
	"github.com/tournevent/shipsync/pkg/shipper"
	"github.com/tournevent/shipsync/pkg/shipper/provider"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const lbToKG = 0.45359237

// Cache stores live tracking responses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Defaults fill in what an order does not carry.
type Defaults struct {
	Sender          shipper.Party
	ItemWeightKG    float64
	BoxLengthCM     float64
	BoxWidthCM      float64
	BoxHeightCM     float64
	DeliveryCompany string
	PickupLocation  string
}

// ServiceConfig holds the dependencies of a Service.
type ServiceConfig struct {
	API      provider.APIClient
	Store    store.Store
	Recorder *tracking.Recorder
	Cache    Cache // optional
	CacheTTL time.Duration
	Defaults Defaults
	Logger   *otelzap.Logger
	Metrics  *telemetry.Metrics
}

// Service implements the shipment use cases.
type Service struct {
	api      provider.APIClient
	store    store.Store
	recorder *tracking.Recorder
	cache    Cache
	cacheTTL time.Duration
	defaults Defaults
	logger   *otelzap.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = tracking.NewRecorder(cfg.Store, nil, logger)
	}
	if cfg.Defaults.ItemWeightKG <= 0 {
		cfg.Defaults.ItemWeightKG = 0.5
	}

	return &Service{
		api:      cfg.API,
		store:    cfg.Store,
		recorder: recorder,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		defaults: cfg.Defaults,
		logger:   logger,
		metrics:  cfg.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateShipmentRequest is the input of CreateShipment.
type CreateShipmentRequest struct {
	OrderID             string        `json:"orderId"`
	PickupLocationCode  string        `json:"pickupLocationCode,omitempty"`
	DeliveryCompanyCode string        `json:"deliveryCompanyCode,omitempty"`
	Boxes               []shipper.Box `json:"boxes,omitempty"`
	CODAmount           float64       `json:"codAmount,omitempty"`
	SpecialInstructions string        `json:"specialInstructions,omitempty"`
}

// CreateShipment creates the provider order for an order and records the
// resulting shipment. An order gets at most one provider shipment; a second
// call fails with shipper.ErrShipmentAlreadyExists before the provider is
// contacted. On provider failure nothing is written and the call may be retried.
func (s *Service) CreateShipment(ctx context.Context, req CreateShipmentRequest) (*shipper.Shipment, error) {
	if req.OrderID == "" {
		return nil, fmt.Errorf("%w: orderId is required", shipper.ErrInvalidRequest)
	}
	if req.CODAmount < 0 {
		return nil, fmt.Errorf("%w: codAmount must not be negative", shipper.ErrInvalidRequest)
	}

	order, err := s.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.FindShipmentByOrderID(ctx, order.ID)
	switch {
	case err == nil && existing.HasProviderOrder():
		return nil, shipper.ErrShipmentAlreadyExists
	case err != nil && !errors.Is(err, shipper.ErrShipmentNotFound):
		return nil, fmt.Errorf("failed to look up shipment: %w", err)
	case err != nil:
		existing = nil
	}

	deliveryCompany := firstNonEmpty(req.DeliveryCompanyCode, s.defaults.DeliveryCompany)
	if deliveryCompany == "" {
		return nil, fmt.Errorf("%w: deliveryCompanyCode is required", shipper.ErrInvalidRequest)
	}
	pickupLocation := firstNonEmpty(req.PickupLocationCode, s.defaults.PickupLocation)

	boxes := append([]shipper.Box(nil), req.Boxes...)
	if len(boxes) == 0 {
		boxes = []shipper.Box{s.defaultBox(order)}
	}
	for i := range boxes {
		if boxes[i].Weight <= 0 {
			return nil, fmt.Errorf("%w: box %d has no weight", shipper.ErrInvalidRequest, i+1)
		}
		if boxes[i].WeightUnit == "" {
			boxes[i].WeightUnit = shipper.WeightKG
		}
		if boxes[i].DimUnit == "" {
			boxes[i].DimUnit = "cm"
		}
		if boxes[i].Name == "" {
			boxes[i].Name = fmt.Sprintf("Box %d", i+1)
		}
	}

	recipient := recipientFor(order)
	providerReq := &provider.OrderRequest{
		OrderID:             firstNonEmpty(order.OrderNumber, order.ID),
		PickupLocationCode:  pickupLocation,
		DeliveryCompanyCode: deliveryCompany,
		CreateShipment:      true,
		Notes:               req.SpecialInstructions,
		Sender:              toProviderParty(s.defaults.Sender),
		Recipient:           toProviderParty(recipient),
		Items:               toProviderItems(order.Items),
		Boxes:               toProviderBoxes(boxes),
		Payment:             paymentFor(order, req.CODAmount),
	}

	resp, err := s.api.CreateOrder(ctx, providerReq)
	if err != nil {
		s.logger.Ctx(ctx).Error("Provider rejected shipment creation",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		return nil, err
	}

	raw, _ := json.Marshal(resp)
	providerStatus := firstNonEmpty(resp.Status, "created")

	sh := existing
	if sh == nil {
		sh = &shipper.Shipment{OrderID: order.ID}
	}
	sh.TrackingNumber = resp.TrackingNumber
	sh.ProviderOrderID = resp.OrderID
	sh.ProviderShipmentID = resp.ShipmentID
	sh.ProviderStatus = providerStatus
	sh.Status = shipper.Translate(providerStatus)
	sh.DeliveryCompany = firstNonEmpty(resp.DeliveryCompany, deliveryCompany)
	sh.Sender = s.defaults.Sender
	sh.Recipient = recipient
	sh.WeightKG = totalWeightKG(boxes)
	sh.PackageCount = len(boxes)
	sh.CODAmount = req.CODAmount
	sh.EstimatedDelivery = parseProviderTime(resp.EstimatedDelivery)
	sh.Metadata.LastProviderResponse = raw
	sh.Metadata.SpecialInstructions = req.SpecialInstructions
	sh.Metadata.PickupLocationCode = pickupLocation

	if existing == nil {
		err = s.store.CreateShipment(ctx, sh)
	} else {
		err = s.store.UpdateShipment(ctx, sh)
	}
	if err != nil {
		// The provider order exists but is not recorded locally.
		s.logger.Ctx(ctx).Error("Failed to record created shipment",
			zap.String("order_id", order.ID),
			zap.String("provider_order_id", resp.OrderID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to save shipment: %w", err)
	}

	if err := s.store.SaveBoxes(ctx, sh.ID, boxes); err != nil {
		return nil, fmt.Errorf("failed to save boxes: %w", err)
	}
	if err := s.store.UpdateOrderStatus(ctx, order.ID, shipper.OrderShipped, sh.TrackingNumber); err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	s.logger.Ctx(ctx).Info("Shipment created",
		zap.String("order_id", order.ID),
		zap.String("shipment_id", sh.ID),
		zap.String("provider_order_id", sh.ProviderOrderID),
		zap.String("tracking_number", sh.TrackingNumber),
		zap.String("delivery_company", sh.DeliveryCompany),
	)
	return sh, nil
}

// UpdateShipmentRequest is the input of UpdateShipment. Nil or empty fields
// are left unchanged.
type UpdateShipmentRequest struct {
	Recipient *shipper.Party `json:"recipient,omitempty"`
	Boxes     []shipper.Box  `json:"boxes,omitempty"`
	Notes     string         `json:"notes,omitempty"`
}

// UpdateShipment amends a provider order that has not reached a terminal status.
func (s *Service) UpdateShipment(ctx context.Context, shipmentID string, req UpdateShipmentRequest) (*shipper.Shipment, error) {
	sh, err := s.providerShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if sh.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: shipment is %s", shipper.ErrInvalidRequest, sh.Status)
	}

	providerReq := &provider.UpdateOrderRequest{
		OrderID: sh.ProviderOrderID,
		Boxes:   toProviderBoxes(req.Boxes),
		Notes:   req.Notes,
	}
	if req.Recipient != nil {
		p := toProviderParty(*req.Recipient)
		providerReq.Recipient = &p
	}

	resp, err := s.api.UpdateOrder(ctx, providerReq)
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(resp)
	updated, err := s.store.ModifyShipment(ctx, sh.ID, func(sh *shipper.Shipment) error {
		if req.Recipient != nil {
			sh.Recipient = *req.Recipient
		}
		if len(req.Boxes) > 0 {
			sh.WeightKG = totalWeightKG(req.Boxes)
			sh.PackageCount = len(req.Boxes)
		}
		if req.Notes != "" {
			sh.Metadata.SpecialInstructions = req.Notes
		}
		if resp.TrackingNumber != "" {
			sh.TrackingNumber = resp.TrackingNumber
		}
		sh.Metadata.LastProviderResponse = raw
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save shipment: %w", err)
	}
	return updated, nil
}

// CancelShipment cancels the provider order and moves the shipment to
// failed_delivery and the order to cancelled.
func (s *Service) CancelShipment(ctx context.Context, shipmentID, reason string) (*shipper.Shipment, error) {
	sh, err := s.providerShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}

	resp, err := s.api.CancelOrder(ctx, &provider.CancelRequest{OrderID: sh.ProviderOrderID, Reason: reason})
	if err != nil {
		return nil, err
	}

	now := s.now()
	raw, _ := json.Marshal(resp)
	sh, err = s.store.ModifyShipment(ctx, sh.ID, func(sh *shipper.Shipment) error {
		sh.Status = shipper.StatusFailedDelivery
		sh.ProviderStatus = shipper.ProviderStatusCancelled
		sh.Metadata.CancellationReason = reason
		sh.Metadata.CancelledAt = &now
		sh.Metadata.LastProviderResponse = raw
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save shipment: %w", err)
	}
	if err := s.store.UpdateOrderStatus(ctx, sh.OrderID, shipper.OrderCancelled, ""); err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	s.logger.Ctx(ctx).Info("Shipment cancelled",
		zap.String("shipment_id", sh.ID),
		zap.String("provider_order_id", sh.ProviderOrderID),
		zap.String("reason", reason),
	)
	return sh, nil
}

// AssignDriver assigns driverID to every shipment in shipmentIDs that has a
// provider order. Others are skipped; if none remain it fails with
// shipper.ErrNoValidShipments. The provider is called once for the batch.
func (s *Service) AssignDriver(ctx context.Context, shipmentIDs []string, driverID string) ([]*shipper.Shipment, error) {
	if driverID == "" {
		return nil, fmt.Errorf("%w: driverId is required", shipper.ErrInvalidRequest)
	}

	found, err := s.store.FindShipments(ctx, shipmentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load shipments: %w", err)
	}

	var (
		valid       []*shipper.Shipment
		providerIDs []string
	)
	for _, sh := range found {
		if !sh.HasProviderOrder() {
			continue
		}
		valid = append(valid, sh)
		providerIDs = append(providerIDs, sh.ProviderOrderID)
	}
	if len(valid) == 0 {
		return nil, shipper.ErrNoValidShipments
	}

	if _, err := s.api.AssignDriver(ctx, &provider.AssignDriverRequest{OrderIDs: providerIDs, DriverID: driverID}); err != nil {
		return nil, err
	}

	now := s.now()
	for i, sh := range valid {
		updated, err := s.store.ModifyShipment(ctx, sh.ID, func(sh *shipper.Shipment) error {
			sh.Metadata.DriverID = driverID
			sh.Metadata.DriverAssignedAt = &now
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to save shipment %s: %w", sh.ID, err)
		}
		valid[i] = updated
	}

	s.logger.Ctx(ctx).Info("Driver assigned",
		zap.String("driver_id", driverID),
		zap.Int("requested", len(shipmentIDs)),
		zap.Int("assigned", len(valid)),
	)
	return valid, nil
}

// GetLabel returns the provider label of a shipment.
func (s *Service) GetLabel(ctx context.Context, shipmentID, format string) (*provider.LabelResponse, error) {
	sh, err := s.providerShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	return s.api.GetLabel(ctx, sh.ProviderOrderID, firstNonEmpty(format, "pdf"))
}

// GetShipment returns the local shipment with its events and boxes.
func (s *Service) GetShipment(ctx context.Context, shipmentID string) (*Details, error) {
	sh, err := s.store.FindShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	return s.details(ctx, sh)
}

// providerShipment loads a shipment that must already exist at the provider.
func (s *Service) providerShipment(ctx context.Context, shipmentID string) (*shipper.Shipment, error) {
	sh, err := s.store.FindShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if !sh.HasProviderOrder() {
		return nil, shipper.ErrNoProviderOrder
	}
	return sh, nil
}

// defaultBox synthesizes a single box weighing the default item weight per unit.
func (s *Service) defaultBox(order *shipper.Order) shipper.Box {
	units := 0
	for _, item := range order.Items {
		units += item.Quantity
	}
	if units == 0 {
		units = 1
	}
	return shipper.Box{
		Name:       "Box 1",
		Weight:     float64(units) * s.defaults.ItemWeightKG,
		WeightUnit: shipper.WeightKG,
		Length:     s.defaults.BoxLengthCM,
		Width:      s.defaults.BoxWidthCM,
		Height:     s.defaults.BoxHeightCM,
		DimUnit:    "cm",
	}
}

func recipientFor(order *shipper.Order) shipper.Party {
	return shipper.Party{
		Name:    order.Customer.Name,
		Phone:   order.Customer.Phone,
		Email:   order.Customer.Email,
		Address: order.ShippingAddress,
	}
}

func paymentFor(order *shipper.Order, codAmount float64) provider.Payment {
	p := provider.Payment{
		Method:   "paid",
		Amount:   order.Price,
		Currency: order.Currency,
	}
	if codAmount > 0 {
		p.Method = "cod"
		p.CODAmount = codAmount
	}
	return p
}

func toProviderParty(p shipper.Party) provider.Party {
	address := p.Address.Line1
	if p.Address.Line2 != "" {
		address += ", " + p.Address.Line2
	}
	return provider.Party{
		Name:       p.Name,
		Phone:      p.Phone,
		Email:      p.Email,
		Address:    address,
		District:   p.Address.District,
		City:       p.Address.City,
		Country:    p.Address.Country,
		PostalCode: p.Address.PostalCode,
	}
}

func toProviderItems(items []shipper.OrderItem) []provider.Item {
	out := make([]provider.Item, len(items))
	for i, item := range items {
		out[i] = provider.Item{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     item.UnitPrice,
		}
	}
	return out
}

func toProviderBoxes(boxes []shipper.Box) []provider.Box {
	if len(boxes) == 0 {
		return nil
	}
	out := make([]provider.Box, len(boxes))
	for i, b := range boxes {
		out[i] = provider.Box{
			Name:   b.Name,
			Weight: weightKG(b),
			Length: b.Length,
			Width:  b.Width,
			Height: b.Height,
		}
	}
	return out
}

func weightKG(b shipper.Box) float64 {
	if b.WeightUnit == shipper.WeightLB {
		return b.Weight * lbToKG
	}
	return b.Weight
}

func totalWeightKG(boxes []shipper.Box) float64 {
	var total float64
	for _, b := range boxes {
		total += weightKG(b)
	}
	return total
}

// parseProviderTime accepts RFC 3339 timestamps and plain dates.
func parseProviderTime(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
