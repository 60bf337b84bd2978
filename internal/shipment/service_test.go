package shipment_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shipsync/internal/cache/rediscache"
	"github.com/tournevent/shipsync/internal/shipment"
	"github.com/tournevent/shipsync/internal/store"
	"github.com/tournevent/shipsync/internal/store/memstore"
	"github.com/tournevent/shipsync/pkg/shipper"
	"github.com/tournevent/shipsync/pkg/shipper/provider"
)

type fixture struct {
	svc   *shipment.Service
	api   *provider.MockAPIClient
	store *memstore.Storage
}

func newFixture(t *testing.T, opts ...func(*shipment.ServiceConfig)) *fixture {
	t.Helper()
	api := provider.NewMockAPIClient()
	st := memstore.New()

	cfg := shipment.ServiceConfig{
		API:   api,
		Store: st,
		Defaults: shipment.Defaults{
			Sender:          shipper.Party{Name: "Warehouse", Address: shipper.Address{City: "Riyadh", Country: "SA"}},
			ItemWeightKG:    0.5,
			BoxLengthCM:     30,
			BoxWidthCM:      20,
			BoxHeightCM:     15,
			DeliveryCompany: "smsa",
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &fixture{svc: shipment.NewService(cfg), api: api, store: st}
}

func (f *fixture) seedOrder(t *testing.T, id string, items ...shipper.OrderItem) {
	t.Helper()
	require.NoError(t, f.store.SaveOrder(context.Background(), &shipper.Order{
		ID:          id,
		OrderNumber: "N-" + id,
		Customer:    shipper.Customer{Name: "Sara", Phone: "+966500000000"},
		Items:       items,
		ShippingAddress: shipper.Address{
			Line1: "King Fahd Rd", City: "Jeddah", Country: "SA",
		},
		Price:    120,
		Currency: "SAR",
		Status:   "paid",
	}))
}

func (f *fixture) createShipment(t *testing.T, orderID string) *shipper.Shipment {
	t.Helper()
	f.seedOrder(t, orderID, shipper.OrderItem{SKU: "A", Quantity: 1})
	sh, err := f.svc.CreateShipment(context.Background(), shipment.CreateShipmentRequest{OrderID: orderID})
	require.NoError(t, err)
	return sh
}

func TestCreateShipment_SynthesizesDefaultBox(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "O1",
		shipper.OrderItem{SKU: "A", Name: "Mug", Quantity: 2, UnitPrice: 30},
		shipper.OrderItem{SKU: "B", Name: "Plate", Quantity: 3, UnitPrice: 20},
	)

	var sent *provider.OrderRequest
	f.api.OnCreateOrder = func(ctx context.Context, req *provider.OrderRequest) (*provider.OrderResponse, error) {
		sent = req
		return &provider.OrderResponse{Success: true, OrderID: "P1", ShipmentID: "S1", TrackingNumber: "TRK-O1", Status: "new"}, nil
	}

	ctx := context.Background()
	sh, err := f.svc.CreateShipment(ctx, shipment.CreateShipmentRequest{OrderID: "O1"})
	require.NoError(t, err)

	require.NotNil(t, sent)
	require.Len(t, sent.Boxes, 1)
	assert.InDelta(t, 2*0.5+3*0.5, sent.Boxes[0].Weight, 1e-9)
	assert.Equal(t, 30.0, sent.Boxes[0].Length)
	assert.Equal(t, "N-O1", sent.OrderID)
	assert.Equal(t, "smsa", sent.DeliveryCompanyCode)
	assert.Equal(t, "paid", sent.Payment.Method)
	assert.Equal(t, "Jeddah", sent.Recipient.City)
	assert.Len(t, sent.Items, 2)

	assert.Equal(t, "P1", sh.ProviderOrderID)
	assert.Equal(t, shipper.StatusLabelCreated, sh.Status)
	assert.Equal(t, "new", sh.ProviderStatus)
	assert.InDelta(t, 2.5, sh.WeightKG, 1e-9)
	assert.Equal(t, 1, sh.PackageCount)

	boxes, err := f.store.ListBoxes(ctx, sh.ID)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.InDelta(t, 2.5, boxes[0].Weight, 1e-9)
	assert.Equal(t, "Box 1", boxes[0].Name)

	order, err := f.store.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, shipper.OrderShipped, order.Status)
	assert.Equal(t, "TRK-O1", order.TrackingNumber)
}

func TestCreateShipment_SecondCallIsRejectedWithoutProviderCall(t *testing.T) {
	f := newFixture(t)
	f.createShipment(t, "O1")
	require.Equal(t, 1, f.api.Calls("createOrder"))

	_, err := f.svc.CreateShipment(context.Background(), shipment.CreateShipmentRequest{OrderID: "O1"})

	assert.ErrorIs(t, err, shipper.ErrShipmentAlreadyExists)
	assert.Equal(t, 1, f.api.Calls("createOrder"))
}

func TestCreateShipment_OrderNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateShipment(context.Background(), shipment.CreateShipmentRequest{OrderID: "missing"})

	assert.ErrorIs(t, err, shipper.ErrOrderNotFound)
	assert.Zero(t, f.api.Calls("createOrder"))
}

func TestCreateShipment_ProviderFailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "O1", shipper.OrderItem{SKU: "A", Quantity: 1})
	f.api.SimulateErrors = true
	ctx := context.Background()

	_, err := f.svc.CreateShipment(ctx, shipment.CreateShipmentRequest{OrderID: "O1"})

	pe, ok := shipper.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, pe.StatusCode)

	_, err = f.store.FindShipmentByOrderID(ctx, "O1")
	assert.ErrorIs(t, err, shipper.ErrShipmentNotFound)
	order, err := f.store.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, shipper.OrderStatus("paid"), order.Status)

	// safe to retry
	f.api.SimulateErrors = false
	_, err = f.svc.CreateShipment(ctx, shipment.CreateShipmentRequest{OrderID: "O1"})
	assert.NoError(t, err)
}

func TestCreateShipment_UnreachableIsDistinct(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "O1", shipper.OrderItem{SKU: "A", Quantity: 1})
	f.api.OnCreateOrder = func(ctx context.Context, req *provider.OrderRequest) (*provider.OrderResponse, error) {
		return nil, fmt.Errorf("%w: timeout", shipper.ErrProviderUnreachable)
	}

	_, err := f.svc.CreateShipment(context.Background(), shipment.CreateShipmentRequest{OrderID: "O1"})

	assert.ErrorIs(t, err, shipper.ErrProviderUnreachable)
	_, isHTTP := shipper.AsProviderError(err)
	assert.False(t, isHTTP)
}

func TestCreateShipment_UpdatesPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "O1", shipper.OrderItem{SKU: "A", Quantity: 1})
	ctx := context.Background()

	placeholder := &shipper.Shipment{OrderID: "O1", Status: shipper.StatusPending}
	require.NoError(t, f.store.CreateShipment(ctx, placeholder))

	sh, err := f.svc.CreateShipment(ctx, shipment.CreateShipmentRequest{OrderID: "O1"})

	require.NoError(t, err)
	assert.Equal(t, placeholder.ID, sh.ID)
	assert.True(t, sh.HasProviderOrder())
}

func TestCreateShipment_ExplicitBoxesAndCOD(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "O1", shipper.OrderItem{SKU: "A", Quantity: 10})

	var sent *provider.OrderRequest
	f.api.OnCreateOrder = func(ctx context.Context, req *provider.OrderRequest) (*provider.OrderResponse, error) {
		sent = req
		return &provider.OrderResponse{Success: true, OrderID: "P1", TrackingNumber: "T1"}, nil
	}

	sh, err := f.svc.CreateShipment(context.Background(), shipment.CreateShipmentRequest{
		OrderID:             "O1",
		DeliveryCompanyCode: "aramex",
		PickupLocationCode:  "WH-2",
		CODAmount:           75,
		SpecialInstructions: "Call before delivery",
		Boxes: []shipper.Box{
			{Weight: 2, WeightUnit: shipper.WeightKG, Length: 10, Width: 10, Height: 10},
			{Weight: 10, WeightUnit: shipper.WeightLB},
		},
	})
	require.NoError(t, err)

	require.Len(t, sent.Boxes, 2)
	assert.InDelta(t, 4.5359237, sent.Boxes[1].Weight, 1e-6)
	assert.Equal(t, "cod", sent.Payment.Method)
	assert.Equal(t, 75.0, sent.Payment.CODAmount)
	assert.Equal(t, "aramex", sent.DeliveryCompanyCode)
	assert.Equal(t, "WH-2", sent.PickupLocationCode)

	assert.Equal(t, 2, sh.PackageCount)
	assert.Equal(t, 75.0, sh.CODAmount)
	assert.Equal(t, "Call before delivery", sh.Metadata.SpecialInstructions)
	// an empty provider status is treated as freshly created
	assert.Equal(t, shipper.StatusLabelCreated, sh.Status)
}

func TestCreateShipment_RequiresDeliveryCompany(t *testing.T) {
	f := newFixture(t, func(cfg *shipment.ServiceConfig) { cfg.Defaults.DeliveryCompany = "" })
	f.seedOrder(t, "O1", shipper.OrderItem{SKU: "A", Quantity: 1})

	_, err := f.svc.CreateShipment(context.Background(), shipment.CreateShipmentRequest{OrderID: "O1"})

	assert.ErrorIs(t, err, shipper.ErrInvalidRequest)
	assert.Zero(t, f.api.Calls("createOrder"))
}

func TestTrackShipment_WithoutProviderOrderStaysLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateShipment(ctx, &shipper.Shipment{
		OrderID: "O1", TrackingNumber: "LOCAL-1", Status: shipper.StatusPending,
	}))

	res, err := f.svc.TrackShipment(ctx, "LOCAL-1")

	require.NoError(t, err)
	assert.Equal(t, shipper.StatusPending, res.Shipment.Status)
	assert.False(t, res.Degraded)
	assert.Nil(t, res.Live)
	assert.Zero(t, f.api.Calls("trackShipment"))
}

func TestTrackShipment_UnknownTrackingNumber(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.TrackShipment(context.Background(), "nope")

	assert.ErrorIs(t, err, shipper.ErrShipmentNotFound)
}

func TestTrackShipment_AppendsNewerLiveEvent(t *testing.T) {
	f := newFixture(t)
	sh := f.createShipment(t, "O1")
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	f.api.OnTrackShipment = func(ctx context.Context, req *provider.TrackRequest) (*provider.TrackResponse, error) {
		assert.Equal(t, sh.ProviderOrderID, req.OrderID)
		return &provider.TrackResponse{
			OrderID: req.OrderID,
			Status:  "inTransit",
			Events: []provider.TrackingEvent{
				{Status: "pickedUp", Timestamp: base.Format(time.RFC3339)},
				{Status: "inTransit", Location: "Riyadh hub", Timestamp: base.Add(2 * time.Hour).Format(time.RFC3339)},
				{Status: "noTimestamp"},
			},
		}, nil
	}

	res, err := f.svc.TrackShipment(ctx, sh.TrackingNumber)
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, shipper.StatusInTransit, res.Shipment.Status)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "Riyadh hub", res.Events[0].Location)

	// the same live view again appends nothing
	res, err = f.svc.TrackShipment(ctx, sh.TrackingNumber)
	require.NoError(t, err)
	assert.Len(t, res.Events, 1)
}

func TestTrackShipment_OlderLiveEventIgnored(t *testing.T) {
	f := newFixture(t)
	sh := f.createShipment(t, "O1")
	ctx := context.Background()

	now := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	_, err := f.store.ApplyTrackingEvent(ctx, &shipper.TrackingEvent{
		ShipmentID: sh.ID, Status: shipper.StatusOutForDelivery, ProviderStatus: "outForDelivery", Timestamp: now,
	}, store.StatusChange{})
	require.NoError(t, err)

	f.api.OnTrackShipment = func(ctx context.Context, req *provider.TrackRequest) (*provider.TrackResponse, error) {
		return &provider.TrackResponse{Events: []provider.TrackingEvent{
			{Status: "inTransit", Timestamp: now.Add(-time.Hour).Format(time.RFC3339)},
		}}, nil
	}

	res, err := f.svc.TrackShipment(ctx, sh.TrackingNumber)

	require.NoError(t, err)
	assert.Len(t, res.Events, 1)
	assert.Equal(t, "outForDelivery", res.Events[0].ProviderStatus)
}

func TestTrackShipment_KeepsWritesMadeDuringProviderCall(t *testing.T) {
	f := newFixture(t)
	sh := f.createShipment(t, "O1")
	ctx := context.Background()

	f.api.OnTrackShipment = func(ctx context.Context, req *provider.TrackRequest) (*provider.TrackResponse, error) {
		// a driver gets assigned while the provider is being asked
		_, err := f.store.ModifyShipment(ctx, sh.ID, func(s *shipper.Shipment) error {
			s.Metadata.DriverID = "d-9"
			return nil
		})
		require.NoError(t, err)
		return &provider.TrackResponse{Events: []provider.TrackingEvent{
			{Status: "inTransit", Timestamp: time.Now().UTC().Format(time.RFC3339)},
		}}, nil
	}

	res, err := f.svc.TrackShipment(ctx, sh.TrackingNumber)
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusInTransit, res.Shipment.Status)
	assert.Equal(t, "d-9", res.Shipment.Metadata.DriverID)

	got, err := f.store.FindShipment(ctx, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusInTransit, got.Status)
	assert.Equal(t, "d-9", got.Metadata.DriverID)
}

func TestTrackShipment_DegradesOnProviderFailure(t *testing.T) {
	f := newFixture(t)
	sh := f.createShipment(t, "O1")
	f.api.OnTrackShipment = func(ctx context.Context, req *provider.TrackRequest) (*provider.TrackResponse, error) {
		return nil, fmt.Errorf("%w: connection refused", shipper.ErrProviderUnreachable)
	}

	res, err := f.svc.TrackShipment(context.Background(), sh.TrackingNumber)

	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Contains(t, res.DegradedReason, "unreachable")
	assert.Equal(t, sh.ID, res.Shipment.ID)
	assert.Equal(t, shipper.StatusLabelCreated, res.Shipment.Status)
}

func TestTrackShipment_UsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := rediscache.New(mr.Addr())
	f := newFixture(t, func(cfg *shipment.ServiceConfig) {
		cfg.Cache = cache
		cfg.CacheTTL = time.Minute
	})
	sh := f.createShipment(t, "O1")
	ctx := context.Background()

	_, err := f.svc.TrackShipment(ctx, sh.TrackingNumber)
	require.NoError(t, err)
	res, err := f.svc.TrackShipment(ctx, sh.TrackingNumber)
	require.NoError(t, err)

	assert.Equal(t, 1, f.api.Calls("trackShipment"))
	require.NotNil(t, res.Live)
	assert.True(t, mr.Exists(rediscache.TrackingKey(sh.ProviderOrderID)))
}

func TestCreateShipment_LeavesCallerBoxesUntouched(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "O1", shipper.OrderItem{SKU: "A", Quantity: 1})

	boxes := []shipper.Box{{Weight: 2, Length: 10, Width: 10, Height: 10}}
	_, err := f.svc.CreateShipment(context.Background(), shipment.CreateShipmentRequest{
		OrderID: "O1",
		Boxes:   boxes,
	})
	require.NoError(t, err)

	assert.Equal(t, shipper.Box{Weight: 2, Length: 10, Width: 10, Height: 10}, boxes[0])
}

func TestCancelShipment(t *testing.T) {
	f := newFixture(t)
	sh := f.createShipment(t, "O1")
	ctx := context.Background()

	var sentReason string
	f.api.OnCancelOrder = func(ctx context.Context, req *provider.CancelRequest) (*provider.CancelResponse, error) {
		sentReason = req.Reason
		return &provider.CancelResponse{Success: true, OrderID: req.OrderID}, nil
	}

	got, err := f.svc.CancelShipment(ctx, sh.ID, "customer request")
	require.NoError(t, err)

	assert.Equal(t, "customer request", sentReason)
	assert.Equal(t, shipper.StatusFailedDelivery, got.Status)
	assert.Equal(t, shipper.ProviderStatusCancelled, got.ProviderStatus)
	assert.Equal(t, "customer request", got.Metadata.CancellationReason)
	assert.NotNil(t, got.Metadata.CancelledAt)

	order, err := f.store.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, shipper.OrderCancelled, order.Status)
}

func TestCancelShipment_NoProviderOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sh := &shipper.Shipment{OrderID: "O1", Status: shipper.StatusPending}
	require.NoError(t, f.store.CreateShipment(ctx, sh))

	_, err := f.svc.CancelShipment(ctx, sh.ID, "")

	assert.ErrorIs(t, err, shipper.ErrNoProviderOrder)
	assert.Zero(t, f.api.Calls("cancelOrder"))
}

func TestCancelShipment_ProviderErrorLeavesShipment(t *testing.T) {
	f := newFixture(t)
	sh := f.createShipment(t, "O1")
	ctx := context.Background()
	f.api.OnCancelOrder = func(ctx context.Context, req *provider.CancelRequest) (*provider.CancelResponse, error) {
		return nil, &shipper.ProviderError{Operation: "cancelOrder", StatusCode: 422, Code: "ALREADY_PICKED_UP"}
	}

	_, err := f.svc.CancelShipment(ctx, sh.ID, "")
	require.Error(t, err)

	got, err := f.store.FindShipment(ctx, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusLabelCreated, got.Status)
}

func TestAssignDriver_FiltersAndBatches(t *testing.T) {
	f := newFixture(t)
	a := f.createShipment(t, "O1")
	b := f.createShipment(t, "O2")
	ctx := context.Background()
	local := &shipper.Shipment{OrderID: "O3", Status: shipper.StatusPending}
	require.NoError(t, f.store.CreateShipment(ctx, local))

	var sent *provider.AssignDriverRequest
	f.api.OnAssignDriver = func(ctx context.Context, req *provider.AssignDriverRequest) (*provider.AssignDriverResponse, error) {
		sent = req
		return &provider.AssignDriverResponse{Success: true, Assigned: req.OrderIDs}, nil
	}

	assigned, err := f.svc.AssignDriver(ctx, []string{a.ID, local.ID, "unknown", b.ID}, "driver-7")

	require.NoError(t, err)
	assert.Len(t, assigned, 2)
	assert.Equal(t, 1, f.api.Calls("assignDriver"))
	assert.ElementsMatch(t, []string{a.ProviderOrderID, b.ProviderOrderID}, sent.OrderIDs)

	got, err := f.store.FindShipment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "driver-7", got.Metadata.DriverID)
	assert.NotNil(t, got.Metadata.DriverAssignedAt)

	untouched, err := f.store.FindShipment(ctx, local.ID)
	require.NoError(t, err)
	assert.Empty(t, untouched.Metadata.DriverID)
}

func TestAssignDriver_NoValidShipments(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AssignDriver(context.Background(), []string{"unknown"}, "driver-7")

	assert.ErrorIs(t, err, shipper.ErrNoValidShipments)
	assert.Zero(t, f.api.Calls("assignDriver"))
}

func TestGetLabel(t *testing.T) {
	f := newFixture(t)
	sh := f.createShipment(t, "O1")

	label, err := f.svc.GetLabel(context.Background(), sh.ID, "")

	require.NoError(t, err)
	assert.Equal(t, "pdf", label.Format)
	assert.Contains(t, label.URL, sh.ProviderOrderID)
}

func TestUpdateShipment(t *testing.T) {
	f := newFixture(t)
	sh := f.createShipment(t, "O1")

	got, err := f.svc.UpdateShipment(context.Background(), sh.ID, shipment.UpdateShipmentRequest{
		Notes: "Leave at reception",
		Boxes: []shipper.Box{{Weight: 3, WeightUnit: shipper.WeightKG}},
	})

	require.NoError(t, err)
	assert.Equal(t, "Leave at reception", got.Metadata.SpecialInstructions)
	assert.Equal(t, 3.0, got.WeightKG)
	assert.Equal(t, 1, f.api.Calls("updateOrder"))
}

func TestQuoteDeliveryFees(t *testing.T) {
	f := newFixture(t)
	req := &provider.DeliveryFeeRequest{OriginCity: "Riyadh", DestinationCity: "Jeddah", Weight: 2}

	quotes, err := f.svc.QuoteDeliveryFees(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, quotes.Provider.Fees)
	assert.NotEmpty(t, quotes.Contract.Fees)

	f.api.OnCheckContractDeliveryFee = func(ctx context.Context, req *provider.DeliveryFeeRequest) (*provider.DeliveryFeeResponse, error) {
		return nil, errors.New("no contract")
	}
	quotes, err = f.svc.QuoteDeliveryFees(context.Background(), req)
	require.NoError(t, err)
	assert.NotNil(t, quotes.Provider)
	assert.Nil(t, quotes.Contract)
	assert.Error(t, quotes.ContractErr)

	f.api.SimulateErrors = true
	_, err = f.svc.QuoteDeliveryFees(context.Background(), req)
	assert.Error(t, err)
}

func TestCheckDeliveryFee_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CheckDeliveryFee(context.Background(), &provider.DeliveryFeeRequest{DestinationCity: "Jeddah"})

	assert.ErrorIs(t, err, shipper.ErrInvalidRequest)
	assert.Zero(t, f.api.Calls("checkDeliveryFee"))
}
