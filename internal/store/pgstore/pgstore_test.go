package pgstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tournevent/shipsync/internal/store"
	"github.com/tournevent/shipsync/pkg/shipper"
)

func startPostgres(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container test skipped in -short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "shipsync_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/shipsync_test?sslmode=disable"
	st, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestPGStore_ShipmentFlow(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	require.NoError(t, st.SaveOrder(ctx, &shipper.Order{
		ID:          "o-1",
		OrderNumber: "1001",
		Items:       []shipper.OrderItem{{SKU: "A", Quantity: 2}},
		Status:      "paid",
	}))

	sh := &shipper.Shipment{
		OrderID:         "o-1",
		TrackingNumber:  "TRK1",
		Status:          shipper.StatusLabelCreated,
		ProviderOrderID: "P1",
		Recipient:       shipper.Party{Name: "Sara", Address: shipper.Address{City: "Jeddah"}},
		Metadata:        shipper.Metadata{PickupLocationCode: "WH1"},
	}
	require.NoError(t, st.CreateShipment(ctx, sh))
	require.ErrorIs(t, st.CreateShipment(ctx, &shipper.Shipment{OrderID: "o-1", Status: shipper.StatusPending}), shipper.ErrShipmentAlreadyExists)

	got, err := st.FindShipmentByProviderOrderID(ctx, "P1")
	require.NoError(t, err)
	require.Equal(t, sh.ID, got.ID)
	require.Equal(t, "Jeddah", got.Recipient.Address.City)
	require.Equal(t, "WH1", got.Metadata.PickupLocationCode)

	require.NoError(t, st.SaveBoxes(ctx, sh.ID, []shipper.Box{{Name: "Box 1", Weight: 1, WeightUnit: shipper.WeightKG}}))
	boxes, err := st.ListBoxes(ctx, sh.ID)
	require.NoError(t, err)
	require.Len(t, boxes, 1)

	// event de-duplication
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_, err = st.ModifyShipment(ctx, sh.ID, func(sh *shipper.Shipment) error {
		sh.Metadata.DriverID = "d-1"
		return nil
	})
	require.NoError(t, err)

	res, err := st.ApplyTrackingEvent(ctx, &shipper.TrackingEvent{
		ShipmentID: sh.ID, Status: shipper.StatusDelivered, ProviderStatus: "delivered", Timestamp: ts,
		RawPayload: []byte(`{"event":"delivered"}`),
	}, store.StatusChange{Status: shipper.StatusDelivered, ProviderStatus: "delivered", ActualDelivery: &ts})
	require.NoError(t, err)
	require.True(t, res.Appended)
	require.Equal(t, shipper.StatusLabelCreated, res.Previous)
	require.Equal(t, "d-1", res.Shipment.Metadata.DriverID)

	res, err = st.ApplyTrackingEvent(ctx, &shipper.TrackingEvent{
		ShipmentID: sh.ID, Status: shipper.StatusDelivered, ProviderStatus: "delivered", Timestamp: ts,
	}, store.StatusChange{Status: shipper.StatusInTransit, ProviderStatus: "inTransit"})
	require.NoError(t, err)
	require.False(t, res.Appended)

	for i := 0; i < 2; i++ {
		res, err = st.ApplyTrackingEvent(ctx, &shipper.TrackingEvent{
			ShipmentID: sh.ID, ProviderStatus: "note", Timestamp: ts.Add(time.Duration(i+1) * time.Minute),
			PayloadDigest: "digest-1",
		}, store.StatusChange{})
		require.NoError(t, err)
		require.Equal(t, i == 0, res.Appended)
	}

	events, err := st.ListTrackingEvents(ctx, sh.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "digest-1", events[0].PayloadDigest)

	reloaded, err := st.FindShipment(ctx, sh.ID)
	require.NoError(t, err)
	require.Equal(t, shipper.StatusDelivered, reloaded.Status)
	require.Equal(t, "d-1", reloaded.Metadata.DriverID)
	require.NotNil(t, reloaded.ActualDelivery)

	many, err := st.FindShipments(ctx, []string{"missing", sh.ID})
	require.NoError(t, err)
	require.Len(t, many, 1)

	require.NoError(t, st.UpdateOrderStatus(ctx, "o-1", shipper.OrderDelivered, ""))
	order, err := st.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	require.Equal(t, shipper.OrderDelivered, order.Status)
	require.Len(t, order.Items, 1)
}
