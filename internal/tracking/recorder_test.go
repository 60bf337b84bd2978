package tracking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shipsync/internal/broker/messages"
	"github.com/tournevent/shipsync/internal/store/memstore"
	"github.com/tournevent/shipsync/internal/tracking"
	"github.com/tournevent/shipsync/pkg/shipper"
)

type recordingPublisher struct {
	msgs []messages.ShipmentStatusChanged
	err  error
}

func (p *recordingPublisher) PublishStatusChanged(_ context.Context, msg messages.ShipmentStatusChanged) error {
	p.msgs = append(p.msgs, msg)
	return p.err
}

func setup(t *testing.T) (*memstore.Storage, *shipper.Shipment) {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.SaveOrder(ctx, &shipper.Order{ID: "o-1", Status: shipper.OrderShipped}))

	sh := &shipper.Shipment{OrderID: "o-1", ProviderOrderID: "P1", Status: shipper.StatusLabelCreated}
	require.NoError(t, st.CreateShipment(ctx, sh))
	return st, sh
}

func TestRecorder_AppendsAndTranslates(t *testing.T) {
	st, sh := setup(t)
	pub := &recordingPublisher{}
	rec := tracking.NewRecorder(st, pub, nil)
	ctx := context.Background()

	out, err := rec.Record(ctx, sh, tracking.Observation{
		ProviderStatus: "inTransit",
		Timestamp:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Source:         tracking.SourcePoll,
	})

	require.NoError(t, err)
	assert.True(t, out.Appended)
	assert.Equal(t, shipper.StatusInTransit, out.Shipment.Status)
	assert.Empty(t, out.OrderStatus)

	stored, err := st.FindShipment(ctx, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusInTransit, stored.Status)
	assert.Equal(t, "inTransit", stored.ProviderStatus)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "label_created", pub.msgs[0].PreviousStatus)
	assert.Equal(t, "poll", pub.msgs[0].Source)
}

func TestRecorder_DuplicateIsNoop(t *testing.T) {
	st, sh := setup(t)
	pub := &recordingPublisher{}
	rec := tracking.NewRecorder(st, pub, nil)
	ctx := context.Background()
	obs := tracking.Observation{ProviderStatus: "pickedUp", Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}

	_, err := rec.Record(ctx, sh, obs)
	require.NoError(t, err)
	out, err := rec.Record(ctx, sh, obs)

	require.NoError(t, err)
	assert.False(t, out.Appended)
	assert.Len(t, pub.msgs, 1)

	events, err := st.ListTrackingEvents(ctx, sh.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRecorder_KeepsConcurrentShipmentWrites(t *testing.T) {
	st, sh := setup(t)
	rec := tracking.NewRecorder(st, nil, nil)
	ctx := context.Background()

	loaded, err := st.FindShipment(ctx, sh.ID)
	require.NoError(t, err)

	cancelledAt := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	_, err = st.ModifyShipment(ctx, sh.ID, func(sh *shipper.Shipment) error {
		sh.Metadata.CancellationReason = "customer asked"
		sh.Metadata.CancelledAt = &cancelledAt
		sh.Metadata.DriverID = "d-1"
		return nil
	})
	require.NoError(t, err)

	out, err := rec.Record(ctx, loaded, tracking.Observation{
		ProviderStatus: "inTransit",
		Timestamp:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.True(t, out.Appended)
	assert.Equal(t, "customer asked", out.Shipment.Metadata.CancellationReason)

	stored, err := st.FindShipment(ctx, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusInTransit, stored.Status)
	assert.Equal(t, "customer asked", stored.Metadata.CancellationReason)
	require.NotNil(t, stored.Metadata.CancelledAt)
	assert.True(t, cancelledAt.Equal(*stored.Metadata.CancelledAt))
	assert.Equal(t, "d-1", stored.Metadata.DriverID)
}

func TestRecorder_PreviousStatusComesFromStore(t *testing.T) {
	st, sh := setup(t)
	pub := &recordingPublisher{}
	rec := tracking.NewRecorder(st, pub, nil)
	ctx := context.Background()

	stale := *sh
	_, err := rec.Record(ctx, sh, tracking.Observation{
		ProviderStatus: "pickedUp",
		Timestamp:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	_, err = rec.Record(ctx, &stale, tracking.Observation{
		ProviderStatus: "inTransit",
		Timestamp:      time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, string(shipper.StatusPickedUp), pub.msgs[1].PreviousStatus)
}

func TestRecorder_PayloadDigestDeduplicates(t *testing.T) {
	st, sh := setup(t)
	rec := tracking.NewRecorder(st, nil, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		out, err := rec.Record(ctx, sh, tracking.Observation{
			ProviderStatus: "inTransit",
			PayloadDigest:  "same-body",
		})
		require.NoError(t, err)
		assert.Equal(t, i == 0, out.Appended)
	}

	events, err := st.ListTrackingEvents(ctx, sh.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRecorder_DeliveredCascadesToOrder(t *testing.T) {
	st, sh := setup(t)
	rec := tracking.NewRecorder(st, nil, nil)
	ctx := context.Background()
	deliveredAt := time.Date(2024, 5, 2, 14, 30, 0, 0, time.UTC)

	out, err := rec.Record(ctx, sh, tracking.Observation{
		ProviderStatus: "delivered",
		Timestamp:      deliveredAt.Add(time.Minute),
		DeliveredAt:    &deliveredAt,
	})

	require.NoError(t, err)
	assert.Equal(t, shipper.OrderDelivered, out.OrderStatus)
	require.NotNil(t, out.Shipment.ActualDelivery)
	assert.True(t, deliveredAt.Equal(*out.Shipment.ActualDelivery))

	order, err := st.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, shipper.OrderDelivered, order.Status)
}

func TestRecorder_StatusOverride(t *testing.T) {
	st, sh := setup(t)
	rec := tracking.NewRecorder(st, nil, nil)

	out, err := rec.Record(context.Background(), sh, tracking.Observation{
		ProviderStatus: "someNewCarrierCode",
		Status:         shipper.StatusReturned,
	})

	require.NoError(t, err)
	assert.Equal(t, shipper.StatusReturned, out.Shipment.Status)
	assert.Equal(t, shipper.OrderReturned, out.OrderStatus)
}

func TestRecorder_UnknownStatusIsPending(t *testing.T) {
	st, sh := setup(t)
	rec := tracking.NewRecorder(st, nil, nil)

	out, err := rec.Record(context.Background(), sh, tracking.Observation{ProviderStatus: "weird_new_state"})

	require.NoError(t, err)
	assert.Equal(t, shipper.StatusPending, out.Shipment.Status)
	assert.Equal(t, "weird_new_state", out.Shipment.ProviderStatus)
}

func TestRecorder_PublishFailureSwallowed(t *testing.T) {
	st, sh := setup(t)
	pub := &recordingPublisher{err: errors.New("broker down")}
	rec := tracking.NewRecorder(st, pub, nil)

	out, err := rec.Record(context.Background(), sh, tracking.Observation{ProviderStatus: "outForDelivery"})

	require.NoError(t, err)
	assert.True(t, out.Appended)
	assert.Len(t, pub.msgs, 1)
}

func TestOrderStatusFor(t *testing.T) {
	assert.Equal(t, shipper.OrderDelivered, tracking.OrderStatusFor(shipper.StatusDelivered))
	assert.Equal(t, shipper.OrderDeliveryFailed, tracking.OrderStatusFor(shipper.StatusFailedDelivery))
	assert.Equal(t, shipper.OrderReturned, tracking.OrderStatusFor(shipper.StatusReturned))
	assert.Empty(t, tracking.OrderStatusFor(shipper.StatusInTransit))
}
