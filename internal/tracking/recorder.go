// Package tracking applies provider status observations to local state. It
// is shared by live tracking and webhook reconciliation so both follow the
// same de-duplication rule.
package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tournevent/shipsync/internal/broker/messages"
	"github.com/tournevent/shipsync/internal/store"
	"github.com/tournevent/shipsync/internal/telemetry"
	"github.com/tournevent/shipsync/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Source names where an observation came from.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
)

// Publisher receives a message for every appended event.
type Publisher interface {
	PublishStatusChanged(ctx context.Context, msg messages.ShipmentStatusChanged) error
}

// Observation is one provider-reported status for a shipment.
type Observation struct {
	ProviderStatus string
	// Status overrides the translated status when set.
	Status      shipper.ShipmentStatus
	Stage       string
	Description string
	Location    string
	Timestamp   time.Time
	RawPayload  json.RawMessage
	// DeliveredAt is stamped as the actual delivery time when the resulting
	// status is delivered. Timestamp is used when it is nil.
	DeliveredAt *time.Time
	// PayloadDigest is set when Timestamp was not reported by the provider,
	// so a redelivery of the same payload is still recognised.
	PayloadDigest string
	Source        Source
}

// Outcome reports what Record did.
type Outcome struct {
	Appended    bool
	Shipment    *shipper.Shipment
	OrderStatus shipper.OrderStatus // set when the order was cascaded
}

// Recorder appends tracking events and writes the resulting shipment and order state.
type Recorder struct {
	store     store.Store
	publisher Publisher
	logger    *otelzap.Logger
	now       func() time.Time
}

// NewRecorder creates a Recorder. publisher may be nil.
func NewRecorder(st store.Store, publisher Publisher, logger *otelzap.Logger) *Recorder {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Recorder{
		store:     st,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OrderStatusFor returns the order status a terminal shipment status
// cascades to, or "" for non-terminal statuses.
func OrderStatusFor(s shipper.ShipmentStatus) shipper.OrderStatus {
	switch s {
	case shipper.StatusDelivered:
		return shipper.OrderDelivered
	case shipper.StatusFailedDelivery:
		return shipper.OrderDeliveryFailed
	case shipper.StatusReturned:
		return shipper.OrderReturned
	}
	return ""
}

// Record appends obs to sh's history. When the event is already recorded
// nothing is written and Appended is false. Otherwise the stored shipment's
// status fields are overwritten (last write wins) and terminal statuses
// cascade to the order. Only status, provider status and actual delivery
// are written, so concurrent changes to other fields of sh are kept.
func (r *Recorder) Record(ctx context.Context, sh *shipper.Shipment, obs Observation) (Outcome, error) {
	status := obs.Status
	if status == "" {
		status = shipper.Translate(obs.ProviderStatus)
		if !shipper.IsKnownStatus(obs.ProviderStatus) {
			r.logger.Ctx(ctx).Warn("Unmapped provider status, recording as pending",
				zap.String("shipment_id", sh.ID),
				zap.String("provider_status", obs.ProviderStatus),
			)
		}
	}
	ts := obs.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}

	change := store.StatusChange{Status: status, ProviderStatus: obs.ProviderStatus}
	if status == shipper.StatusDelivered {
		delivered := ts
		if obs.DeliveredAt != nil {
			delivered = *obs.DeliveredAt
		}
		change.ActualDelivery = &delivered
	}

	ev := &shipper.TrackingEvent{
		ShipmentID:     sh.ID,
		Status:         status,
		ProviderStatus: obs.ProviderStatus,
		Stage:          obs.Stage,
		Description:    obs.Description,
		Location:       obs.Location,
		Timestamp:      ts,
		RawPayload:     obs.RawPayload,
		PayloadDigest:  obs.PayloadDigest,
	}

	applied, err := r.store.ApplyTrackingEvent(ctx, ev, change)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to apply tracking event: %w", err)
	}
	if !applied.Appended {
		r.logger.Ctx(ctx).Debug("Tracking event already recorded",
			zap.String("shipment_id", sh.ID),
			zap.String("provider_status", obs.ProviderStatus),
			zap.Time("timestamp", ts),
		)
		return Outcome{Shipment: sh}, nil
	}

	updated := applied.Shipment
	out := Outcome{Appended: true, Shipment: updated}
	if orderStatus := OrderStatusFor(status); orderStatus != "" {
		if err := r.store.UpdateOrderStatus(ctx, updated.OrderID, orderStatus, ""); err != nil {
			return out, fmt.Errorf("failed to cascade order status: %w", err)
		}
		out.OrderStatus = orderStatus
	}

	r.logger.Ctx(ctx).Info("Tracking event recorded",
		zap.String("shipment_id", updated.ID),
		zap.String("order_id", updated.OrderID),
		zap.String("status", string(status)),
		zap.String("previous_status", string(applied.Previous)),
		zap.String("provider_status", obs.ProviderStatus),
		zap.String("source", string(obs.Source)),
	)

	r.publish(ctx, updated, applied.Previous, out.OrderStatus, obs.Source, ts)
	return out, nil
}

func (r *Recorder) publish(ctx context.Context, sh *shipper.Shipment, previous shipper.ShipmentStatus, orderStatus shipper.OrderStatus, source Source, ts time.Time) {
	if r.publisher == nil {
		return
	}

	err := r.publisher.PublishStatusChanged(ctx, messages.ShipmentStatusChanged{
		ShipmentID:      sh.ID,
		OrderID:         sh.OrderID,
		TrackingNumber:  sh.TrackingNumber,
		ProviderOrderID: sh.ProviderOrderID,
		Status:          string(sh.Status),
		PreviousStatus:  string(previous),
		ProviderStatus:  sh.ProviderStatus,
		OrderStatus:     string(orderStatus),
		Source:          string(source),
		OccurredAt:      ts,
	})
	if err != nil {
		r.logger.Ctx(ctx).Warn("Failed to publish shipment status change",
			zap.String("shipment_id", sh.ID),
			zap.Error(err),
		)
	}
}
