// Package webhook applies provider-pushed shipment events to local state.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tournevent/shipsync/internal/cache/rediscache"
	"github.com/tournevent/shipsync/internal/store"
	"github.com/tournevent/shipsync/internal/telemetry"
	"github.com/tournevent/shipsync/internal/tracking"
	"github.com/tournevent/shipsync/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Event types sent by the provider.
const (
	EventCreated       = "shipment.created"
	EventUpdated       = "shipment.updated"
	EventStatusChanged = "shipment.status_changed"
	EventDelivered     = "shipment.delivered"
	EventFailed        = "shipment.failed"
	EventReturned      = "shipment.returned"
)

// Outcome names the path a webhook took.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnmatched Outcome = "unmatched"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

// Payload is the webhook body.
type Payload struct {
	Event string `json:"event"`
	Data  Data   `json:"data"`
}

// Data carries the shipment identifiers and status of an event. Any
// identifier may be absent.
type Data struct {
	OrderID        string `json:"orderId"` // provider order id
	ShipmentID     string `json:"shipmentId"`
	TrackingNumber string `json:"trackingNumber"`
	Status         string `json:"status"`
	Stage          string `json:"stage"`
	Description    string `json:"description"`
	Location       string `json:"location"`
	Timestamp      string `json:"timestamp"`
	DeliveredAt    string `json:"deliveredAt"`
}

// Result describes how a webhook was handled. Every result except a
// signature failure is acknowledged to the sender.
type Result struct {
	Outcome    Outcome
	Event      string
	ShipmentID string
	Status     shipper.ShipmentStatus
	Err        error // set when Outcome is OutcomeFailed
}

// Evicter drops cached live tracking.
type Evicter interface {
	Delete(ctx context.Context, key string) error
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithCache evicts a shipment's cached live tracking once a webhook changes it.
func WithCache(c Evicter) Option {
	return func(r *Reconciler) { r.cache = c }
}

// Reconciler verifies and applies webhooks.
type Reconciler struct {
	secret   []byte
	store    store.Shipments
	recorder *tracking.Recorder
	cache    Evicter
	logger   *otelzap.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// NewReconciler creates a Reconciler. An empty secret rejects every webhook.
func NewReconciler(secret string, st store.Shipments, recorder *tracking.Recorder, logger *otelzap.Logger, metrics *telemetry.Metrics, opts ...Option) *Reconciler {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	r := &Reconciler{
		secret:   []byte(secret),
		store:    st,
		recorder: recorder,
		logger:   logger,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle verifies signature over payload and applies the event. The only
// error it returns is shipper.ErrInvalidSignature, and in that case nothing
// has been read from or written to the stores. Every other failure is
// logged and reported through Result.
func (r *Reconciler) Handle(ctx context.Context, signature string, payload []byte) (Result, error) {
	if !Verify(r.secret, signature, payload) {
		r.metrics.RecordWebhook("unknown", "invalid_signature")
		r.logger.Ctx(ctx).Warn("Webhook rejected: invalid signature")
		return Result{}, shipper.ErrInvalidSignature
	}

	res := r.apply(ctx, payload)
	r.metrics.RecordWebhook(metricEvent(res.Event), string(res.Outcome))

	fields := []zap.Field{
		zap.String("event", res.Event),
		zap.String("outcome", string(res.Outcome)),
		zap.String("shipment_id", res.ShipmentID),
	}
	switch res.Outcome {
	case OutcomeFailed:
		r.logger.Ctx(ctx).Error("Webhook processing failed, acknowledging anyway", append(fields, zap.Error(res.Err))...)
	case OutcomeUnmatched:
		r.logger.Ctx(ctx).Warn("Webhook matched no shipment, acknowledging anyway", fields...)
	default:
		r.logger.Ctx(ctx).Info("Webhook handled", fields...)
	}
	return res, nil
}

func (r *Reconciler) apply(ctx context.Context, payload []byte) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("panic while applying webhook: %v", p)
		}
	}()

	var body Payload
	if err := json.Unmarshal(payload, &body); err != nil {
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("failed to decode payload: %w", err)}
	}
	res.Event = body.Event

	providerStatus, forced, ok := statusFor(body)
	if !ok {
		res.Outcome = OutcomeIgnored
		return res
	}

	sh, err := r.locate(ctx, body.Data)
	if errors.Is(err, shipper.ErrShipmentNotFound) {
		res.Outcome = OutcomeUnmatched
		return res
	}
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	res.ShipmentID = sh.ID

	deliveredAt := parseTime(body.Data.DeliveredAt)
	ts := parseTime(body.Data.Timestamp)
	if ts == nil {
		ts = deliveredAt
	}
	var digest string
	if ts == nil {
		// the receipt time differs on every redelivery, so the payload itself keys the event
		now := r.now()
		ts = &now
		sum := sha256.Sum256(payload)
		digest = hex.EncodeToString(sum[:])
		r.logger.Ctx(ctx).Info("Webhook carries no event time, de-duplicating by payload digest",
			zap.String("shipment_id", sh.ID),
			zap.String("event", body.Event),
		)
	}

	out, err := r.recorder.Record(ctx, sh, tracking.Observation{
		ProviderStatus: providerStatus,
		Status:         forced,
		Stage:          body.Data.Stage,
		Description:    body.Data.Description,
		Location:       body.Data.Location,
		Timestamp:      *ts,
		RawPayload:     json.RawMessage(payload),
		DeliveredAt:    deliveredAt,
		PayloadDigest:  digest,
		Source:         tracking.SourceWebhook,
	})
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}

	res.Status = out.Shipment.Status
	if !out.Appended {
		res.Outcome = OutcomeDuplicate
		return res
	}
	res.Outcome = OutcomeApplied
	r.evict(ctx, out.Shipment)
	return res
}

func (r *Reconciler) evict(ctx context.Context, sh *shipper.Shipment) {
	if r.cache == nil || sh.ProviderOrderID == "" {
		return
	}
	if err := r.cache.Delete(ctx, rediscache.TrackingKey(sh.ProviderOrderID)); err != nil {
		r.logger.Ctx(ctx).Warn("Tracking cache eviction failed", zap.String("shipment_id", sh.ID), zap.Error(err))
	}
}

// locate resolves the shipment by provider order id, then provider
// shipment id, then tracking number.
func (r *Reconciler) locate(ctx context.Context, d Data) (*shipper.Shipment, error) {
	lookups := []struct {
		id   string
		find func(context.Context, string) (*shipper.Shipment, error)
	}{
		{d.OrderID, r.store.FindShipmentByProviderOrderID},
		{d.ShipmentID, r.store.FindShipmentByProviderShipmentID},
		{d.TrackingNumber, r.store.FindShipmentByTrackingNumber},
	}
	for _, l := range lookups {
		if l.id == "" {
			continue
		}
		sh, err := l.find(ctx, l.id)
		if err == nil {
			return sh, nil
		}
		if !errors.Is(err, shipper.ErrShipmentNotFound) {
			return nil, err
		}
	}
	return nil, shipper.ErrShipmentNotFound
}

// statusFor returns the provider status to record and, for the terminal
// event types, the internal status they imply. ok is false for events that
// carry no status.
func statusFor(p Payload) (providerStatus string, forced shipper.ShipmentStatus, ok bool) {
	providerStatus = strings.TrimSpace(p.Data.Status)

	switch p.Event {
	case EventDelivered:
		return firstNonEmpty(providerStatus, "delivered"), shipper.StatusDelivered, true
	case EventFailed:
		return firstNonEmpty(providerStatus, "failed"), shipper.StatusFailedDelivery, true
	case EventReturned:
		return firstNonEmpty(providerStatus, "returned"), shipper.StatusReturned, true
	case EventCreated:
		return firstNonEmpty(providerStatus, "created"), "", true
	case EventUpdated, EventStatusChanged:
		return providerStatus, "", providerStatus != ""
	}
	return "", "", false
}

func metricEvent(event string) string {
	switch event {
	case EventCreated, EventUpdated, EventStatusChanged, EventDelivered, EventFailed, EventReturned:
		return event
	}
	return "other"
}

func parseTime(v string) *time.Time {
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
