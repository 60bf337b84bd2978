package shipment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tournevent/shipsync/internal/cache/rediscache"
	"github.com/tournevent/shipsync/internal/tracking"
	"github.com/tournevent/shipsync/pkg/shipper"
	"github.com/tournevent/shipsync/pkg/shipper/provider"
	"go.uber.org/zap"
)

// Details is a shipment with its history and boxes.
type Details struct {
	Shipment *shipper.Shipment        `json:"shipment"`
	Events   []*shipper.TrackingEvent `json:"events"`
	Boxes    []shipper.Box            `json:"boxes"`
}

// TrackResult is the answer to TrackShipment. When the live provider call
// failed, Degraded is set and the result holds the stored data only.
type TrackResult struct {
	Details
	Live           *provider.TrackResponse `json:"live,omitempty"`
	Degraded       bool                    `json:"degraded"`
	DegradedReason string                  `json:"degradedReason,omitempty"`
}

// TrackShipment returns the stored tracking of a shipment, enriched with the
// provider's live tracking when the shipment has a provider order. A newer
// live event is recorded exactly as a webhook would record it. Live tracking
// failures never fail the call.
func (s *Service) TrackShipment(ctx context.Context, trackingNumber string) (*TrackResult, error) {
	if trackingNumber == "" {
		return nil, fmt.Errorf("%w: trackingNumber is required", shipper.ErrInvalidRequest)
	}

	sh, err := s.store.FindShipmentByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}

	if !sh.HasProviderOrder() {
		details, err := s.details(ctx, sh)
		if err != nil {
			return nil, err
		}
		return &TrackResult{Details: *details}, nil
	}

	result := &TrackResult{}
	live, err := s.liveTracking(ctx, sh)
	if err != nil {
		s.metrics.RecordTrackingDegraded()
		s.logger.Ctx(ctx).Warn("Live tracking unavailable, returning stored data",
			zap.String("shipment_id", sh.ID),
			zap.String("provider_order_id", sh.ProviderOrderID),
			zap.Error(err),
		)
		result.Degraded = true
		result.DegradedReason = err.Error()
	} else {
		result.Live = live
		if sh, err = s.applyLatest(ctx, sh, live); err != nil {
			return nil, err
		}
	}

	details, err := s.details(ctx, sh)
	if err != nil {
		return nil, err
	}
	result.Details = *details
	return result, nil
}

// applyLatest records the newest live event if it is newer than every stored one.
func (s *Service) applyLatest(ctx context.Context, sh *shipper.Shipment, live *provider.TrackResponse) (*shipper.Shipment, error) {
	latest, ts, ok := newestEvent(live.Events)
	if !ok {
		return sh, nil
	}

	stored, err := s.store.ListTrackingEvents(ctx, sh.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracking events: %w", err)
	}
	if len(stored) > 0 && !ts.After(stored[0].Timestamp) {
		return sh, nil
	}

	raw, _ := json.Marshal(latest)
	out, err := s.recorder.Record(ctx, sh, tracking.Observation{
		ProviderStatus: latest.Status,
		Stage:          latest.Stage,
		Description:    latest.Description,
		Location:       latest.Location,
		Timestamp:      ts,
		RawPayload:     raw,
		Source:         tracking.SourcePoll,
	})
	if err != nil {
		// Enrichment is best effort; the stored view is still valid.
		s.logger.Ctx(ctx).Warn("Failed to record live tracking event",
			zap.String("shipment_id", sh.ID),
			zap.Error(err),
		)
		return sh, nil
	}
	return out.Shipment, nil
}

// liveTracking asks the provider, going through the cache when one is configured.
func (s *Service) liveTracking(ctx context.Context, sh *shipper.Shipment) (*provider.TrackResponse, error) {
	key := rediscache.TrackingKey(sh.ProviderOrderID)
	if s.cache != nil {
		if b, ok, err := s.cache.Get(ctx, key); err != nil {
			s.logger.Ctx(ctx).Warn("Tracking cache read failed", zap.Error(err))
		} else if ok {
			var cached provider.TrackResponse
			if err := json.Unmarshal(b, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	live, err := s.api.TrackShipment(ctx, &provider.TrackRequest{
		OrderID:        sh.ProviderOrderID,
		TrackingNumber: sh.TrackingNumber,
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.cacheTTL > 0 {
		if b, err := json.Marshal(live); err == nil {
			if err := s.cache.Set(ctx, key, b, s.cacheTTL); err != nil {
				s.logger.Ctx(ctx).Warn("Tracking cache write failed", zap.Error(err))
			}
		}
	}
	return live, nil
}

func (s *Service) details(ctx context.Context, sh *shipper.Shipment) (*Details, error) {
	events, err := s.store.ListTrackingEvents(ctx, sh.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracking events: %w", err)
	}
	boxes, err := s.store.ListBoxes(ctx, sh.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list boxes: %w", err)
	}
	return &Details{Shipment: sh, Events: events, Boxes: boxes}, nil
}

// newestEvent returns the live event with the latest parseable timestamp.
// Events without a timestamp cannot be de-duplicated and are ignored.
func newestEvent(events []provider.TrackingEvent) (provider.TrackingEvent, time.Time, bool) {
	var (
		best   provider.TrackingEvent
		bestTS time.Time
		found  bool
	)
	for _, ev := range events {
		ts := parseProviderTime(ev.Timestamp)
		if ts == nil || ev.Status == "" {
			continue
		}
		if !found || ts.After(bestTS) {
			best, bestTS, found = ev, *ts, true
		}
	}
	return best, bestTS, found
}
