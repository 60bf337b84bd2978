package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/tournevent/shipsync/internal/store"
	"github.com/tournevent/shipsync/pkg/shipper"
)

const pgUniqueViolation = "23505"

const shipmentColumns = `
  id, order_id, tracking_number, status,
  provider_order_id, provider_shipment_id, provider_status, delivery_company,
  sender, recipient, weight_kg, package_count, cod_amount,
  estimated_delivery, actual_delivery, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShipment(row rowScanner) (*shipper.Shipment, error) {
	var (
		sh                          shipper.Shipment
		status                      string
		sender, recipient, metadata []byte
	)
	if err := row.Scan(
		&sh.ID, &sh.OrderID, &sh.TrackingNumber, &status,
		&sh.ProviderOrderID, &sh.ProviderShipmentID, &sh.ProviderStatus, &sh.DeliveryCompany,
		&sender, &recipient, &sh.WeightKG, &sh.PackageCount, &sh.CODAmount,
		&sh.EstimatedDelivery, &sh.ActualDelivery, &metadata, &sh.CreatedAt, &sh.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sh.Status = shipper.ShipmentStatus(status)

	if err := json.Unmarshal(sender, &sh.Sender); err != nil {
		return nil, errors.Wrap(err, "decode sender")
	}
	if err := json.Unmarshal(recipient, &sh.Recipient); err != nil {
		return nil, errors.Wrap(err, "decode recipient")
	}
	if err := json.Unmarshal(metadata, &sh.Metadata); err != nil {
		return nil, errors.Wrap(err, "decode metadata")
	}
	return &sh, nil
}

func (s *Storage) findShipment(ctx context.Context, where string, arg any) (*shipper.Shipment, error) {
	row := s.db.QueryRow(ctx, `SELECT`+shipmentColumns+` FROM shipments WHERE `+where+` LIMIT 1`, arg)
	sh, err := scanShipment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shipper.ErrShipmentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return sh, nil
}

func (s *Storage) FindShipment(ctx context.Context, id string) (*shipper.Shipment, error) {
	return s.findShipment(ctx, "id = $1", id)
}

func (s *Storage) FindShipmentByOrderID(ctx context.Context, orderID string) (*shipper.Shipment, error) {
	return s.findShipment(ctx, "order_id = $1", orderID)
}

func (s *Storage) FindShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (*shipper.Shipment, error) {
	if trackingNumber == "" {
		return nil, shipper.ErrShipmentNotFound
	}
	return s.findShipment(ctx, "tracking_number = $1", trackingNumber)
}

func (s *Storage) FindShipmentByProviderOrderID(ctx context.Context, providerOrderID string) (*shipper.Shipment, error) {
	if providerOrderID == "" {
		return nil, shipper.ErrShipmentNotFound
	}
	return s.findShipment(ctx, "provider_order_id = $1", providerOrderID)
}

func (s *Storage) FindShipmentByProviderShipmentID(ctx context.Context, providerShipmentID string) (*shipper.Shipment, error) {
	if providerShipmentID == "" {
		return nil, shipper.ErrShipmentNotFound
	}
	return s.findShipment(ctx, "provider_shipment_id = $1", providerShipmentID)
}

func (s *Storage) FindShipments(ctx context.Context, ids []string) ([]*shipper.Shipment, error) {
	if len(ids) == 0 {
		return []*shipper.Shipment{}, nil
	}

	rows, err := s.db.Query(ctx, `SELECT`+shipmentColumns+` FROM shipments WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select shipments")
	}
	defer rows.Close()

	byID := make(map[string]*shipper.Shipment, len(ids))
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		byID[sh.ID] = sh
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	out := make([]*shipper.Shipment, 0, len(byID))
	for _, id := range ids {
		if sh, ok := byID[id]; ok {
			out = append(out, sh)
			delete(byID, id)
		}
	}
	return out, nil
}

func shipmentArgs(sh *shipper.Shipment) ([]any, error) {
	sender, err := json.Marshal(sh.Sender)
	if err != nil {
		return nil, errors.Wrap(err, "encode sender")
	}
	recipient, err := json.Marshal(sh.Recipient)
	if err != nil {
		return nil, errors.Wrap(err, "encode recipient")
	}
	metadata, err := json.Marshal(sh.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "encode metadata")
	}

	return []any{
		sh.ID, sh.OrderID, sh.TrackingNumber, string(sh.Status),
		sh.ProviderOrderID, sh.ProviderShipmentID, sh.ProviderStatus, sh.DeliveryCompany,
		sender, recipient, sh.WeightKG, sh.PackageCount, sh.CODAmount,
		sh.EstimatedDelivery, sh.ActualDelivery, metadata, sh.CreatedAt, sh.UpdatedAt,
	}, nil
}

func (s *Storage) CreateShipment(ctx context.Context, sh *shipper.Shipment) error {
	if sh.ID == "" {
		sh.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	sh.CreatedAt = now
	sh.UpdatedAt = now

	args, err := shipmentArgs(sh)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `INSERT INTO shipments (`+shipmentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
`, args...)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return shipper.ErrShipmentAlreadyExists
	}
	return errors.Wrap(err, "insert shipment")
}

const updateShipmentSQL = `
UPDATE shipments
SET
  tracking_number = $3,
  status = $4,
  provider_order_id = $5,
  provider_shipment_id = $6,
  provider_status = $7,
  delivery_company = $8,
  sender = $9,
  recipient = $10,
  weight_kg = $11,
  package_count = $12,
  cod_amount = $13,
  estimated_delivery = $14,
  actual_delivery = $15,
  metadata = $16,
  updated_at = $17
WHERE id = $1 AND order_id = $2
`

func (s *Storage) UpdateShipment(ctx context.Context, sh *shipper.Shipment) error {
	return s.updateShipment(ctx, s.db, sh)
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (s *Storage) updateShipment(ctx context.Context, db execer, sh *shipper.Shipment) error {
	sh.UpdatedAt = time.Now().UTC()

	args, err := shipmentArgs(sh)
	if err != nil {
		return err
	}

	// created_at is immutable
	args = append(args[:16], args[17])

	tag, err := db.Exec(ctx, updateShipmentSQL, args...)
	if err != nil {
		return errors.Wrap(err, "update shipment")
	}
	if tag.RowsAffected() == 0 {
		return shipper.ErrShipmentNotFound
	}
	return nil
}

func (s *Storage) ModifyShipment(ctx context.Context, id string, fn func(*shipper.Shipment) error) (*shipper.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sh, err := scanShipment(tx.QueryRow(ctx, `SELECT`+shipmentColumns+` FROM shipments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shipper.ErrShipmentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}

	storedID, storedOrderID := sh.ID, sh.OrderID
	if err := fn(sh); err != nil {
		return nil, err
	}
	sh.ID, sh.OrderID = storedID, storedOrderID

	if err := s.updateShipment(ctx, tx, sh); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return sh, nil
}

const applyStatusChangeSQL = `
UPDATE shipments
SET
  status = $2,
  provider_status = $3,
  actual_delivery = COALESCE($4::timestamptz, actual_delivery),
  updated_at = $5
WHERE id = $1
RETURNING` + shipmentColumns

func (s *Storage) ApplyTrackingEvent(ctx context.Context, ev *shipper.TrackingEvent, change store.StatusChange) (store.AppliedEvent, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.AppliedEvent{}, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the shipment first so Previous is the status this change replaces.
	var previous string
	err = tx.QueryRow(ctx, `SELECT status FROM shipments WHERE id = $1 FOR UPDATE`, ev.ShipmentID).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.AppliedEvent{}, shipper.ErrShipmentNotFound
	}
	if err != nil {
		return store.AppliedEvent{}, errors.Wrap(err, "lock shipment")
	}

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.CreatedAt = time.Now().UTC()

	var payload []byte
	if len(ev.RawPayload) > 0 {
		payload = ev.RawPayload
	}

	tag, err := tx.Exec(ctx, `
INSERT INTO tracking_events (
  id, shipment_id, status, provider_status, stage, description, location, event_time, raw_payload,
  payload_digest, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10, ''),$11)
ON CONFLICT DO NOTHING
`, ev.ID, ev.ShipmentID, string(ev.Status), ev.ProviderStatus, ev.Stage, ev.Description, ev.Location,
		ev.Timestamp.UTC(), payload, ev.PayloadDigest, ev.CreatedAt)
	if err != nil {
		return store.AppliedEvent{}, errors.Wrap(err, "insert tracking event")
	}
	if tag.RowsAffected() == 0 {
		return store.AppliedEvent{}, nil
	}

	res := store.AppliedEvent{Appended: true, Previous: shipper.ShipmentStatus(previous)}
	if change.Status != "" {
		var delivered *time.Time
		if change.ActualDelivery != nil {
			t := change.ActualDelivery.UTC()
			delivered = &t
		}
		res.Shipment, err = scanShipment(tx.QueryRow(ctx, applyStatusChangeSQL,
			ev.ShipmentID, string(change.Status), change.ProviderStatus, delivered, time.Now().UTC()))
	} else {
		res.Shipment, err = scanShipment(tx.QueryRow(ctx, `SELECT`+shipmentColumns+` FROM shipments WHERE id = $1`, ev.ShipmentID))
	}
	if err != nil {
		return store.AppliedEvent{}, errors.Wrap(err, "apply status change")
	}

	if err := tx.Commit(ctx); err != nil {
		return store.AppliedEvent{}, errors.Wrap(err, "commit tx")
	}
	return res, nil
}

func (s *Storage) ListTrackingEvents(ctx context.Context, shipmentID string) ([]*shipper.TrackingEvent, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, shipment_id, status, provider_status, stage, description, location, event_time, raw_payload,
  COALESCE(payload_digest, ''), created_at
FROM tracking_events
WHERE shipment_id = $1
ORDER BY event_time DESC, created_at DESC
`, shipmentID)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*shipper.TrackingEvent
	for rows.Next() {
		var (
			e       shipper.TrackingEvent
			status  string
			payload []byte
		)
		if err := rows.Scan(
			&e.ID, &e.ShipmentID, &status, &e.ProviderStatus, &e.Stage, &e.Description, &e.Location,
			&e.Timestamp, &payload, &e.PayloadDigest, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		e.Status = shipper.ShipmentStatus(status)
		if len(payload) > 0 {
			e.RawPayload = payload
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
