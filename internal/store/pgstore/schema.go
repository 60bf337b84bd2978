package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL DEFAULT '',
  customer JSONB NOT NULL DEFAULT '{}',
  items JSONB NOT NULL DEFAULT '[]',
  shipping_address JSONB NOT NULL DEFAULT '{}',
  price DOUBLE PRECISION NOT NULL DEFAULT 0,
  currency TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT '',
  tracking_number TEXT NOT NULL DEFAULT ''
)`,
		`
CREATE TABLE IF NOT EXISTS shipments (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  tracking_number TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  provider_order_id TEXT NOT NULL DEFAULT '',
  provider_shipment_id TEXT NOT NULL DEFAULT '',
  provider_status TEXT NOT NULL DEFAULT '',
  delivery_company TEXT NOT NULL DEFAULT '',
  sender JSONB NOT NULL DEFAULT '{}',
  recipient JSONB NOT NULL DEFAULT '{}',
  weight_kg DOUBLE PRECISION NOT NULL DEFAULT 0,
  package_count INT NOT NULL DEFAULT 0,
  cod_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
  estimated_delivery TIMESTAMPTZ NULL,
  actual_delivery TIMESTAMPTZ NULL,
  metadata JSONB NOT NULL DEFAULT '{}',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_tracking_number ON shipments(tracking_number)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_provider_order_id ON shipments(provider_order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_provider_shipment_id ON shipments(provider_shipment_id)`,
		`
CREATE TABLE IF NOT EXISTS tracking_events (
  id TEXT PRIMARY KEY,
  shipment_id TEXT NOT NULL REFERENCES shipments(id),
  status TEXT NOT NULL,
  provider_status TEXT NOT NULL,
  stage TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  event_time TIMESTAMPTZ NOT NULL,
  raw_payload JSONB NULL,
  payload_digest TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`ALTER TABLE tracking_events ADD COLUMN IF NOT EXISTS payload_digest TEXT NULL`,
		// Replayed webhooks and repeated polls must not duplicate history.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_tracking_events_dedup ON tracking_events(shipment_id, provider_status, event_time)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_tracking_events_digest ON tracking_events(shipment_id, payload_digest) WHERE payload_digest IS NOT NULL`,
		`
CREATE TABLE IF NOT EXISTS boxes (
  id TEXT PRIMARY KEY,
  shipment_id TEXT NOT NULL REFERENCES shipments(id),
  name TEXT NOT NULL DEFAULT '',
  weight DOUBLE PRECISION NOT NULL,
  weight_unit TEXT NOT NULL,
  length DOUBLE PRECISION NOT NULL DEFAULT 0,
  width DOUBLE PRECISION NOT NULL DEFAULT 0,
  height DOUBLE PRECISION NOT NULL DEFAULT 0,
  dim_unit TEXT NOT NULL DEFAULT 'cm'
)`,
		`CREATE INDEX IF NOT EXISTS idx_boxes_shipment_id ON boxes(shipment_id)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
