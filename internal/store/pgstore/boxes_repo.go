package pgstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/tournevent/shipsync/pkg/shipper"
)

func (s *Storage) SaveBoxes(ctx context.Context, shipmentID string, boxes []shipper.Box) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM boxes WHERE shipment_id = $1`, shipmentID); err != nil {
		return errors.Wrap(err, "delete boxes")
	}

	for _, b := range boxes {
		if b.ID == "" {
			b.ID = uuid.New().String()
		}
		dimUnit := b.DimUnit
		if dimUnit == "" {
			dimUnit = "cm"
		}
		_, err := tx.Exec(ctx, `
INSERT INTO boxes (id, shipment_id, name, weight, weight_unit, length, width, height, dim_unit)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, b.ID, shipmentID, b.Name, b.Weight, string(b.WeightUnit), b.Length, b.Width, b.Height, dimUnit)
		if err != nil {
			return errors.Wrap(err, "insert box")
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) ListBoxes(ctx context.Context, shipmentID string) ([]shipper.Box, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, shipment_id, name, weight, weight_unit, length, width, height, dim_unit
FROM boxes
WHERE shipment_id = $1
ORDER BY name
`, shipmentID)
	if err != nil {
		return nil, errors.Wrap(err, "select boxes")
	}
	defer rows.Close()

	var out []shipper.Box
	for rows.Next() {
		var (
			b    shipper.Box
			unit string
		)
		if err := rows.Scan(&b.ID, &b.ShipmentID, &b.Name, &b.Weight, &unit, &b.Length, &b.Width, &b.Height, &b.DimUnit); err != nil {
			return nil, errors.Wrap(err, "scan box")
		}
		b.WeightUnit = shipper.WeightUnit(unit)
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
