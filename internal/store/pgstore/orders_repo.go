package pgstore

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/tournevent/shipsync/pkg/shipper"
)

func (s *Storage) GetOrder(ctx context.Context, id string) (*shipper.Order, error) {
	var (
		o                                shipper.Order
		customer, items, shippingAddress []byte
		status                           string
	)
	err := s.db.QueryRow(ctx, `
SELECT id, order_number, customer, items, shipping_address, price, currency, status, tracking_number
FROM orders
WHERE id = $1
`, id).Scan(&o.ID, &o.OrderNumber, &customer, &items, &shippingAddress, &o.Price, &o.Currency, &status, &o.TrackingNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shipper.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	o.Status = shipper.OrderStatus(status)

	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, errors.Wrap(err, "decode order customer")
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, errors.Wrap(err, "decode order items")
	}
	if err := json.Unmarshal(shippingAddress, &o.ShippingAddress); err != nil {
		return nil, errors.Wrap(err, "decode order address")
	}
	return &o, nil
}

func (s *Storage) SaveOrder(ctx context.Context, o *shipper.Order) error {
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return errors.Wrap(err, "encode order customer")
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "encode order items")
	}
	shippingAddress, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return errors.Wrap(err, "encode order address")
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO orders (id, order_number, customer, items, shipping_address, price, currency, status, tracking_number)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
  order_number = EXCLUDED.order_number,
  customer = EXCLUDED.customer,
  items = EXCLUDED.items,
  shipping_address = EXCLUDED.shipping_address,
  price = EXCLUDED.price,
  currency = EXCLUDED.currency,
  status = EXCLUDED.status,
  tracking_number = EXCLUDED.tracking_number
`, o.ID, o.OrderNumber, customer, items, shippingAddress, o.Price, o.Currency, string(o.Status), o.TrackingNumber)
	return errors.Wrap(err, "upsert order")
}

func (s *Storage) UpdateOrderStatus(ctx context.Context, id string, status shipper.OrderStatus, trackingNumber string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE orders
SET status = $2,
    tracking_number = CASE WHEN $3::text = '' THEN tracking_number ELSE $3::text END
WHERE id = $1
`, id, string(status), trackingNumber)
	if err != nil {
		return errors.Wrap(err, "update order status")
	}
	if tag.RowsAffected() == 0 {
		return shipper.ErrOrderNotFound
	}
	return nil
}
