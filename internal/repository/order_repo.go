package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"gridmeter"
)

type OrderSQLite struct {
	db *sql.DB
}

func NewOrderSQLite(db *sql.DB) *OrderSQLite { return &OrderSQLite{db: db} }

// Ensure implementation of OrderRepo interface at compile time.
var _ OrderRepo = (*OrderSQLite)(nil)

const (
	upsertOrderSQL = `
		INSERT INTO energy_orders (id, server_id, side, amount_kwh, price_per_kwh,
			energy_source, created_at, expires_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			server_id=excluded.server_id,
			status=excluded.status
	`

	selectOrderSQL = `
		SELECT id, server_id, side, amount_kwh, price_per_kwh,
			energy_source, created_at, expires_at, status
		FROM energy_orders
	`
)

// Upsert inserts a new order or updates the mutable columns of an existing
// one. Only server_id and status ever change after creation.
func (r *OrderSQLite) Upsert(ctx context.Context, o gridmeter.Order) error {
	_, err := r.db.ExecContext(ctx, upsertOrderSQL,
		o.ID,
		o.ServerID,
		string(o.Side),
		o.AmountKWh.String(),
		o.PricePerKWh.String(),
		string(o.Source),
		o.CreatedAt.UTC(),
		o.ExpiresAt.UTC(),
		string(o.Status),
	)
	if err != nil {
		return fmt.Errorf("upsert order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID fetches one order. Returns (nil, nil) if not found.
func (r *OrderSQLite) GetByID(ctx context.Context, id string) (*gridmeter.Order, error) {
	row := r.db.QueryRowContext(ctx, selectOrderSQL+" WHERE id = ?", id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select order %q: %w", id, err)
	}
	return o, nil
}

// ListPending returns all orders still awaiting a terminal status, oldest first.
func (r *OrderSQLite) ListPending(ctx context.Context) ([]gridmeter.Order, error) {
	return r.list(ctx, selectOrderSQL+" WHERE status = ? ORDER BY created_at ASC", string(gridmeter.OrderPending))
}

// ListRecent returns up to limit orders, newest first.
func (r *OrderSQLite) ListRecent(ctx context.Context, limit int) ([]gridmeter.Order, error) {
	return r.list(ctx, selectOrderSQL+" ORDER BY created_at DESC LIMIT ?", limit)
}

func (r *OrderSQLite) list(ctx context.Context, q string, args ...any) ([]gridmeter.Order, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]gridmeter.Order, 0, 16)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*gridmeter.Order, error) {
	var (
		o            gridmeter.Order
		serverID     sql.NullString
		side, status string
		source       string
		amount       string
		price        string
	)
	if err := s.Scan(
		&o.ID,
		&serverID,
		&side,
		&amount,
		&price,
		&source,
		&o.CreatedAt,
		&o.ExpiresAt,
		&status,
	); err != nil {
		return nil, err
	}

	o.ServerID = serverID.String
	o.Side = gridmeter.OrderSide(side)
	o.Source = gridmeter.EnergySource(source)
	o.Status = gridmeter.OrderStatus(status)
	o.CreatedAt = o.CreatedAt.UTC()
	o.ExpiresAt = o.ExpiresAt.UTC()

	var err error
	if o.AmountKWh, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if o.PricePerKWh, err = decimal.NewFromString(price); err != nil {
		return nil, err
	}
	return &o, nil
}
