package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tomasmejiag0/puracalle-food/models"
)

// ListAvailable returns offered, unassigned orders oldest first.
// A non-positive limit returns every available order.
func (r *OrderRepository) ListAvailable(ctx context.Context, limit int) ([]*models.Order, error) {
	b := sq.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"status_detailed": string(models.StatusReadyForPickup), "assigned_courier_id": nil}).
		OrderBy("created_at ASC", "seq ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return r.list(ctx, b)
}

// ListForCourier returns the orders the courier currently holds, oldest first.
func (r *OrderRepository) ListForCourier(ctx context.Context, courierID string) ([]*models.Order, error) {
	b := sq.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{
			"assigned_courier_id": courierID,
			"status_detailed":     []string{string(models.StatusAssignedToDriver), string(models.StatusOutForDelivery)},
		}).
		OrderBy("created_at ASC", "seq ASC")
	return r.list(ctx, b)
}

// ListByCustomer returns the customer's order history, newest first.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	b := sq.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"customer_id": customerID}).
		OrderBy("created_at DESC", "seq DESC").
		Limit(uint64(limit))
	return r.list(ctx, b)
}

func (r *OrderRepository) list(ctx context.Context, b sq.SelectBuilder) ([]*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list orders: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// scanOrderRows is a helper to scan rows into Order objects.
func scanOrderRows(rows *sql.Rows) ([]*models.Order, error) {
	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
