package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tomasmejiag0/puracalle-food/models"
)

var orderColumns = []string{
	"id", "customer_id", "status_detailed", "assigned_courier_id", "delivered_by",
	"courier_accepted_at", "out_for_delivery_at", "delivered_at", "cancelled_at", "cancelled_by",
	"delivery_code", "delivery_photo_ref",
	"address_id", "address_lat", "address_lng", "address_text", "address_phone", "address_instructions",
	"total_amount", "items", "created_at", "updated_at",
}

var returningOrder = "RETURNING " + strings.Join(orderColumns, ", ")

// OrderRepository is the core repository for Order entities.
// State changes go through conditional updates so concurrent writers never
// overwrite each other.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a new order in one of the fieldless initial states.
func (r *OrderRepository) Create(ctx context.Context, o *models.Order) (*models.Order, error) {
	if o == nil {
		return nil, errors.New("order is nil")
	}
	if o.ID == "" || o.CustomerID == "" {
		return nil, errors.New("order id and customer id are required")
	}
	if _, ok := models.InitialState(o.Detailed()); !ok {
		return nil, fmt.Errorf("order cannot be created in state %q", o.Detailed())
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}
	if o.Items == nil {
		items = []byte("[]")
	}
	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	query, args, err := sq.Insert("orders").
		SetMap(map[string]any{
			"id":                   o.ID,
			"customer_id":          o.CustomerID,
			"status":               string(o.Status()),
			"status_detailed":      string(o.Detailed()),
			"delivery_code":        o.DeliveryCode,
			"address_id":           nullString(o.Address.ID),
			"address_lat":          o.Address.Lat,
			"address_lng":          o.Address.Lng,
			"address_text":         o.Address.Text,
			"address_phone":        o.Address.Phone,
			"address_instructions": o.Address.Instructions,
			"total_amount":         o.TotalAmount,
			"items":                string(items),
			"created_at":           nanos(created),
			"updated_at":           nanos(created),
		}).
		Suffix(returningOrder).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert order: %w", err)
	}
	return scanOrder(r.db.QueryRowContext(ctx, query, args...))
}

// GetByID fetches an order by its ID. It returns (nil, nil) when absent.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	query, args, err := sq.Select(orderColumns...).From("orders").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select order: %w", err)
	}
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return o, nil
}

// Claim assigns an offered, unassigned order to courierID.
func (r *OrderRepository) Claim(ctx context.Context, id, courierID string, at time.Time) (*models.Order, error) {
	return r.apply(ctx, id,
		sq.Eq{"status_detailed": string(models.StatusReadyForPickup), "assigned_courier_id": nil},
		map[string]any{
			"status_detailed":     string(models.StatusAssignedToDriver),
			"status":              string(models.OrderStatusPending),
			"assigned_courier_id": courierID,
			"courier_accepted_at": nanos(at),
			"out_for_delivery_at": nil,
			"updated_at":          nanos(at),
		})
}

// StartDelivery moves the courier's assigned order out for delivery.
func (r *OrderRepository) StartDelivery(ctx context.Context, id, courierID string, at time.Time) (*models.Order, error) {
	return r.apply(ctx, id,
		sq.Eq{"status_detailed": string(models.StatusAssignedToDriver), "assigned_courier_id": courierID},
		map[string]any{
			"status_detailed":     string(models.StatusOutForDelivery),
			"out_for_delivery_at": nanos(at),
			"updated_at":          nanos(at),
		})
}

// Complete marks the courier's order delivered with its evidence photo.
// The assignment is cleared; delivered_by keeps the courier.
func (r *OrderRepository) Complete(ctx context.Context, id, courierID, photoRef string, at time.Time) (*models.Order, error) {
	if photoRef == "" {
		return nil, errors.New("photo reference is required")
	}
	return r.apply(ctx, id,
		sq.Eq{"status_detailed": string(models.StatusOutForDelivery), "assigned_courier_id": courierID},
		map[string]any{
			"status_detailed":     string(models.StatusDelivered),
			"status":              string(models.OrderStatusCompleted),
			"assigned_courier_id": nil,
			"delivered_by":        courierID,
			"delivered_at":        nanos(at),
			"delivery_photo_ref":  photoRef,
			"updated_at":          nanos(at),
		})
}

// Release returns the courier's order to the available pool.
func (r *OrderRepository) Release(ctx context.Context, id, courierID string, at time.Time) (*models.Order, error) {
	return r.apply(ctx, id,
		sq.Eq{
			"status_detailed":     []string{string(models.StatusAssignedToDriver), string(models.StatusOutForDelivery)},
			"assigned_courier_id": courierID,
		},
		map[string]any{
			"status_detailed":     string(models.StatusReadyForPickup),
			"assigned_courier_id": nil,
			"courier_accepted_at": nil,
			"out_for_delivery_at": nil,
			"updated_at":          nanos(at),
		})
}

// Cancel cancels the customer's order if it is still in one of the from states.
func (r *OrderRepository) Cancel(ctx context.Context, id, customerID string, from []models.DetailedStatus, at time.Time) (*models.Order, error) {
	if len(from) == 0 {
		return nil, errors.New("cancel requires at least one source state")
	}
	return r.apply(ctx, id,
		sq.Eq{"status_detailed": statusStrings(from), "customer_id": customerID},
		map[string]any{
			"status_detailed":     string(models.StatusCancelled),
			"status":              string(models.OrderStatusCancelled),
			"assigned_courier_id": nil,
			"cancelled_at":        nanos(at),
			"cancelled_by":        customerID,
			"updated_at":          nanos(at),
		})
}

// Advance moves an unassigned order through the kitchen states.
func (r *OrderRepository) Advance(ctx context.Context, id string, from, to models.DetailedStatus, at time.Time) (*models.Order, error) {
	return r.apply(ctx, id,
		sq.Eq{"status_detailed": string(from), "assigned_courier_id": nil},
		map[string]any{
			"status_detailed": string(to),
			"status":          string(to.Summary()),
			"updated_at":      nanos(at),
		})
}

// apply runs one conditional update and returns the row as written.
func (r *OrderRepository) apply(ctx context.Context, id string, cond sq.Eq, set map[string]any) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	query, args, err := sq.Update("orders").
		SetMap(set).
		Where(sq.Eq{"id": id}).
		Where(cond).
		Suffix(returningOrder).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update order: %w", err)
	}
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConditionNotMet
		}
		return nil, err
	}
	return o, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o                                   models.Order
		detailed, items                     string
		assigned, deliveredBy, cancelledBy  sql.NullString
		photoRef, addressID                 sql.NullString
		acceptedAt, departedAt, deliveredAt sql.NullInt64
		cancelledAt                         sql.NullInt64
		createdAt, updatedAt                int64
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &detailed, &assigned, &deliveredBy,
		&acceptedAt, &departedAt, &deliveredAt, &cancelledAt, &cancelledBy,
		&o.DeliveryCode, &photoRef,
		&addressID, &o.Address.Lat, &o.Address.Lng, &o.Address.Text, &o.Address.Phone, &o.Address.Instructions,
		&o.TotalAmount, &items, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Address.ID = addressID.String
	o.CreatedAt = fromNanos(createdAt)
	o.UpdatedAt = fromNanos(updatedAt)
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of order %s: %w", o.ID, err)
	}

	ts := func(n sql.NullInt64) time.Time {
		if !n.Valid {
			return time.Time{}
		}
		return fromNanos(n.Int64)
	}
	switch s := models.DetailedStatus(detailed); s {
	case models.StatusPending, models.StatusPreparing, models.StatusReadyForPickup:
		o.State, _ = models.InitialState(s)
	case models.StatusAssignedToDriver:
		o.State = models.AssignedToDriver{CourierID: assigned.String, AcceptedAt: ts(acceptedAt)}
	case models.StatusOutForDelivery:
		o.State = models.OutForDelivery{CourierID: assigned.String, AcceptedAt: ts(acceptedAt), DepartedAt: ts(departedAt)}
	case models.StatusDelivered:
		o.State = models.Delivered{
			CourierID:   deliveredBy.String,
			AcceptedAt:  ts(acceptedAt),
			DepartedAt:  ts(departedAt),
			DeliveredAt: ts(deliveredAt),
			PhotoRef:    photoRef.String,
		}
	case models.StatusCancelled:
		o.State = models.Cancelled{CancelledAt: ts(cancelledAt), By: cancelledBy.String}
	default:
		return nil, fmt.Errorf("order %s has unknown status %q", o.ID, detailed)
	}
	return &o, nil
}

func statusStrings(in []models.DetailedStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
