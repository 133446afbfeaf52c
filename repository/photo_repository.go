package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tomasmejiag0/puracalle-food/models"
)

// PhotoRepository stores delivery evidence keyed by order id, so a retried
// upload replaces the reference instead of adding a second record.
type PhotoRepository struct {
	db *sql.DB
}

// NewPhotoRepository creates a new PhotoRepository.
func NewPhotoRepository(db *sql.DB) *PhotoRepository {
	return &PhotoRepository{db: db}
}

// Upsert records the photo for p.OrderID, replacing any earlier reference.
func (r *PhotoRepository) Upsert(ctx context.Context, p *models.DeliveryPhoto) (*models.DeliveryPhoto, error) {
	if p == nil || p.OrderID == "" || p.PhotoRef == "" {
		return nil, errors.New("order id and photo reference are required")
	}
	at := p.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	query, args, err := sq.Insert("delivery_photos").
		Columns("order_id", "courier_id", "photo_ref", "created_at", "updated_at").
		Values(p.OrderID, p.CourierID, p.PhotoRef, nanos(at), nanos(at)).
		Suffix(`ON CONFLICT (order_id) DO UPDATE SET
    courier_id = excluded.courier_id,
    photo_ref = excluded.photo_ref,
    updated_at = excluded.updated_at
RETURNING order_id, courier_id, photo_ref, created_at, updated_at`).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build upsert photo: %w", err)
	}
	return scanPhoto(r.db.QueryRowContext(ctx, query, args...))
}

// Get returns the evidence record for an order, or (nil, nil) if none exists.
func (r *PhotoRepository) Get(ctx context.Context, orderID string) (*models.DeliveryPhoto, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	query, args, err := sq.Select("order_id", "courier_id", "photo_ref", "created_at", "updated_at").
		From("delivery_photos").
		Where(sq.Eq{"order_id": orderID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select photo: %w", err)
	}
	p, err := scanPhoto(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func scanPhoto(row rowScanner) (*models.DeliveryPhoto, error) {
	var p models.DeliveryPhoto
	var created, updated int64
	if err := row.Scan(&p.OrderID, &p.CourierID, &p.PhotoRef, &created, &updated); err != nil {
		return nil, err
	}
	p.CreatedAt = fromNanos(created)
	p.UpdatedAt = fromNanos(updated)
	return &p, nil
}
