package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/tomasmejiag0/puracalle-food/models"
)

var locationColumns = []string{
	"id", "courier_id", "order_id", "latitude", "longitude", "accuracy", "heading", "speed", "sampled_at",
}

// LocationRepository persists the append-only courier location stream.
type LocationRepository struct {
	db *sql.DB
}

// NewLocationRepository creates a new LocationRepository.
func NewLocationRepository(db *sql.DB) *LocationRepository {
	return &LocationRepository{db: db}
}

// Append stores a sample. Samples are never updated; an empty ID is filled in.
func (r *LocationRepository) Append(ctx context.Context, s *models.LocationSample) error {
	if s == nil || s.CourierID == "" {
		return errors.New("sample with courier id is required")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.SampledAt.IsZero() {
		s.SampledAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	query, args, err := sq.Insert("courier_locations").
		Columns(locationColumns...).
		Values(s.ID, s.CourierID, s.OrderID, s.Lat, s.Lng, s.Accuracy, s.Heading, s.Speed, nanos(s.SampledAt)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert location: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// Latest returns the courier's current location: the sample with the newest
// sampled_at. It returns (nil, nil) when the courier has no samples.
func (r *LocationRepository) Latest(ctx context.Context, courierID string) (*models.LocationSample, error) {
	samples, err := r.Recent(ctx, courierID, 1)
	if err != nil || len(samples) == 0 {
		return nil, err
	}
	return &samples[0], nil
}

// Recent returns up to n of the courier's newest samples in chronological order.
func (r *LocationRepository) Recent(ctx context.Context, courierID string, n int) ([]models.LocationSample, error) {
	if n <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	query, args, err := sq.Select(locationColumns...).
		From("courier_locations").
		Where(sq.Eq{"courier_id": courierID}).
		OrderBy("sampled_at DESC", "seq DESC").
		Limit(uint64(n)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select locations: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LocationSample
	for rows.Next() {
		var (
			s                      models.LocationSample
			orderID                sql.NullString
			accuracy, heading, spd sql.NullFloat64
			sampledAt              int64
		)
		if err := rows.Scan(&s.ID, &s.CourierID, &orderID, &s.Lat, &s.Lng, &accuracy, &heading, &spd, &sampledAt); err != nil {
			return nil, err
		}
		if orderID.Valid {
			v := orderID.String
			s.OrderID = &v
		}
		s.Accuracy = nullFloat(accuracy)
		s.Heading = nullFloat(heading)
		s.Speed = nullFloat(spd)
		s.SampledAt = fromNanos(sampledAt)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// newest-first from the index, callers want a trail in time order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
