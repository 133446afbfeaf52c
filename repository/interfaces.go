package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tomasmejiag0/puracalle-food/models"
)

// ErrConditionNotMet is returned when a conditional update matched no row:
// the order is missing or no longer satisfies the transition precondition.
var ErrConditionNotMet = errors.New("repository: condition not met")

// OrderRepositoryI defines operations on Order entities. Every state change
// is a single conditional update returning the post-image of the row.
type OrderRepositoryI interface {
	Create(ctx context.Context, o *models.Order) (*models.Order, error)
	GetByID(ctx context.Context, id string) (*models.Order, error)
	Claim(ctx context.Context, id, courierID string, at time.Time) (*models.Order, error)
	StartDelivery(ctx context.Context, id, courierID string, at time.Time) (*models.Order, error)
	Complete(ctx context.Context, id, courierID, photoRef string, at time.Time) (*models.Order, error)
	Release(ctx context.Context, id, courierID string, at time.Time) (*models.Order, error)
	Cancel(ctx context.Context, id, customerID string, from []models.DetailedStatus, at time.Time) (*models.Order, error)
	Advance(ctx context.Context, id string, from, to models.DetailedStatus, at time.Time) (*models.Order, error)
	ListAvailable(ctx context.Context, limit int) ([]*models.Order, error)
	ListForCourier(ctx context.Context, courierID string) ([]*models.Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]*models.Order, error)
}

// PhotoRepositoryI stores one evidence record per order.
type PhotoRepositoryI interface {
	Upsert(ctx context.Context, p *models.DeliveryPhoto) (*models.DeliveryPhoto, error)
	Get(ctx context.Context, orderID string) (*models.DeliveryPhoto, error)
}

// LocationRepositoryI is the append-only courier location stream.
type LocationRepositoryI interface {
	Append(ctx context.Context, s *models.LocationSample) error
	Latest(ctx context.Context, courierID string) (*models.LocationSample, error)
	Recent(ctx context.Context, courierID string, n int) ([]models.LocationSample, error)
}

// OutboxRepositoryI holds notifications until the broker accepts them.
type OutboxRepositoryI interface {
	Insert(ctx context.Context, m models.OutboxMessage) error
	GetPendingMessages(ctx context.Context, now time.Time, limit int) ([]models.OutboxMessage, error)
	Delete(ctx context.Context, id int64) error
	UpdateRetry(ctx context.Context, id int64, retryCount int, lastError string, nextRetryAt time.Time) error
}

func nanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
