package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/tomasmejiag0/puracalle-food/internal/geo"
	"github.com/tomasmejiag0/puracalle-food/internal/logger"
	"github.com/tomasmejiag0/puracalle-food/internal/orders"
	"github.com/tomasmejiag0/puracalle-food/models"
)

// ErrInvalidSample is returned for samples without a courier or with
// coordinates out of range. It matches orders.ErrInvalidArgument.
var ErrInvalidSample = fmt.Errorf("%w: location sample", orders.ErrInvalidArgument)

// SampleStore appends samples to the location stream.
type SampleStore interface {
	Append(ctx context.Context, s *models.LocationSample) error
}

// Broadcaster fans samples out to live subscribers.
type Broadcaster interface {
	PublishLocation(s models.LocationSample)
}

// Ingestor is the server side of location publishing: it appends each
// sample to the store, then broadcasts it. It implements Sink.
type Ingestor struct {
	store  SampleStore
	feed   Broadcaster
	orders OrderSource
	log    logger.ILogger
	now    func() time.Time
}

// NewIngestor wires a store and a broadcaster. feed may be nil.
func NewIngestor(store SampleStore, feed Broadcaster, log logger.ILogger) *Ingestor {
	if log == nil {
		log = logger.Nop()
	}
	return &Ingestor{store: store, feed: feed, log: log, now: time.Now}
}

// RequireAssignment makes samples tagged with an order id acceptable only
// from the courier currently holding that order.
func (i *Ingestor) RequireAssignment(src OrderSource) *Ingestor {
	i.orders = src
	return i
}

// PublishLocation implements Sink.
func (i *Ingestor) PublishLocation(ctx context.Context, s models.LocationSample) error {
	if s.CourierID == "" {
		return fmt.Errorf("%w: courier id is required", ErrInvalidSample)
	}
	if !(geo.Point{Lat: s.Lat, Lng: s.Lng}).Valid() {
		return fmt.Errorf("%w: coordinates out of range", ErrInvalidSample)
	}
	if s.Accuracy != nil && *s.Accuracy < 0 {
		return fmt.Errorf("%w: negative accuracy", ErrInvalidSample)
	}
	if i.orders != nil && s.OrderID != nil && *s.OrderID != "" {
		o, err := i.orders.Get(ctx, *s.OrderID)
		if err != nil {
			return err
		}
		if holder, ok := o.AssignedCourier(); !ok || holder != s.CourierID {
			i.log.Debug("location for unheld order rejected",
				logger.String("courier_id", s.CourierID), logger.String("order_id", *s.OrderID))
			return orders.ErrNotAuthorized
		}
	}
	if s.SampledAt.IsZero() {
		s.SampledAt = i.now().UTC()
	}
	if err := i.store.Append(ctx, &s); err != nil {
		return fmt.Errorf("append location: %w", err)
	}
	if i.feed != nil {
		i.feed.PublishLocation(s)
	}
	return nil
}
