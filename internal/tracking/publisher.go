// Package tracking moves courier positions from the device to the people
// watching a delivery: Publisher samples and sends, Ingestor stores and fans
// out, Tracker follows one order on the viewing side.
package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomasmejiag0/puracalle-food/internal/geo"
	"github.com/tomasmejiag0/puracalle-food/internal/logger"
	"github.com/tomasmejiag0/puracalle-food/models"
)

// PositionSource streams device fixes until ctx is done.
type PositionSource interface {
	Positions(ctx context.Context) (<-chan models.Position, error)
}

// SourceFunc adapts a function to PositionSource.
type SourceFunc func(ctx context.Context) (<-chan models.Position, error)

func (f SourceFunc) Positions(ctx context.Context) (<-chan models.Position, error) { return f(ctx) }

// Sink accepts published samples.
type Sink interface {
	PublishLocation(ctx context.Context, s models.LocationSample) error
}

// Publisher samples a courier's position on a dual trigger: every Interval,
// or as soon as the courier moved DistanceMeters since the last sample.
type Publisher struct {
	sink     Sink
	interval time.Duration
	distance float64
	log      logger.ILogger
	now      func() time.Time
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithInterval sets the time trigger.
func WithInterval(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithDistance sets the distance trigger in meters.
func WithDistance(m float64) PublisherOption {
	return func(p *Publisher) {
		if m > 0 {
			p.distance = m
		}
	}
}

// WithPublisherLogger sets the logger for dropped samples.
func WithPublisherLogger(l logger.ILogger) PublisherOption {
	return func(p *Publisher) { p.log = l }
}

// WithPublisherClock replaces time.Now for fixes without a timestamp.
func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) { p.now = now }
}

// NewPublisher returns a Publisher with a 5s interval and a 10m distance trigger.
func NewPublisher(sink Sink, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		sink:     sink,
		interval: 5 * time.Second,
		distance: 10,
		log:      logger.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle owns one running publish loop. Each courier gets its own handle.
type Handle struct {
	CourierID string
	OrderID   string

	cancel    context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once
	published atomic.Int64
	failed    atomic.Int64
}

// Stop ends the loop and waits for it. It is safe on a nil or stopped handle.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.stopOnce.Do(h.cancel)
	<-h.done
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Running reports whether the loop is still active.
func (h *Handle) Running() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Published is the number of samples the sink accepted.
func (h *Handle) Published() int64 { return h.published.Load() }

// Failed is the number of samples dropped after a sink error.
func (h *Handle) Failed() int64 { return h.failed.Load() }

// Start begins publishing courierID's position. orderID may be empty.
// The loop runs until Stop, until ctx ends or until src closes its channel.
func (p *Publisher) Start(ctx context.Context, courierID, orderID string, src PositionSource) (*Handle, error) {
	if courierID == "" {
		return nil, errors.New("tracking: courier id is required")
	}
	if src == nil || p.sink == nil {
		return nil, errors.New("tracking: position source and sink are required")
	}
	ctx, cancel := context.WithCancel(ctx)
	fixes, err := src.Positions(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	h := &Handle{CourierID: courierID, OrderID: orderID, cancel: cancel, done: make(chan struct{})}
	go p.run(ctx, h, fixes)
	return h, nil
}

func (p *Publisher) run(ctx context.Context, h *Handle, fixes <-chan models.Position) {
	defer close(h.done)
	log := p.log.With(logger.String("courier_id", h.CourierID), logger.String("order_id", h.OrderID))

	timer := time.NewTimer(p.interval)
	defer timer.Stop()
	var latest, lastSent *models.Position

	send := func(fix models.Position, at time.Time) {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.interval)
		if err := p.sink.PublishLocation(ctx, p.sample(h, fix, at)); err != nil {
			if ctx.Err() != nil {
				return
			}
			h.failed.Add(1)
			log.Warning("location sample dropped", logger.Error(err))
			return
		}
		h.published.Add(1)
		f := fix
		lastSent = &f
	}

	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-fixes:
			if !ok {
				log.Debug("position source closed")
				return
			}
			latest = &fix
			if lastSent == nil || geo.HaversineMeters(lastSent.Lat, lastSent.Lng, fix.Lat, fix.Lng) >= p.distance {
				at := fix.At
				if at.IsZero() {
					at = p.now()
				}
				send(fix, at)
			}
		case <-timer.C:
			// A stationary courier still reports on the interval.
			if latest != nil {
				send(*latest, p.now())
			} else {
				timer.Reset(p.interval)
			}
		}
	}
}

func (p *Publisher) sample(h *Handle, fix models.Position, at time.Time) models.LocationSample {
	s := models.LocationSample{
		CourierID: h.CourierID,
		Lat:       fix.Lat,
		Lng:       fix.Lng,
		Accuracy:  fix.Accuracy,
		Heading:   fix.Heading,
		Speed:     fix.Speed,
		SampledAt: at,
	}
	if h.OrderID != "" {
		id := h.OrderID
		s.OrderID = &id
	}
	return s
}
