package courier

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/tomasmejiag0/puracalle-food/internal/geo"
	"github.com/tomasmejiag0/puracalle-food/models"
)

// Route is a simulated GPS that drives in a straight line from From to To
// at a constant speed, then stays parked at To. It is a
// tracking.PositionSource for field tests and demos without a device.
type Route struct {
	From, To models.Position
	// Speed in meters per second.
	Speed float64
	// Tick is the fix rate of the simulated device.
	Tick time.Duration

	now     func() time.Time
	once    sync.Once
	arrived chan struct{}
}

// NewRoute returns a simulated drive. Speed and tick default to 8 m/s and 1s.
func NewRoute(from, to models.Position, speed float64, tick time.Duration) *Route {
	if speed <= 0 {
		speed = 8
	}
	if tick <= 0 {
		tick = time.Second
	}
	return &Route{From: from, To: to, Speed: speed, Tick: tick, now: time.Now, arrived: make(chan struct{})}
}

// Arrived is closed once a fix at the destination has been emitted.
func (r *Route) Arrived() <-chan struct{} { return r.arrived }

// Positions emits one fix per tick until ctx is done. Each call restarts the
// drive from From.
func (r *Route) Positions(ctx context.Context) (<-chan models.Position, error) {
	total := geo.HaversineMeters(r.From.Lat, r.From.Lng, r.To.Lat, r.To.Lng)
	out := make(chan models.Position)
	go func() {
		defer close(out)
		t := time.NewTicker(r.Tick)
		defer t.Stop()
		start := r.now()
		for {
			done := 1.0
			if total > 0 {
				done = math.Min(1, r.now().Sub(start).Seconds()*r.Speed/total)
			}
			fix := r.at(done)
			select {
			case out <- fix:
			case <-ctx.Done():
				return
			}
			if done >= 1 {
				r.once.Do(func() { close(r.arrived) })
			}
			select {
			case <-t.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// at interpolates linearly; over delivery distances the error against a
// great circle is far below GPS accuracy.
func (r *Route) at(f float64) models.Position {
	speed := r.Speed
	if f >= 1 {
		speed = 0
	}
	return models.Position{
		Lat:   r.From.Lat + (r.To.Lat-r.From.Lat)*f,
		Lng:   r.From.Lng + (r.To.Lng-r.From.Lng)*f,
		Speed: &speed,
		At:    r.now(),
	}
}
