package tracking

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/tomasmejiag0/puracalle-food/internal/geo"
	"github.com/tomasmejiag0/puracalle-food/internal/logger"
	"github.com/tomasmejiag0/puracalle-food/internal/realtime"
	"github.com/tomasmejiag0/puracalle-food/internal/routing"
	"github.com/tomasmejiag0/puracalle-food/models"
)

// MaxTrail is the longest trail a Tracker keeps.
const MaxTrail = 10

// routeTimeout bounds route lookups made on the feed's delivery goroutine.
const routeTimeout = time.Second

// Feed is the change feed a Tracker listens to.
type Feed interface {
	SubscribeOrder(orderID string, fn func(models.OrderChange)) realtime.Unsubscribe
	SubscribeCourier(courierID string, fn func(models.LocationSample)) realtime.Unsubscribe
}

// OrderSource loads the current order snapshot.
type OrderSource interface {
	Get(ctx context.Context, orderID string) (*models.Order, error)
}

// History returns a courier's latest samples in time order.
type History interface {
	Recent(ctx context.Context, courierID string, n int) ([]models.LocationSample, error)
}

// Notice is the terminal message shown when tracking ends.
type Notice struct {
	Status  models.DetailedStatus
	Message string
}

// View renders tracker state. Calls are made without internal locks held,
// one at a time.
type View interface {
	OrderChanged(o *models.Order)
	CourierMoved(s models.LocationSample, trail []models.LocationSample, route routing.Route)
	Terminal(o *models.Order, n Notice)
}

// Tracker follows one order for a customer or courier detail screen. It
// listens to the courier's location stream only while the order is assigned
// or out for delivery, and drops it as soon as the order leaves those states.
type Tracker struct {
	orderID   string
	feed      Feed
	orders    OrderSource
	view      View
	history   History
	router    routing.Router
	trailSize int
	log       logger.ILogger

	// serializes view callbacks
	render sync.Mutex

	mu           sync.Mutex
	order        *models.Order
	courierID    string
	unsubOrder   realtime.Unsubscribe
	unsubCourier realtime.Unsubscribe
	trail        []models.LocationSample
	finished     bool
	closed       bool
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithHistory seeds the trail from stored samples when a courier is picked up.
func WithHistory(h History) TrackerOption { return func(t *Tracker) { t.history = h } }

// WithRouter draws routes from the courier to the delivery address.
func WithRouter(r routing.Router) TrackerOption { return func(t *Tracker) { t.router = r } }

// WithTrailSize keeps the last n samples, clamped to 1..MaxTrail.
func WithTrailSize(n int) TrackerOption {
	return func(t *Tracker) {
		switch {
		case n < 1:
			n = 1
		case n > MaxTrail:
			n = MaxTrail
		}
		t.trailSize = n
	}
}

// WithTrackerLogger sets the logger.
func WithTrackerLogger(l logger.ILogger) TrackerOption { return func(t *Tracker) { t.log = l } }

// NewTracker returns a Tracker for orderID. Call Start to begin.
func NewTracker(orderID string, feed Feed, orders OrderSource, view View, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		orderID:   orderID,
		feed:      feed,
		orders:    orders,
		view:      view,
		router:    routing.NewFallback(nil, nil),
		trailSize: MaxTrail,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if _, ok := t.router.(*routing.Fallback); !ok {
		t.router = routing.NewFallback(t.router, t.log)
	}
	return t
}

// Start subscribes to order changes and loads the current state.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("tracking: tracker closed")
	}
	if t.unsubOrder == nil {
		t.unsubOrder = t.feed.SubscribeOrder(t.orderID, func(c models.OrderChange) {
			t.apply(context.Background(), c.Order)
		})
	}
	t.mu.Unlock()
	return t.Resync(ctx)
}

// Resync reloads the order from the store. Use it after a reconnect, since
// the feed does not replay missed events.
func (t *Tracker) Resync(ctx context.Context) error {
	o, err := t.orders.Get(ctx, t.orderID)
	if err != nil {
		return err
	}
	t.apply(ctx, o)
	return nil
}

// Close releases every subscription. It is idempotent.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.dropCourierLocked()
	if t.unsubOrder != nil {
		t.unsubOrder()
		t.unsubOrder = nil
	}
	t.mu.Unlock()
}

// Order returns the last applied snapshot.
func (t *Tracker) Order() *models.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order
}

// Watching returns the courier whose location stream is subscribed, if any.
func (t *Tracker) Watching() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.courierID, t.unsubCourier != nil
}

// Trail returns a copy of the recent samples, oldest first.
func (t *Tracker) Trail() []models.LocationSample {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.LocationSample(nil), t.trail...)
}

func (t *Tracker) apply(ctx context.Context, o *models.Order) {
	if o == nil || o.ID != t.orderID {
		return
	}
	t.mu.Lock()
	if t.closed || t.finished {
		t.mu.Unlock()
		return
	}
	// Resync and feed may race; never go back in time.
	if t.order != nil && o.UpdatedAt.Before(t.order.UpdatedAt) {
		t.mu.Unlock()
		return
	}
	t.order = o

	var seedFor string
	var notice *Notice
	switch st := o.Detailed(); {
	case st.Active():
		id, _ := o.AssignedCourier()
		if id != t.courierID || t.unsubCourier == nil {
			t.dropCourierLocked()
			t.courierID = id
			t.unsubCourier = t.feed.SubscribeCourier(id, t.onSample)
			seedFor = id
		}
	case st.Terminal():
		t.dropCourierLocked()
		t.finished = true
		if t.unsubOrder != nil {
			t.unsubOrder()
			t.unsubOrder = nil
		}
		notice = &Notice{Status: st, Message: terminalMessage(st)}
	default:
		// Released back to the pool or not yet offered.
		t.dropCourierLocked()
	}
	t.mu.Unlock()

	t.render.Lock()
	t.view.OrderChanged(o)
	if notice != nil {
		t.view.Terminal(o, *notice)
	}
	t.render.Unlock()

	if seedFor != "" && t.history != nil {
		t.seed(ctx, seedFor)
	}
}

func (t *Tracker) seed(ctx context.Context, courierID string) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	samples, err := t.history.Recent(ctx, courierID, t.trailSize)
	if err != nil {
		t.log.Warning("trail history unavailable", logger.String("courier_id", courierID), logger.Error(err))
		return
	}
	t.mu.Lock()
	if t.courierID != courierID || t.unsubCourier == nil {
		t.mu.Unlock()
		return
	}
	merged := append(append([]models.LocationSample(nil), samples...), t.trail...)
	// Stable sort: history goes before live samples with the same timestamp.
	slices.SortStableFunc(merged, func(a, b models.LocationSample) int {
		return a.SampledAt.Compare(b.SampledAt)
	})
	t.trail = dedupe(merged, t.trailSize)
	t.mu.Unlock()
}

func (t *Tracker) onSample(s models.LocationSample) {
	t.mu.Lock()
	if t.closed || t.unsubCourier == nil || s.CourierID != t.courierID {
		t.mu.Unlock()
		return
	}
	var head bool
	t.trail, head = insertSample(t.trail, s, t.trailSize)
	if !head {
		// A late or duplicate sample never becomes the current position.
		t.mu.Unlock()
		return
	}
	trail := append([]models.LocationSample(nil), t.trail...)
	o := t.order
	t.mu.Unlock()

	var route routing.Route
	if o != nil {
		from := geo.Point{Lat: s.Lat, Lng: s.Lng}
		to := geo.Point{Lat: o.Address.Lat, Lng: o.Address.Lng}
		ctx, cancel := context.WithTimeout(context.Background(), routeTimeout)
		route, _ = t.router.Route(ctx, from, to)
		cancel()
	}
	t.render.Lock()
	t.view.CourierMoved(s, trail, route)
	t.render.Unlock()
}

// insertSample keeps trail ordered by SampledAt and at most n long. Samples
// with equal timestamps keep arrival order. head reports whether s is now the
// newest sample.
func insertSample(trail []models.LocationSample, s models.LocationSample, n int) ([]models.LocationSample, bool) {
	if s.ID != "" && slices.ContainsFunc(trail, func(x models.LocationSample) bool { return x.ID == s.ID }) {
		return trail, false
	}
	i := len(trail)
	for i > 0 && trail[i-1].SampledAt.After(s.SampledAt) {
		i--
	}
	head := i == len(trail)
	trail = slices.Insert(trail, i, s)
	if len(trail) > n {
		trail = append([]models.LocationSample(nil), trail[len(trail)-n:]...)
	}
	return trail, head
}

func (t *Tracker) dropCourierLocked() {
	if t.unsubCourier != nil {
		t.unsubCourier()
		t.unsubCourier = nil
	}
	t.courierID = ""
	t.trail = nil
}

func dedupe(samples []models.LocationSample, n int) []models.LocationSample {
	seen := make(map[string]bool, len(samples))
	out := samples[:0]
	for _, s := range samples {
		if s.ID != "" && seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func terminalMessage(st models.DetailedStatus) string {
	if st == models.StatusCancelled {
		return "This order was cancelled. Live tracking has ended."
	}
	return "Your order was delivered. Enjoy your meal!"
}
