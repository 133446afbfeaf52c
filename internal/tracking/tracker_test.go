package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomasmejiag0/puracalle-food/internal/geo"
	"github.com/tomasmejiag0/puracalle-food/internal/realtime"
	"github.com/tomasmejiag0/puracalle-food/internal/routing"
	"github.com/tomasmejiag0/puracalle-food/models"
)

type recordingView struct {
	mu       sync.Mutex
	statuses []models.DetailedStatus
	moves    []models.LocationSample
	trails   [][]models.LocationSample
	routes   []routing.Route
	notices  []Notice
}

func (v *recordingView) OrderChanged(o *models.Order) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses = append(v.statuses, o.Detailed())
}

func (v *recordingView) CourierMoved(s models.LocationSample, trail []models.LocationSample, r routing.Route) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.moves = append(v.moves, s)
	v.trails = append(v.trails, trail)
	v.routes = append(v.routes, r)
}

func (v *recordingView) Terminal(_ *models.Order, n Notice) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notices = append(v.notices, n)
}

func (v *recordingView) moved() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.moves)
}

func (v *recordingView) lastNotice() (Notice, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.notices) == 0 {
		return Notice{}, false
	}
	return v.notices[len(v.notices)-1], true
}

// mutableOrders is an OrderSource the test can update between resyncs.
type mutableOrders struct {
	mu sync.Mutex
	o  *models.Order
}

func (m *mutableOrders) Get(context.Context, string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.o, nil
}

func (m *mutableOrders) set(o *models.Order) {
	m.mu.Lock()
	m.o = o
	m.mu.Unlock()
}

type failingRouter struct{}

func (failingRouter) Route(context.Context, geo.Point, geo.Point) (routing.Route, error) {
	return routing.Route{}, errors.New("osrm down")
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func order(st models.State, minute int) *models.Order {
	return &models.Order{
		ID:        "o-1",
		Address:   models.Address{Lat: 4.61, Lng: -74.07},
		State:     st,
		UpdatedAt: base.Add(time.Duration(minute) * time.Minute),
	}
}

func TestTracker_SubscribesOnlyWhileActive(t *testing.T) {
	b := realtime.NewBroker()
	defer b.Close()
	src := &mutableOrders{o: order(models.ReadyForPickup{}, 0)}
	view := &recordingView{}
	tr := NewTracker("o-1", b, src, view, WithRouter(failingRouter{}))
	defer tr.Close()

	require.NoError(t, tr.Start(context.Background()))
	_, watching := tr.Watching()
	require.False(t, watching)
	require.Equal(t, 1, b.OrderSubscribers("o-1"))

	b.PublishOrder(models.OrderChange{Order: order(models.AssignedToDriver{CourierID: "courier-a"}, 1)})
	require.Eventually(t, func() bool { return b.CourierSubscribers("courier-a") == 1 }, time.Second, 5*time.Millisecond)
	id, watching := tr.Watching()
	require.True(t, watching)
	require.Equal(t, "courier-a", id)

	b.PublishLocation(models.LocationSample{ID: "s1", CourierID: "courier-a", Lat: 4.6, Lng: -74.08})
	require.Eventually(t, func() bool { return view.moved() == 1 }, time.Second, 5*time.Millisecond)
	view.mu.Lock()
	require.True(t, view.routes[0].Fallback)
	require.Len(t, view.routes[0].Points, 2)
	view.mu.Unlock()

	b.PublishOrder(models.OrderChange{Order: order(models.Cancelled{}, 2)})
	require.Eventually(t, func() bool { return b.CourierSubscribers("courier-a") == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return b.OrderSubscribers("o-1") == 0 }, time.Second, 5*time.Millisecond)
	n, ok := view.lastNotice()
	require.True(t, ok)
	require.Equal(t, models.StatusCancelled, n.Status)
	require.NotEmpty(t, n.Message)

	// samples after the terminal state are not rendered
	b.PublishLocation(models.LocationSample{ID: "s2", CourierID: "courier-a", Lat: 4.7, Lng: -74.08})
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, view.moved())
}

func TestTracker_ReleaseDropsCourierStream(t *testing.T) {
	b := realtime.NewBroker()
	defer b.Close()
	src := &mutableOrders{o: order(models.OutForDelivery{CourierID: "courier-a"}, 0)}
	tr := NewTracker("o-1", b, src, &recordingView{})
	defer tr.Close()
	require.NoError(t, tr.Start(context.Background()))
	require.Equal(t, 1, b.CourierSubscribers("courier-a"))

	b.PublishOrder(models.OrderChange{Order: order(models.ReadyForPickup{}, 1)})
	require.Eventually(t, func() bool { return b.CourierSubscribers("courier-a") == 0 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, b.OrderSubscribers("o-1"))

	b.PublishOrder(models.OrderChange{Order: order(models.AssignedToDriver{CourierID: "courier-b"}, 2)})
	require.Eventually(t, func() bool { return b.CourierSubscribers("courier-b") == 1 }, time.Second, 5*time.Millisecond)
}

func TestTracker_TrailKeepsLastN(t *testing.T) {
	b := realtime.NewBroker()
	defer b.Close()
	view := &recordingView{}
	tr := NewTracker("o-1", b, &mutableOrders{o: order(models.OutForDelivery{CourierID: "courier-a"}, 0)}, view, WithTrailSize(3))
	defer tr.Close()
	require.NoError(t, tr.Start(context.Background()))

	for i := 0; i < 5; i++ {
		b.PublishLocation(models.LocationSample{CourierID: "courier-a", Lat: float64(i), Lng: 0})
	}
	require.Eventually(t, func() bool { return view.moved() == 5 }, time.Second, 5*time.Millisecond)
	trail := tr.Trail()
	require.Len(t, trail, 3)
	require.Equal(t, []float64{2, 3, 4}, []float64{trail[0].Lat, trail[1].Lat, trail[2].Lat})
}

type fixedHistory []models.LocationSample

func (h fixedHistory) Recent(_ context.Context, _ string, n int) ([]models.LocationSample, error) {
	if len(h) > n {
		return h[len(h)-n:], nil
	}
	return h, nil
}

func TestTracker_SeedsTrailFromHistory(t *testing.T) {
	b := realtime.NewBroker()
	defer b.Close()
	hist := fixedHistory{
		{ID: "h1", CourierID: "courier-a", Lat: 1},
		{ID: "h2", CourierID: "courier-a", Lat: 2},
	}
	tr := NewTracker("o-1", b, &mutableOrders{o: order(models.AssignedToDriver{CourierID: "courier-a"}, 0)}, &recordingView{}, WithHistory(hist))
	defer tr.Close()
	require.NoError(t, tr.Start(context.Background()))
	require.Len(t, tr.Trail(), 2)
}

func TestTracker_ResyncAndStaleUpdates(t *testing.T) {
	b := realtime.NewBroker()
	defer b.Close()
	src := &mutableOrders{o: order(models.AssignedToDriver{CourierID: "courier-a"}, 5)}
	view := &recordingView{}
	tr := NewTracker("o-1", b, src, view)
	defer tr.Close()
	require.NoError(t, tr.Start(context.Background()))

	// an older snapshot arriving late changes nothing
	b.PublishOrder(models.OrderChange{Order: order(models.ReadyForPickup{}, 1)})
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, models.StatusAssignedToDriver, tr.Order().Detailed())

	// missed delivery event, recovered by Resync
	src.set(order(models.Delivered{CourierID: "courier-a"}, 9))
	require.NoError(t, tr.Resync(context.Background()))
	require.Equal(t, models.StatusDelivered, tr.Order().Detailed())
	require.Equal(t, 0, b.CourierSubscribers("courier-a"))
	n, ok := view.lastNotice()
	require.True(t, ok)
	require.Equal(t, models.StatusDelivered, n.Status)
}

func TestTracker_CloseIsIdempotent(t *testing.T) {
	b := realtime.NewBroker()
	defer b.Close()
	tr := NewTracker("o-1", b, &mutableOrders{o: order(models.OutForDelivery{CourierID: "courier-a"}, 0)}, &recordingView{})
	require.NoError(t, tr.Start(context.Background()))
	tr.Close()
	tr.Close()
	require.Equal(t, 0, b.CourierSubscribers("courier-a"))
	require.Equal(t, 0, b.OrderSubscribers("o-1"))
	require.Error(t, tr.Start(context.Background()))
}

func TestTracker_LateSampleNeverBecomesCurrent(t *testing.T) {
	b := realtime.NewBroker()
	defer b.Close()
	view := &recordingView{}
	tr := NewTracker("o-1", b, &mutableOrders{o: order(models.OutForDelivery{CourierID: "courier-a"}, 0)}, view)
	defer tr.Close()
	require.NoError(t, tr.Start(context.Background()))

	now := base.Add(time.Hour)
	b.PublishLocation(models.LocationSample{ID: "new", CourierID: "courier-a", Lat: 4.62, SampledAt: now})
	b.PublishLocation(models.LocationSample{ID: "old", CourierID: "courier-a", Lat: 4.60, SampledAt: now.Add(-30 * time.Second)})
	b.PublishLocation(models.LocationSample{ID: "new", CourierID: "courier-a", Lat: 4.62, SampledAt: now})
	b.PublishLocation(models.LocationSample{ID: "newer", CourierID: "courier-a", Lat: 4.63, SampledAt: now.Add(5 * time.Second)})

	require.Eventually(t, func() bool { return view.moved() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	view.mu.Lock()
	require.Len(t, view.moves, 2)
	require.Equal(t, "new", view.moves[0].ID)
	require.Equal(t, "newer", view.moves[1].ID)
	last := view.trails[1]
	view.mu.Unlock()

	ids := make([]string, 0, len(last))
	for _, s := range last {
		ids = append(ids, s.ID)
	}
	require.Equal(t, []string{"old", "new", "newer"}, ids)
}

func TestTracker_SeedKeepsTrailInTimeOrder(t *testing.T) {
	b := realtime.NewBroker()
	defer b.Close()
	hist := fixedHistory{
		{ID: "h2", CourierID: "courier-a", SampledAt: base.Add(2 * time.Second)},
		{ID: "h1", CourierID: "courier-a", SampledAt: base.Add(time.Second)},
		{ID: "h3", CourierID: "courier-a", SampledAt: base.Add(3 * time.Second)},
	}
	tr := NewTracker("o-1", b, &mutableOrders{o: order(models.OutForDelivery{CourierID: "courier-a"}, 0)}, &recordingView{}, WithHistory(hist))
	defer tr.Close()
	require.NoError(t, tr.Start(context.Background()))

	trail := tr.Trail()
	require.Len(t, trail, 3)
	require.Equal(t, []string{"h1", "h2", "h3"}, []string{trail[0].ID, trail[1].ID, trail[2].ID})
}

// blockingRouter answers only when its context ends.
type blockingRouter struct{}

func (blockingRouter) Route(ctx context.Context, _, _ geo.Point) (routing.Route, error) {
	<-ctx.Done()
	return routing.Route{}, ctx.Err()
}

func TestTracker_SlowRouterIsBounded(t *testing.T) {
	b := realtime.NewBroker()
	defer b.Close()
	view := &recordingView{}
	tr := NewTracker("o-1", b, &mutableOrders{o: order(models.OutForDelivery{CourierID: "courier-a"}, 0)}, view, WithRouter(blockingRouter{}))
	defer tr.Close()
	require.NoError(t, tr.Start(context.Background()))

	b.PublishLocation(models.LocationSample{ID: "s1", CourierID: "courier-a", Lat: 4.6, Lng: -74.08})
	require.Eventually(t, func() bool { return view.moved() == 1 }, 3*routeTimeout, 10*time.Millisecond)
	view.mu.Lock()
	defer view.mu.Unlock()
	require.True(t, view.routes[0].Fallback)
}

func TestWithTrailSizeClamps(t *testing.T) {
	require.Equal(t, 1, NewTracker("o", nil, nil, nil, WithTrailSize(0)).trailSize)
	require.Equal(t, MaxTrail, NewTracker("o", nil, nil, nil, WithTrailSize(50)).trailSize)
}
