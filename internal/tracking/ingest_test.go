package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomasmejiag0/puracalle-food/internal/orders"
	"github.com/tomasmejiag0/puracalle-food/internal/realtime"
	"github.com/tomasmejiag0/puracalle-food/internal/testutil"
	"github.com/tomasmejiag0/puracalle-food/models"
	"github.com/tomasmejiag0/puracalle-food/repository"
)

type orderMap map[string]*models.Order

func (m orderMap) Get(_ context.Context, id string) (*models.Order, error) {
	o, ok := m[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return o, nil
}

func TestIngestor_StoresThenBroadcasts(t *testing.T) {
	db := testutil.OpenInMemoryDB(t, "ingest_store")
	locs := repository.NewLocationRepository(db)
	b := realtime.NewBroker()
	defer b.Close()

	got := make(chan models.LocationSample, 1)
	unsub := b.SubscribeCourier("courier-a", func(s models.LocationSample) { got <- s })
	defer unsub()

	in := NewIngestor(locs, b, nil)
	require.NoError(t, in.PublishLocation(context.Background(), models.LocationSample{CourierID: "courier-a", Lat: 4.6, Lng: -74.1}))

	select {
	case s := <-got:
		require.NotEmpty(t, s.ID)
		require.False(t, s.SampledAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("sample not broadcast")
	}
	latest, err := locs.Latest(context.Background(), "courier-a")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, 4.6, latest.Lat)
}

func TestIngestor_RejectsInvalidSamples(t *testing.T) {
	db := testutil.OpenInMemoryDB(t, "ingest_invalid")
	in := NewIngestor(repository.NewLocationRepository(db), nil, nil)
	neg := -1.0
	for name, s := range map[string]models.LocationSample{
		"no courier":   {Lat: 1, Lng: 1},
		"latitude":     {CourierID: "a", Lat: 91, Lng: 1},
		"longitude":    {CourierID: "a", Lat: 1, Lng: -181},
		"neg accuracy": {CourierID: "a", Lat: 1, Lng: 1, Accuracy: &neg},
	} {
		err := in.PublishLocation(context.Background(), s)
		require.ErrorIs(t, err, ErrInvalidSample, name)
	}
}

func TestIngestor_RequireAssignment(t *testing.T) {
	db := testutil.OpenInMemoryDB(t, "ingest_assignment")
	in := NewIngestor(repository.NewLocationRepository(db), nil, nil).RequireAssignment(orderMap{
		"o-1": {ID: "o-1", State: models.OutForDelivery{CourierID: "courier-a"}},
		"o-2": {ID: "o-2", State: models.ReadyForPickup{}},
	})
	tag := func(id string) *string { return &id }

	require.NoError(t, in.PublishLocation(context.Background(), models.LocationSample{CourierID: "courier-a", OrderID: tag("o-1"), Lat: 1, Lng: 1}))
	err := in.PublishLocation(context.Background(), models.LocationSample{CourierID: "courier-b", OrderID: tag("o-1"), Lat: 1, Lng: 1})
	require.ErrorIs(t, err, orders.ErrNotAuthorized)
	err = in.PublishLocation(context.Background(), models.LocationSample{CourierID: "courier-a", OrderID: tag("o-2"), Lat: 1, Lng: 1})
	require.ErrorIs(t, err, orders.ErrNotAuthorized)
	err = in.PublishLocation(context.Background(), models.LocationSample{CourierID: "courier-a", OrderID: tag("missing"), Lat: 1, Lng: 1})
	require.True(t, errors.Is(err, orders.ErrNotFound))
	// untagged samples are not checked
	require.NoError(t, in.PublishLocation(context.Background(), models.LocationSample{CourierID: "courier-b", Lat: 1, Lng: 1}))
}
