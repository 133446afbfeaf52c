package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomasmejiag0/puracalle-food/internal/testutil"
	"github.com/tomasmejiag0/puracalle-food/models"
	"github.com/tomasmejiag0/puracalle-food/repository"
)

type fakeBroker struct {
	mu   sync.Mutex
	fail int
	keys []string
	msgs []Message
}

func (b *fakeBroker) Publish(_ context.Context, key, contentType string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail > 0 {
		b.fail--
		return errors.New("connection reset")
	}
	if contentType != "application/json" {
		return errors.New("unexpected content type " + contentType)
	}
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return err
	}
	b.keys = append(b.keys, key)
	b.msgs = append(b.msgs, m)
	return nil
}

func TestCompose(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := Compose(models.StatusEvent{UserID: "u1", OrderID: "o1", Status: models.StatusDelivered, ChangedAt: at})
	require.Equal(t, "¡Entregado!", m.Title)
	require.Equal(t, "¡Tu pedido ha sido entregado! Disfruta tu comida", m.Body)
	require.Equal(t, at, m.ChangedAt)

	for _, st := range models.AllDetailedStatuses {
		require.NotEmpty(t, Compose(models.StatusEvent{Status: st}).Body, st)
	}
	unknown := Compose(models.StatusEvent{Status: "confirmed"})
	require.Equal(t, fallbackTitle, unknown.Title)
	require.Empty(t, unknown.Body)
	require.Equal(t, "order.status.out_for_delivery", RoutingKey(models.StatusOutForDelivery))
}

func TestOutboxWorker_PublishesAndRetries(t *testing.T) {
	db := testutil.OpenInMemoryDB(t, "notify_worker")
	store := repository.NewOutboxRepository(db)
	clock := testutil.NewClock()
	n := NewOutboxNotifier(store, 3)
	n.now = clock.Now
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, models.StatusEvent{UserID: "u1", OrderID: "o1", Status: models.StatusAssignedToDriver}))
	require.NoError(t, n.Notify(ctx, models.StatusEvent{UserID: "u1", OrderID: "o1", Status: models.StatusOutForDelivery}))
	require.Error(t, n.Notify(ctx, models.StatusEvent{OrderID: "o1"}))

	broker := &fakeBroker{fail: 2}
	w := NewWorker(store, broker, WithWorkerClock(clock.Now), WithRetryBase(time.Minute))

	require.Equal(t, 0, w.ProcessOnce(ctx))
	// nothing is due before the backoff elapses
	require.Equal(t, 0, w.ProcessOnce(ctx))

	clock.Advance(time.Minute)
	require.Equal(t, 2, w.ProcessOnce(ctx))
	require.Equal(t, []string{"order.status.assigned_to_driver", "order.status.out_for_delivery"}, broker.keys)
	require.Equal(t, "Repartidor Asignado", broker.msgs[0].Title)

	clock.Advance(time.Hour)
	require.Equal(t, 0, w.ProcessOnce(ctx), "published messages are removed")
}

func TestOutboxWorker_GivesUpAfterMaxRetries(t *testing.T) {
	db := testutil.OpenInMemoryDB(t, "notify_give_up")
	store := repository.NewOutboxRepository(db)
	clock := testutil.NewClock()
	n := NewOutboxNotifier(store, 2)
	n.now = clock.Now
	ctx := context.Background()
	require.NoError(t, n.Notify(ctx, models.StatusEvent{UserID: "u1", OrderID: "o1", Status: models.StatusCancelled}))

	broker := &fakeBroker{fail: 10}
	w := NewWorker(store, broker, WithWorkerClock(clock.Now), WithRetryBase(time.Second))
	for i := 0; i < 4; i++ {
		w.ProcessOnce(ctx)
		clock.Advance(time.Hour)
	}
	require.Equal(t, 8, broker.fail, "two attempts, then the message is parked")
}

func TestOutboxWorker_RunStopsWithContext(t *testing.T) {
	db := testutil.OpenInMemoryDB(t, "notify_run")
	w := NewWorker(repository.NewOutboxRepository(db), LogPublisher{}, WithPollInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
