package repository

import (
	"context"
	"testing"
	"time"

	"github.com/tomasmejiag0/puracalle-food/internal/testutil"
	"github.com/tomasmejiag0/puracalle-food/models"
)

func TestPhotoRepository_UpsertKeepsOneRecord(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "repo_photo")
	ctx := context.Background()
	if _, err := NewOrderRepository(d).Create(ctx, newOrder("o-1", t0)); err != nil {
		t.Fatalf("create order: %v", err)
	}
	photos := NewPhotoRepository(d)

	if p, err := photos.Get(ctx, "o-1"); err != nil || p != nil {
		t.Fatalf("empty get: %v %v", p, err)
	}
	first, err := photos.Upsert(ctx, &models.DeliveryPhoto{OrderID: "o-1", CourierID: "a", PhotoRef: "p1", UpdatedAt: t0})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := photos.Upsert(ctx, &models.DeliveryPhoto{OrderID: "o-1", CourierID: "a", PhotoRef: "p2", UpdatedAt: t0.Add(time.Minute)})
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if second.PhotoRef != "p2" || !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("upsert should replace ref and keep created_at: %+v", second)
	}
	var n int
	if err := d.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_photos WHERE order_id = 'o-1'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("photo records = %d, want 1", n)
	}
}

func TestLocationRepository_LatestAndRecent(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "repo_locations")
	repo := NewLocationRepository(d)
	ctx := context.Background()

	if s, err := repo.Latest(ctx, "a"); err != nil || s != nil {
		t.Fatalf("latest without samples: %v %v", s, err)
	}
	acc := 4.5
	order := "o-1"
	// Appended out of time order; current location is by sampled_at.
	for i, off := range []time.Duration{2 * time.Second, 0, 4 * time.Second, 1 * time.Second} {
		s := &models.LocationSample{CourierID: "a", Lat: 6.24 + float64(i)*0.001, Lng: -75.58, SampledAt: t0.Add(off)}
		if i == 2 {
			s.Accuracy = &acc
			s.OrderID = &order
		}
		if err := repo.Append(ctx, s); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if s.ID == "" {
			t.Fatalf("append must assign an id")
		}
	}
	if err := repo.Append(ctx, &models.LocationSample{CourierID: "b", SampledAt: t0.Add(time.Hour)}); err != nil {
		t.Fatalf("append other courier: %v", err)
	}

	latest, err := repo.Latest(ctx, "a")
	if err != nil || latest == nil {
		t.Fatalf("latest: %v %v", latest, err)
	}
	if !latest.SampledAt.Equal(t0.Add(4*time.Second)) || latest.Accuracy == nil || *latest.Accuracy != acc {
		t.Fatalf("latest mismatch: %+v", latest)
	}
	if latest.OrderID == nil || *latest.OrderID != "o-1" {
		t.Fatalf("order id not stored: %+v", latest)
	}

	recent, err := repo.Recent(ctx, "a", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("recent len = %d", len(recent))
	}
	for i := 1; i < len(recent); i++ {
		if !recent[i-1].SampledAt.Before(recent[i].SampledAt) {
			t.Fatalf("recent not chronological: %v", recent)
		}
	}
}

func TestOutboxRepository_PendingAndRetry(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "repo_outbox")
	repo := NewOutboxRepository(d)
	ctx := context.Background()

	if err := repo.Insert(ctx, models.OutboxMessage{RoutingKey: "order.status", Payload: []byte(`{}`), MaxRetries: 2, CreatedAt: t0}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	msgs, err := repo.GetPendingMessages(ctx, t0, 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("pending: %v %v", msgs, err)
	}
	id := msgs[0].ID
	if msgs[0].ContentType != "application/json" {
		t.Fatalf("content type default = %q", msgs[0].ContentType)
	}

	if err := repo.UpdateRetry(ctx, id, 1, "broker down", t0.Add(time.Minute)); err != nil {
		t.Fatalf("update retry: %v", err)
	}
	if msgs, _ := repo.GetPendingMessages(ctx, t0, 10); len(msgs) != 0 {
		t.Fatalf("message should not be due before next_retry_at")
	}
	msgs, _ = repo.GetPendingMessages(ctx, t0.Add(time.Minute), 10)
	if len(msgs) != 1 || msgs[0].LastError != "broker down" {
		t.Fatalf("due retry: %+v", msgs)
	}

	if err := repo.UpdateRetry(ctx, id, 2, "still down", t0.Add(time.Minute)); err != nil {
		t.Fatalf("update retry: %v", err)
	}
	if msgs, _ := repo.GetPendingMessages(ctx, t0.Add(time.Hour), 10); len(msgs) != 0 {
		t.Fatalf("exhausted message must not be pending")
	}

	if err := repo.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
