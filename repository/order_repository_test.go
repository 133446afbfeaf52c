package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomasmejiag0/puracalle-food/internal/testutil"
	"github.com/tomasmejiag0/puracalle-food/models"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newOrder(id string, created time.Time) *models.Order {
	return &models.Order{
		ID:         id,
		CustomerID: "cust-1",
		Items: []models.Item{
			{ProductID: "p-1", Name: "Arepa", Quantity: 2, UnitPrice: 6500},
		},
		TotalAmount:  13000,
		Address:      models.Address{ID: "addr-1", Lat: 6.2442, Lng: -75.5812, Text: "Cra 43A #1-50", Phone: "3001234567"},
		DeliveryCode: "12345",
		State:        models.ReadyForPickup{},
		CreatedAt:    created,
	}
}

func TestOrderRepository_CreateAndGet(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "repo_create")
	repo := NewOrderRepository(d)
	ctx := context.Background()

	created, err := repo.Create(ctx, newOrder("o-1", t0))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Detailed() != models.StatusReadyForPickup || created.Status() != models.OrderStatusPending {
		t.Fatalf("unexpected state: %v / %v", created.Detailed(), created.Status())
	}
	if !created.CreatedAt.Equal(t0) {
		t.Fatalf("created_at = %v, want %v", created.CreatedAt, t0)
	}

	got, err := repo.GetByID(ctx, "o-1")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.DeliveryCode != "12345" || len(got.Items) != 1 || got.Items[0].Name != "Arepa" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Address.Text != "Cra 43A #1-50" || got.Address.ID != "addr-1" {
		t.Fatalf("address mismatch: %+v", got.Address)
	}

	missing, err := repo.GetByID(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("missing order: got %v err %v, want nil nil", missing, err)
	}
}

func TestOrderRepository_CreateRejectsCourierStates(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "repo_create_bad")
	repo := NewOrderRepository(d)
	o := newOrder("o-1", t0)
	o.State = models.AssignedToDriver{CourierID: "c1", AcceptedAt: t0}
	if _, err := repo.Create(context.Background(), o); err == nil {
		t.Fatalf("expected error creating an assigned order")
	}
}

func TestOrderRepository_DeliveryCodeImmutable(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "repo_code")
	repo := NewOrderRepository(d)
	ctx := context.Background()
	if _, err := repo.Create(ctx, newOrder("o-1", t0)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := d.ExecContext(ctx, `UPDATE orders SET delivery_code = '99999' WHERE id = 'o-1'`); err == nil {
		t.Fatalf("expected trigger to reject delivery_code change")
	}
}

func TestOrderRepository_ClaimIsConditional(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "repo_claim")
	repo := NewOrderRepository(d)
	ctx := context.Background()
	if _, err := repo.Create(ctx, newOrder("o-1", t0)); err != nil {
		t.Fatalf("create: %v", err)
	}

	o, err := repo.Claim(ctx, "o-1", "courier-a", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	st, ok := o.State.(models.AssignedToDriver)
	if !ok || st.CourierID != "courier-a" || !st.AcceptedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("unexpected post-claim state: %#v", o.State)
	}

	if _, err := repo.Claim(ctx, "o-1", "courier-b", t0.Add(2*time.Minute)); !errors.Is(err, ErrConditionNotMet) {
		t.Fatalf("second claim: got %v, want ErrConditionNotMet", err)
	}
	if _, err := repo.Claim(ctx, "missing", "courier-b", t0); !errors.Is(err, ErrConditionNotMet) {
		t.Fatalf("claim missing: got %v, want ErrConditionNotMet", err)
	}
}

func TestOrderRepository_DeliveryLifecycle(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "repo_lifecycle")
	repo := NewOrderRepository(d)
	ctx := context.Background()
	if _, err := repo.Create(ctx, newOrder("o-1", t0)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.Claim(ctx, "o-1", "a", t0.Add(1*time.Minute)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := repo.StartDelivery(ctx, "o-1", "b", t0); !errors.Is(err, ErrConditionNotMet) {
		t.Fatalf("start by other courier: got %v", err)
	}
	o, err := repo.StartDelivery(ctx, "o-1", "a", t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, ok := o.State.(models.OutForDelivery); !ok {
		t.Fatalf("state = %#v, want OutForDelivery", o.State)
	}

	o, err = repo.Complete(ctx, "o-1", "a", "delivery-photos/o-1", t0.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	del, ok := o.State.(models.Delivered)
	if !ok {
		t.Fatalf("state = %#v, want Delivered", o.State)
	}
	if del.CourierID != "a" || del.PhotoRef != "delivery-photos/o-1" || !del.DeliveredAt.Equal(t0.Add(3*time.Minute)) {
		t.Fatalf("delivered fields mismatch: %#v", del)
	}
	if o.Status() != models.OrderStatusCompleted {
		t.Fatalf("summary = %v, want completed", o.Status())
	}
	if _, assigned := o.AssignedCourier(); assigned {
		t.Fatalf("delivered order must not hold an assignment")
	}
	if _, err := repo.Complete(ctx, "o-1", "a", "again", t0.Add(4*time.Minute)); !errors.Is(err, ErrConditionNotMet) {
		t.Fatalf("second complete: got %v", err)
	}
}

func TestOrderRepository_ReleaseClearsAssignment(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "repo_release")
	repo := NewOrderRepository(d)
	ctx := context.Background()
	if _, err := repo.Create(ctx, newOrder("o-1", t0)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.Claim(ctx, "o-1", "a", t0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := repo.StartDelivery(ctx, "o-1", "a", t0); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := repo.Release(ctx, "o-1", "b", t0); !errors.Is(err, ErrConditionNotMet) {
		t.Fatalf("release by other courier: got %v", err)
	}
	o, err := repo.Release(ctx, "o-1", "a", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if o.Detailed() != models.StatusReadyForPickup {
		t.Fatalf("state after release = %v", o.Detailed())
	}
	var accepted, departed any
	if err := d.QueryRowContext(ctx, `SELECT courier_accepted_at, out_for_delivery_at FROM orders WHERE id = 'o-1'`).Scan(&accepted, &departed); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if accepted != nil || departed != nil {
		t.Fatalf("timestamps not cleared: %v %v", accepted, departed)
	}

	avail, err := repo.ListAvailable(ctx, 0)
	if err != nil || len(avail) != 1 || avail[0].ID != "o-1" {
		t.Fatalf("released order not available: %v %v", avail, err)
	}
}

func TestOrderRepository_CancelAndAdvance(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "repo_cancel")
	repo := NewOrderRepository(d)
	ctx := context.Background()
	o := newOrder("o-1", t0)
	o.State = models.Pending{}
	if _, err := repo.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.Advance(ctx, "o-1", models.StatusPending, models.StatusPreparing, t0)
	if err != nil || got.Detailed() != models.StatusPreparing {
		t.Fatalf("advance: %v %v", got, err)
	}
	if _, err := repo.Advance(ctx, "o-1", models.StatusPending, models.StatusPreparing, t0); !errors.Is(err, ErrConditionNotMet) {
		t.Fatalf("stale advance: got %v", err)
	}

	from := []models.DetailedStatus{models.StatusPending, models.StatusPreparing}
	if _, err := repo.Cancel(ctx, "o-1", "someone-else", from, t0); !errors.Is(err, ErrConditionNotMet) {
		t.Fatalf("cancel by non-owner: got %v", err)
	}
	got, err = repo.Cancel(ctx, "o-1", "cust-1", from, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	c, ok := got.State.(models.Cancelled)
	if !ok || c.By != "cust-1" || got.Status() != models.OrderStatusCancelled {
		t.Fatalf("cancelled state mismatch: %#v", got.State)
	}
}

func TestOrderRepository_QueuesAreFIFO(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "repo_fifo")
	repo := NewOrderRepository(d)
	ctx := context.Background()
	// Insert out of creation order; t1 < t2 < t3.
	for _, c := range []struct {
		id string
		at time.Duration
	}{{"o-3", 3 * time.Second}, {"o-1", 1 * time.Second}, {"o-2", 2 * time.Second}} {
		if _, err := repo.Create(ctx, newOrder(c.id, t0.Add(c.at))); err != nil {
			t.Fatalf("create %s: %v", c.id, err)
		}
	}
	avail, err := repo.ListAvailable(ctx, 0)
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if got := ids(avail); got != "o-1,o-2,o-3" {
		t.Fatalf("available order = %s", got)
	}

	for _, id := range []string{"o-3", "o-1"} {
		if _, err := repo.Claim(ctx, id, "a", t0); err != nil {
			t.Fatalf("claim %s: %v", id, err)
		}
	}
	mine, err := repo.ListForCourier(ctx, "a")
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if got := ids(mine); got != "o-1,o-3" {
		t.Fatalf("mine order = %s", got)
	}

	hist, err := repo.ListByCustomer(ctx, "cust-1", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if got := ids(hist); got != "o-3,o-2" {
		t.Fatalf("history order = %s", got)
	}
}

func ids(orders []*models.Order) string {
	s := ""
	for i, o := range orders {
		if i > 0 {
			s += ","
		}
		s += o.ID
	}
	return s
}
