package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tomasmejiag0/puracalle-food/models"
)

// OutboxStore is the outbox table.
type OutboxStore interface {
	Insert(ctx context.Context, m models.OutboxMessage) error
	GetPendingMessages(ctx context.Context, now time.Time, limit int) ([]models.OutboxMessage, error)
	Delete(ctx context.Context, id int64) error
	UpdateRetry(ctx context.Context, id int64, retryCount int, lastError string, nextRetryAt time.Time) error
}

// OutboxNotifier records status events in the outbox. It implements the
// order service's Notifier.
type OutboxNotifier struct {
	store      OutboxStore
	maxRetries int
	now        func() time.Time
}

// NewOutboxNotifier returns a notifier giving each message maxRetries
// delivery attempts (8 when maxRetries <= 0).
func NewOutboxNotifier(store OutboxStore, maxRetries int) *OutboxNotifier {
	if maxRetries <= 0 {
		maxRetries = 8
	}
	return &OutboxNotifier{store: store, maxRetries: maxRetries, now: time.Now}
}

// Notify enqueues the message for ev.
func (n *OutboxNotifier) Notify(ctx context.Context, ev models.StatusEvent) error {
	if ev.UserID == "" || ev.OrderID == "" {
		return errors.New("notify: event without user or order")
	}
	payload, err := json.Marshal(Compose(ev))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	now := n.now()
	return n.store.Insert(ctx, models.OutboxMessage{
		RoutingKey:  RoutingKey(ev.Status),
		Payload:     payload,
		ContentType: "application/json",
		MaxRetries:  n.maxRetries,
		CreatedAt:   now,
		NextRetryAt: now,
	})
}
