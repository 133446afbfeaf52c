package models

import "time"

// OrderChange is a row-level change notification for one order.
type OrderChange struct {
	Order    *Order
	Previous DetailedStatus
}

// StatusEvent is the logical notification emitted on every status change.
type StatusEvent struct {
	UserID    string         `json:"user_id"`
	OrderID   string         `json:"order_id"`
	Status    DetailedStatus `json:"new_status"`
	ChangedAt time.Time      `json:"changed_at"`
}
