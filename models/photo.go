package models

import "time"

// DeliveryPhoto is the single evidence record of an order's delivery.
type DeliveryPhoto struct {
	OrderID   string
	CourierID string
	PhotoRef  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
