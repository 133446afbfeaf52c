package models

import "time"

// OrderStatus is the coarse, customer-facing summary of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// DetailedStatus is the fine-grained lifecycle state stored in status_detailed.
type DetailedStatus string

const (
	StatusPending          DetailedStatus = "pending"
	StatusPreparing        DetailedStatus = "preparing"
	StatusReadyForPickup   DetailedStatus = "ready_for_pickup"
	StatusAssignedToDriver DetailedStatus = "assigned_to_driver"
	StatusOutForDelivery   DetailedStatus = "out_for_delivery"
	StatusDelivered        DetailedStatus = "delivered"
	StatusCancelled        DetailedStatus = "cancelled"
)

// AllDetailedStatuses lists every lifecycle state in lifecycle order.
var AllDetailedStatuses = []DetailedStatus{
	StatusPending,
	StatusPreparing,
	StatusReadyForPickup,
	StatusAssignedToDriver,
	StatusOutForDelivery,
	StatusDelivered,
	StatusCancelled,
}

// Valid reports whether s is a known lifecycle state.
func (s DetailedStatus) Valid() bool {
	for _, v := range AllDetailedStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s DetailedStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Active reports whether a courier holds the order in state s.
func (s DetailedStatus) Active() bool {
	return s == StatusAssignedToDriver || s == StatusOutForDelivery
}

// Summary maps a detailed state to the coarse status column.
func (s DetailedStatus) Summary() OrderStatus {
	switch s {
	case StatusDelivered:
		return OrderStatusCompleted
	case StatusCancelled:
		return OrderStatusCancelled
	default:
		return OrderStatusPending
	}
}

// Address is the delivery address snapshot taken at checkout.
type Address struct {
	ID           string  `json:"id,omitempty"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Text         string  `json:"text"`
	Phone        string  `json:"phone"`
	Instructions string  `json:"instructions,omitempty"`
}

// Item is an immutable order line supplied by the cart at checkout.
type Item struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Order is a customer order. Its lifecycle lives in State; the variant
// carries exactly the fields that are meaningful for that state.
type Order struct {
	ID           string
	CustomerID   string
	Items        []Item
	TotalAmount  int64
	Address      Address
	DeliveryCode string
	State        State
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Detailed returns the fine-grained lifecycle state.
func (o *Order) Detailed() DetailedStatus {
	if o == nil || o.State == nil {
		return ""
	}
	return o.State.Detailed()
}

// Status returns the coarse summary status.
func (o *Order) Status() OrderStatus {
	return o.Detailed().Summary()
}

// AssignedCourier returns the courier currently holding the order.
func (o *Order) AssignedCourier() (string, bool) {
	switch st := o.State.(type) {
	case AssignedToDriver:
		return st.CourierID, true
	case OutForDelivery:
		return st.CourierID, true
	}
	return "", false
}
