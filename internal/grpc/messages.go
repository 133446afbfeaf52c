package grpcserver

import (
	"time"

	"github.com/tomasmejiag0/puracalle-food/internal/routing"
	"github.com/tomasmejiag0/puracalle-food/internal/tracking"
	"github.com/tomasmejiag0/puracalle-food/models"
)

// Empty is the request or response of calls that carry nothing.
type Empty struct{}

type PlaceOrderRequest struct {
	Items       []models.Item  `json:"items"`
	TotalAmount int64          `json:"total_amount"`
	Address     models.Address `json:"address"`
}

type OrderRequest struct {
	OrderID string `json:"order_id"`
}

type ListOrdersRequest struct {
	Limit int `json:"limit"`
}

type ListOrdersResponse struct {
	Orders []*OrderView `json:"orders"`
}

type CompleteDeliveryRequest struct {
	OrderID string `json:"order_id"`
	Code    string `json:"code"`
	// PhotoRef may be empty when the photo was uploaded over HTTP first.
	PhotoRef string `json:"photo_ref,omitempty"`
}

type AdvanceRequest struct {
	OrderID string                `json:"order_id"`
	Status  models.DetailedStatus `json:"status"`
}

type PublishLocationRequest struct {
	OrderID   string    `json:"order_id,omitempty"`
	Lat       float64   `json:"latitude"`
	Lng       float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	SampledAt time.Time `json:"sampled_at"`
}

// OrderView is the wire form of an order. DeliveryCode is only filled for
// the owning customer.
type OrderView struct {
	ID             string                `json:"id"`
	CustomerID     string                `json:"customer_id"`
	Status         models.OrderStatus    `json:"status"`
	DetailedStatus models.DetailedStatus `json:"status_detailed"`
	Items          []models.Item         `json:"items"`
	TotalAmount    int64                 `json:"total_amount"`
	Address        models.Address        `json:"address"`
	DeliveryCode   string                `json:"delivery_code,omitempty"`
	CourierID      string                `json:"courier_id,omitempty"`
	AcceptedAt     *time.Time            `json:"accepted_at,omitempty"`
	DepartedAt     *time.Time            `json:"departed_at,omitempty"`
	DeliveredAt    *time.Time            `json:"delivered_at,omitempty"`
	CancelledAt    *time.Time            `json:"cancelled_at,omitempty"`
	PhotoRef       string                `json:"photo_ref,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// WatchEvent is one message of the watch streams. The final message of a
// stream carries Notice.
type WatchEvent struct {
	Order    *OrderView              `json:"order,omitempty"`
	Location *models.LocationSample  `json:"location,omitempty"`
	Trail    []models.LocationSample `json:"trail,omitempty"`
	Route    *routing.Route          `json:"route,omitempty"`
	Notice   *tracking.Notice        `json:"notice,omitempty"`
}

func toOrderView(o *models.Order) *OrderView {
	v := &OrderView{
		ID:             o.ID,
		CustomerID:     o.CustomerID,
		Status:         o.Status(),
		DetailedStatus: o.Detailed(),
		Items:          o.Items,
		TotalAmount:    o.TotalAmount,
		Address:        o.Address,
		DeliveryCode:   o.DeliveryCode,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	switch st := o.State.(type) {
	case models.AssignedToDriver:
		v.CourierID = st.CourierID
		v.AcceptedAt = timePtr(st.AcceptedAt)
	case models.OutForDelivery:
		v.CourierID = st.CourierID
		v.AcceptedAt = timePtr(st.AcceptedAt)
		v.DepartedAt = timePtr(st.DepartedAt)
	case models.Delivered:
		v.CourierID = st.CourierID
		v.AcceptedAt = timePtr(st.AcceptedAt)
		v.DepartedAt = timePtr(st.DepartedAt)
		v.DeliveredAt = timePtr(st.DeliveredAt)
		v.PhotoRef = st.PhotoRef
	case models.Cancelled:
		v.CancelledAt = timePtr(st.CancelledAt)
	}
	return v
}

func toOrderViews(list []*models.Order) *ListOrdersResponse {
	out := &ListOrdersResponse{Orders: make([]*OrderView, 0, len(list))}
	for _, o := range list {
		out.Orders = append(out.Orders, toOrderView(o))
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
