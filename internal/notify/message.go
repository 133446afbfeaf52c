// Package notify turns order status changes into push notification
// messages. Messages go through a transactional outbox table and a worker
// hands them to RabbitMQ; the push gateway itself lives elsewhere.
package notify

import (
	"time"

	"github.com/tomasmejiag0/puracalle-food/models"
)

// Message is the payload consumers turn into a push notification.
type Message struct {
	UserID    string                `json:"user_id"`
	OrderID   string                `json:"order_id"`
	Status    models.DetailedStatus `json:"status"`
	Title     string                `json:"title"`
	Body      string                `json:"body"`
	ChangedAt time.Time             `json:"changed_at"`
}

type copyText struct{ title, body string }

// Customer-facing copy, in the storefront's language.
var texts = map[models.DetailedStatus]copyText{
	models.StatusPending:          {"¡Pedido Recibido!", "Tu orden ha sido recibida y está siendo preparada"},
	models.StatusPreparing:        {"Preparando Tu Orden", "Tu comida está siendo preparada"},
	models.StatusReadyForPickup:   {"Listo para Recoger", "Tu pedido está listo y esperando al repartidor"},
	models.StatusAssignedToDriver: {"Repartidor Asignado", "Un repartidor ha sido asignado a tu pedido"},
	models.StatusOutForDelivery:   {"¡En Camino!", "Tu pedido está en camino"},
	models.StatusDelivered:        {"¡Entregado!", "¡Tu pedido ha sido entregado! Disfruta tu comida"},
	models.StatusCancelled:        {"Pedido Cancelado", "Tu pedido ha sido cancelado"},
}

const fallbackTitle = "Actualización de Pedido"

// Compose builds the message for a status event.
func Compose(ev models.StatusEvent) Message {
	m := Message{
		UserID:    ev.UserID,
		OrderID:   ev.OrderID,
		Status:    ev.Status,
		Title:     fallbackTitle,
		ChangedAt: ev.ChangedAt,
	}
	if t, ok := texts[ev.Status]; ok {
		m.Title, m.Body = t.title, t.body
	}
	return m
}

// RoutingKey is the broker routing key for a status, e.g. order.status.delivered.
func RoutingKey(s models.DetailedStatus) string {
	return "order.status." + string(s)
}
