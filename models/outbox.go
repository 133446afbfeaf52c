package models

import "time"

// OutboxMessage is a notification waiting to be handed to the broker.
type OutboxMessage struct {
	ID          int64
	RoutingKey  string
	Payload     []byte
	ContentType string
	RetryCount  int
	MaxRetries  int
	LastError   string
	CreatedAt   time.Time
	NextRetryAt time.Time
}
