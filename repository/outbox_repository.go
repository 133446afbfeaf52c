package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tomasmejiag0/puracalle-food/models"
)

// OutboxRepository stores notifications until the broker acknowledges them.
type OutboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository creates a new outbox repository.
func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Insert adds a new message to the outbox.
func (r *OutboxRepository) Insert(ctx context.Context, msg models.OutboxMessage) error {
	if msg.ContentType == "" {
		msg.ContentType = "application/json"
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.NextRetryAt.IsZero() {
		msg.NextRetryAt = msg.CreatedAt
	}
	query, args, err := sq.Insert("notification_outbox").
		Columns("routing_key", "payload", "content_type", "retry_count", "max_retries", "last_error", "created_at", "next_retry_at").
		Values(msg.RoutingKey, msg.Payload, msg.ContentType, msg.RetryCount, msg.MaxRetries, msg.LastError,
			nanos(msg.CreatedAt), nanos(msg.NextRetryAt)).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert outbox message: %w", err)
	}
	return nil
}

// GetPendingMessages retrieves messages due at now that still have retries left.
func (r *OutboxRepository) GetPendingMessages(ctx context.Context, now time.Time, limit int) ([]models.OutboxMessage, error) {
	query, args, err := sq.Select("id", "routing_key", "payload", "content_type", "retry_count", "max_retries",
		"last_error", "created_at", "next_retry_at").
		From("notification_outbox").
		Where(sq.LtOrEq{"next_retry_at": nanos(now)}).
		Where(sq.Expr("retry_count < max_retries")).
		OrderBy("next_retry_at ASC", "id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []models.OutboxMessage
	for rows.Next() {
		var msg models.OutboxMessage
		var created, next int64
		if err := rows.Scan(&msg.ID, &msg.RoutingKey, &msg.Payload, &msg.ContentType, &msg.RetryCount,
			&msg.MaxRetries, &msg.LastError, &created, &next); err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		msg.CreatedAt = fromNanos(created)
		msg.NextRetryAt = fromNanos(next)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox messages: %w", err)
	}
	return messages, nil
}

// Delete removes a message from the outbox after successful delivery.
func (r *OutboxRepository) Delete(ctx context.Context, id int64) error {
	query, args, err := sq.Delete("notification_outbox").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete outbox message: %w", err)
	}
	return nil
}

// UpdateRetry updates retry count and error information.
func (r *OutboxRepository) UpdateRetry(ctx context.Context, id int64, retryCount int, lastError string, nextRetryAt time.Time) error {
	query, args, err := sq.Update("notification_outbox").
		Set("retry_count", retryCount).
		Set("last_error", lastError).
		Set("next_retry_at", nanos(nextRetryAt)).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update outbox message: %w", err)
	}
	return nil
}
