package notify

import (
	"context"
	"math"
	"time"

	"github.com/tomasmejiag0/puracalle-food/internal/logger"
)

// Worker drains the outbox into the broker.
type Worker struct {
	store        OutboxStore
	publisher    Publisher
	pollInterval time.Duration
	batchSize    int
	retryBase    time.Duration
	log          logger.ILogger
	now          func() time.Time
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithPollInterval sets how often the outbox is scanned.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithBatchSize bounds the messages handled per scan.
func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithRetryBase sets the first backoff step; later steps double it.
func WithRetryBase(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.retryBase = d
		}
	}
}

// WithWorkerLogger sets the logger.
func WithWorkerLogger(l logger.ILogger) WorkerOption { return func(w *Worker) { w.log = l } }

// WithWorkerClock replaces time.Now.
func WithWorkerClock(now func() time.Time) WorkerOption { return func(w *Worker) { w.now = now } }

// NewWorker returns a worker polling every 5s in batches of 100.
func NewWorker(store OutboxStore, pub Publisher, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:        store,
		publisher:    pub,
		pollInterval: 5 * time.Second,
		batchSize:    100,
		retryBase:    15 * time.Second,
		log:          logger.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes the outbox until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.log.Info("outbox worker started",
		logger.Duration("poll_interval", w.pollInterval), logger.Int("batch_size", w.batchSize))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("outbox worker shutting down")
			return nil
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce publishes one batch of due messages and returns how many the
// broker accepted.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	messages, err := w.store.GetPendingMessages(ctx, w.now(), w.batchSize)
	if err != nil {
		w.log.Error("failed to get pending messages from outbox", logger.Error(err))
		return 0
	}
	sent := 0
	for _, msg := range messages {
		err := w.publisher.Publish(ctx, msg.RoutingKey, msg.ContentType, msg.Payload)
		if err != nil {
			retries := msg.RetryCount + 1
			next := w.now().Add(time.Duration(math.Pow(2, float64(retries-1))) * w.retryBase)
			w.log.Warning("failed to publish outbox message, will retry",
				logger.Int64("outbox_id", msg.ID),
				logger.Int("retry_count", retries),
				logger.Time("next_retry", next),
				logger.Error(err))
			if err := w.store.UpdateRetry(ctx, msg.ID, retries, err.Error(), next); err != nil {
				w.log.Error("failed to update retry information", logger.Int64("outbox_id", msg.ID), logger.Error(err))
			}
			continue
		}
		if err := w.store.Delete(ctx, msg.ID); err != nil {
			w.log.Error("failed to delete published outbox message", logger.Int64("outbox_id", msg.ID), logger.Error(err))
			continue
		}
		sent++
	}
	if sent > 0 {
		w.log.Debug("outbox messages published", logger.Int("count", sent))
	}
	return sent
}

// LogPublisher stands in for the broker when none is configured. Messages
// are logged and considered delivered.
type LogPublisher struct {
	Log logger.ILogger
}

func (p LogPublisher) Publish(_ context.Context, routingKey, _ string, body []byte) error {
	if p.Log != nil {
		p.Log.Info("notification", logger.String("routing_key", routingKey), logger.String("payload", string(body)))
	}
	return nil
}
