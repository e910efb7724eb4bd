package outbox

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"

	"github.com/joao-fontenele/storefront/internal/database"
	"github.com/joao-fontenele/storefront/internal/messaging"
)

const defaultBatchSize = 100

// Queue is the outbox storage the relay drains. Batch runs fn inside one
// transaction holding the pending records it was given.
type Queue interface {
	Batch(ctx context.Context, limit int, fn func(ctx context.Context, records []Record, markSent func(id int64) error) error) error
}

// PostgresQueue drains the outbox table.
type PostgresQueue struct {
	db *sql.DB
}

func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

func (q *PostgresQueue) Batch(ctx context.Context, limit int, fn func(ctx context.Context, records []Record, markSent func(id int64) error) error) error {
	return database.WithTx(ctx, q.db, func(tx *sql.Tx) error {
		records, err := FetchPending(ctx, tx, limit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return fn(ctx, records, func(id int64) error { return MarkSent(ctx, tx, id) })
	})
}

// Relay publishes queued events in id order. A record is marked sent only
// after the broker accepted it; a publish failure ends the batch and leaves
// that record and the ones after it for the next tick. Delivery is at least
// once, consumers dedupe on the event id header.
type Relay struct {
	queue     Queue
	publisher messaging.Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger

	published metric.Int64Counter
	failures  metric.Int64Counter
}

func NewRelay(queue Queue, publisher messaging.Publisher, interval time.Duration, logger *slog.Logger) *Relay {
	meter := otel.Meter("outbox")
	published, _ := meter.Int64Counter("outbox.events.published",
		metric.WithDescription("Outbox events accepted by the broker"))
	failures, _ := meter.Int64Counter("outbox.publish.failures",
		metric.WithDescription("Outbox publish attempts that failed"))

	return &Relay{
		queue:     queue,
		publisher: publisher,
		interval:  interval,
		batchSize: defaultBatchSize,
		logger:    logger,
		published: published,
		failures:  failures,
	}
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", "interval", r.interval.String())
	for {
		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("outbox relay failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch and returns how many records were sent.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	sent := 0
	err := r.queue.Batch(ctx, r.batchSize, func(ctx context.Context, records []Record, markSent func(int64) error) error {
		for _, rec := range records {
			msgCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(rec.TraceContext))
			err := r.publisher.Publish(msgCtx, messaging.Message{
				Topic:   rec.Topic,
				Key:     rec.Key,
				EventID: rec.EventID,
				Value:   rec.Payload,
			})
			if err != nil {
				r.failures.Add(ctx, 1)
				r.logger.Warn("outbox publish failed", "error", err, "event_id", rec.EventID, "topic", rec.Topic)
				// Keep what was already sent; the rest waits for the next tick.
				return nil
			}
			if err := markSent(rec.ID); err != nil {
				return err
			}
			sent++
		}
		return nil
	})
	if err != nil {
		// The batch rolled back, so nothing counts as sent.
		return 0, err
	}
	if sent > 0 {
		r.published.Add(ctx, int64(sent))
		r.logger.Debug("outbox batch relayed", "count", sent)
	}
	return sent, nil
}
