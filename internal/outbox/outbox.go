// Package outbox stores events in the same transaction as the state change
// that produced them, and relays them to the broker afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/joao-fontenele/storefront/internal/database"
)

type Record struct {
	ID           int64             `json:"id"`
	EventID      string            `json:"event_id"`
	Topic        string            `json:"topic"`
	Key          string            `json:"key"`
	Payload      json.RawMessage   `json:"payload"`
	TraceContext map[string]string `json:"trace_context"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at"`
}

// Insert encodes payload and queues it together with the trace context of ctx.
func Insert(ctx context.Context, db database.DBTX, eventID, topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	traceContext, err := json.Marshal(carrier)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO outbox (event_id, topic, key, payload, trace_context)
		VALUES ($1, $2, $3, $4, $5)
	`, eventID, topic, key, data, traceContext)
	return err
}

func MarkSent(ctx context.Context, db database.DBTX, id int64) error {
	_, err := db.ExecContext(ctx, `UPDATE outbox SET sent_at = NOW() WHERE id = $1`, id)
	return err
}

// FetchPending locks up to limit unsent records, oldest first. Locked rows are
// skipped by concurrent relays until the surrounding transaction ends.
func FetchPending(ctx context.Context, db database.DBTX, limit int) ([]Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, event_id, topic, key, payload, trace_context, created_at, sent_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var (
			rec          Record
			traceContext []byte
		)
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &rec.Payload, &traceContext, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, err
		}
		if len(traceContext) > 0 {
			_ = json.Unmarshal(traceContext, &rec.TraceContext)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
