package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQWriter records events that could not be delivered.
type DLQWriter struct {
	pool      *pgxpool.Pool
	baseDelay time.Duration
}

// NewDLQWriter initialises a writer backed by the provided connection pool.
// baseDelay spaces out retries of events that already failed after a replay.
func NewDLQWriter(pool *pgxpool.Pool, baseDelay time.Duration) *DLQWriter {
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &DLQWriter{pool: pool, baseDelay: baseDelay}
}

// retryDelay is how long a dead-lettered event waits before its next replay.
// A first failure is retried immediately.
func (w *DLQWriter) retryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	return backoff(w.baseDelay, attempts)
}

// Write stores msg in outbox_dlq, continuing the retry count the event
// already carries.
func (w *DLQWriter) Write(ctx context.Context, msg Message, reason string) error {
	_, err := w.pool.Exec(ctx,
		`INSERT INTO outbox_dlq (school_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count, last_attempt_at, next_retry_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, NOW(), NOW() + $12::interval)`,
		msg.SchoolID, msg.EventID, msg.EventType, msg.Topic, msg.Payload, reason, msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
		msg.Attempts, w.retryDelay(msg.Attempts),
	)
	return err
}
