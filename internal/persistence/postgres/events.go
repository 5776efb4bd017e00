package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/schoolsync/internal/outbox"
)

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	outbox.EventExerciseSubmitted: {
		Topic:         "exercise_submissions",
		SchemaSubject: "exercise_submissions-value",
	},
}

type outboxRecord struct {
	SchoolID      string
	AggregateType string
	AggregateID   string
	EventType     string
	PartitionKey  string
	DedupeKey     string
	Payload       any
}

// insertOutbox records an event in the caller's transaction. Events whose
// dedupe key was already recorded are skipped.
func insertOutbox(ctx context.Context, tx pgx.Tx, rec outboxRecord) error {
	meta, ok := eventCatalog[rec.EventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", rec.EventType)
	}

	body, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (school_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		rec.SchoolID,
		rec.AggregateType,
		rec.AggregateID,
		rec.EventType,
		meta.Topic,
		meta.SchemaSubject,
		rec.PartitionKey,
		body,
		rec.DedupeKey,
	)
	return err
}
