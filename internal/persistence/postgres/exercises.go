package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/schoolsync/internal/domain"
	"example.com/schoolsync/internal/events"
	"example.com/schoolsync/internal/observability"
	"example.com/schoolsync/internal/outbox"
)

// ExerciseStore persists submissions and the monthly rows derived from them.
type ExerciseStore struct {
	pool *pgxpool.Pool
}

// NewExerciseStore constructs an ExerciseStore.
func NewExerciseStore(pool *pgxpool.Pool) *ExerciseStore {
	return &ExerciseStore{pool: pool}
}

// cell addresses one month of one category for a student.
type cell struct {
	StudentID string
	Category  domain.Category
	Period    int
	Month     int
}

func (c cell) lockKey() string {
	return fmt.Sprintf("cell:%s:%d:%d:%d", c.StudentID, c.Category, c.Period, c.Month)
}

func cellOf(sub domain.Submission) cell {
	return cell{StudentID: sub.StudentID, Category: sub.Category, Period: sub.Period, Month: sub.Month}
}

// monthReductions recompute one record kind for a cell from the ledger.
var monthReductions = map[domain.RecordKind]string{
	domain.KindDuration:      `SUM(duration_seconds) / 60.0`,
	domain.KindAvgHeartRate:  `AVG(avg_bpm)`,
	domain.KindPeakHeartRate: `MAX(max_bpm)`,
}

// UpsertSubmissions writes the batch in one transaction. Locks are taken in
// two sorted phases (idempotency keys, then cells) so overlapping batches
// never wait on each other in a cycle.
func (s *ExerciseStore) UpsertSubmissions(ctx context.Context, subs []domain.Submission) (domain.UpsertStats, error) {
	var stats domain.UpsertStats
	if len(subs) == 0 {
		return stats, nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return stats, err
	}
	defer tx.Rollback(ctx)

	keys := make([]string, 0, len(subs))
	seen := make(map[string]struct{}, len(subs))
	for _, sub := range subs {
		if _, ok := seen[sub.IdempotencyKey]; ok {
			continue
		}
		seen[sub.IdempotencyKey] = struct{}{}
		keys = append(keys, "submission:"+sub.IdempotencyKey)
	}
	if err := advisoryLock(ctx, tx, keys); err != nil {
		return stats, err
	}

	previous, err := previousCells(ctx, tx, subs)
	if err != nil {
		return stats, err
	}

	dirty := make(map[cell]struct{}, len(subs))
	for _, c := range previous {
		dirty[c] = struct{}{}
	}
	for _, sub := range subs {
		dirty[cellOf(sub)] = struct{}{}
	}
	cells := make([]cell, 0, len(dirty))
	cellKeys := make([]string, 0, len(dirty))
	for c := range dirty {
		cells = append(cells, c)
		cellKeys = append(cellKeys, c.lockKey())
	}
	if err := advisoryLock(ctx, tx, cellKeys); err != nil {
		return stats, err
	}

	var lastWrite time.Time
	for _, sub := range subs {
		changed, inserted, updatedAt, err := upsertSubmission(ctx, tx, sub)
		if err != nil {
			return stats, fmt.Errorf("upsert submission %s: %w", sub.IdempotencyKey, err)
		}
		switch {
		case !changed:
			stats.Unchanged++
			continue
		case inserted:
			stats.Inserted++
		default:
			stats.Updated++
		}
		lastWrite = updatedAt

		if err := insertOutbox(ctx, tx, submittedEvent(sub, updatedAt)); err != nil {
			return stats, err
		}
	}

	if stats.Inserted+stats.Updated > 0 {
		sort.Slice(cells, func(i, j int) bool { return cells[i].lockKey() < cells[j].lockKey() })
		for _, c := range cells {
			if err := recomputeCell(ctx, tx, c); err != nil {
				return stats, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, err
	}
	observability.RecordSubmissionsPersisted(lastWrite)
	return stats, nil
}

// advisoryLock takes transaction-scoped locks in sorted order.
func advisoryLock(ctx context.Context, tx pgx.Tx, keys []string) error {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for _, key := range sorted {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return err
		}
	}
	return nil
}

// previousCells returns the stored coordinates of keys that already exist.
func previousCells(ctx context.Context, tx pgx.Tx, subs []domain.Submission) ([]cell, error) {
	keys := make([]string, 0, len(subs))
	for _, sub := range subs {
		keys = append(keys, sub.IdempotencyKey)
	}

	rows, err := tx.Query(ctx,
		`SELECT student_id::text, category, period, month
        FROM exercise_submissions
        WHERE idempotency_key = ANY($1::text[])
        ORDER BY idempotency_key
        FOR UPDATE`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cells []cell
	for rows.Next() {
		var c cell
		var category int16
		var month int16
		if err := rows.Scan(&c.StudentID, &category, &c.Period, &month); err != nil {
			return nil, err
		}
		c.Category, c.Month = domain.Category(category), int(month)
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

// upsertSubmission writes one ledger row. A replay carrying identical values
// leaves the row untouched and returns changed=false.
func upsertSubmission(ctx context.Context, tx pgx.Tx, sub domain.Submission) (changed, inserted bool, updatedAt time.Time, err error) {
	const stmt = `INSERT INTO exercise_submissions AS s
            (idempotency_key, student_id, category, period, month, duration_seconds, accuracy, avg_bpm, max_bpm, calories)
        VALUES ($1, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (idempotency_key) DO UPDATE SET
            student_id = EXCLUDED.student_id,
            category = EXCLUDED.category,
            period = EXCLUDED.period,
            month = EXCLUDED.month,
            duration_seconds = EXCLUDED.duration_seconds,
            accuracy = EXCLUDED.accuracy,
            avg_bpm = EXCLUDED.avg_bpm,
            max_bpm = EXCLUDED.max_bpm,
            calories = EXCLUDED.calories,
            updated_at = clock_timestamp()
        WHERE (s.student_id, s.category, s.period, s.month, s.duration_seconds, s.accuracy, s.avg_bpm, s.max_bpm, s.calories)
            IS DISTINCT FROM
            (EXCLUDED.student_id, EXCLUDED.category, EXCLUDED.period, EXCLUDED.month, EXCLUDED.duration_seconds, EXCLUDED.accuracy, EXCLUDED.avg_bpm, EXCLUDED.max_bpm, EXCLUDED.calories)
        RETURNING (xmax = 0), updated_at`

	err = tx.QueryRow(ctx, stmt,
		sub.IdempotencyKey,
		sub.StudentID,
		int16(sub.Category),
		sub.Period,
		int16(sub.Month),
		sub.DurationSeconds,
		sub.Accuracy,
		sub.AvgBPM,
		sub.MaxBPM,
		sub.Calories,
	).Scan(&inserted, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, false, time.Time{}, nil
	}
	if err != nil {
		return false, false, time.Time{}, err
	}
	return true, inserted, updatedAt, nil
}

// recomputeCell rewrites the month column of every record kind for c. Only
// that column is written, so concurrent writers of other months are unaffected.
func recomputeCell(ctx context.Context, tx pgx.Tx, c cell) error {
	if c.Month < 1 || c.Month > domain.MonthsPerYear {
		return fmt.Errorf("month %d out of range", c.Month)
	}
	column := fmt.Sprintf("m%02d", c.Month)

	for _, kind := range domain.RecordKinds {
		stmt := fmt.Sprintf(`INSERT INTO exercise_records (student_id, category, record_kind, period, %[1]s, updated_at)
            SELECT $1::uuid, $2::smallint, $3::smallint, $4::integer, agg.value, NOW()
            FROM (
                SELECT %[2]s AS value
                FROM exercise_submissions
                WHERE student_id = $1::uuid AND category = $2::smallint AND period = $4::integer AND month = $5::smallint
            ) agg
            ON CONFLICT (student_id, category, record_kind, period)
            DO UPDATE SET %[1]s = EXCLUDED.%[1]s, updated_at = NOW()`, column, monthReductions[kind])

		if _, err := tx.Exec(ctx, stmt, c.StudentID, int16(c.Category), int16(kind), c.Period, int16(c.Month)); err != nil {
			return fmt.Errorf("recompute %s %s: %w", kind, column, err)
		}
	}
	return nil
}

func submittedEvent(sub domain.Submission, updatedAt time.Time) outboxRecord {
	revision := fmt.Sprintf("%d", updatedAt.UnixNano())
	return outboxRecord{
		SchoolID:      sub.SchoolID,
		AggregateType: "submission",
		AggregateID:   sub.IdempotencyKey,
		EventType:     outbox.EventExerciseSubmitted,
		PartitionKey:  fmt.Sprintf("%s:%s", sub.SchoolID, sub.StudentID),
		DedupeKey:     sub.IdempotencyKey + ":" + revision,
		Payload: events.ExerciseSubmitted{
			IdempotencyKey:  sub.IdempotencyKey,
			SchoolID:        sub.SchoolID,
			StudentID:       sub.StudentID,
			ExerciseType:    sub.Category.String(),
			Period:          sub.Period,
			Month:           sub.Month,
			DurationSeconds: sub.DurationSeconds,
			Accuracy:        sub.Accuracy,
			AvgBPM:          sub.AvgBPM,
			MaxBPM:          sub.MaxBPM,
			Calories:        sub.Calories,
			Revision:        revision,
			OccurredAt:      updatedAt.UTC(),
		},
	}
}

// ListRecords returns the monthly rows of the given students for one school
// year, restricted to categories.
func (s *ExerciseStore) ListRecords(ctx context.Context, studentIDs []string, period int, categories []domain.Category) ([]domain.ExerciseRecord, error) {
	if len(studentIDs) == 0 || len(categories) == 0 {
		return []domain.ExerciseRecord{}, nil
	}
	cats := make([]int16, 0, len(categories))
	for _, c := range categories {
		cats = append(cats, int16(c))
	}

	const query = `SELECT student_id::text, category, record_kind, period,
            m01::float8, m02::float8, m03::float8, m04::float8, m05::float8, m06::float8,
            m07::float8, m08::float8, m09::float8, m10::float8, m11::float8, m12::float8
        FROM exercise_records
        WHERE student_id = ANY($1::text[]::uuid[]) AND period = $2 AND category = ANY($3::smallint[])
        ORDER BY student_id, category, record_kind`

	rows, err := s.pool.Query(ctx, query, studentIDs, period, cats)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.ExerciseRecord, 0)
	for rows.Next() {
		var rec domain.ExerciseRecord
		var category, kind int16
		dest := []any{&rec.StudentID, &category, &kind, &rec.Period}
		for i := range rec.Months {
			dest = append(dest, &rec.Months[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		rec.Category, rec.Kind = domain.Category(category), domain.RecordKind(kind)
		records = append(records, rec)
	}
	return records, rows.Err()
}
