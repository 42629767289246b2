package store

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vrchat-guide/event-sync-service/internal/eventstore"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// PersistenceError indicates a database connection or statement failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// PostgresStore is the durable persistence layer for events.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, &PersistenceError{Op: "connect", Err: err}
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &PersistenceError{Op: "ping", Err: err}
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. All statements are guarded with
// IF NOT EXISTS, so it is safe to run repeatedly and concurrently with reads.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return &PersistenceError{Op: "ensure schema", Err: err}
	}
	return nil
}

// Ping is used by the readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// UpsertEvents writes a batch of events in one transaction, keyed on id.
// On conflict every mutable field is overwritten and updated_at is bumped;
// created_at is set only on first insert. Upserts are idempotent and
// commutative per row, so overlapping sync cycles are safe.
func (p *PostgresStore) UpsertEvents(ctx context.Context, events []eventstore.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO events (id, summary, start_time, end_time, location, description)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				summary = EXCLUDED.summary,
				start_time = EXCLUDED.start_time,
				end_time = EXCLUDED.end_time,
				location = EXCLUDED.location,
				description = EXCLUDED.description,
				updated_at = CURRENT_TIMESTAMP
		`, ev.ID, ev.Summary, ev.Start, ev.End, ev.Location, ev.Description)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return &PersistenceError{Op: "begin upsert", Err: err}
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return &PersistenceError{Op: "upsert events", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &PersistenceError{Op: "commit upsert", Err: err}
	}
	return nil
}

// DeleteExpired removes rows whose end_time is strictly before the cutoff
// and returns how many were deleted. A row ending exactly at the cutoff is
// kept.
func (p *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM events WHERE end_time < $1`, before)
	if err != nil {
		return 0, &PersistenceError{Op: "delete expired", Err: err}
	}
	return tag.RowsAffected(), nil
}

const eventColumns = `id, summary, start_time, end_time, coalesce(location, ''), coalesce(description, '')`

// ListActive returns every event that has not yet ended, ordered by start
// time. This feeds the embedding index rebuild.
func (p *PostgresStore) ListActive(ctx context.Context) ([]eventstore.Event, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE end_time >= CURRENT_TIMESTAMP
		ORDER BY start_time
	`)
	if err != nil {
		return nil, &PersistenceError{Op: "list active", Err: err}
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListUpcoming returns events starting in [from, to], ordered by start time,
// truncated to limit when positive.
func (p *PostgresStore) ListUpcoming(ctx context.Context, from, to time.Time, limit int) ([]eventstore.Event, error) {
	q := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE start_time >= $1 AND start_time <= $2
		ORDER BY start_time
	`
	args := []any{from, to}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "list upcoming", Err: err}
	}
	defer rows.Close()

	return scanEvents(rows)
}

// SearchText runs a full-text query over summary and description. The
// tsvector expression mirrors idx_events_text in schema.sql so the planner
// can use the GIN index.
func (p *PostgresStore) SearchText(ctx context.Context, text string, limit int) ([]eventstore.Event, error) {
	q := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE to_tsvector('english', summary || ' ' || coalesce(description, ''))
			@@ plainto_tsquery('english', $1)
		ORDER BY start_time
	`
	args := []any{text}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "search text", Err: err}
	}
	defer rows.Close()

	return scanEvents(rows)
}

// CountEvents returns the number of stored events.
func (p *PostgresStore) CountEvents(ctx context.Context) (int64, error) {
	var count int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, &PersistenceError{Op: "count events", Err: err}
	}
	return count, nil
}

// LastUpdated returns the most recent updated_at across all rows, zero when
// the table is empty.
func (p *PostgresStore) LastUpdated(ctx context.Context) (time.Time, error) {
	var last *time.Time
	if err := p.pool.QueryRow(ctx, `SELECT MAX(updated_at) FROM events`).Scan(&last); err != nil {
		return time.Time{}, &PersistenceError{Op: "last updated", Err: err}
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}

func scanEvents(rows pgx.Rows) ([]eventstore.Event, error) {
	var events []eventstore.Event
	for rows.Next() {
		var ev eventstore.Event
		if err := rows.Scan(&ev.ID, &ev.Summary, &ev.Start, &ev.End, &ev.Location, &ev.Description); err != nil {
			return nil, &PersistenceError{Op: "scan event", Err: err}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "read rows", Err: err}
	}
	return events, nil
}
