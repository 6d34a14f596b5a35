package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists events in Postgres via database/sql (lib/pq driver,
// registered by the caller).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an opened Postgres handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	sequence_no BIGINT PRIMARY KEY,
	timestamp_utc TEXT NOT NULL,
	event_type TEXT NOT NULL,
	run_id TEXT,
	payload JSONB NOT NULL,
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_run_id ON audit_events(run_id);
`

// Init creates the schema.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgSchema)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	var runID sql.NullString
	if e.RunID != "" {
		runID = sql.NullString{String: e.RunID, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_events (sequence_no, timestamp_utc, event_type, run_id, payload, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.Seq, e.TimestampUTC.UTC().Format(time.RFC3339Nano), string(e.Type), runID, string(payload), e.PrevHash, e.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) Scan(ctx context.Context, sinceSeq uint64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence_no, timestamp_utc, event_type, run_id, payload, prev_hash, hash
		 FROM audit_events WHERE sequence_no > $1 ORDER BY sequence_no ASC`, sinceSeq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Last(ctx context.Context) (Event, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sequence_no, timestamp_utc, event_type, run_id, payload, prev_hash, hash
		 FROM audit_events ORDER BY sequence_no DESC LIMIT 1`)
	e, err := scanEventRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Event{}, false, nil
		}
		return Event{}, false, err
	}
	return e, true, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }
