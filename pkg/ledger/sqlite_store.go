package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists events in a SQLite database via database/sql.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an opened SQLite handle and ensures the schema exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		sequence_no INTEGER PRIMARY KEY,
		timestamp_utc TEXT NOT NULL,
		event_type TEXT NOT NULL,
		run_id TEXT,
		payload JSON NOT NULL,
		prev_hash TEXT NOT NULL,
		hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_events_run_id ON audit_events(run_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, e Event) error {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Seq, e.TimestampUTC.UTC().Format(time.RFC3339Nano), string(e.Type), runID, string(payload), e.PrevHash, e.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Scan(ctx context.Context, sinceSeq uint64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence_no, timestamp_utc, event_type, run_id, payload, prev_hash, hash
		 FROM audit_events WHERE sequence_no > ? ORDER BY sequence_no ASC`, sinceSeq)
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

func (s *SQLiteStore) Last(ctx context.Context) (Event, bool, error) {
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

func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEventRow(row rowScanner) (Event, error) {
	var (
		e       Event
		ts      string
		runID   sql.NullString
		payload string
	)
	if err := row.Scan(&e.Seq, &ts, (*string)(&e.Type), &runID, &payload, &e.PrevHash, &e.Hash); err != nil {
		return Event{}, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Event{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	e.TimestampUTC = parsed
	e.RunID = runID.String
	if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
		return Event{}, fmt.Errorf("decode payload: %w", err)
	}
	return e, nil
}
