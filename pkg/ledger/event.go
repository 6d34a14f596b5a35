// Package ledger implements an append-only, hash-chained audit event log.
//
// Every operational event (document ingestion, run lifecycle, stage retries,
// quarantine actions) is recorded here. Each event is hash-chained to its
// predecessor; the ledger is the sole source of truth and is never mutated.
package ledger

import (
	"errors"
	"time"
)

// GenesisHash is the prev_hash of the first event in any ledger.
const GenesisHash = "GENESIS"

// ErrNotFound is returned when a requested event does not exist.
var ErrNotFound = errors.New("not found")

// ErrIntegrityViolation marks a broken hash chain. Fatal to trust in the
// ledger; never auto-repaired.
var ErrIntegrityViolation = errors.New("ledger integrity violation")

// EventType categorizes an audit event.
type EventType string

const (
	EventRunCreated          EventType = "run_created"
	EventRunStageStarted     EventType = "run_stage_started"
	EventRunStageSucceeded   EventType = "run_stage_succeeded"
	EventRunStageFailed      EventType = "run_stage_failed"
	EventRunStageRetried     EventType = "run_stage_retried"
	EventRunSucceeded        EventType = "run_succeeded"
	EventRunWarned           EventType = "run_warned"
	EventRunNeedsReview      EventType = "run_needs_review"
	EventRunFailed           EventType = "run_failed"
	EventRunCancelRequested  EventType = "run_cancel_requested"
	EventRunCancelled        EventType = "run_cancelled"
	EventRunTimedOut         EventType = "run_timed_out"
	EventQuarantineCreated   EventType = "quarantine_created"
	EventQuarantineReprocess EventType = "quarantine_reprocessed"
	EventQuarantineResolved  EventType = "quarantine_resolved"
)

// Event is an immutable, hash-chained audit record.
//
// Hash is a pure function of (sequence_no, timestamp_utc, event_type, run_id,
// canonical payload, prev_hash). RunID is empty for non-run events and encodes
// as null in the canonical form so hashes stay portable across implementations.
type Event struct {
	Seq          uint64         `json:"sequence_no"`
	TimestampUTC time.Time      `json:"timestamp_utc"`
	Type         EventType      `json:"event_type"`
	RunID        string         `json:"run_id,omitempty"`
	Payload      map[string]any `json:"payload"`
	PrevHash     string         `json:"prev_hash"`
	Hash         string         `json:"hash"`
}

// hashTuple is the canonical structure digested for Event.Hash.
func (e Event) hashTuple() map[string]any {
	var runID any
	if e.RunID != "" {
		runID = e.RunID
	}
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return map[string]any{
		"sequence_no":   e.Seq,
		"timestamp_utc": e.TimestampUTC.UTC().Format(time.RFC3339Nano),
		"event_type":    string(e.Type),
		"run_id":        runID,
		"payload":       payload,
		"prev_hash":     e.PrevHash,
	}
}

// VerifyResult reports the outcome of a chain integrity walk.
type VerifyResult struct {
	Valid         bool   `json:"valid"`
	EventsChecked int    `json:"events_checked"`
	HeadHash      string `json:"head_hash,omitempty"`
	// FirstErrorIndex is the zero-based position of the earliest event whose
	// stored hash or prev_hash no longer matches recomputation; -1 when valid.
	FirstErrorIndex int    `json:"first_error_index"`
	Error           string `json:"error,omitempty"`
}
