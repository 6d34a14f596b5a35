// Package projection derives read-time state from the audit ledger.
//
// Nothing here is stored: run state, quarantine state, and metric counts are
// recomputed per call by folding committed events in sequence order. The fold
// is total over any event sequence: anomalous events are logged and absorbed,
// never fatal.
package projection

import (
	"context"
	"time"

	"github.com/MahdiNavaei/InvoiceMind/pkg/ledger"
)

// EventSource is the read side of the ledger needed by projectors.
type EventSource interface {
	Scan(ctx context.Context, sinceSeq uint64) ([]ledger.Event, error)
}

// RunStatus is the projected lifecycle state of a run.
type RunStatus string

const (
	StatusQueued          RunStatus = "QUEUED"
	StatusRunning         RunStatus = "RUNNING"
	StatusSuccess         RunStatus = "SUCCESS"
	StatusWarn            RunStatus = "WARN"
	StatusNeedsReview     RunStatus = "NEEDS_REVIEW"
	StatusFailed          RunStatus = "FAILED"
	StatusCancelled       RunStatus = "CANCELLED"
	StatusCancelRequested RunStatus = "CANCEL_REQUESTED"
	StatusTimedOut        RunStatus = "TIMED_OUT"
	StatusUnknown         RunStatus = "UNKNOWN"
)

// terminalStatuses are statuses after which no further transition is expected.
var terminalStatuses = map[RunStatus]struct{}{
	StatusSuccess:     {},
	StatusWarn:        {},
	StatusNeedsReview: {},
	StatusFailed:      {},
	StatusCancelled:   {},
	StatusTimedOut:    {},
}

// IsTerminal reports whether s is a terminal run status.
func (s RunStatus) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// Pipeline stage names as emitted by the processing workers. The fold accepts
// any stage string; these cover the standard pipeline.
const (
	StagePreprocess = "PREPROCESS"
	StageOCR        = "OCR"
	StageExtract    = "EXTRACT"
	StageValidate   = "VALIDATE"
	StagePersist    = "PERSIST"
	StageExport     = "EXPORT"
)

// StageAttempt is one stage-attempt entry in a run's history. Retries append
// fresh entries; prior attempts are never overwritten.
type StageAttempt struct {
	StageName string `json:"stage_name"`
	Status    string `json:"status"`
	Attempt   int    `json:"attempt"`
	ErrorCode string `json:"error_code,omitempty"`
}

// RunState is the state of a single run folded from its event subsequence.
type RunState struct {
	RunID             string         `json:"run_id"`
	DocumentID        string         `json:"document_id,omitempty"`
	Status            RunStatus      `json:"status"`
	Stages            []StageAttempt `json:"stages"`
	ReviewDecision    string         `json:"review_decision,omitempty"`
	ReviewReasonCodes []string       `json:"review_reason_codes,omitempty"`
	DecisionLog       map[string]any `json:"decision_log,omitempty"`
	Result            map[string]any `json:"result,omitempty"`
	ErrorCode         string         `json:"error_code,omitempty"`
	ModelName         string         `json:"model_name,omitempty"`
	RouteName         string         `json:"route_name,omitempty"`
	ReplayOfRunID     string         `json:"replay_of_run_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// statusFromEventType is the fallback when an event payload carries no
// explicit status. Explicit payload status always takes precedence.
func statusFromEventType(t ledger.EventType) RunStatus {
	switch t {
	case ledger.EventRunCreated:
		return StatusQueued
	case ledger.EventRunSucceeded:
		return StatusSuccess
	case ledger.EventRunWarned:
		return StatusWarn
	case ledger.EventRunNeedsReview:
		return StatusNeedsReview
	case ledger.EventRunFailed:
		return StatusFailed
	case ledger.EventRunCancelled:
		return StatusCancelled
	case ledger.EventRunCancelRequested:
		return StatusCancelRequested
	case ledger.EventRunTimedOut:
		return StatusTimedOut
	default:
		return StatusUnknown
	}
}

// terminalEventTypes are event types that drive a run to a terminal status.
var terminalEventTypes = map[ledger.EventType]struct{}{
	ledger.EventRunSucceeded:   {},
	ledger.EventRunWarned:      {},
	ledger.EventRunNeedsReview: {},
	ledger.EventRunFailed:      {},
	ledger.EventRunCancelled:   {},
	ledger.EventRunTimedOut:    {},
}
