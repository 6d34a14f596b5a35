package projection

import (
	"context"
	"fmt"

	"github.com/MahdiNavaei/InvoiceMind/pkg/ledger"
)

// MetricsSnapshot holds the operational counters governance screens display.
// It is a pure fold over the ledger, so it needs no counter storage and can
// never drift from the events it summarizes.
type MetricsSnapshot struct {
	RunCreated            int `json:"run_created"`
	RunSucceeded          int `json:"run_succeeded"`
	RunWarn               int `json:"run_warn"`
	RunNeedsReview        int `json:"run_needs_review"`
	RunFailed             int `json:"run_failed"`
	RunTimedOut           int `json:"run_timed_out"`
	RunCancelled          int `json:"run_cancelled"`
	StageRetried          int `json:"stage_retried"`
	QuarantineCreated     int `json:"quarantine_created"`
	QuarantineReprocessed int `json:"quarantine_reprocessed"`
	QueueDepth            int `json:"queue_depth"`
}

// Metrics folds the full ledger into a MetricsSnapshot in one pass. Queue
// depth is the number of runs currently projected as QUEUED.
func Metrics(ctx context.Context, source EventSource, runs *RunProjector) (MetricsSnapshot, error) {
	events, err := source.Scan(ctx, 0)
	if err != nil {
		return MetricsSnapshot{}, fmt.Errorf("scan ledger: %w", err)
	}

	var snap MetricsSnapshot
	states := make(map[string]*RunState)
	for _, e := range events {
		switch e.Type {
		case ledger.EventRunCreated:
			snap.RunCreated++
		case ledger.EventRunSucceeded:
			snap.RunSucceeded++
		case ledger.EventRunWarned:
			snap.RunWarn++
		case ledger.EventRunNeedsReview:
			snap.RunNeedsReview++
		case ledger.EventRunFailed:
			snap.RunFailed++
		case ledger.EventRunTimedOut:
			snap.RunTimedOut++
		case ledger.EventRunCancelled:
			snap.RunCancelled++
		case ledger.EventRunStageRetried:
			snap.StageRetried++
		case ledger.EventQuarantineCreated:
			snap.QuarantineCreated++
		case ledger.EventQuarantineReprocess:
			snap.QuarantineReprocessed++
		}
		if e.RunID != "" {
			states[e.RunID] = runs.apply(states[e.RunID], e)
		}
	}
	for _, state := range states {
		if state.Status == StatusQueued {
			snap.QueueDepth++
		}
	}
	return snap, nil
}
