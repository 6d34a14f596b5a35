package projection

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MahdiNavaei/InvoiceMind/pkg/ledger"
)

func testClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	return ledger.New(ledger.NewMemoryStore(), ledger.WithClock(testClock()))
}

func mustAppend(t *testing.T, l *ledger.Ledger, et ledger.EventType, runID string, payload map[string]any) {
	t.Helper()
	_, err := l.Append(context.Background(), et, runID, payload)
	require.NoError(t, err)
}

func TestProjectUnknownRunIsNotFound(t *testing.T) {
	l := newTestLedger(t)
	p := NewRunProjector(l, nil)

	_, err := p.Project(context.Background(), "nope")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestProjectFullLifecycle(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	p := NewRunProjector(l, nil)

	mustAppend(t, l, ledger.EventRunCreated, "run-1", map[string]any{"document_id": "doc-1"})
	mustAppend(t, l, ledger.EventRunStageStarted, "run-1", map[string]any{"stage_name": "OCR", "attempt": 1})
	mustAppend(t, l, ledger.EventRunStageSucceeded, "run-1", map[string]any{"stage_name": "OCR", "attempt": 1})
	mustAppend(t, l, ledger.EventRunStageStarted, "run-1", map[string]any{"stage_name": "EXTRACT", "attempt": 1})
	mustAppend(t, l, ledger.EventRunStageFailed, "run-1", map[string]any{"stage_name": "EXTRACT", "attempt": 1, "error_code": "EXTRACT_TIMEOUT"})
	mustAppend(t, l, ledger.EventRunStageRetried, "run-1", map[string]any{"stage_name": "EXTRACT", "attempt": 2})
	mustAppend(t, l, ledger.EventRunStageSucceeded, "run-1", map[string]any{"stage_name": "EXTRACT", "attempt": 2})
	mustAppend(t, l, ledger.EventRunSucceeded, "run-1", map[string]any{
		"status":       "SUCCESS",
		"decision":     "AUTO_APPROVED",
		"reason_codes": []string{"CLEAN"},
		"model_name":   "invoice-extractor-v3",
		"route_name":   "ocr_llm_pipeline",
		"result":       map[string]any{"vendor_name": "Acme GmbH", "total": 118.0},
	})

	state, err := p.Project(ctx, "run-1")
	require.NoError(t, err)

	require.Equal(t, StatusSuccess, state.Status)
	require.Equal(t, "doc-1", state.DocumentID)
	require.Equal(t, "AUTO_APPROVED", state.ReviewDecision)
	require.Equal(t, []string{"CLEAN"}, state.ReviewReasonCodes)
	require.Equal(t, "invoice-extractor-v3", state.ModelName)

	// Full attempt history: OCR once, EXTRACT attempt 1 failed then attempt 2
	// succeeded. Retries append, they never overwrite.
	require.Len(t, state.Stages, 3)
	require.Equal(t, StageAttempt{StageName: "OCR", Status: "SUCCESS", Attempt: 1}, state.Stages[0])
	require.Equal(t, "FAILED", state.Stages[1].Status)
	require.Equal(t, "EXTRACT_TIMEOUT", state.Stages[1].ErrorCode)
	require.Equal(t, StageAttempt{StageName: "EXTRACT", Status: "SUCCESS", Attempt: 2}, state.Stages[2])
}

func TestStageStartMovesQueuedToRunning(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	p := NewRunProjector(l, nil)

	mustAppend(t, l, ledger.EventRunCreated, "run-1", nil)
	mustAppend(t, l, ledger.EventRunStageStarted, "run-1", map[string]any{"stage_name": "PREPROCESS"})

	state, err := p.Project(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, state.Status)
}

func TestExplicitPayloadStatusWinsOverInference(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	p := NewRunProjector(l, nil)

	mustAppend(t, l, ledger.EventRunCreated, "run-1", nil)
	// run_failed would infer FAILED, but the producer said TIMED_OUT.
	mustAppend(t, l, ledger.EventRunFailed, "run-1", map[string]any{"status": "TIMED_OUT", "error_code": "RUN_TIMEOUT"})

	state, err := p.Project(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, StatusTimedOut, state.Status)
	require.Equal(t, "RUN_TIMEOUT", state.ErrorCode)
}

func TestTerminalStatusIsNeverReverted(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	p := NewRunProjector(l, nil)

	mustAppend(t, l, ledger.EventRunCreated, "run-1", nil)
	mustAppend(t, l, ledger.EventRunSucceeded, "run-1", map[string]any{"status": "SUCCESS"})
	// Anomalous: a second terminal event. Folded for audit completeness,
	// but the status must not change.
	mustAppend(t, l, ledger.EventRunFailed, "run-1", map[string]any{"error_code": "LATE_FAILURE"})

	state, err := p.Project(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, state.Status)
	require.Equal(t, "LATE_FAILURE", state.ErrorCode)
}

func TestEveryTerminalEventTypeClosesTheRun(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		eventType ledger.EventType
		want      RunStatus
	}{
		{ledger.EventRunSucceeded, StatusSuccess},
		{ledger.EventRunWarned, StatusWarn},
		{ledger.EventRunNeedsReview, StatusNeedsReview},
		{ledger.EventRunFailed, StatusFailed},
		{ledger.EventRunCancelled, StatusCancelled},
		{ledger.EventRunTimedOut, StatusTimedOut},
	}
	for _, tc := range cases {
		t.Run(string(tc.eventType), func(t *testing.T) {
			l := newTestLedger(t)
			p := NewRunProjector(l, nil)
			mustAppend(t, l, ledger.EventRunCreated, "run-1", nil)
			mustAppend(t, l, tc.eventType, "run-1", nil)

			state, err := p.Project(ctx, "run-1")
			require.NoError(t, err)
			require.Equal(t, tc.want, state.Status)
			require.True(t, state.Status.IsTerminal())
		})
	}
}

func TestCancelRequestedOnlyFromQueuedOrRunning(t *testing.T) {
	ctx := context.Background()

	t.Run("queued run enters cancel_requested", func(t *testing.T) {
		l := newTestLedger(t)
		p := NewRunProjector(l, nil)
		mustAppend(t, l, ledger.EventRunCreated, "run-1", nil)
		mustAppend(t, l, ledger.EventRunCancelRequested, "run-1", nil)

		state, err := p.Project(ctx, "run-1")
		require.NoError(t, err)
		require.Equal(t, StatusCancelRequested, state.Status)
	})

	t.Run("terminal run ignores cancel_requested", func(t *testing.T) {
		l := newTestLedger(t)
		p := NewRunProjector(l, nil)
		mustAppend(t, l, ledger.EventRunCreated, "run-1", nil)
		mustAppend(t, l, ledger.EventRunSucceeded, "run-1", map[string]any{"status": "SUCCESS"})
		mustAppend(t, l, ledger.EventRunCancelRequested, "run-1", nil)

		state, err := p.Project(ctx, "run-1")
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, state.Status)
	})
}

func TestProjectAllSinglePass(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	p := NewRunProjector(l, nil)

	mustAppend(t, l, ledger.EventRunCreated, "run-1", map[string]any{"document_id": "doc-1"})
	mustAppend(t, l, ledger.EventRunCreated, "run-2", map[string]any{"document_id": "doc-2"})
	mustAppend(t, l, ledger.EventRunSucceeded, "run-1", map[string]any{"status": "SUCCESS"})
	mustAppend(t, l, ledger.EventQuarantineCreated, "", map[string]any{"quarantine_item_id": "q-1"})

	states, err := p.ProjectAll(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	require.Equal(t, StatusSuccess, states["run-1"].Status)
	require.Equal(t, StatusQueued, states["run-2"].Status)
}

func TestProjectionIsDeterministic(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	p := NewRunProjector(l, nil)

	mustAppend(t, l, ledger.EventRunCreated, "run-1", map[string]any{"document_id": "doc-1"})
	mustAppend(t, l, ledger.EventRunStageStarted, "run-1", map[string]any{"stage_name": "OCR", "attempt": 1})
	mustAppend(t, l, ledger.EventRunWarned, "run-1", map[string]any{"status": "WARN", "reason_codes": []string{"LOW_CONFIDENCE"}})

	first, err := p.Project(ctx, "run-1")
	require.NoError(t, err)
	second, err := p.Project(ctx, "run-1")
	require.NoError(t, err)

	// Folding the same ledger twice yields byte-identical projections.
	b1, err := json.Marshal(first)
	require.NoError(t, err)
	b2, err := json.Marshal(second)
	require.NoError(t, err)
	require.Equal(t, b1, b2)
}
