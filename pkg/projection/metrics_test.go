package projection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MahdiNavaei/InvoiceMind/pkg/ledger"
)

func TestMetricsFold(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	p := NewRunProjector(l, nil)

	mustAppend(t, l, ledger.EventRunCreated, "run-1", nil)
	mustAppend(t, l, ledger.EventRunCreated, "run-2", nil)
	mustAppend(t, l, ledger.EventRunCreated, "run-3", nil)
	mustAppend(t, l, ledger.EventRunStageRetried, "run-1", map[string]any{"stage_name": "OCR", "attempt": 2})
	mustAppend(t, l, ledger.EventRunSucceeded, "run-1", map[string]any{"status": "SUCCESS"})
	mustAppend(t, l, ledger.EventRunFailed, "run-2", map[string]any{"error_code": "OCR_TIMEOUT"})
	mustAppend(t, l, ledger.EventQuarantineCreated, "", map[string]any{"quarantine_item_id": "q-1"})
	mustAppend(t, l, ledger.EventQuarantineReprocess, "", map[string]any{"quarantine_item_id": "q-1"})

	snap, err := Metrics(ctx, l, p)
	require.NoError(t, err)

	require.Equal(t, 3, snap.RunCreated)
	require.Equal(t, 1, snap.RunSucceeded)
	require.Equal(t, 1, snap.RunFailed)
	require.Equal(t, 1, snap.StageRetried)
	require.Equal(t, 1, snap.QuarantineCreated)
	require.Equal(t, 1, snap.QuarantineReprocessed)
	// run-3 is still queued; run-1 and run-2 are terminal.
	require.Equal(t, 1, snap.QueueDepth)
}

func TestMetricsEmptyLedger(t *testing.T) {
	l := newTestLedger(t)
	snap, err := Metrics(context.Background(), l, NewRunProjector(l, nil))
	require.NoError(t, err)
	require.Equal(t, MetricsSnapshot{}, snap)
}
